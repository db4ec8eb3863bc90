package repositories

import (
	"context"
	"time"

	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/models"
)

// AttemptRepository journals authentication outcomes to Postgres. Rows carry
// hashed identifiers only; retention is enforced by each row's expires_at and
// the periodic DeleteExpired sweep.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// RecordOutcome appends one attempt outcome to the journal.
func (r *AttemptRepository) RecordOutcome(ctx context.Context, attempt *models.AuthAttempt) error {
	query := `
		INSERT INTO auth_attempts (source_hash, account_hash, signature_hash, success, attempt_time, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.SourceHash,
		attempt.AccountHash,
		attempt.SignatureHash,
		attempt.Success,
		attempt.AttemptTime,
		attempt.ExpiresAt,
	)

	return database.MapPostgresError(err)
}

// CountFailedBySourceSince returns the number of failed attempts for a source
// hash within a time window. Issued as one statement so two concurrent
// requests from the same source cannot race a read-modify-write.
func (r *AttemptRepository) CountFailedBySourceSince(ctx context.Context, sourceHash string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM auth_attempts
		WHERE source_hash = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, sourceHash, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// CountFailedByAccountSince returns the number of failed attempts against an
// account hash within a time window.
func (r *AttemptRepository) CountFailedByAccountSince(ctx context.Context, accountHash string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM auth_attempts
		WHERE account_hash = $1 AND success = false AND attempt_time >= $2
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, accountHash, since).Scan(&count)
	return count, database.MapPostgresError(err)
}

// DeleteExpired removes journal rows past their retention.
func (r *AttemptRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM auth_attempts WHERE expires_at < NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
