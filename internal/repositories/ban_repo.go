package repositories

import (
	"context"
	"time"

	"github.com/bastionsec/bastion/internal/database"
	"github.com/bastionsec/bastion/internal/models"
)

// BanRepository persists active bans so they survive a process restart.
// Implements the ban registry's store seam.
type BanRepository struct {
	db *database.DB
}

// NewBanRepository creates a new BanRepository.
func NewBanRepository(db *database.DB) *BanRepository {
	return &BanRepository{db: db}
}

// SaveBan upserts the ban for its source key. A single statement: the
// registry's replace-on-retrigger semantics must not race across requests.
func (r *BanRepository) SaveBan(ctx context.Context, ban *models.Ban) error {
	query := `
		INSERT INTO source_bans (source_key, reason, banned_at, expires_at, attempt_count, ban_count_24h, escalated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_key) DO UPDATE SET
			reason = EXCLUDED.reason,
			banned_at = EXCLUDED.banned_at,
			expires_at = EXCLUDED.expires_at,
			attempt_count = EXCLUDED.attempt_count,
			ban_count_24h = EXCLUDED.ban_count_24h,
			escalated = EXCLUDED.escalated
	`

	_, err := r.db.Pool.Exec(ctx, query,
		ban.SourceKey,
		string(ban.Reason),
		ban.BannedAt,
		ban.ExpiresAt,
		ban.AttemptCount,
		ban.BanCount24h,
		ban.Escalated,
	)

	return database.MapPostgresError(err)
}

// DeleteBan removes the ban for a source key.
func (r *BanRepository) DeleteBan(ctx context.Context, sourceKey string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM source_bans WHERE source_key = $1`, sourceKey)
	return database.MapPostgresError(err)
}

// LoadActiveBans returns all bans that have not expired at the given instant.
func (r *BanRepository) LoadActiveBans(ctx context.Context, now time.Time) ([]*models.Ban, error) {
	query := `
		SELECT source_key, reason, banned_at, expires_at, attempt_count, ban_count_24h, escalated
		FROM source_bans
		WHERE expires_at > $1
	`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var bans []*models.Ban
	for rows.Next() {
		var ban models.Ban
		var reason string
		if err := rows.Scan(&ban.SourceKey, &reason, &ban.BannedAt, &ban.ExpiresAt,
			&ban.AttemptCount, &ban.BanCount24h, &ban.Escalated); err != nil {
			return nil, database.MapPostgresError(err)
		}
		ban.Reason = models.BanReason(reason)
		ban.Duration = ban.ExpiresAt.Sub(ban.BannedAt)
		bans = append(bans, &ban)
	}

	return bans, rows.Err()
}

// DeleteExpired removes bans past their expiry.
func (r *BanRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM source_bans WHERE expires_at < NOW()`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
