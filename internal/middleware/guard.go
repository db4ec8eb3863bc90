package middleware

import (
	"fmt"
	"net/http"

	"github.com/bastionsec/bastion/internal/services"
	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// SourceGuard rejects requests from banned sources before they reach the
// handler. The response body is identical for every blocked source; only the
// Retry-After header varies, and it carries the configured tier maximum
// rather than the ban's exact remaining time.
func SourceGuard(guard *services.GuardService, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Must match the key the handler records outcomes under, or
			// IPv6 bans (kept per /64 prefix) would never be enforced here.
			sourceKey := pkghttp.SourceKey(r, ipConfig)

			decision := guard.CheckSource(sourceKey)
			if decision.Blocked {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())))
				pkghttp.WriteTooManyRequests(w, "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
