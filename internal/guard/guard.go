// Package guard implements the gateway's uniform master-access-token
// pre-handler: one allow-list check applied in front of every endpoint a
// listener serves, including health and metrics.
package guard

import (
	"net/http"

	"github.com/wudi/keygate/internal/config"
	"github.com/wudi/keygate/internal/gwerr"
)

// Middleware wraps next with the master-token check described by g. When
// g.Enabled is false every request passes through unchecked.
func Middleware(g config.Guard, next http.Handler) http.Handler {
	if !g.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(g.HeaderName)
		if !g.Allows(token) {
			gwerr.New(gwerr.KindGuardRejected, http.StatusUnauthorized, "Invalid or missing access token").WriteText(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
