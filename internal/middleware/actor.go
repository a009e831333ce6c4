package middleware

import (
	"net/http"

	"github.com/rpattn/sitepolygons/internal/auth"
)

// ActorMiddleware attaches the acting user from the gateway headers to the
// request context. Malformed headers are rejected.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.ActorFromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithActor(r.Context(), actor)))
	})
}
