package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/caseworks/leximport/internal/auth"
)

// Header names populated by the gateway in front of this service.
const (
	UserIDHeader = "X-User-Id"
	RoleHeader   = "X-User-Role"
)

// IdentityMiddleware extracts the caller identity from gateway headers and
// attaches it to the request context. Requests without a parseable user id
// pass through unauthenticated; handlers decide whether that is acceptable.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(r.Header.Get(UserIDHeader))
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		identity := auth.Identity{
			UserID:   userID,
			Elevated: r.Header.Get(RoleHeader) == "admin",
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}
