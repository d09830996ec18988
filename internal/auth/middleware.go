package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Public reports whether a request may proceed without a token.
type Public func(r *http.Request) bool

// PathPrefixes builds a Public rule from paths. An entry ending in "/"
// matches every path below it.
func PathPrefixes(paths ...string) Public {
	return func(r *http.Request) bool {
		for _, p := range paths {
			if r.URL.Path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(r.URL.Path, p)) {
				return true
			}
		}
		return false
	}
}

// NewMiddleware authenticates bearer tokens. A valid token on a public
// request still attaches the principal. With a nil verifier every
// non-public request is rejected.
func NewMiddleware(v *Verifier, public Public) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			open := public != nil && public(r)

			header := r.Header.Get("Authorization")
			if header == "" {
				if open {
					next.ServeHTTP(w, r)
					return
				}
				writeUnauthorized(w, "missing Authorization header")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				writeUnauthorized(w, "expected 'Bearer <token>'")
				return
			}
			if v == nil {
				writeUnauthorized(w, "authentication not configured")
				return
			}

			claims, err := v.Verify(token)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{
				UID:   claims.Subject,
				Name:  claims.Name,
				Email: claims.Email,
				Roles: claims.Roles,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
