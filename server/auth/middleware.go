package auth

import (
	"context"
	"errors"
	"net/http"
)

type contextKey struct{}

// PublicPath is served without credentials.
const PublicPath = "/healthz"

// GetPrincipalFromContext returns the principal stored by Middleware, or
// nil for unauthenticated requests.
func GetPrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// Middleware enforces HTTP Basic authentication on every path except
// PublicPath. Authenticated requests carry their principal in the context.
func Middleware(authenticator Authenticator, realm string) func(http.Handler) http.Handler {
	if realm == "" {
		realm = "eterny"
	}
	challenge := `Basic realm="` + realm + `"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == PublicPath {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := authenticate(r, authenticator)
			if err == nil {
				err = authenticator.ValidateAccess(r.Context(), principal, r.Method, r.URL.Path)
			}
			if err != nil {
				var authErr *Error
				if errors.As(err, &authErr) && authErr.Type == ErrForbidden {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("WWW-Authenticate", challenge)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func authenticate(r *http.Request, authenticator Authenticator) (*Principal, error) {
	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		return nil, &Error{
			Type:    ErrInvalidCredentials,
			Message: "missing or malformed basic credentials",
		}
	}
	return authenticator.Authenticate(r.Context(), Credentials{Username: username, Password: password})
}
