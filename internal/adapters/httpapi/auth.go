package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"metax/internal/core"
	"metax/pkg/domain"
)

type userKey struct{}

// userFrom returns the caller stored by authenticate. Anonymous callers
// get the zero User.
func userFrom(r *http.Request) core.User {
	u, _ := r.Context().Value(userKey{}).(core.User)
	return u
}

// lookupToken finds the configured identity of a bearer token.
func (s *Server) lookupToken(token string) (core.User, bool) {
	for known, tc := range s.Auth.Tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return core.User{
				Username:     tc.User,
				Organization: tc.Organization,
				Admin:        tc.Admin,
				Groups:       tc.Groups,
				CSCProjects:  tc.CSCProjects,
			}, true
		}
	}
	return core.User{}, false
}

// authenticate resolves the Authorization header. A malformed or unknown
// token fails the request; a missing one leaves the caller anonymous.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			s.fail(w, domain.AuthenticationError{Message: "Invalid token header."})
			return
		}
		u, ok := s.lookupToken(strings.TrimSpace(token))
		if !ok {
			s.fail(w, domain.AuthenticationError{})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
	})
}

// requireUser fails with 401 for anonymous callers.
func requireUser(u core.User) error {
	if !u.Authenticated() {
		return domain.AuthenticationError{Missing: true}
	}
	return nil
}

// requireAdmin fails unless the caller is an administrator.
func requireAdmin(u core.User) error {
	if err := requireUser(u); err != nil {
		return err
	}
	if !u.Admin {
		return domain.PermissionError{}
	}
	return nil
}
