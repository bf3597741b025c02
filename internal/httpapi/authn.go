package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"votechain.org/internal/auth"
)

const (
	authHeader     = "Authorization"
	adminKeyHeader = "X-Admin-Key"
	bearer         = "Bearer "
)

// withVoter admits requests carrying a valid session credential and puts the voter in
// the request context.
func (a *API) withVoter(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="votechain"`)
			writeError(w, r, http.StatusUnauthorized, "invalid_session", err.Error())
			return
		}
		v, err := a.deps.Signer.Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="votechain", error="invalid_token"`)
			handleError(w, r, err)
			return
		}
		next(w, r.WithContext(auth.ContextWithVoter(r.Context(), v)))
	}
}

// withAdmin admits requests presenting the shared admin key.
func (a *API) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.deps.AdminKey.Configured() {
			writeError(w, r, http.StatusServiceUnavailable, "admin_disabled", "admin access is not configured")
			return
		}
		if !a.deps.AdminKey.Check(r.Header.Get(adminKeyHeader)) {
			writeError(w, r, http.StatusUnauthorized, "invalid_admin_key", "admin key missing or invalid")
			return
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
