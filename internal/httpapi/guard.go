package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"libris.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// requireAuth verifies the bearer access token and attaches its claims to the
// request context. The three failure classes are distinguishable by code: an
// absent token (401 NO_TOKEN), an expired one (401 TOKEN_EXPIRED, worth a
// refresh attempt), and a malformed or forged one (403 MALFORMED, a refresh
// will not help).
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			writeErrorCode(w, r, http.StatusUnauthorized, CodeNoToken, "authorization token required")
			return
		}

		claims, err := a.auth.VerifyAccess(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeErrorCode(w, r, http.StatusUnauthorized, CodeTokenExpired, "access token expired")
				return
			}
			writeErrorCode(w, r, http.StatusForbidden, CodeMalformed, "invalid access token")
			return
		}

		next(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	}
}

// requireRole gates a handler on the role carried in the verified claims.
func (a *API) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeErrorCode(w, r, http.StatusUnauthorized, CodeNoToken, "authentication required")
			return
		}
		if claims.Role != role {
			writeErrorCode(w, r, http.StatusForbidden, CodeInsufficientRole, "insufficient role")
			return
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
