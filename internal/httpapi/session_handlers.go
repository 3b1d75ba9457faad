package httpapi

import (
	"errors"
	"net/http"
	"time"

	"libris.org/internal/audit"
	"libris.org/internal/auth"
	"libris.org/internal/obs"
)

const refreshCookieName = "refresh_token"

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	AdminKey string `json:"admin_key"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string             `json:"access_token"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Account     auth.PublicAccount `json:"account"`
}

// The refresh token travels only in this cookie: HttpOnly keeps scripts away
// from it and SameSite=Strict keeps cross-site requests from carrying it.
func (a *API) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.auth.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   a.production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.production(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	account, err := a.auth.Register(r.Context(), req.Name, req.Email, req.Password, req.Role, req.AdminKey)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAlreadyExists):
			writeError(w, r, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrAdminKey):
			writeError(w, r, http.StatusForbidden, "admin registration not permitted")
		case errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrWeakPassword),
			errors.Is(err, auth.ErrInvalidRole):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"account_id": account.ID,
		"role":       account.Role,
	})
	writeJSON(w, http.StatusCreated, account)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, auth.ErrSessionPersistence):
			writeError(w, r, http.StatusInternalServerError, "could not establish session")
		default:
			writeError(w, r, http.StatusInternalServerError, "internal error")
		}
		return
	}

	obs.SessionEvent("login")
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"account_id": session.Account.ID,
	})

	a.setRefreshCookie(w, session.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken: session.AccessToken,
		ExpiresAt:   session.AccessExpiresAt,
		Account:     session.Account,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var presented string
	if c, err := r.Cookie(refreshCookieName); err == nil {
		presented = c.Value
	}

	res := a.auth.Rotate(r.Context(), presented)
	switch res.Outcome {
	case auth.RotationOK:
	case auth.RotationMissing:
		writeError(w, r, http.StatusUnauthorized, "session expired")
		return
	case auth.RotationInvalidToken, auth.RotationAccountGone:
		a.clearRefreshCookie(w)
		writeError(w, r, http.StatusUnauthorized, "session expired")
		return
	case auth.RotationReuseDetected:
		// Theft response is deliberately indistinguishable from ordinary
		// invalidity toward the client; the audit trail tells the real story.
		obs.SessionEvent("reuse_detected")
		_ = audit.LogEvent(r.Context(), "auth.refresh.reuse_detected", map[string]any{
			"remote": clientIP(r),
		})
		a.clearRefreshCookie(w)
		writeError(w, r, http.StatusUnauthorized, "session expired")
		return
	case auth.RotationPersistence:
		writeError(w, r, http.StatusInternalServerError, "could not refresh session")
		return
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	obs.SessionEvent("rotated")
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"account_id": res.Session.Account.ID,
	})

	a.setRefreshCookie(w, res.Session.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken: res.Session.AccessToken,
		ExpiresAt:   res.Session.AccessExpiresAt,
		Account:     res.Session.Account,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), accountID); err != nil {
		// The cookie is cleared regardless; a dangling server-side slot is
		// a cleanup problem, not a reason to leave the client logged in.
		_ = audit.LogEvent(r.Context(), "auth.logout.store_error", map[string]any{
			"error": err.Error(),
		})
	} else {
		obs.SessionEvent("logout")
		_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	}

	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	account, err := a.auth.Account(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, account)
}
