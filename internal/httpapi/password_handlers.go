package httpapi

import (
	"errors"
	"net/http"

	"libris.org/internal/audit"
	"libris.org/internal/auth"
)

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resetPasswordRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, auth.ErrInvalidEmail) {
			writeError(w, r, http.StatusBadRequest, "email is required")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "could not start password reset")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password_reset.requested", map[string]any{
		"email": req.Email,
	})
	// The response is identical whether or not the email exists.
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "if the account exists, a reset code has been sent",
	})
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.VerifyResetCode(r.Context(), req.Email, req.Code); err != nil {
		if errors.Is(err, auth.ErrResetCode) {
			writeError(w, r, http.StatusUnauthorized, "invalid or expired reset code")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "code_valid"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.ResetPassword(r.Context(), req.Email, req.Code, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrResetCode):
			writeError(w, r, http.StatusUnauthorized, "invalid or expired reset code")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, r, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrPasswordReuse):
			writeError(w, r, http.StatusBadRequest, "new password must differ from the current one")
		default:
			writeError(w, r, http.StatusInternalServerError, "could not reset password")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.password_reset.completed", map[string]any{
		"email": req.Email,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_reset"})
}
