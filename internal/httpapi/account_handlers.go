package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"libris.org/internal/audit"
	"libris.org/internal/auth"
)

func (a *API) handleAccountsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := a.auth.ListAccounts(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": accounts})
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		account, err := a.auth.Account(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	case http.MethodDelete:
		account, err := a.auth.DeleteAccount(r.Context(), id)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "account.delete", map[string]any{
			"deleted_account_id": account.ID,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "account": account})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
