package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"libris.org/internal/audit"
	"libris.org/internal/auth"
	"libris.org/internal/catalog"
)

type createBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Copies int    `json:"copies"`
}

type updateBookRequest struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
	Copies *int    `json:"copies"`
}

type authorRequest struct {
	Name string `json:"name"`
}

type checkoutRequest struct {
	Quantity int `json:"quantity"`
}

// Books ---------------------------------------------------------------------

func (a *API) handleBooksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		books, err := a.catalog.ListBooks(r.Context())
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": books})
	case http.MethodPost:
		a.requireAuth(a.requireRole(auth.RoleAdmin, a.createBook))(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	book, err := a.catalog.CreateBook(r.Context(), req.Title, req.Author, req.Copies)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.book.create", map[string]any{
		"book_id": book.ID,
		"title":   book.Title,
	})
	w.Header().Set("Location", "/v1/books/"+book.ID)
	writeJSON(w, http.StatusCreated, book)
}

func (a *API) handleBookResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/books/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		book, err := a.catalog.GetBook(r.Context(), id)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodPut:
		a.requireAuth(a.requireRole(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
			a.updateBook(w, r, id)
		}))(w, r)
	case http.MethodDelete:
		a.requireAuth(a.requireRole(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
			a.deleteBook(w, r, id)
		}))(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) updateBook(w http.ResponseWriter, r *http.Request, id string) {
	var req updateBookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	book, err := a.catalog.UpdateBook(r.Context(), id, catalog.BookUpdate{
		Title:  req.Title,
		Author: req.Author,
		Copies: req.Copies,
	})
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (a *API) deleteBook(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.catalog.DeleteBook(r.Context(), id); err != nil {
		handleCatalogError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.book.delete", map[string]any{"book_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// Authors -------------------------------------------------------------------

func (a *API) handleAuthorsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		authors, err := a.catalog.ListAuthors(r.Context())
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": authors})
	case http.MethodPost:
		a.requireAuth(a.requireRole(auth.RoleAdmin, a.createAuthor))(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	author, err := a.catalog.CreateAuthor(r.Context(), req.Name)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/authors/"+author.ID)
	writeJSON(w, http.StatusCreated, author)
}

func (a *API) handleAuthorResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/authors/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		author, err := a.catalog.GetAuthor(r.Context(), id)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, author)
	case http.MethodPut:
		a.requireAuth(a.requireRole(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
			a.updateAuthor(w, r, id)
		}))(w, r)
	case http.MethodDelete:
		a.requireAuth(a.requireRole(auth.RoleAdmin, func(w http.ResponseWriter, r *http.Request) {
			if err := a.catalog.DeleteAuthor(r.Context(), id); err != nil {
				handleCatalogError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
		}))(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) updateAuthor(w http.ResponseWriter, r *http.Request, id string) {
	var req authorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	author, err := a.catalog.UpdateAuthor(r.Context(), id, req.Name)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, author)
}

// Checkouts -----------------------------------------------------------------

func (a *API) handleCheckoutsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		checkouts, err := a.catalog.ListCheckouts(r.Context())
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": checkouts})
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

// handleCheckoutResource covers /v1/checkouts/me, /v1/checkouts/{bookID} and
// /v1/checkouts/{id}/return. The caller is already authenticated.
func (a *API) handleCheckoutResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/checkouts/")
	accountID, _ := auth.AccountIDFromContext(r.Context())

	if path == "me" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		checkouts, err := a.catalog.ListCheckoutsForAccount(r.Context(), accountID)
		if err != nil {
			handleCatalogError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": checkouts})
		return
	}

	if id, ok := strings.CutSuffix(path, "/return"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.returnCheckout(w, r, id, accountID)
		return
	}

	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.checkoutBook(w, r, path, accountID)
}

func (a *API) checkoutBook(w http.ResponseWriter, r *http.Request, bookID, accountID string) {
	req := checkoutRequest{Quantity: 1}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	checkout, err := a.catalog.CheckoutBook(r.Context(), accountID, bookID, req.Quantity)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.checkout", map[string]any{
		"checkout_id": checkout.ID,
		"book_id":     checkout.BookID,
		"quantity":    checkout.Quantity,
	})
	writeJSON(w, http.StatusCreated, checkout)
}

func (a *API) returnCheckout(w http.ResponseWriter, r *http.Request, checkoutID, accountID string) {
	// Admins may return on behalf of any account.
	if auth.HasRole(r.Context(), auth.RoleAdmin) {
		accountID = ""
	}
	checkout, err := a.catalog.ReturnCheckout(r.Context(), checkoutID, accountID)
	if err != nil {
		handleCatalogError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "catalog.return", map[string]any{
		"checkout_id": checkout.ID,
		"book_id":     checkout.BookID,
	})
	writeJSON(w, http.StatusOK, checkout)
}

func handleCatalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrAlreadyExists),
		errors.Is(err, catalog.ErrInsufficientCopies),
		errors.Is(err, catalog.ErrAlreadyReturned):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, catalog.ErrNotOwner):
		writeError(w, r, http.StatusForbidden, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
