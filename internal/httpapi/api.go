package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"libris.org/internal/auth"
	"libris.org/internal/catalog"
	"libris.org/internal/obs"
)

// ReadyProbe reports readiness (e.g. a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the transport-level knobs the handlers need.
type Config struct {
	Version string
	// Env toggles production behaviour (Secure cookies). Anything other
	// than "production" is treated as development.
	Env string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	auth    *auth.Service
	catalog catalog.Service
	probe   ReadyProbe
	cfg     Config
}

func New(authSvc *auth.Service, cat catalog.Service, probe ReadyProbe, cfg Config) *API {
	a := &API{
		mux:     http.NewServeMux(),
		auth:    authSvc,
		catalog: cat,
		probe:   probe,
		cfg:     cfg,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// session lifecycle
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.requireAuth(a.handleLogout))
	a.mux.HandleFunc("/v1/auth/me", a.requireAuth(a.handleMe))

	// password reset
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/verify-otp", a.handleVerifyOTP)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)

	// accounts (admin)
	a.mux.HandleFunc("/v1/accounts", a.requireAuth(a.requireRole(auth.RoleAdmin, a.handleAccountsCollection)))
	a.mux.HandleFunc("/v1/accounts/", a.requireAuth(a.requireRole(auth.RoleAdmin, a.handleAccountResource)))

	// catalogue
	a.mux.HandleFunc("/v1/books", a.handleBooksCollection)
	a.mux.HandleFunc("/v1/books/", a.handleBookResource)
	a.mux.HandleFunc("/v1/authors", a.handleAuthorsCollection)
	a.mux.HandleFunc("/v1/authors/", a.handleAuthorResource)
	a.mux.HandleFunc("/v1/checkouts", a.requireAuth(a.requireRole(auth.RoleAdmin, a.handleCheckoutsCollection)))
	a.mux.HandleFunc("/v1/checkouts/", a.requireAuth(a.handleCheckoutResource))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux in the full middleware chain.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) production() bool { return a.cfg.Env == "production" }

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "libris-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "libris-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
