package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libris.org/internal/auth"
	"libris.org/internal/catalog"
	"libris.org/internal/httpapi"
	"libris.org/internal/mail"
	"libris.org/internal/obs"
	"libris.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	accessSecret := os.Getenv("LIBRIS_ACCESS_SECRET")
	refreshSecret := os.Getenv("LIBRIS_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("LIBRIS_ACCESS_SECRET and LIBRIS_REFRESH_SECRET are required")
	}

	var (
		authStore auth.Store
		cat       catalog.Service
		probe     httpapi.ReadyProbe
		pgStore   *pg.Store
	)
	if dsn := os.Getenv("LIBRIS_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		authStore = auth.NewPGStore(pgStore.DB())
		cat = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		// No DSN: run on in-memory stores. Dev only, nothing survives a restart.
		log.Print("LIBRIS_PG_DSN not set, using in-memory stores")
		authStore = auth.NewInMemoryStore()
		cat = catalog.NewInMemory()
	}

	opts := []auth.ServiceOption{
		auth.WithMailer(mail.NewLogSender()),
		auth.WithAdminKey(os.Getenv("LIBRIS_ADMIN_KEY")),
	}
	if ttl := durationEnv("LIBRIS_ACCESS_TTL"); ttl > 0 {
		opts = append(opts, auth.WithAccessTTL(ttl))
	}
	if ttl := durationEnv("LIBRIS_REFRESH_TTL"); ttl > 0 {
		opts = append(opts, auth.WithRefreshTTL(ttl))
	}
	authSvc, err := auth.NewService(authStore, []byte(accessSecret), []byte(refreshSecret), opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(authSvc, cat, probe, httpapi.Config{
		Version: version,
		Env:     envOr("LIBRIS_ENV", "development"),
	})

	addr := envOr("LIBRIS_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting libris-api %s on %s", version, addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("%s: %v", key, err)
	}
	return d
}
