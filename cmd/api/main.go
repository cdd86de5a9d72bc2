package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"

	"veyra.org/internal/audit"
	"veyra.org/internal/httpapi"
	"veyra.org/internal/obs"
	"veyra.org/internal/ratelimit"
	"veyra.org/internal/rbac"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	signer, err := rbac.NewTokenSigner(os.Getenv("VEYRA_AUTH_SECRET"))
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	catalog, err := rbac.NewCatalog()
	if err != nil {
		log.Fatalf("role catalog: %v", err)
	}

	// Store: PostgreSQL when a DSN is configured, in-memory otherwise.
	var (
		db    *sql.DB
		store rbac.Store
	)
	if dsn := os.Getenv("VEYRA_PG_DSN"); dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = rbac.NewPGStore(db)
	} else {
		log.Printf("VEYRA_PG_DSN not set, using in-memory store")
		store = rbac.NewMemStore()
	}

	trail := audit.NewTrail(store.Audit(context.Background()))

	// Quota limiter: Redis when configured, otherwise in-process shards.
	var limiter rbac.QuotaLimiter
	if addr := os.Getenv("VEYRA_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		limiter = ratelimit.NewRedisLimiter(client, "veyra")
	} else {
		local := ratelimit.NewLimiter()
		defer local.Close()
		limiter = local
	}

	svc, err := rbac.NewService(catalog, store, signer, trail, limiter)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, svc, trail, version)

	addr := os.Getenv("VEYRA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting veyra-auth %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
