package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"sideline.org/internal/auth"
	"sideline.org/internal/httpapi"
	"sideline.org/internal/integration"
	"sideline.org/internal/obs"
	"sideline.org/internal/syncjournal"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("SIDELINE_PG_DSN")
	if dsn == "" {
		log.Fatal("SIDELINE_PG_DSN is required")
	}
	tokenSecret := os.Getenv("SIDELINE_TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatal("SIDELINE_TOKEN_SECRET is required")
	}
	masterSecret := os.Getenv("SIDELINE_MASTER_SECRET")
	if masterSecret == "" {
		log.Fatal("SIDELINE_MASTER_SECRET is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	defer db.Close()

	tokens, err := auth.NewTokenService(tokenSecret,
		auth.WithTokenTTL(envDuration("SIDELINE_TOKEN_TTL", 12*time.Hour)))
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	accounts := auth.NewPGAccountStore(db)
	grants := auth.NewPGGrantStore(db)

	// The Redis ledger keeps the hot revocation path off PostgreSQL when a
	// Redis address is configured; PostgreSQL remains the default.
	var ledger auth.RevocationLedger = auth.NewPGRevocationLedger(db)
	if addr := os.Getenv("SIDELINE_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("SIDELINE_REDIS_PASSWORD"),
		})
		redisLedger, err := auth.NewRedisRevocationLedger(rdb)
		if err != nil {
			log.Fatalf("redis ledger: %v", err)
		}
		ledger = redisLedger
		log.Printf("using redis revocation ledger at %s", addr)
	}

	authSvc, err := auth.NewService(tokens, ledger, accounts)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	resolver, err := auth.NewResolver(tokens, ledger, accounts)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	evaluator, err := auth.NewEvaluator(grants)
	if err != nil {
		log.Fatalf("evaluator: %v", err)
	}

	cipher, err := integration.NewCipher(masterSecret)
	if err != nil {
		log.Fatalf("credential cipher: %v", err)
	}
	credentials := integration.NewPGCredentialStore(db)
	refresher, err := integration.NewOAuthRefresher(envEndpoints("SIDELINE_PROVIDER_ENDPOINTS"), cipher)
	if err != nil {
		log.Fatalf("refresher: %v", err)
	}
	manager, err := integration.NewManager(credentials, refresher, cipher,
		integration.WithRefreshBuffer(envDuration("SIDELINE_REFRESH_BUFFER", integration.DefaultRefreshBuffer)))
	if err != nil {
		log.Fatalf("credential manager: %v", err)
	}

	journal := syncjournal.NewPGStore(db)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Services{
		Auth:        authSvc,
		Resolver:    resolver,
		Evaluator:   evaluator,
		Grants:      grants,
		Credentials: credentials,
		Manager:     manager,
		Journal:     journal,
	})

	handler := httpapi.MaxBodyBytes(api.Handler(), 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	addr := os.Getenv("SIDELINE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	go purgeLoop(jobsCtx, authSvc, envDuration("SIDELINE_PURGE_INTERVAL", 24*time.Hour))
	go sweepLoop(jobsCtx, manager, envDuration("SIDELINE_SWEEP_INTERVAL", time.Minute))

	log.Printf("Starting sideline-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopJobs()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

// purgeLoop removes revocation markers whose tokens can no longer replay.
func purgeLoop(ctx context.Context, svc *auth.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				log.Printf("revocation purge: %v", err)
				continue
			}
			obs.RecordTokensPurged(n)
			if n > 0 {
				log.Printf("revocation purge removed %d markers", n)
			}
		}
	}
}

// sweepLoop proactively refreshes credentials approaching token expiry.
func sweepLoop(ctx context.Context, manager *integration.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := manager.Sweep(ctx)
			if err != nil {
				log.Printf("credential sweep: %v", err)
				continue
			}
			for i := 0; i < stats.Refreshed; i++ {
				obs.RecordCredentialRefresh("refreshed")
			}
			for i := 0; i < stats.Failed; i++ {
				obs.RecordCredentialRefresh("failed")
			}
			for i := 0; i < stats.Deactivated; i++ {
				obs.RecordCredentialRefresh("deactivated")
			}
			if stats.Attempted > 0 {
				log.Printf("credential sweep: attempted=%d refreshed=%d failed=%d deactivated=%d",
					stats.Attempted, stats.Refreshed, stats.Failed, stats.Deactivated)
			}
		}
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

// envEndpoints parses "provider=url,provider=url" pairs.
func envEndpoints(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}
