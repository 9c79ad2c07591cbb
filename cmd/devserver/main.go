package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"example.com/attendance/internal/api"
	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/config"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence/memory"
	"example.com/attendance/internal/persistence/postgres"
	httptransport "example.com/attendance/internal/transport/http"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var repo domain.Repository
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("postgres unreachable: %v", err)
		}
		repo = postgres.NewRepository(pool)
		log.Printf("using postgres storage")
	} else {
		repo = memory.NewRepository()
		log.Printf("using in-memory storage")
	}

	if err := domain.Seed(ctx, repo, bcrypt.DefaultCost, domain.DefaultAccounts...); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	service := domain.NewService(repo)
	tokens := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer, TTL: cfg.AccessTokenTTL}
	limiter := api.NewLoginLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst)

	router := api.NewHandler(service, tokens, limiter).Router(cfg.APIPrefix)
	router.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress)
	server := httptransport.NewServer(serverCfg, logger(router))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdownCh
		cancel()
	}()

	log.Printf("devserver listening on %s (api prefix %s)", cfg.HTTPAddress, cfg.APIPrefix)
	if err := httptransport.ListenAndServe(ctx, server, serverCfg.ShutdownTimeout); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("devserver stopped")
}
