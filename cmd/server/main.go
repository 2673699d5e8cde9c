package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
	litestore "retailpos/backend/internal/store/sqlite"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	case cfg.SQLitePath != "":
		lite, err := litestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite unavailable (%v) and SQLITE_PATH is set; refusing to start with in-memory fallback", err)
		}
		repo = lite
		closers = append(closers, lite.Close)
		log.Println("repository: sqlite")
	default:
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	summaryCache := cache.CustomerSummaryCache(cache.NoopCustomerSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCustomerSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			summaryCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	svc := service.New(repo, summaryCache, time.Duration(cfg.OfferMatchWindowSeconds)*time.Second)
	auth, err := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	if err != nil {
		log.Fatalf("auth setup failed: %v", err)
	}
	if err := auth.EnsureAdmin(ctx, cfg.AdminBootstrapPassword); err != nil {
		log.Fatalf("admin provisioning failed: %v", err)
	}
	api, err := httpapi.New(svc, auth, cfg.AllowedOrigin)
	if err != nil {
		log.Fatalf("api setup failed: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.DatabaseURL != "" && cfg.SQLitePath != "" {
		return fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}
	return nil
}
