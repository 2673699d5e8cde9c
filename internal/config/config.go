package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	SQLitePath              string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	OfferMatchWindowSeconds int
	AdminBootstrapPassword  string
}

func Load() Config {
	// A missing .env file is fine; real deployments set the environment
	// directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	// 600s is the reconciliation tolerance downstream reports rely on;
	// override only when the terminals' clocks are known to drift.
	matchWindow, err := strconv.Atoi(getEnv("OFFER_MATCH_WINDOW_SECONDS", "600"))
	if err != nil || matchWindow < 1 {
		matchWindow = 600
	}

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		SQLitePath:              os.Getenv("SQLITE_PATH"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		OfferMatchWindowSeconds: matchWindow,
		AdminBootstrapPassword:  strings.TrimSpace(os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
