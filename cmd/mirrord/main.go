// Command mirrord runs the replication engine: the HTTP API, the batch
// scheduler, and the schedule controller, backed by Postgres when a DSN is
// configured or an in-memory store otherwise.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	app "github.com/forgemirror/mirror-layer/internal/app"
	"github.com/forgemirror/mirror-layer/internal/app/httpapi"
	httpauth "github.com/forgemirror/mirror-layer/internal/app/httpapi/auth"
	"github.com/forgemirror/mirror-layer/internal/app/storage/postgres"
	"github.com/forgemirror/mirror-layer/internal/platform/database"
	"github.com/forgemirror/mirror-layer/internal/platform/migrations"
	pkgconfig "github.com/forgemirror/mirror-layer/pkg/config"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (defaults to config or :8080)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; in-memory storage when empty)")
	runMigrations := flag.Bool("migrate", true, "run embedded database migrations on startup (ignored for in-memory)")
	apiTokensFlag := flag.String("api-tokens", "", "comma-separated static API tokens for HTTP authentication")
	flag.Parse()

	cfg, err := pkgconfig.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	log := logger.New(cfg.Logging)

	var stores app.Stores
	var db *sql.DB

	rootCtx := context.Background()
	dsnVal := resolveDSN(*dsn, cfg)

	if dsnVal != "" {
		db, err = database.Open(rootCtx, dsnVal)
		if err != nil {
			log.Fatalf("connect to postgres: %v", err)
		}
		configurePool(db, cfg)
		if *runMigrations {
			if err := migrations.Apply(db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		store := postgres.New(sqlx.NewDb(db, "postgres"))
		stores = app.Stores{
			Users:         store,
			Configs:       store,
			Repositories:  store,
			Organizations: store,
			Jobs:          store,
			Events:        store,
		}
	}
	if db != nil {
		defer db.Close()
	}

	application, err := app.New(stores, cfg, log)
	if err != nil {
		log.Fatalf("initialise application: %v", err)
	}

	listenAddr := determineAddr(*addr, cfg)
	tokens := resolveAPITokens(*apiTokensFlag)
	validator := httpauth.New(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute, nil)

	httpService := httpapi.NewService(application, listenAddr, tokens, validator, log)
	if err := application.Attach(httpService); err != nil {
		log.Fatalf("attach http service: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}
	log.Infof("mirror-layer listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

func determineAddr(flagAddr string, cfg *pkgconfig.Config) string {
	addr := strings.TrimSpace(flagAddr)
	if addr != "" {
		return addr
	}
	if cfg != nil {
		host := strings.TrimSpace(cfg.Server.Host)
		port := cfg.Server.Port
		if port != 0 {
			if host == "" {
				host = "0.0.0.0"
			}
			return fmt.Sprintf("%s:%d", host, port)
		}
	}
	return ":8080"
}

func configurePool(db *sql.DB, cfg *pkgconfig.Config) {
	if cfg == nil {
		return
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}

func resolveDSN(flagDSN string, cfg *pkgconfig.Config) string {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed
	}
	if envDSN := strings.TrimSpace(os.Getenv("DATABASE_URL")); envDSN != "" {
		return envDSN
	}
	if cfg == nil {
		return ""
	}
	if cfg.Database.DSN != "" {
		return strings.TrimSpace(cfg.Database.DSN)
	}
	if cfg.Database.Host != "" && cfg.Database.Name != "" {
		return cfg.Database.ConnectionString()
	}
	return ""
}

func resolveAPITokens(flagTokens string) []string {
	var tokens []string
	tokens = append(tokens, splitTokens(flagTokens)...)
	tokens = append(tokens, splitTokens(os.Getenv("API_TOKENS"))...)
	if token := strings.TrimSpace(os.Getenv("API_TOKEN")); token != "" {
		tokens = append(tokens, token)
	}
	return tokens
}

func splitTokens(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p != "" {
			trimmed = append(trimmed, p)
		}
	}
	return trimmed
}
