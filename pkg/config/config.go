// Package config loads the replication engine's configuration from
// environment variables (via godotenv + envdecode), an optional YAML/JSON
// file, and applies the engine's own sane defaults, following the teacher's
// pkg/config layering (file then env, env wins).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server (mirrord's httpapi listener).
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Postgres persistence layer (C1).
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// ConnectionString builds a PostgreSQL connection string from host
// parameters; DATABASE_URL/DSN overrides it when set (see applyDatabaseURLOverride).
func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// LoggingConfig controls pkg/logger.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// SecurityConfig controls credential-protection (C10) parameters.
type SecurityConfig struct {
	MasterEncryptionKey string `json:"master_encryption_key" env:"MASTER_ENCRYPTION_KEY"`
	RedisAddr           string `json:"redis_addr" env:"REDIS_ADDR"`
}

// AuthConfig controls the engine's own maintenance/CLI-facing auth
// (cmd/mirrorctl -> cmd/mirrord), not the source/destination forge logins.
type AuthConfig struct {
	JWTSecret  string `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	TokenTTLMinutes int `json:"token_ttl_minutes" env:"AUTH_TOKEN_TTL_MINUTES"`
}

// SourceConfig seeds the default source forge credential (C2) for the Seed
// configloader path; per-user credentials still live in config.Credentials.
type SourceConfig struct {
	BaseURL string `json:"base_url" env:"SOURCE_BASE_URL"`
	Username string `json:"username" env:"SOURCE_USERNAME"`
	Token   string `json:"token" env:"SOURCE_TOKEN"`
}

// DestinationConfig seeds the default destination forge credential (C3).
type DestinationConfig struct {
	BaseURL string `json:"base_url" env:"DESTINATION_BASE_URL"`
	Token   string `json:"token" env:"DESTINATION_TOKEN"`
}

// MirrorPolicyConfig seeds the default discovery/reconciliation policy (C4).
type MirrorPolicyConfig struct {
	Strategy             string   `json:"strategy" env:"MIRROR_STRATEGY"`
	DuplicateName        string   `json:"duplicate_name" env:"MIRROR_DUPLICATE_NAME_STRATEGY"`
	SingleOrgName        string   `json:"single_org_name" env:"MIRROR_SINGLE_ORG_NAME"`
	PersonalReposOrg     string   `json:"personal_repos_org" env:"MIRROR_PERSONAL_REPOS_ORG"`
	StarredReposOrg      string   `json:"starred_repos_org" env:"MIRROR_STARRED_REPOS_ORG"`
	StarredReposMode     string   `json:"starred_repos_mode" env:"MIRROR_STARRED_REPOS_MODE"`
	IncludePrivate       bool     `json:"include_private" env:"MIRROR_INCLUDE_PRIVATE"`
	IncludeForks         bool     `json:"include_forks" env:"MIRROR_INCLUDE_FORKS"`
	IncludeArchived      bool     `json:"include_archived" env:"MIRROR_INCLUDE_ARCHIVED"`
	IncludeStarred       bool     `json:"include_starred" env:"MIRROR_INCLUDE_STARRED"`
	IncludeOrganizations []string `json:"include_organizations"`
}

// ScheduleConfig seeds the default sync schedule (C7).
type ScheduleConfig struct {
	Enabled         bool `json:"enabled" env:"SCHEDULE_ENABLED"`
	IntervalSeconds int  `json:"interval_seconds" env:"SCHEDULE_INTERVAL_SECONDS"`
}

// CleanupConfig seeds the default orphan-cleanup policy (C8).
type CleanupConfig struct {
	Enabled                    bool     `json:"enabled" env:"CLEANUP_ENABLED"`
	RetentionSeconds           int64    `json:"retention_seconds" env:"CLEANUP_RETENTION_SECONDS"`
	OrphanedRepoAction         string   `json:"orphaned_repo_action" env:"CLEANUP_ORPHANED_REPO_ACTION"`
	DeleteIfNotInSource        bool     `json:"delete_if_not_in_source" env:"CLEANUP_DELETE_IF_NOT_IN_SOURCE"`
	DryRun                     bool     `json:"dry_run" env:"CLEANUP_DRY_RUN"`
	ProtectedRepos             []string `json:"protected_repos"`
	BatchSize                  int      `json:"batch_size" env:"CLEANUP_BATCH_SIZE"`
	PauseBetweenDeletesSeconds int      `json:"pause_between_deletes_seconds" env:"CLEANUP_PAUSE_BETWEEN_DELETES_SECONDS"`
}

// SeedConfig drives the configloader's environment-to-database seeding pass
// (C11): when UserEmail is set and no active configuration exists for that
// user, one is created from Source/Destination/MirrorPolicy/Schedule/Cleanup.
type SeedConfig struct {
	UserEmail string `json:"user_email" env:"SEED_USER_EMAIL"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig       `json:"server"`
	Database    DatabaseConfig     `json:"database"`
	Logging     LoggingConfig      `json:"logging"`
	Security    SecurityConfig     `json:"security"`
	Auth        AuthConfig         `json:"auth"`
	Source      SourceConfig       `json:"source"`
	Destination DestinationConfig  `json:"destination"`
	Mirror      MirrorPolicyConfig `json:"mirror"`
	Schedule    ScheduleConfig     `json:"schedule"`
	Cleanup     CleanupConfig      `json:"cleanup"`
	Seed        SeedConfig         `json:"seed"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "mirror-layer",
		},
		Auth: AuthConfig{
			TokenTTLMinutes: 60,
		},
		Mirror: MirrorPolicyConfig{
			Strategy:         "preserve",
			DuplicateName:    "suffix",
			StarredReposMode: "preserve-owner",
		},
		Schedule: ScheduleConfig{
			IntervalSeconds: 3600,
		},
		Cleanup: CleanupConfig{
			OrphanedRepoAction: "skip",
			BatchSize:          50,
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride: DATABASE_URL overrides any file/env-derived DSN,
// matching how cmd/mirrord resolves its connection string in deployments
// where only a single URL secret is mounted.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
