// Package configloader implements C11: seeding a user's active
// Configuration from environment variables at startup and idempotently
// reconciling it on every subsequent run, so redeploying with unchanged
// environment produces zero writes. Grounded on the teacher's config
// bootstrap pattern of deriving a domain record from pkg/config at startup
// (internal/app/runtime.ConfigBridge) adapted to the per-user Configuration
// aggregate.
package configloader

import (
	"context"
	"reflect"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/user"
	"github.com/forgemirror/mirror-layer/internal/app/services/crypto"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	pkgconfig "github.com/forgemirror/mirror-layer/pkg/config"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Service seeds and reconciles the environment-derived Configuration.
type Service struct {
	users   storage.UserStore
	configs storage.ConfigStore
	cipher  crypto.Cipher
	log     *logger.Logger
}

// New constructs a configloader Service.
func New(users storage.UserStore, configs storage.ConfigStore, cipher crypto.Cipher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("configloader")
	}
	return &Service{users: users, configs: configs, cipher: cipher, log: log}
}

// Seed reconciles cfg.Seed against the store: a no-op if Seed.UserEmail is
// empty, otherwise it ensures a user and an active Configuration exist and
// match the environment-derived values, writing only on drift.
func (s *Service) Seed(ctx context.Context, cfg *pkgconfig.Config) (config.Configuration, error) {
	if cfg == nil || cfg.Seed.UserEmail == "" {
		return config.Configuration{}, nil
	}

	u, err := s.ensureUser(ctx, cfg.Seed.UserEmail)
	if err != nil {
		return config.Configuration{}, err
	}

	desired, err := s.desiredConfiguration(u.ID, cfg)
	if err != nil {
		return config.Configuration{}, err
	}

	existing, err := s.configs.GetActiveConfig(ctx, u.ID)
	if err != nil {
		created, err := s.configs.CreateConfig(ctx, desired)
		if err != nil {
			return config.Configuration{}, apperr.New("configloader.Seed", apperr.Fatal, err)
		}
		s.log.WithField("user_id", u.ID).Info("seeded initial configuration from environment")
		return created, nil
	}

	if configurationsEqual(existing, desired) {
		return existing, nil
	}

	desired.ID = existing.ID
	desired.CreatedAt = existing.CreatedAt
	updated, err := s.configs.UpdateConfig(ctx, desired)
	if err != nil {
		return config.Configuration{}, apperr.New("configloader.Seed", apperr.Fatal, err)
	}
	s.log.WithField("user_id", u.ID).Info("reconciled configuration drift from environment")
	return updated, nil
}

func (s *Service) ensureUser(ctx context.Context, email string) (user.User, error) {
	existing, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	return s.users.CreateUser(ctx, user.User{Email: email})
}

func (s *Service) desiredConfiguration(userID string, cfg *pkgconfig.Config) (config.Configuration, error) {
	sourceToken, err := s.encrypt(cfg.Source.Token)
	if err != nil {
		return config.Configuration{}, err
	}
	destToken, err := s.encrypt(cfg.Destination.Token)
	if err != nil {
		return config.Configuration{}, err
	}

	interval := time.Duration(cfg.Schedule.IntervalSeconds) * time.Second
	var nextRun *time.Time
	if cfg.Schedule.Enabled {
		next := time.Now().UTC().Add(interval)
		nextRun = &next
	}

	return config.Configuration{
		UserID:   userID,
		IsActive: true,
		Source: config.Credentials{
			BaseURL:        cfg.Source.BaseURL,
			Username:       cfg.Source.Username,
			EncryptedToken: sourceToken,
		},
		Destination: config.Credentials{
			BaseURL:        cfg.Destination.BaseURL,
			EncryptedToken: destToken,
		},
		Mirror: config.MirrorPolicy{
			Strategy:             config.Strategy(cfg.Mirror.Strategy),
			DuplicateName:        config.DuplicateNameStrategy(cfg.Mirror.DuplicateName),
			SingleOrgName:        cfg.Mirror.SingleOrgName,
			PersonalReposOrg:     cfg.Mirror.PersonalReposOrg,
			StarredReposOrg:      cfg.Mirror.StarredReposOrg,
			StarredReposMode:     config.StarredReposMode(cfg.Mirror.StarredReposMode),
			IncludePrivate:       cfg.Mirror.IncludePrivate,
			IncludeForks:         cfg.Mirror.IncludeForks,
			IncludeArchived:      cfg.Mirror.IncludeArchived,
			IncludeStarred:       cfg.Mirror.IncludeStarred,
			IncludeOrganizations: cfg.Mirror.IncludeOrganizations,
		},
		Schedule: config.Schedule{
			Enabled:  cfg.Schedule.Enabled,
			Interval: interval,
			NextRun:  nextRun,
		},
		Cleanup: config.CleanupPolicy{
			Enabled:             cfg.Cleanup.Enabled,
			RetentionSeconds:    cfg.Cleanup.RetentionSeconds,
			OrphanedRepoAction:  config.OrphanAction(cfg.Cleanup.OrphanedRepoAction),
			DeleteIfNotInSource: cfg.Cleanup.DeleteIfNotInSource,
			DryRun:              cfg.Cleanup.DryRun,
			ProtectedRepos:      cfg.Cleanup.ProtectedRepos,
			BatchSize:           cfg.Cleanup.BatchSize,
			PauseBetweenDeletes: time.Duration(cfg.Cleanup.PauseBetweenDeletesSeconds) * time.Second,
		},
	}, nil
}

func (s *Service) encrypt(token string) ([]byte, error) {
	if token == "" || s.cipher == nil {
		return nil, nil
	}
	return s.cipher.Encrypt([]byte(token))
}

// configurationsEqual compares every field the environment seeds, ignoring
// identifiers, timestamps, and the encrypted token bytes (seeding is
// idempotent in plaintext-token terms, but re-encrypting an unchanged token
// with an AEAD nonce always yields different ciphertext, so encrypted
// tokens are excluded from the drift check deliberately).
func configurationsEqual(a, b config.Configuration) bool {
	a.ID, b.ID = "", ""
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	a.Source.EncryptedToken, b.Source.EncryptedToken = nil, nil
	a.Destination.EncryptedToken, b.Destination.EncryptedToken = nil, nil
	a.Schedule.LastRun, b.Schedule.LastRun = nil, nil
	a.Schedule.NextRun, b.Schedule.NextRun = nil, nil
	a.Schedule.CronExpr, b.Schedule.CronExpr = "", ""
	return reflect.DeepEqual(a, b)
}
