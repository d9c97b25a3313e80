// Package app wires the replication engine's services (C1-C11) into a single
// lifecycle-managed Application, following the teacher's application.go
// pattern: a Stores bundle defaulting to an in-memory backend, an Option
// functional-options builder, and a system.Manager owning every background
// service's start/stop order.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis/v8"

	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/internal/app/system"

	"github.com/forgemirror/mirror-layer/internal/app/services/batch"
	"github.com/forgemirror/mirror-layer/internal/app/services/cleanup"
	"github.com/forgemirror/mirror-layer/internal/app/services/clients"
	"github.com/forgemirror/mirror-layer/internal/app/services/configloader"
	"github.com/forgemirror/mirror-layer/internal/app/services/crypto"
	"github.com/forgemirror/mirror-layer/internal/app/services/cron"
	"github.com/forgemirror/mirror-layer/internal/app/services/discovery"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/services/mirror"

	pkgconfig "github.com/forgemirror/mirror-layer/pkg/config"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation, following the teacher's Stores.applyDefaults
// pattern.
type Stores struct {
	Users         storage.UserStore
	Configs       storage.ConfigStore
	Repositories  storage.RepositoryStore
	Organizations storage.OrganizationStore
	Jobs          storage.JobStore
	Events        storage.EventStore
}

func (s *Stores) applyDefaults(mem *storage.Memory) {
	if s == nil || mem == nil {
		return
	}
	if s.Users == nil {
		s.Users = mem
	}
	if s.Configs == nil {
		s.Configs = mem
	}
	if s.Repositories == nil {
		s.Repositories = mem
	}
	if s.Organizations == nil {
		s.Organizations = mem
	}
	if s.Jobs == nil {
		s.Jobs = mem
	}
	if s.Events == nil {
		s.Events = mem
	}
}

// Option customises the application runtime.
type Option func(*builderConfig)

type builderConfig struct {
	httpClient *http.Client
	redis      *goredis.Client
}

// WithHTTPClient injects a shared HTTP client used by the source/destination
// clients. A nil client falls back to a 30-second-timeout default.
func WithHTTPClient(client *http.Client) Option {
	return func(b *builderConfig) {
		b.httpClient = client
	}
}

// WithRedis injects a shared Redis client backing the per-token identity
// cache and distributed rate limiter. When omitted, a client is constructed
// from cfg.Security.RedisAddr if set, otherwise clients fall back to an
// in-process cache/limiter.
func WithRedis(client *goredis.Client) Option {
	return func(b *builderConfig) {
		b.redis = client
	}
}

// Application ties every replication-engine service together and manages
// their lifecycle via a system.Manager.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Stores Stores

	Cipher       crypto.Cipher
	Clients      *clients.Factory
	Events       *events.Bus
	Discovery    *discovery.Service
	Mirror       *mirror.Engine
	Batch        *batch.Scheduler
	Cron         *cron.Controller
	Cleanup      *cleanup.Service
	ConfigLoader *configloader.Service

	descriptors []core.Descriptor
}

// New builds a fully initialised Application with the provided stores and
// configuration.
func New(stores Stores, cfg *pkgconfig.Config, log *logger.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = pkgconfig.New()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	var builder builderConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	httpClient := builder.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	mem := storage.NewMemory()
	stores.applyDefaults(mem)

	manager := system.NewManager()

	masterKey := cfg.Security.MasterEncryptionKey
	var cipher crypto.Cipher
	if masterKey == "" {
		log.Warn("MASTER_ENCRYPTION_KEY not set; falling back to a pass-through cipher, credentials will be stored in plaintext")
		cipher = crypto.Noop{}
	} else {
		var err error
		cipher, err = crypto.New([]byte(masterKey))
		if err != nil {
			return nil, fmt.Errorf("construct credential cipher: %w", err)
		}
	}

	redisClient := builder.redis
	if redisClient == nil && cfg.Security.RedisAddr != "" {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.Security.RedisAddr})
	}

	clientFactory := clients.New(cipher, httpClient, redisClient, log)
	eventBus := events.New(stores.Events, log)
	discoverySvc := discovery.New(stores.Repositories, stores.Organizations, log)
	mirrorEngine := mirror.New(stores.Repositories, eventBus, log)
	batchScheduler := batch.New(stores.Jobs, eventBus, log)
	cronController := cron.New(stores.Configs, stores.Repositories, batchScheduler, log)
	cleanupSvc := cleanup.New(stores.Repositories, stores.Jobs, stores.Events, eventBus, log)
	configLoaderSvc := configloader.New(stores.Users, stores.Configs, cipher, log)

	registerExecutors(batchScheduler, stores, clientFactory, mirrorEngine, discoverySvc, cleanupSvc, log)

	for _, svc := range []system.Service{batchScheduler, cronController} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	if _, err := configLoaderSvc.Seed(context.Background(), cfg); err != nil {
		log.WithError(err).Warn("environment configuration seed failed")
	}

	descriptors := manager.Descriptors()

	return &Application{
		manager:      manager,
		log:          log,
		Stores:       stores,
		Cipher:       cipher,
		Clients:      clientFactory,
		Events:       eventBus,
		Discovery:    discoverySvc,
		Mirror:       mirrorEngine,
		Batch:        batchScheduler,
		Cron:         cronController,
		Cleanup:      cleanupSvc,
		ConfigLoader: configLoaderSvc,
		descriptors:  descriptors,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered background services (the batch scheduler's
// dispatch loop and the schedule controller's tick loop).
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all registered services in reverse start order.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Descriptors returns advertised service descriptors for introspection.
func (a *Application) Descriptors() []core.Descriptor {
	out := make([]core.Descriptor, len(a.descriptors))
	copy(out, a.descriptors)
	return out
}
