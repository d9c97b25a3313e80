package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/services/batch"
	"github.com/forgemirror/mirror-layer/internal/app/services/cleanup"
	"github.com/forgemirror/mirror-layer/internal/app/services/clients"
	"github.com/forgemirror/mirror-layer/internal/app/services/discovery"
	"github.com/forgemirror/mirror-layer/internal/app/services/mirror"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// registerExecutors binds every job.Type to an ExecutorFactory on scheduler,
// closing over the stores and services an Executor needs to run one item.
func registerExecutors(
	scheduler *batch.Scheduler,
	stores Stores,
	factory *clients.Factory,
	mirrorEngine *mirror.Engine,
	discoverySvc *discovery.Service,
	cleanupSvc *cleanup.Service,
	log *logger.Logger,
) {
	activeConfig := func(ctx context.Context, userID string) (configAndClients, error) {
		cfg, err := stores.Configs.GetActiveConfig(ctx, userID)
		if err != nil {
			return configAndClients{}, apperr.New("executors.activeConfig", apperr.Fatal, fmt.Errorf("load active configuration for user %s: %w", userID, err))
		}
		src, err := factory.Source(cfg)
		if err != nil {
			return configAndClients{}, err
		}
		dst, err := factory.Destination(cfg)
		if err != nil {
			return configAndClients{}, err
		}
		return configAndClients{cfg: cfg, src: src, dst: dst}, nil
	}

	scheduler.RegisterExecutor(job.TypeMirror, func(j job.Job) (batch.Executor, error) {
		var cached configAndClients
		var once sync.Once
		var setupErr error
		return func(ctx context.Context, userID, itemID string) error {
			once.Do(func() {
				cached, setupErr = activeConfig(ctx, userID)
			})
			if setupErr != nil {
				return setupErr
			}
			repo, err := stores.Repositories.GetRepository(ctx, itemID)
			if err != nil {
				return apperr.New("executors.mirror", apperr.Fatal, err)
			}
			_, err = mirrorEngine.Mirror(ctx, userID, repo, cached.cfg, cached.src, cached.dst)
			return err
		}, nil
	})

	scheduler.RegisterExecutor(job.TypeSync, func(j job.Job) (batch.Executor, error) {
		var cached configAndClients
		var once sync.Once
		var setupErr error
		return func(ctx context.Context, userID, itemID string) error {
			once.Do(func() {
				cached, setupErr = activeConfig(ctx, userID)
			})
			if setupErr != nil {
				return setupErr
			}
			repo, err := stores.Repositories.GetRepository(ctx, itemID)
			if err != nil {
				return apperr.New("executors.sync", apperr.Fatal, err)
			}
			_, err = mirrorEngine.Sync(ctx, userID, repo, cached.dst)
			return err
		}, nil
	})

	scheduler.RegisterExecutor(job.TypeRetry, func(j job.Job) (batch.Executor, error) {
		var cached configAndClients
		var once sync.Once
		var setupErr error
		return func(ctx context.Context, userID, itemID string) error {
			once.Do(func() {
				cached, setupErr = activeConfig(ctx, userID)
			})
			if setupErr != nil {
				return setupErr
			}
			repo, err := stores.Repositories.GetRepository(ctx, itemID)
			if err != nil {
				return apperr.New("executors.retry", apperr.Fatal, err)
			}
			if repo.Status == repository.StatusMirrored || repo.Status == repository.StatusSynced {
				_, err = mirrorEngine.Sync(ctx, userID, repo, cached.dst)
				return err
			}
			_, err = mirrorEngine.Mirror(ctx, userID, repo, cached.cfg, cached.src, cached.dst)
			return err
		}, nil
	})

	scheduler.RegisterExecutor(job.TypeMetadata, func(j job.Job) (batch.Executor, error) {
		var cached configAndClients
		var once sync.Once
		var setupErr error
		return func(ctx context.Context, userID, itemID string) error {
			once.Do(func() {
				cached, setupErr = activeConfig(ctx, userID)
			})
			if setupErr != nil {
				return setupErr
			}
			repo, err := stores.Repositories.GetRepository(ctx, itemID)
			if err != nil {
				return apperr.New("executors.metadata", apperr.Fatal, err)
			}
			_, err = mirrorEngine.ResetMetadata(ctx, userID, repo, cached.cfg, cached.src, cached.dst)
			return err
		}, nil
	})

	scheduler.RegisterExecutor(job.TypeCleanup, func(j job.Job) (batch.Executor, error) {
		var cached configAndClients
		var once sync.Once
		var setupErr error
		return func(ctx context.Context, userID, itemID string) error {
			once.Do(func() {
				cached, setupErr = activeConfig(ctx, userID)
			})
			if setupErr != nil {
				return setupErr
			}
			_, err := cleanupSvc.ReconcileOrphans(ctx, userID, cached.cfg, cached.dst)
			return err
		}, nil
	})

	log.Debug("registered job executors for mirror, sync, retry, metadata, cleanup")
}

type configAndClients struct {
	cfg config.Configuration
	src *sourceapi.Client
	dst *destapi.Client
}
