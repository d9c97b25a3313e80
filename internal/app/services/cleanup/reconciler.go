// Package cleanup implements C8: the orphan reconciler (destination
// pull-mirrors with no corresponding tracked source repository) and the
// activities-purge contract (force every in-progress job for a user to
// failed, then delete all jobs and events for that user in one operation).
// Grounded on the teacher's resource-cleanup patterns in
// system/events.store_postgres (bounded batch deletes) generalized to the
// destination-repository domain.
package cleanup

import (
	"context"
	"strings"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Service runs orphan reconciliation and activity purges.
type Service struct {
	repos  storage.RepositoryStore
	jobs   storage.JobStore
	evts   storage.EventStore
	bus    events.Publisher
	log    *logger.Logger
}

// New constructs a cleanup Service.
func New(repos storage.RepositoryStore, jobs storage.JobStore, evts storage.EventStore, bus events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("cleanup")
	}
	return &Service{repos: repos, jobs: jobs, evts: evts, bus: bus, log: log}
}

// Result summarizes one orphan-reconciliation run.
type Result struct {
	OrphansFound int
	Skipped      int
	Archived     int
	Deleted      int
	Errors       []string
}

// ReconcileOrphans lists every destination pull-mirror belonging to the
// authenticated identity, identifies those with no corresponding tracked
// repository, and applies cfg.Cleanup's disposition to each.
func (s *Service) ReconcileOrphans(ctx context.Context, userID string, cfg config.Configuration, dst *destapi.Client) (Result, error) {
	var result Result
	if !cfg.Cleanup.Enabled {
		return result, nil
	}

	destRepos, err := dst.ListMirroredRepos(ctx)
	if err != nil {
		return result, err
	}

	tracked, err := s.repos.ListRepositories(ctx, userID)
	if err != nil {
		return result, err
	}
	trackedSet := make(map[string]struct{}, len(tracked))
	for _, r := range tracked {
		if r.DestinationOwner == "" || r.DestinationName == "" {
			continue
		}
		trackedSet[destKey(r.DestinationOwner, r.DestinationName)] = struct{}{}
	}
	protected := make(map[string]struct{}, len(cfg.Cleanup.ProtectedRepos))
	for _, p := range cfg.Cleanup.ProtectedRepos {
		protected[strings.ToLower(p)] = struct{}{}
	}

	batchSize := cfg.Cleanup.BatchSize
	if batchSize <= 0 {
		batchSize = len(destRepos)
	}
	processed := 0

	for _, dr := range destRepos {
		key := destKey(dr.Owner, dr.Name)
		if _, isTracked := trackedSet[key]; isTracked {
			continue
		}
		result.OrphansFound++

		if _, isProtected := protected[key]; isProtected {
			result.Skipped++
			continue
		}

		if err := s.dispose(ctx, dst, dr, cfg.Cleanup); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		switch cfg.Cleanup.OrphanedRepoAction {
		case config.OrphanArchive:
			result.Archived++
		case config.OrphanDelete:
			result.Deleted++
		default:
			result.Skipped++
		}

		processed++
		if processed >= batchSize {
			break
		}
		if cfg.Cleanup.PauseBetweenDeletes > 0 && cfg.Cleanup.OrphanedRepoAction == config.OrphanDelete {
			select {
			case <-time.After(cfg.Cleanup.PauseBetweenDeletes):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	if s.bus != nil {
		_, _ = s.bus.Publish(ctx, userID, "user:"+userID, map[string]any{
			"kind":          "cleanup.completed",
			"orphans_found": result.OrphansFound,
			"archived":      result.Archived,
			"deleted":       result.Deleted,
			"skipped":       result.Skipped,
			"dry_run":       cfg.Cleanup.DryRun,
		})
	}
	return result, nil
}

func (s *Service) dispose(ctx context.Context, dst *destapi.Client, repo destapi.Repo, policy config.CleanupPolicy) error {
	if policy.DryRun {
		return nil
	}
	switch policy.OrphanedRepoAction {
	case config.OrphanArchive:
		if repo.Archived {
			return nil
		}
		return dst.Archive(ctx, repo.Owner, repo.Name)
	case config.OrphanDelete:
		if !policy.DeleteIfNotInSource {
			return nil
		}
		return dst.Delete(ctx, repo.Owner, repo.Name)
	default:
		return nil
	}
}

func destKey(owner, name string) string {
	return strings.ToLower(owner + "/" + name)
}

// PurgeResult summarizes an activities purge.
type PurgeResult struct {
	JobsFailed  int
	JobsDeleted int
	EventsDeleted int
}

// PurgeActivities forces every in-progress job for userID to failed, then
// deletes all job and event records for the user. The fail-then-delete
// ordering ensures no job is left InProgress=true with no backing row for a
// scheduler that might still hold its cancellation func.
func (s *Service) PurgeActivities(ctx context.Context, userID string) (PurgeResult, error) {
	failed, err := s.jobs.FailInProgressJobs(ctx, userID, "activities purged by user request")
	if err != nil {
		return PurgeResult{}, apperr.New("cleanup.PurgeActivities", apperr.Fatal, err)
	}
	deletedJobs, err := s.jobs.DeleteAllJobsForUser(ctx, userID)
	if err != nil {
		return PurgeResult{}, apperr.New("cleanup.PurgeActivities", apperr.Fatal, err)
	}
	deletedEvents, err := s.evts.DeleteAllEventsForUser(ctx, userID)
	if err != nil {
		return PurgeResult{}, apperr.New("cleanup.PurgeActivities", apperr.Fatal, err)
	}
	return PurgeResult{JobsFailed: failed, JobsDeleted: deletedJobs, EventsDeleted: deletedEvents}, nil
}
