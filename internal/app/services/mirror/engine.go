// Package mirror implements C5: the per-repository mirroring state machine
// (imported -> mirroring -> mirrored/failed -> syncing -> synced/failed),
// the metadata sub-pipeline, and idempotent retry semantics.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// Event channel payload kinds published by the engine.
const (
	EventRepoMirrored = "repo.mirrored"
	EventRepoFailed   = "repo.failed"
	EventRepoSynced   = "repo.synced"
	EventRepoWarning  = "repo.warning"
)

// Engine runs the mirror/sync state machine for one repository at a time.
// It holds no per-user state; callers (the batch scheduler) supply
// credentials and configuration per call.
type Engine struct {
	repos  storage.RepositoryStore
	events events.Publisher
	log    *logger.Logger

	// ReadinessTimeout bounds how long Mirror polls RepoExists for after
	// creating the pull-mirror (spec default 60s).
	ReadinessTimeout time.Duration
	ReadinessPoll    time.Duration
}

// New constructs a mirror Engine.
func New(repos storage.RepositoryStore, publisher events.Publisher, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("mirror")
	}
	return &Engine{
		repos:            repos,
		events:           publisher,
		log:              log,
		ReadinessTimeout: 60 * time.Second,
		ReadinessPoll:    2 * time.Second,
	}
}

// Mirror provisions the destination and creates the pull-mirror for repo,
// transitioning it through mirroring -> mirrored/failed. It is idempotent:
// a repo already mirrored at its current destination location short-circuits
// straight to the metadata sub-pipeline, performing zero destination writes
// (spec §8 round-trip law).
func (e *Engine) Mirror(ctx context.Context, userID string, repo repository.Repository, cfg config.Configuration, src *sourceapi.Client, dst *destapi.Client) (repository.Repository, error) {
	if repo.Status == repository.StatusMirrored && repo.DestinationURL != "" {
		if err := e.runMetadataIfEnabled(ctx, userID, &repo, cfg, src, dst); err != nil {
			e.log.WithError(err).Warn("metadata sub-pipeline reported errors on idempotent mirror")
		}
		return e.save(ctx, repo)
	}

	repo.Status = repository.StatusMirroring
	repo.ErrorMessage = ""
	repo, err := e.save(ctx, repo)
	if err != nil {
		return repo, err
	}

	owner, fellBack, err := dst.EnsureOwner(ctx, repo.DestinationOwner, string(repo.Visibility))
	if err != nil {
		return e.fail(ctx, userID, repo, err)
	}
	if fellBack {
		e.publishEvent(ctx, userID, EventRepoWarning, repo, map[string]any{
			"message": fmt.Sprintf("destination forbade org %q; used authenticated user instead", repo.DestinationOwner),
		})
		repo.DestinationOwner = owner
	}

	handle, err := dst.CreatePullMirror(ctx, owner, repo.DestinationName, cloneURL(cfg, repo), string(repo.Visibility), int(cfg.Schedule.Interval.Seconds()), cfg.Options.MirrorLFS, cfg.Options.MirrorWiki, cfg.Options.MirrorMetadata)
	if err != nil {
		return e.fail(ctx, userID, repo, err)
	}

	if err := e.waitForReadiness(ctx, dst, handle.Owner, handle.Name); err != nil {
		return e.fail(ctx, userID, repo, err)
	}

	now := time.Now().UTC()
	repo.Status = repository.StatusMirrored
	repo.DestinationOwner = handle.Owner
	repo.DestinationName = handle.Name
	repo.DestinationURL = destinationURL(cfg, handle)
	repo.LastMirrored = &now
	repo.ErrorMessage = ""

	if repo, err = e.save(ctx, repo); err != nil {
		return repo, err
	}
	e.publishEvent(ctx, userID, EventRepoMirrored, repo, nil)

	if err := e.runMetadataIfEnabled(ctx, userID, &repo, cfg, src, dst); err != nil {
		e.log.WithError(err).Warn("metadata sub-pipeline reported errors")
	}
	return e.save(ctx, repo)
}

// Sync triggers a destination pull from upstream for a repo already in
// {mirrored, synced, failed}. A NotFound destination after a prior failed
// status is a silent skip (the destination was removed externally).
func (e *Engine) Sync(ctx context.Context, userID string, repo repository.Repository, dst *destapi.Client) (repository.Repository, error) {
	switch repo.Status {
	case repository.StatusMirrored, repository.StatusSynced, repository.StatusFailed:
	default:
		return repo, apperr.New("mirror.Sync", apperr.Fatal, fmt.Errorf("repo %s is not syncable from status %s", repo.ID, repo.Status))
	}

	exists, err := dst.RepoExists(ctx, repo.DestinationOwner, repo.DestinationName)
	if err != nil {
		return e.fail(ctx, userID, repo, err)
	}
	if !exists {
		if repo.Status == repository.StatusFailed {
			return repo, nil
		}
		return e.fail(ctx, userID, repo, apperr.New("mirror.Sync", apperr.NotFound, fmt.Errorf("destination repo missing")))
	}

	repo.Status = repository.StatusSyncing
	if repo, err = e.save(ctx, repo); err != nil {
		return repo, err
	}

	if err := dst.TriggerSync(ctx, repo.DestinationOwner, repo.DestinationName); err != nil {
		return e.fail(ctx, userID, repo, err)
	}

	now := time.Now().UTC()
	repo.Status = repository.StatusSynced
	repo.LastMirrored = &now
	repo.ErrorMessage = ""
	repo, err = e.save(ctx, repo)
	if err != nil {
		return repo, err
	}
	e.publishEvent(ctx, userID, EventRepoSynced, repo, nil)
	return repo, nil
}

// ResetMetadata clears repo's metadata cursors and re-runs the metadata
// sub-pipeline from scratch, for the reset-metadata job type. repo must
// already be mirrored; its mirror status is left untouched.
func (e *Engine) ResetMetadata(ctx context.Context, userID string, repo repository.Repository, cfg config.Configuration, src *sourceapi.Client, dst *destapi.Client) (repository.Repository, error) {
	if repo.Status != repository.StatusMirrored && repo.Status != repository.StatusSynced && repo.Status != repository.StatusFailed {
		return repo, apperr.New("mirror.ResetMetadata", apperr.Fatal, fmt.Errorf("repo %s has not been mirrored yet", repo.ID))
	}
	repo.MetadataState = nil
	repo.ErrorMessage = ""
	if err := e.runMetadataIfEnabled(ctx, userID, &repo, cfg, src, dst); err != nil {
		e.log.WithError(err).Warn("metadata reset reported errors")
	}
	return e.save(ctx, repo)
}

func (e *Engine) waitForReadiness(ctx context.Context, dst *destapi.Client, owner, name string) error {
	deadline := time.Now().Add(e.ReadinessTimeout)
	for {
		exists, err := dst.RepoExists(ctx, owner, name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.New("mirror.waitForReadiness", apperr.Transient, fmt.Errorf("destination did not report readiness within %s", e.ReadinessTimeout))
		}
		timer := time.NewTimer(e.ReadinessPoll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperr.New("mirror.waitForReadiness", apperr.Cancelled, ctx.Err())
		}
	}
}

func (e *Engine) fail(ctx context.Context, userID string, repo repository.Repository, cause error) (repository.Repository, error) {
	repo.Status = repository.StatusFailed
	repo.ErrorMessage = sanitize(cause)
	saved, err := e.save(ctx, repo)
	if err != nil {
		return saved, err
	}
	e.publishEvent(ctx, userID, EventRepoFailed, saved, map[string]any{"error": saved.ErrorMessage})
	return saved, cause
}

func (e *Engine) save(ctx context.Context, repo repository.Repository) (repository.Repository, error) {
	saved, err := e.repos.UpdateRepository(ctx, repo)
	if err != nil {
		return repo, apperr.New("mirror.save", apperr.Fatal, err)
	}
	return saved, nil
}

func (e *Engine) publishEvent(ctx context.Context, userID, kind string, repo repository.Repository, extra map[string]any) {
	if e.events == nil {
		return
	}
	payload := map[string]any{
		"kind":       kind,
		"repository": repo.FullName,
		"status":     repo.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := e.events.Publish(ctx, userID, "user:"+userID, payload); err != nil {
		e.log.WithError(err).Warn("publish event failed")
	}
}

func cloneURL(cfg config.Configuration, repo repository.Repository) string {
	return fmt.Sprintf("%s/%s/%s.git", trimScheme(cfg.Source.BaseURL), repo.Owner, repo.Name)
}

func destinationURL(cfg config.Configuration, handle destapi.MirrorHandle) string {
	return fmt.Sprintf("%s/%s/%s", trimScheme(cfg.Destination.BaseURL), handle.Owner, handle.Name)
}

func trimScheme(base string) string {
	return base
}

// sanitize reduces an error to its kind plus a short, token-free message
// before it is persisted as a user-visible errorMessage (spec §7: "no token
// fragments, no internal paths").
func sanitize(err error) string {
	if err == nil {
		return ""
	}
	kind := apperr.KindOf(err)
	if kind == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", kind, err.Error())
}
