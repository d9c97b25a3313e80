package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/destapi"
	"github.com/forgemirror/mirror-layer/internal/app/sourceapi"
)

// issueConcurrency and prConcurrency are the per-kind concurrency bounds
// from spec §4.4's metadata sub-pipeline.
const (
	issueConcurrency = 4
	prConcurrency    = 2
)

// runMetadataIfEnabled runs the metadata sub-pipeline when cfg.Options
// requests it, recording per-item failures into repo.ErrorMessage without
// failing the repo itself, and advancing repo.MetadataState cursors so a
// re-run skips kinds already completed.
func (e *Engine) runMetadataIfEnabled(ctx context.Context, userID string, repo *repository.Repository, cfg config.Configuration, src *sourceapi.Client, dst *destapi.Client) error {
	if !cfg.Options.MirrorMetadata {
		return nil
	}
	state := decodeMetadataState(repo.MetadataState)
	agg := &apperr.Aggregate{}

	if cfg.Options.MirrorLabels {
		agg.Add(e.mirrorLabels(ctx, repo, src, dst, state))
	}
	if cfg.Options.MirrorMilestones {
		agg.Add(e.mirrorMilestones(ctx, repo, src, dst, state))
	}
	if cfg.Options.MirrorIssues && !(repo.IsStarred && cfg.Options.SkipStarredIssues) {
		agg.Add(e.mirrorIssues(ctx, repo, src, dst, state))
	}
	if cfg.Options.MirrorPulls && !(repo.IsStarred && cfg.Options.StarredCodeOnly) {
		agg.Add(e.mirrorPulls(ctx, repo, src, dst, state))
	}
	if cfg.Options.MirrorReleases {
		agg.Add(e.mirrorReleases(ctx, repo, src, dst, state))
	}
	if cfg.Options.MirrorWiki {
		agg.Add(e.mirrorWiki(ctx, repo, src, state))
	}

	repo.MetadataState = encodeMetadataState(state)
	if err := agg.ErrOrNil(); err != nil {
		repo.ErrorMessage = sanitize(err)
		return err
	}
	return nil
}

func decodeMetadataState(raw []byte) repository.MetadataState {
	state := repository.MetadataState{Cursors: map[string]repository.MetadataCursor{}}
	if len(raw) == 0 {
		return state
	}
	_ = json.Unmarshal(raw, &state)
	if state.Cursors == nil {
		state.Cursors = map[string]repository.MetadataCursor{}
	}
	return state
}

func encodeMetadataState(state repository.MetadataState) []byte {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	return raw
}

func markDone(state repository.MetadataState, kind string) {
	state.Cursors[kind] = repository.MetadataCursor{Kind: kind, CompletedAt: time.Now().UTC()}
}

func alreadyDone(state repository.MetadataState, kind string) bool {
	_, ok := state.Cursors[kind]
	return ok
}

func (e *Engine) mirrorLabels(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, dst *destapi.Client, state repository.MetadataState) error {
	const kind = "labels"
	if alreadyDone(state, kind) {
		return nil
	}
	labels, err := src.ListLabels(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list labels: %w", err)
	}
	agg := &apperr.Aggregate{}
	for _, l := range labels {
		agg.Add(dst.UpsertLabel(ctx, repo.DestinationOwner, repo.DestinationName, map[string]any{
			"name": l.Name, "color": l.Color, "description": l.Description,
		}))
	}
	markDone(state, kind)
	return agg.ErrOrNil()
}

func (e *Engine) mirrorMilestones(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, dst *destapi.Client, state repository.MetadataState) error {
	const kind = "milestones"
	if alreadyDone(state, kind) {
		return nil
	}
	milestones, err := src.ListMilestones(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list milestones: %w", err)
	}
	agg := &apperr.Aggregate{}
	for _, m := range milestones {
		agg.Add(dst.UpsertMilestone(ctx, repo.DestinationOwner, repo.DestinationName, map[string]any{
			"title": m.Title, "description": m.Description, "state": m.State, "due_on": m.DueOn,
		}))
	}
	markDone(state, kind)
	return agg.ErrOrNil()
}

func (e *Engine) mirrorIssues(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, dst *destapi.Client, state repository.MetadataState) error {
	const kind = "issues"
	if alreadyDone(state, kind) {
		return nil
	}
	issues, err := src.ListIssues(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list issues: %w", err)
	}
	err = runConcurrent(ctx, issueConcurrency, issues, func(i sourceapi.Issue) error {
		if upErr := dst.UpsertIssue(ctx, repo.DestinationOwner, repo.DestinationName, map[string]any{
			"title": i.Title, "body": i.Body, "state": i.State, "labels": i.Labels,
		}); upErr != nil {
			return upErr
		}
		for _, c := range i.Comments {
			if cErr := dst.UpsertIssueComment(ctx, repo.DestinationOwner, repo.DestinationName, i.Number, map[string]any{
				"body": c.Body, "author": c.Author,
			}); cErr != nil {
				return cErr
			}
		}
		return nil
	})
	markDone(state, kind)
	return err
}

func (e *Engine) mirrorPulls(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, dst *destapi.Client, state repository.MetadataState) error {
	const kind = "pulls"
	if alreadyDone(state, kind) {
		return nil
	}
	pulls, err := src.ListPullRequests(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list pull requests: %w", err)
	}
	err = runConcurrent(ctx, prConcurrency, pulls, func(pr sourceapi.PullRequest) error {
		return dst.UpsertPullRequest(ctx, repo.DestinationOwner, repo.DestinationName, map[string]any{
			"title": pr.Title, "body": pr.Body, "state": pr.State, "head": pr.Head, "base": pr.Base,
		})
	})
	markDone(state, kind)
	return err
}

func (e *Engine) mirrorReleases(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, dst *destapi.Client, state repository.MetadataState) error {
	const kind = "releases"
	if alreadyDone(state, kind) {
		return nil
	}
	releases, err := src.ListReleases(ctx, repo.Owner, repo.Name)
	if err != nil {
		return fmt.Errorf("list releases: %w", err)
	}
	agg := &apperr.Aggregate{}
	for _, r := range releases {
		agg.Add(dst.UpsertRelease(ctx, repo.DestinationOwner, repo.DestinationName, map[string]any{
			"tag_name": r.TagName, "name": r.Name, "body": r.Body, "draft": r.Draft, "prerelease": r.Prerelease,
		}))
	}
	markDone(state, kind)
	return agg.ErrOrNil()
}

// mirrorWiki only marks the wiki cursor done; wiki content itself mirrors
// through the destination's own wiki=true pull-mirror flag (set at
// CreatePullMirror time), not a REST upsert here. Its one job is to record
// that this repo's wiki has been checked, so an existence probe isn't
// re-issued against the source on every metadata re-run.
func (e *Engine) mirrorWiki(ctx context.Context, repo *repository.Repository, src *sourceapi.Client, state repository.MetadataState) error {
	const kind = "wiki"
	if alreadyDone(state, kind) {
		return nil
	}
	if _, err := src.HasWiki(ctx, repo.Owner, repo.Name); err != nil {
		return fmt.Errorf("check wiki: %w", err)
	}
	markDone(state, kind)
	return nil
}

// runConcurrent fans work out over items with at most limit concurrent
// workers, aggregating every non-nil error without aborting remaining items
// (metadata item failures must not fail the whole repo, spec §4.4).
func runConcurrent[T any](ctx context.Context, limit int, items []T, fn func(T) error) error {
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	agg := &apperr.Aggregate{}

	for _, item := range items {
		select {
		case <-ctx.Done():
			agg.Add(ctx.Err())
			wg.Wait()
			return agg.ErrOrNil()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(it T) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := fn(it); err != nil {
				mu.Lock()
				agg.Add(err)
				mu.Unlock()
			}
		}(item)
	}
	wg.Wait()
	return agg.ErrOrNil()
}
