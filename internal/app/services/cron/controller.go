// Package cron implements C7: the schedule controller. A ticker no coarser
// than 60s scans every active configuration with scheduling enabled whose
// nextRun has elapsed, submits a sync batch for that user (refusing to do so
// if the user already has an active batch in flight), and advances
// lastRun/nextRun. Grounded on the teacher's services/automation.Scheduler
// ticker-driven polling loop (context-cancellable goroutine under
// system.Service), generalized from per-job NextRun fields to per-user
// Configuration.Schedule.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/services/batch"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/internal/app/system"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

// tickInterval is deliberately <=60s per spec so no scheduled sync is more
// than a minute late relative to its configured Interval.
const tickInterval = 30 * time.Second

var _ system.Service = (*Controller)(nil)

// Controller drives scheduled sync batches from Configuration.Schedule.
type Controller struct {
	configs   storage.ConfigStore
	repos     storage.RepositoryStore
	scheduler *batch.Scheduler
	log       *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Controller.
func New(configs storage.ConfigStore, repos storage.RepositoryStore, scheduler *batch.Scheduler, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDefault("cron")
	}
	return &Controller{configs: configs, repos: repos, scheduler: scheduler, log: log}
}

// Name implements system.Service.
func (c *Controller) Name() string { return "schedule-controller" }

// Descriptor advertises the controller's architectural placement for
// orchestration/introspection tooling.
func (c *Controller) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "schedule-controller",
		Domain:       "mirror",
		Layer:        core.LayerEngine,
		Capabilities: []string{"schedule", "tick"},
	}
}

// Start begins the tick loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				c.tick(runCtx)
			}
		}
	}()

	c.log.Info("schedule controller started")
	return nil
}

// Stop halts the tick loop.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.log.Info("schedule controller stopped")
	return nil
}

func (c *Controller) tick(ctx context.Context) {
	due, err := c.configs.ListActiveSchedules(ctx)
	if err != nil {
		c.log.WithError(err).Warn("schedule controller failed to list active schedules")
		return
	}
	now := time.Now().UTC()
	for _, cfg := range due {
		if cfg.Schedule.NextRun != nil && cfg.Schedule.NextRun.After(now) {
			continue
		}
		if err := c.runOne(ctx, cfg, now); err != nil {
			c.log.WithError(err).WithField("user_id", cfg.UserID).Warn("scheduled sync failed to submit")
		}
	}
}

func (c *Controller) runOne(ctx context.Context, cfg config.Configuration, now time.Time) error {
	active, err := c.scheduler.HasActiveSyncBatch(ctx, cfg.UserID)
	if err != nil {
		return err
	}
	if active {
		c.log.WithField("user_id", cfg.UserID).Info("skipping scheduled sync: batch already active for user")
		return c.advance(ctx, cfg, now)
	}

	syncable, err := c.repos.ListRepositoriesByStatus(ctx, cfg.UserID,
		repository.StatusMirrored, repository.StatusSynced, repository.StatusFailed)
	if err != nil {
		return err
	}
	if len(syncable) == 0 {
		return c.advance(ctx, cfg, now)
	}

	itemIDs := make([]string, 0, len(syncable))
	for _, r := range syncable {
		itemIDs = append(itemIDs, r.ID)
	}

	_, err = c.scheduler.Submit(ctx, job.Job{
		UserID:  cfg.UserID,
		Type:    job.TypeSync,
		BatchID: fmt.Sprintf("sched-%s-%d", cfg.UserID, now.Unix()),
		ItemIDs: itemIDs,
		Status:  job.StatusSyncing,
	}, false)
	if err != nil {
		return err
	}

	return c.advance(ctx, cfg, now)
}

// advance moves lastRun/nextRun forward by one Interval and regenerates the
// display-only CronExpr. CronExpr is never consulted when computing the next
// run; robfig/cron only validates it round-trips to a sane schedule string.
func (c *Controller) advance(ctx context.Context, cfg config.Configuration, now time.Time) error {
	next := now.Add(cfg.Schedule.Interval)
	cfg.Schedule.LastRun = &now
	cfg.Schedule.NextRun = &next
	cfg.Schedule.CronExpr = DisplayCronExpr(cfg.Schedule.Interval)
	_, err := c.configs.UpdateConfig(ctx, cfg)
	return err
}

// DisplayCronExpr renders Interval as an approximate standard 5-field cron
// expression for display purposes, validated (not interpreted) by
// robfig/cron's parser.
func DisplayCronExpr(interval time.Duration) string {
	minutes := int(interval.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	var expr string
	switch {
	case minutes < 60:
		expr = fmt.Sprintf("*/%d * * * *", minutes)
	case minutes < 60*24:
		expr = fmt.Sprintf("0 */%d * * *", minutes/60)
	default:
		expr = fmt.Sprintf("0 0 */%d * *", minutes/(60*24))
	}
	if _, err := robfigcron.ParseStandard(expr); err != nil {
		return "@every " + interval.String()
	}
	return expr
}
