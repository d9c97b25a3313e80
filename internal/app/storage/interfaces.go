package storage

import (
	"context"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/domain/config"
	"github.com/forgemirror/mirror-layer/internal/app/domain/event"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/domain/organization"
	"github.com/forgemirror/mirror-layer/internal/app/domain/repository"
	"github.com/forgemirror/mirror-layer/internal/app/domain/user"
)

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ConfigStore persists replication configurations. Exactly one configuration
// per user may have IsActive=true; SetActive enforces that invariant
// atomically.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg config.Configuration) (config.Configuration, error)
	UpdateConfig(ctx context.Context, cfg config.Configuration) (config.Configuration, error)
	GetConfig(ctx context.Context, id string) (config.Configuration, error)
	GetActiveConfig(ctx context.Context, userID string) (config.Configuration, error)
	ListConfigs(ctx context.Context, userID string) ([]config.Configuration, error)
	SetActive(ctx context.Context, userID, configID string) error
	DeleteConfig(ctx context.Context, id string) error
	// ListActiveSchedules returns every active configuration with
	// Schedule.Enabled across all users, for the schedule controller's tick
	// scan (C7).
	ListActiveSchedules(ctx context.Context) ([]config.Configuration, error)
}

// RepositoryStore persists tracked source repositories.
type RepositoryStore interface {
	UpsertRepository(ctx context.Context, repo repository.Repository) (repository.Repository, error)
	UpdateRepository(ctx context.Context, repo repository.Repository) (repository.Repository, error)
	GetRepository(ctx context.Context, id string) (repository.Repository, error)
	GetRepositoryByNormalizedName(ctx context.Context, userID, normalizedFullName string) (repository.Repository, error)
	ListRepositories(ctx context.Context, userID string) ([]repository.Repository, error)
	ListRepositoriesByStatus(ctx context.Context, userID string, statuses ...repository.Status) ([]repository.Repository, error)
	ListRepositoriesByIDs(ctx context.Context, userID string, ids []string) ([]repository.Repository, error)
	DeleteRepository(ctx context.Context, id string) error
}

// OrganizationStore persists tracked source organizations.
type OrganizationStore interface {
	UpsertOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error)
	UpdateOrganization(ctx context.Context, org organization.Organization) (organization.Organization, error)
	GetOrganization(ctx context.Context, id string) (organization.Organization, error)
	ListOrganizations(ctx context.Context, userID string) ([]organization.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
}

// JobStore persists mirror batch jobs and their checkpointed progress.
type JobStore interface {
	CreateJob(ctx context.Context, j job.Job) (job.Job, error)
	UpdateJob(ctx context.Context, j job.Job) (job.Job, error)
	GetJob(ctx context.Context, id string) (job.Job, error)
	ListJobs(ctx context.Context, userID string, limit int) ([]job.Job, error)
	ListJobsByBatch(ctx context.Context, batchID string) ([]job.Job, error)
	// ListInProgressJobs returns every job with InProgress=true, across all
	// users, for crash-recovery scanning at startup.
	ListInProgressJobs(ctx context.Context) ([]job.Job, error)
	// AppendCompletedItem atomically appends itemID to the job's
	// completedItemIds and increments completedItems, updating
	// lastCheckpoint, under a per-job serialization point.
	AppendCompletedItem(ctx context.Context, jobID, itemID string, checkpoint time.Time) (job.Job, error)
	// HasActiveBatch reports whether userID currently has an in-progress
	// scheduled batch, used by the schedule controller's
	// at-most-one-active-batch-per-user rule.
	HasActiveBatch(ctx context.Context, userID string, jobType job.Type) (bool, error)
	// FailInProgressJobs transitions every in-progress job for userID to
	// failed with message, used by the cleanup-of-activities contract.
	FailInProgressJobs(ctx context.Context, userID, message string) (int, error)
	// DeleteAllJobsForUser purges every job record for userID.
	DeleteAllJobsForUser(ctx context.Context, userID string) (int, error)
}

// EventStore persists the durable event log.
type EventStore interface {
	AppendEvent(ctx context.Context, e event.Event) (event.Event, error)
	ListEventsSince(ctx context.Context, userID string, since time.Time, limit int) ([]event.Event, error)
	ListEvents(ctx context.Context, userID string, limit int) ([]event.Event, error)
	MarkRead(ctx context.Context, id string) error
	// DeleteEventsOlderThan prunes events past the user's cleanup retention.
	DeleteEventsOlderThan(ctx context.Context, userID string, before time.Time) (int, error)
	// DeleteAllEventsForUser purges every event for userID, used by the
	// activities-cleanup contract.
	DeleteAllEventsForUser(ctx context.Context, userID string) (int, error)
}
