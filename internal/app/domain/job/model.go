// Package job models a mirror batch job: a set of repository/organization
// operations grouped under one batch id with checkpointable progress.
package job

import "time"

// Type distinguishes the kind of work a job performs.
type Type string

const (
	TypeMirror   Type = "mirror"
	TypeSync     Type = "sync"
	TypeRetry    Type = "retry"
	TypeCleanup  Type = "cleanup"
	TypeMetadata Type = "metadata"
)

// Status shares the repository/organization lifecycle enum; only the
// subset relevant to an aggregate job is typically observed (mirrored,
// synced, failed, archived), but the type is not restricted so admin
// overrides remain representable.
type Status string

const (
	StatusImported  Status = "imported"
	StatusMirroring Status = "mirroring"
	StatusMirrored  Status = "mirrored"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusIgnored   Status = "ignored"
	StatusDeleting  Status = "deleting"
	StatusDeleted   Status = "deleted"
	StatusSyncing   Status = "syncing"
	StatusSynced    Status = "synced"
	StatusArchived  Status = "archived"
)

// Job is a single logical unit of batched work.
type Job struct {
	ID      string
	UserID  string
	Type    Type
	BatchID string

	RepositoryID     string
	RepositoryName   string
	OrganizationID   string
	OrganizationName string

	Status Status

	TotalItems     int
	CompletedItems int
	ItemIDs        []string
	CompletedItemIDs []string

	InProgress bool

	StartedAt      time.Time
	CompletedAt    *time.Time
	LastCheckpoint time.Time

	Message string
	Details []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Invariant reports whether j satisfies the quantified job invariants from
// the testable-properties section: completed-count consistency and the
// in-progress/completed-at exclusion.
func (j Job) Invariant() bool {
	if len(j.CompletedItemIDs) != j.CompletedItems {
		return false
	}
	if j.CompletedItems > j.TotalItems {
		return false
	}
	if j.InProgress && j.CompletedAt != nil {
		return false
	}
	return true
}

// RemainingItemIDs returns ItemIDs minus CompletedItemIDs, preserving the
// original order, for resuming a crashed or cancelled batch.
func RemainingItemIDs(j Job) []string {
	done := make(map[string]struct{}, len(j.CompletedItemIDs))
	for _, id := range j.CompletedItemIDs {
		done[id] = struct{}{}
	}
	remaining := make([]string, 0, len(j.ItemIDs)-len(done))
	for _, id := range j.ItemIDs {
		if _, ok := done[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}
