// Package repository models a source repository tracked for replication,
// its capabilities, its mirrored destination location, and its lifecycle
// status.
package repository

import "time"

// Visibility mirrors the source forge's repository visibility.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Status is the per-repository mirror-engine state. Only the arrows in
// C5's state machine are legal transitions between successive statuses.
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

// Repository is a single source repository tracked for one user.
type Repository struct {
	ID       string
	UserID   string
	Owner    string
	Name     string
	FullName string
	// NormalizedFullName is the lower-cased FullName; unique per user.
	NormalizedFullName string

	IsPrivate      bool
	IsForked       bool
	ForkedFrom     string
	HasIssues      bool
	IsStarred      bool
	IsArchived     bool
	HasLFS         bool
	HasSubmodules  bool
	DefaultBranch  string
	Visibility     Visibility
	SizeKB         int64
	Language       string
	Description    string

	DestinationOwner string
	DestinationName  string
	DestinationURL   string
	// DestinationOrgOverride, when set, supersedes the configured mirror
	// strategy for this repository only.
	DestinationOrgOverride string

	Status       Status
	LastMirrored *time.Time
	ErrorMessage string
	// MetadataState tracks per-kind last-completed cursors (issues, pulls,
	// labels, milestones, releases, wiki) to avoid re-work on resume. It is
	// an opaque blob at the storage boundary; see MetadataState for the
	// decoded shape used by the mirror engine.
	MetadataState []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MetadataCursor records the last-completed position for one metadata kind.
type MetadataCursor struct {
	Kind        string `json:"kind"`
	LastCursor  string `json:"lastCursor"`
	CompletedAt time.Time `json:"completedAt"`
}

// MetadataState is the decoded form of Repository.MetadataState.
type MetadataState struct {
	Cursors map[string]MetadataCursor `json:"cursors"`
}
