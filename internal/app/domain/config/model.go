// Package config models the per-user replication configuration: credentials,
// mirror strategy, schedule, cleanup policy, and mirror options. Exactly one
// Configuration per user may be active at any time.
package config

import "time"

// Strategy selects how desired destination locations are computed from
// source identities.
type Strategy string

const (
	StrategyPreserve  Strategy = "preserve"
	StrategySingleOrg Strategy = "single-org"
	StrategyFlatUser  Strategy = "flat-user"
	StrategyMixed     Strategy = "mixed"
)

// DuplicateNameStrategy resolves destination-name collisions under
// StrategySingleOrg and StrategyFlatUser.
type DuplicateNameStrategy string

const (
	DuplicateSuffix   DuplicateNameStrategy = "suffix"
	DuplicatePrefix   DuplicateNameStrategy = "prefix"
	DuplicateOwnerOrg DuplicateNameStrategy = "owner-org"
)

// StarredReposMode controls where starred repositories land.
type StarredReposMode string

const (
	StarredDedicatedOrg StarredReposMode = "dedicated-org"
	StarredPreserveOwner StarredReposMode = "preserve-owner"
)

// OrphanAction is the cleanup reconciler's disposition for a destination
// repository with no corresponding source entry.
type OrphanAction string

const (
	OrphanSkip    OrphanAction = "skip"
	OrphanArchive OrphanAction = "archive"
	OrphanDelete  OrphanAction = "delete"
)

// Credentials holds a forge token. Token is always the encrypted (AEAD)
// ciphertext on disk; plaintext only exists transiently inside the
// credential-protection service's decrypt scope.
type Credentials struct {
	BaseURL        string
	Username       string
	EncryptedToken []byte
}

// Schedule controls the periodic sync cadence (C7).
type Schedule struct {
	Enabled  bool
	Interval time.Duration
	LastRun  *time.Time
	NextRun  *time.Time
	// CronExpr is a display-only regeneration of Interval, written on
	// Configuration save and never consulted when computing NextRun.
	CronExpr string
}

// CleanupPolicy controls the orphan reconciler (C8).
type CleanupPolicy struct {
	Enabled             bool
	RetentionSeconds    int64
	OrphanedRepoAction  OrphanAction
	DeleteIfNotInSource bool
	DryRun              bool
	ProtectedRepos      []string
	BatchSize           int
	PauseBetweenDeletes time.Duration
}

// MirrorOptions toggles ancillary metadata replication (C5 sub-pipeline).
type MirrorOptions struct {
	MirrorReleases     bool
	MirrorLFS          bool
	MirrorMetadata     bool
	MirrorIssues       bool
	MirrorPulls        bool
	MirrorLabels       bool
	MirrorMilestones   bool
	MirrorWiki         bool
	MirrorStarred      bool
	StarredCodeOnly    bool
	SkipStarredIssues  bool
}

// MirrorPolicy is the discovery-time decision surface (C4).
type MirrorPolicy struct {
	Strategy              Strategy
	DuplicateName          DuplicateNameStrategy
	SingleOrgName          string
	PersonalReposOrg       string
	StarredReposOrg        string
	StarredReposMode       StarredReposMode
	IncludePrivate         bool
	IncludeForks           bool
	IncludeArchived        bool
	IncludeStarred         bool
	IncludeOrganizations   []string
}

// Configuration is the single active replication policy for a user.
type Configuration struct {
	ID          string
	UserID      string
	IsActive    bool
	Source      Credentials
	Destination Credentials
	Mirror      MirrorPolicy
	Options     MirrorOptions
	Schedule    Schedule
	Cleanup     CleanupPolicy
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
