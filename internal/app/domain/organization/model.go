// Package organization models a source organization a user belongs to,
// tracked for inclusion decisions during discovery.
package organization

import "time"

// Role is the user's membership role in the source organization.
type Role string

const (
	RoleMember        Role = "member"
	RoleAdmin         Role = "admin"
	RoleOwner         Role = "owner"
	RoleBillingManager Role = "billing_manager"
)

// Status reuses the repository status enum (same lifecycle semantics apply
// to an organization's aggregate mirror state).
type Status string

const (
	StatusImported Status = "imported"
	StatusMirrored Status = "mirrored"
	StatusIgnored  Status = "ignored"
)

// Organization is a source organization tracked for one user.
type Organization struct {
	ID        string
	UserID    string
	Name      string
	AvatarURL string
	Role      Role
	Included  bool
	Status    Status

	TotalRepoCount   int
	PublicRepoCount  int
	PrivateRepoCount int
	ForkRepoCount    int

	CreatedAt time.Time
	UpdatedAt time.Time
}
