// Package sourceapi wraps a GitHub-compatible REST v3 source forge (C2):
// paginated, rate-limit-aware listing of users, organizations,
// repositories, stars, and per-repository metadata (issues, pull requests,
// labels, milestones, releases, wiki existence).
package sourceapi

import "time"

// User is the authenticated source identity.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// MembershipRole is the caller's role within an organization.
type MembershipRole string

const (
	RoleMember         MembershipRole = "member"
	RoleAdmin          MembershipRole = "admin"
	RoleOwner          MembershipRole = "owner"
	RoleBillingManager MembershipRole = "billing_manager"
)

// Organization is a source-forge organization the authenticated user
// belongs to.
type Organization struct {
	Login       string         `json:"login"`
	Name        string         `json:"name"`
	AvatarURL   string         `json:"avatar_url"`
	Role        MembershipRole `json:"role"`
	PublicRepos int            `json:"public_repos"`
	TotalRepos  int            `json:"total_private_repos_visible"`
}

// Repo is a single source repository as returned by the listing endpoints.
type Repo struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Private       bool      `json:"private"`
	Fork          bool      `json:"fork"`
	ForkedFrom    string    `json:"forked_from"`
	HasIssues     bool      `json:"has_issues"`
	HasWiki       bool      `json:"has_wiki"`
	HasLFS        bool      `json:"has_lfs"`
	HasSubmodules bool      `json:"has_submodules"`
	Archived      bool      `json:"archived"`
	Starred       bool      `json:"starred"`
	DefaultBranch string    `json:"default_branch"`
	Visibility    string    `json:"visibility"`
	SizeKB        int64     `json:"size"`
	Language      string    `json:"language"`
	Description   string    `json:"description"`
	CloneURL      string    `json:"clone_url"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Label is a repository issue/PR label.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Milestone is a repository milestone.
type Milestone struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	DueOn       *time.Time `json:"due_on"`
}

// Comment is a single issue/PR comment.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is a source repository issue.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []string  `json:"labels"`
	Author    string    `json:"author"`
	Comments  []Comment `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
}

// PullRequest is a source repository pull request.
type PullRequest struct {
	Number       int       `json:"number"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	State        string    `json:"state"`
	Head         string    `json:"head"`
	Base         string    `json:"base"`
	Author       string    `json:"author"`
	Merged       bool      `json:"merged"`
	Comments     []Comment `json:"comments"`
	CreatedAt    time.Time `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at"`
}

// Release is a source repository release.
type Release struct {
	TagName    string    `json:"tag_name"`
	Name       string    `json:"name"`
	Body       string    `json:"body"`
	Draft      bool      `json:"draft"`
	Prerelease bool      `json:"prerelease"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListReposOptions filters the user/org repository listings.
type ListReposOptions struct {
	IncludePrivate bool
	IncludeForks   bool
	Visibility     string // "", "public", "private", "internal"
}
