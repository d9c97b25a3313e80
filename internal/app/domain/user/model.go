// Package user holds the User entity. Authentication/session handling
// itself is an external collaborator; this package only models the
// identity that every other entity is owned by.
package user

import "time"

// User represents an authenticated account that owns configs, repositories,
// organizations, jobs, and events. It is never silently deleted: removal
// cascades to everything it owns once the caller has confirmed no job for
// the user is in-progress.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
