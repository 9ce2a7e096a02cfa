package domain

import "time"

// DeletedUserName replaces the display name of soft-deleted users.
const DeletedUserName = "(deleted)"

// User is the account record. Rows are never physically removed.
type User struct {
	ID                  int64
	Name                string
	Email               string
	EmailConfirmed      bool
	EmailActivationCode string
	IsAdmin             bool
	IsDeleted           bool
	CredentialID        *int64
	Credential          *Credential
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Credential holds a password hash. A user's credential is replaced on every
// password change, never updated in place.
type Credential struct {
	ID        int64
	Hash      string
	CreatedAt time.Time
}

// CanAuthenticate reports whether the user may sign in or act as a principal.
func (u *User) CanAuthenticate() bool {
	return u != nil && !u.IsDeleted && u.EmailConfirmed
}
