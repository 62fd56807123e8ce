package types

import (
	"time"

	"github.com/google/uuid"
)

// Role is the single role tag carried by a user.
type Role string

const (
	// RolePilot is a participant that receives messages.
	RolePilot Role = "pilot"

	// RoleRaceDirector may send messages and manage pilot accounts.
	RoleRaceDirector Role = "race_director"
)

// Valid reports whether r is one of the roles accepted at user creation.
// Stored rows may still carry legacy values; those are listed verbatim.
func (r Role) Valid() bool {
	return r == RolePilot || r == RoleRaceDirector
}

// User represents an account that can send or receive messages.
type User struct {
	// ID is the unique identifier of the user, assigned at creation.
	ID uuid.UUID `json:"id" db:"id"`

	// Nick is the display name. It is unique across all users and
	// compared case-sensitively.
	Nick string `json:"nick" db:"nick"`

	// Email is the optional contact address of the user.
	Email *string `json:"email" db:"email"`

	// Roles holds the role tag of the user (e.g., "pilot", "race_director").
	Roles Role `json:"roles" db:"roles"`

	// CreatedAt is the timestamp when the user was created.
	// It only drives listing order and is not part of the API payload.
	CreatedAt time.Time `json:"-" db:"created_at"`
}

// CreateUserCommand carries the fields accepted when creating a user.
type CreateUserCommand struct {
	Nick  string  `json:"nick" validate:"required,min=1,max=50"`
	Email *string `json:"email" validate:"omitempty,email"`
	Roles Role    `json:"roles" validate:"required,role"`
}

// UserList is the paginated user listing payload.
type UserList struct {
	Users []User `json:"users"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Total int    `json:"total"`
}
