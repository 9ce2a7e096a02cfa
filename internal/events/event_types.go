package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserCreated EventType = "user_created"
	EventUserUpdated EventType = "user_updated"
	EventUserDeleted EventType = "user_deleted"
)

// Actor identifies who triggered an event. A nil UserID means an anonymous
// caller, e.g. self registration.
type Actor struct {
	UserID  *int64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    int64     `json:"user_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// UserCreatedPayload carries what the activation mail needs.
type UserCreatedPayload struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	ActivationCode string `json:"activation_code"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// UserUpdatedPayload lists the fields that changed.
type UserUpdatedPayload struct {
	Fields          []string `json:"fields"`
	PasswordRotated bool     `json:"password_rotated"`
}

// UserDeletedPayload payload.
type UserDeletedPayload struct {
	DeletedAt time.Time `json:"deleted_at"`
}
