package dto

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/user-service/internal/access"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// bcrypt ignores input beyond 72 bytes.
const maxPasswordLength = 72

// ID accepts a JSON number or a numeric string.
type ID int64

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	n, ok := access.ParseID(raw)
	if !ok {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = ID(n)
	return nil
}

// CreateUserRequest payload for new users.
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(1, maxPasswordLength)),
	)
}

// UpdateUserRequest is a partial update; omitted fields stay unchanged.
type UpdateUserRequest struct {
	ID       ID      `json:"id"`
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.Min(ID(1))),
		validation.Field(&r.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.NilOrNotEmpty, validation.Length(1, maxPasswordLength)),
	)
}

// DeleteUserRequest payload.
type DeleteUserRequest struct {
	ID ID `json:"id"`
}

func (r DeleteUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.Min(ID(1))),
	)
}

// AuthenticateRequest payload for authenticate and token endpoints.
type AuthenticateRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r AuthenticateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

// ValidateTokenRequest payload. An empty token falls back to the bearer header.
type ValidateTokenRequest struct {
	Token string `json:"token"`
}

// FindUsersQuery is the parsed query string of GET /user.
type FindUsersQuery struct {
	IDs          []int64
	Name         string
	Email        string
	UpdatedSince *time.Time
	Limit        int
	Offset       int
	Credentials  bool
}

func (q FindUsersQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Limit, validation.Min(0), validation.Max(repository.MaxLimit)),
		validation.Field(&q.Offset, validation.Min(0)),
		validation.Field(&q.Name, validation.Length(0, 200)),
		validation.Field(&q.Email, validation.Length(0, 254)),
	)
}

// Filter converts the query into a repository filter.
func (q FindUsersQuery) Filter() repository.UserFilter {
	return repository.UserFilter{
		IDs:               q.IDs,
		Name:              q.Name,
		Email:             q.Email,
		UpdatedSince:      q.UpdatedSince,
		Limit:             q.Limit,
		Offset:            q.Offset,
		IncludeCredential: q.Credentials,
	}
}

// CredentialResponse never carries the hash.
type CredentialResponse struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	Email          *string             `json:"email"`
	EmailConfirmed bool                `json:"email_confirmed"`
	IsAdmin        bool                `json:"is_admin"`
	IsDeleted      bool                `json:"is_deleted"`
	CredentialID   *int64              `json:"credential_id"`
	Credential     *CredentialResponse `json:"credential,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(u *domain.User) UserResponse {
	resp := UserResponse{
		ID:             u.ID,
		Name:           u.Name,
		EmailConfirmed: u.EmailConfirmed,
		IsAdmin:        u.IsAdmin,
		IsDeleted:      u.IsDeleted,
		CredentialID:   u.CredentialID,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
	if u.Email != "" {
		email := u.Email
		resp.Email = &email
	}
	if u.Credential != nil {
		resp.Credential = &CredentialResponse{ID: u.Credential.ID, CreatedAt: u.Credential.CreatedAt}
	}
	return resp
}

// NewUserResponses maps a slice of users.
func NewUserResponses(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, NewUserResponse(&users[i]))
	}
	return out
}

// UserEnvelope wraps user payloads as {"users": ...}.
type UserEnvelope struct {
	Users any `json:"users"`
}

// CredentialsEnvelope is the authenticate response.
type CredentialsEnvelope struct {
	Credentials UserResponse `json:"credentials"`
}

// TokenResponse is the token endpoint response.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateTokenResponse reports token health.
type ValidateTokenResponse struct {
	Valid bool `json:"valid"`
}

// Validate runs v.Validate and converts failures into a validation
// DomainError with one detail per field.
func Validate(v validation.Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		details := make(map[string]any, len(fieldErrs))
		for field, fieldErr := range fieldErrs {
			details[field] = fieldErr.Error()
		}
		return apperrors.NewValidationError("request validation failed", details)
	}
	return apperrors.NewValidationError(err.Error(), nil)
}
