package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/user-service/internal/domain"
)

// Storage level errors. Callers translate them into API errors.
var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// UserFilter selects users. Zero values mean "no constraint", except that a
// non-nil empty IDs matches nothing. Soft-deleted rows are excluded unless
// IncludeDeleted is set.
type UserFilter struct {
	IDs               []int64
	Name              string
	Email             string
	EmailEquals       string
	UpdatedSince      *time.Time
	Limit             int
	Offset            int
	IncludeCredential bool
	IncludeDeleted    bool
}

// CreateUserParams carries the values of a new account. PasswordHash is
// already hashed.
type CreateUserParams struct {
	Name           string
	Email          string
	PasswordHash   string
	ActivationCode string
	EmailConfirmed bool
	IsAdmin        bool
}

// UpdateUserParams is a partial update; nil fields are left unchanged.
type UpdateUserParams struct {
	Name         *string
	Email        *string
	PasswordHash *string
}

// UserRepository defines persistence access for users.
type UserRepository interface {
	FindMany(ctx context.Context, filter UserFilter) ([]domain.User, error)
	FindOne(ctx context.Context, filter UserFilter) (*domain.User, error)
	Create(ctx context.Context, params CreateUserParams) (*domain.User, error)
	Update(ctx context.Context, id int64, params UpdateUserParams) (*domain.User, error)
	SoftDelete(ctx context.Context, id int64) (*domain.User, error)
}

func (f UserFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

func (f UserFilter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}
