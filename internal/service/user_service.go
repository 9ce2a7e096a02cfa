package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/auth"
	"github.com/spec-kit/user-service/internal/cache"
	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
	"github.com/spec-kit/user-service/internal/repository"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// UserService implements the user lifecycle and credential checks.
type UserService struct {
	users      repository.UserRepository
	hasher     auth.Hasher
	tokens     *auth.TokenManager
	principals cache.PrincipalCache
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// UserDependencies bundles collaborators of the user service. Principals,
// Dispatcher and Logger are optional.
type UserDependencies struct {
	UserRepo   repository.UserRepository
	Hasher     auth.Hasher
	Tokens     *auth.TokenManager
	Principals cache.PrincipalCache
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewUserService builds the service.
func NewUserService(deps UserDependencies) *UserService {
	s := &UserService{
		users:      deps.UserRepo,
		hasher:     deps.Hasher,
		tokens:     deps.Tokens,
		principals: deps.Principals,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		now:        time.Now,
	}
	if s.principals == nil {
		s.principals = cache.NopPrincipalCache{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// CreateUserInput describes a new account. EmailConfirmed and IsAdmin are
// only set by fixtures; the HTTP API always creates unconfirmed members.
type CreateUserInput struct {
	Name           string
	Email          string
	Password       string
	EmailConfirmed bool
	IsAdmin        bool
}

// UpdateUserInput is a partial update; nil fields stay unchanged.
type UpdateUserInput struct {
	Name     *string
	Email    *string
	Password *string
}

// Create registers a user. Two concurrent registrations with one email
// cannot both succeed; the loser gets a duplicate email error.
func (s *UserService) Create(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, repository.CreateUserParams{
		Name:           strings.TrimSpace(in.Name),
		Email:          strings.TrimSpace(in.Email),
		PasswordHash:   hash,
		ActivationCode: uuid.NewString(),
		EmailConfirmed: in.EmailConfirmed,
		IsAdmin:        in.IsAdmin,
	})
	if err != nil {
		return nil, s.mapRepoError(err, 0)
	}

	s.logger.Info("user created", zap.Int64("user_id", user.ID))
	s.publishEvent(ctx, events.Event{
		Type:   events.EventUserCreated,
		UserID: user.ID,
		Payload: events.UserCreatedPayload{
			Name:           user.Name,
			Email:          user.Email,
			ActivationCode: user.EmailActivationCode,
			EmailConfirmed: user.EmailConfirmed,
		},
	})
	return user, nil
}

// Update applies a partial update on behalf of actor. A password change
// rotates the credential.
func (s *UserService) Update(ctx context.Context, actor *domain.User, id int64, in UpdateUserInput) (*domain.User, error) {
	params := repository.UpdateUserParams{}
	var changed []string

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		params.Name = &name
		changed = append(changed, "name")
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		params.Email = &email
		changed = append(changed, "email")
	}
	if in.Password != nil {
		hash, err := s.hashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		params.PasswordHash = &hash
		changed = append(changed, "password")
	}

	user, err := s.users.Update(ctx, id, params)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	s.invalidatePrincipal(ctx, id)

	s.logger.Info("user updated", zap.Int64("user_id", id), zap.Strings("fields", changed))
	s.publishEvent(ctx, events.Event{
		Type:    events.EventUserUpdated,
		UserID:  id,
		Actor:   actorOf(actor),
		Payload: events.UserUpdatedPayload{Fields: changed, PasswordRotated: in.Password != nil},
	})
	return user, nil
}

// Delete soft-deletes a user. Deleting twice reports not found.
func (s *UserService) Delete(ctx context.Context, actor *domain.User, id int64) (*domain.User, error) {
	user, err := s.users.SoftDelete(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	s.invalidatePrincipal(ctx, id)

	s.logger.Info("user deleted", zap.Int64("user_id", id))
	s.publishEvent(ctx, events.Event{
		Type:    events.EventUserDeleted,
		UserID:  id,
		Actor:   actorOf(actor),
		Payload: events.UserDeletedPayload{DeletedAt: user.UpdatedAt},
	})
	return user, nil
}

// Find lists non-deleted users matching filter.
func (s *UserService) Find(ctx context.Context, filter repository.UserFilter) ([]domain.User, error) {
	filter.IncludeDeleted = false
	users, err := s.users.FindMany(ctx, filter)
	if err != nil {
		return nil, s.mapRepoError(err, 0)
	}
	return users, nil
}

// FindOne returns a non-deleted user by id.
func (s *UserService) FindOne(ctx context.Context, id int64, includeCredential bool) (*domain.User, error) {
	user, err := s.users.FindOne(ctx, repository.UserFilter{IDs: []int64{id}, IncludeCredential: includeCredential})
	if err != nil {
		return nil, s.mapRepoError(err, id)
	}
	return user, nil
}

// Authenticate checks email and password. Unknown emails and wrong
// passwords are reported identically; an unconfirmed account is only
// revealed once the password matched. The returned credential has no hash.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.NewWrongCredential()
	}

	user, err := s.users.FindOne(ctx, repository.UserFilter{EmailEquals: email, IncludeCredential: true})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewWrongCredential()
		}
		return nil, apperrors.NewInternalError(err)
	}
	if user.Credential == nil || !s.hasher.Verify(password, user.Credential.Hash) {
		s.logger.Debug("credential mismatch", zap.Int64("user_id", user.ID))
		return nil, apperrors.NewWrongCredential()
	}
	if !user.EmailConfirmed {
		return nil, apperrors.NewNotActivated()
	}

	user.Credential = &domain.Credential{ID: user.Credential.ID, CreatedAt: user.Credential.CreatedAt}
	return user, nil
}

// IssueToken authenticates and signs a token carrying the user's id and email.
func (s *UserService) IssueToken(ctx context.Context, email, password string) (*domain.Token, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return token, nil
}

// ValidateToken reports whether token verifies. It never fails.
func (s *UserService) ValidateToken(_ context.Context, token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	_, err := s.tokens.Verify(token)
	return err == nil
}

func (s *UserService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrEmptyPassword) {
			return "", apperrors.NewValidationError("password must not be empty", map[string]any{"password": err.Error()})
		}
		return "", apperrors.NewInternalError(err)
	}
	return hash, nil
}

func (s *UserService) mapRepoError(err error, id int64) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		details := map[string]any{}
		if id > 0 {
			details["id"] = id
		}
		return apperrors.NewNotFound("user", details)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return apperrors.NewDuplicateEmail()
	default:
		return apperrors.NewInternalError(err)
	}
}

func (s *UserService) invalidatePrincipal(ctx context.Context, id int64) {
	if err := s.principals.Invalidate(ctx, id); err != nil {
		s.logger.Warn("principal cache invalidation failed", zap.Int64("user_id", id), zap.Error(err))
	}
}

func (s *UserService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func actorOf(principal *domain.User) events.Actor {
	if principal == nil {
		return events.Actor{}
	}
	id := principal.ID
	return events.Actor{UserID: &id, IsAdmin: principal.IsAdmin}
}
