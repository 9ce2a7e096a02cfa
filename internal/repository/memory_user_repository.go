package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/user-service/internal/domain"
)

// memoryUserRepository keeps users and credentials in process. The mutex
// stands in for the database transaction: each operation is atomic.
type memoryUserRepository struct {
	mu          sync.Mutex
	users       map[int64]*domain.User
	credentials map[int64]*domain.Credential
	nextUserID  int64
	nextCredID  int64
	now         func() time.Time
}

// NewMemoryUserRepository returns an in-process implementation used when no
// database is configured.
func NewMemoryUserRepository() UserRepository {
	return newMemoryUserRepository(time.Now)
}

func newMemoryUserRepository(now func() time.Time) *memoryUserRepository {
	return &memoryUserRepository{
		users:       make(map[int64]*domain.User),
		credentials: make(map[int64]*domain.Credential),
		now:         now,
	}
}

func (r *memoryUserRepository) FindMany(_ context.Context, filter UserFilter) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := []domain.User{}
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return result, nil
	}

	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	skipped := 0
	for _, id := range ids {
		user := r.users[id]
		if !matches(user, filter) {
			continue
		}
		if skipped < filter.offset() {
			skipped++
			continue
		}
		result = append(result, r.snapshot(user, filter.IncludeCredential))
		if len(result) == filter.limit() {
			break
		}
	}
	return result, nil
}

func (r *memoryUserRepository) FindOne(ctx context.Context, filter UserFilter) (*domain.User, error) {
	filter.Limit = 1
	filter.Offset = 0
	users, err := r.FindMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (r *memoryUserRepository) Create(_ context.Context, params CreateUserParams) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.emailTaken(params.Email, 0) {
		return nil, ErrDuplicateEmail
	}

	now := r.now()
	r.nextUserID++
	user := &domain.User{
		ID:                  r.nextUserID,
		Name:                params.Name,
		Email:               params.Email,
		EmailConfirmed:      params.EmailConfirmed,
		EmailActivationCode: params.ActivationCode,
		IsAdmin:             params.IsAdmin,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	credID := r.addCredential(params.PasswordHash, now)
	user.CredentialID = &credID
	r.users[user.ID] = user

	created := r.snapshot(user, false)
	return &created, nil
}

func (r *memoryUserRepository) Update(_ context.Context, id int64, params UpdateUserParams) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.IsDeleted {
		return nil, ErrNotFound
	}
	if params.Email != nil && r.emailTaken(*params.Email, id) {
		return nil, ErrDuplicateEmail
	}

	now := r.now()
	if params.Name != nil {
		user.Name = *params.Name
	}
	if params.Email != nil {
		user.Email = *params.Email
	}
	if params.PasswordHash != nil {
		if user.CredentialID != nil {
			delete(r.credentials, *user.CredentialID)
		}
		credID := r.addCredential(*params.PasswordHash, now)
		user.CredentialID = &credID
	}
	user.UpdatedAt = now

	updated := r.snapshot(user, false)
	return &updated, nil
}

func (r *memoryUserRepository) SoftDelete(_ context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok || user.IsDeleted {
		return nil, ErrNotFound
	}

	if user.CredentialID != nil {
		delete(r.credentials, *user.CredentialID)
	}
	user.IsDeleted = true
	user.Name = domain.DeletedUserName
	user.Email = ""
	user.CredentialID = nil
	user.UpdatedAt = r.now()

	deleted := r.snapshot(user, false)
	return &deleted, nil
}

func (r *memoryUserRepository) addCredential(hash string, now time.Time) int64 {
	r.nextCredID++
	r.credentials[r.nextCredID] = &domain.Credential{ID: r.nextCredID, Hash: hash, CreatedAt: now}
	return r.nextCredID
}

func (r *memoryUserRepository) emailTaken(email string, exceptID int64) bool {
	for id, u := range r.users {
		if id != exceptID && !u.IsDeleted && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

// snapshot copies a stored user so callers never alias repository state.
func (r *memoryUserRepository) snapshot(user *domain.User, includeCredential bool) domain.User {
	out := *user
	out.Credential = nil
	if user.CredentialID != nil {
		id := *user.CredentialID
		out.CredentialID = &id
		if cred, ok := r.credentials[id]; ok && includeCredential {
			c := *cred
			out.Credential = &c
		}
	}
	return out
}

func matches(user *domain.User, filter UserFilter) bool {
	if user.IsDeleted && !filter.IncludeDeleted {
		return false
	}
	if len(filter.IDs) > 0 && !containsID(filter.IDs, user.ID) {
		return false
	}
	if name := strings.TrimSpace(filter.Name); name != "" && !containsFold(user.Name, name) {
		return false
	}
	if email := strings.TrimSpace(filter.Email); email != "" && !containsFold(user.Email, email) {
		return false
	}
	if email := strings.TrimSpace(filter.EmailEquals); email != "" && !strings.EqualFold(user.Email, email) {
		return false
	}
	if filter.UpdatedSince != nil && !user.UpdatedAt.After(*filter.UpdatedSince) {
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
