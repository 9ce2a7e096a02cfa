package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/user-service/internal/domain"
)

const principalKeyPrefix = "user-service:principal:"

// PrincipalCache stores resolved principals between requests.
type PrincipalCache interface {
	Get(ctx context.Context, id int64) (*domain.User, bool, error)
	Set(ctx context.Context, user *domain.User) error
	Invalidate(ctx context.Context, id int64) error
}

// cachedPrincipal is the stored form. Credentials are never cached.
type cachedPrincipal struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	EmailConfirmed bool      `json:"email_confirmed"`
	IsAdmin        bool      `json:"is_admin"`
	IsDeleted      bool      `json:"is_deleted"`
	CredentialID   *int64    `json:"credential_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var (
	_ PrincipalCache = (*RedisPrincipalCache)(nil)
	_ PrincipalCache = NopPrincipalCache{}
)

// RedisPrincipalCache keeps JSON snapshots of principals in Redis.
type RedisPrincipalCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisPrincipalCache builds a cache over client. A non-positive ttl
// disables caching.
func NewRedisPrincipalCache(client redis.Cmdable, ttl time.Duration) *RedisPrincipalCache {
	return &RedisPrincipalCache{client: client, ttl: ttl}
}

func (c *RedisPrincipalCache) Get(ctx context.Context, id int64) (*domain.User, bool, error) {
	if c.ttl <= 0 {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, principalKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read principal %d: %w", id, err)
	}

	var cp cachedPrincipal
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, false, fmt.Errorf("decode principal %d: %w", id, err)
	}
	return &domain.User{
		ID:             cp.ID,
		Name:           cp.Name,
		Email:          cp.Email,
		EmailConfirmed: cp.EmailConfirmed,
		IsAdmin:        cp.IsAdmin,
		IsDeleted:      cp.IsDeleted,
		CredentialID:   cp.CredentialID,
		CreatedAt:      cp.CreatedAt,
		UpdatedAt:      cp.UpdatedAt,
	}, true, nil
}

func (c *RedisPrincipalCache) Set(ctx context.Context, user *domain.User) error {
	if c.ttl <= 0 || user == nil {
		return nil
	}
	raw, err := json.Marshal(cachedPrincipal{
		ID:             user.ID,
		Name:           user.Name,
		Email:          user.Email,
		EmailConfirmed: user.EmailConfirmed,
		IsAdmin:        user.IsAdmin,
		IsDeleted:      user.IsDeleted,
		CredentialID:   user.CredentialID,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode principal %d: %w", user.ID, err)
	}
	if err := c.client.Set(ctx, principalKey(user.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write principal %d: %w", user.ID, err)
	}
	return nil
}

func (c *RedisPrincipalCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, principalKey(id)).Err(); err != nil {
		return fmt.Errorf("invalidate principal %d: %w", id, err)
	}
	return nil
}

func principalKey(id int64) string {
	return principalKeyPrefix + strconv.FormatInt(id, 10)
}

// NopPrincipalCache never stores anything.
type NopPrincipalCache struct{}

func (NopPrincipalCache) Get(context.Context, int64) (*domain.User, bool, error) {
	return nil, false, nil
}

func (NopPrincipalCache) Set(context.Context, *domain.User) error { return nil }

func (NopPrincipalCache) Invalidate(context.Context, int64) error { return nil }
