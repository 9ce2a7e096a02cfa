package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-service/internal/domain"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisPrincipalCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPrincipalCache(client, ttl), srv
}

func TestRedisPrincipalCacheRoundTrip(t *testing.T) {
	c, srv := newTestCache(t, time.Minute)
	ctx := context.Background()

	credID := int64(9)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	user := &domain.User{
		ID:             4,
		Name:           "Kia",
		Email:          "kia@fake-mail.com",
		EmailConfirmed: true,
		IsAdmin:        true,
		CredentialID:   &credID,
		Credential:     &domain.Credential{ID: credID, Hash: "secret-hash"},
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	require.NoError(t, c.Set(ctx, user))

	raw, err := srv.Get("user-service:principal:4")
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret-hash")
	assert.Equal(t, time.Minute, srv.TTL("user-service:principal:4"))

	got, ok, err := c.Get(ctx, 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, user.Email, got.Email)
	assert.True(t, got.IsAdmin)
	assert.True(t, got.EmailConfirmed)
	assert.Equal(t, credID, *got.CredentialID)
	assert.Nil(t, got.Credential)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestRedisPrincipalCacheMissAndInvalidate(t *testing.T) {
	c, srv := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, &domain.User{ID: 1, Name: "a"}))
	require.NoError(t, c.Invalidate(ctx, 1))
	assert.False(t, srv.Exists("user-service:principal:1"))

	_, ok, err = c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPrincipalCacheExpiry(t *testing.T) {
	c, srv := newTestCache(t, time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.User{ID: 2}))
	srv.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPrincipalCacheDisabledByTTL(t *testing.T) {
	c, srv := newTestCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.User{ID: 3}))
	assert.False(t, srv.Exists("user-service:principal:3"))
}

func TestRedisPrincipalCacheErrors(t *testing.T) {
	c, srv := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, srv.Set("user-service:principal:5", "not json"))
	_, _, err := c.Get(ctx, 5)
	assert.Error(t, err)

	srv.Close()
	_, _, err = c.Get(ctx, 6)
	assert.Error(t, err)
	assert.Error(t, c.Set(ctx, &domain.User{ID: 6}))
}

func TestNopPrincipalCache(t *testing.T) {
	var c PrincipalCache = NopPrincipalCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, &domain.User{ID: 1}))
	_, ok, err := c.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Invalidate(ctx, 1))
}
