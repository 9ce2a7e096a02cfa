package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-service/internal/domain"
)

// runUserRepositorySuite checks the UserRepository contract against any
// implementation. newRepo must return an empty repository.
func runUserRepositorySuite(t *testing.T, newRepo func(t *testing.T) UserRepository) {
	t.Run("create and find", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		created, err := repo.Create(ctx, params("Kia", "kia@fake-mail.com"))
		require.NoError(t, err)
		assert.Positive(t, created.ID)
		assert.Equal(t, "Kia", created.Name)
		assert.Equal(t, "code-kia@fake-mail.com", created.EmailActivationCode)
		assert.False(t, created.EmailConfirmed)
		assert.False(t, created.IsAdmin)
		assert.False(t, created.IsDeleted)
		require.NotNil(t, created.CredentialID)
		assert.Nil(t, created.Credential)

		found, err := repo.FindOne(ctx, UserFilter{IDs: []int64{created.ID}, IncludeCredential: true})
		require.NoError(t, err)
		require.NotNil(t, found.Credential)
		assert.Equal(t, "hash-kia@fake-mail.com", found.Credential.Hash)
		assert.Equal(t, *created.CredentialID, found.Credential.ID)
	})

	t.Run("find one not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindOne(context.Background(), UserFilter{IDs: []int64{999}})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.Create(ctx, params("One", "dup@fake-mail.com"))
		require.NoError(t, err)

		_, err = repo.Create(ctx, params("Two", "dup@fake-mail.com"))
		assert.ErrorIs(t, err, ErrDuplicateEmail)

		_, err = repo.Create(ctx, params("Upper", "DUP@Fake-Mail.com"))
		assert.ErrorIs(t, err, ErrDuplicateEmail, "uniqueness ignores case like the login lookup")

		_, err = repo.SoftDelete(ctx, first.ID)
		require.NoError(t, err)

		again, err := repo.Create(ctx, params("Three", "dup@fake-mail.com"))
		require.NoError(t, err, "email of a deleted user is free again")
		assert.NotEqual(t, first.ID, again.ID)
	})

	t.Run("concurrent create with same email", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const workers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			dupes     int
			others    []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := repo.Create(ctx, params(fmt.Sprintf("racer-%d", i), "race@fake-mail.com"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, ErrDuplicateEmail):
					dupes++
				default:
					others = append(others, err)
				}
			}(i)
		}
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, successes)
		assert.Equal(t, workers-1, dupes)

		users, err := repo.FindMany(ctx, UserFilter{EmailEquals: "race@fake-mail.com"})
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})

	t.Run("find many filters", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		var ids []int64
		for i := 0; i < 12; i++ {
			u, err := repo.Create(ctx, params(fmt.Sprintf("Member %02d", i), fmt.Sprintf("member%02d@fake-mail.com", i)))
			require.NoError(t, err)
			ids = append(ids, u.ID)
		}
		mama, err := repo.Create(ctx, params("Mama", "MamaUser@fake-mail.com"))
		require.NoError(t, err)

		page, err := repo.FindMany(ctx, UserFilter{})
		require.NoError(t, err)
		assert.Len(t, page, DefaultLimit)
		assert.Equal(t, ids[0], page[0].ID)

		second, err := repo.FindMany(ctx, UserFilter{Offset: 10, Limit: 10})
		require.NoError(t, err)
		require.Len(t, second, 3)
		assert.Equal(t, mama.ID, second[2].ID)

		byIDs, err := repo.FindMany(ctx, UserFilter{IDs: []int64{ids[3], ids[5], 424242}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{ids[3], ids[5]}, userIDs(byIDs))

		none, err := repo.FindMany(ctx, UserFilter{IDs: []int64{}})
		require.NoError(t, err)
		assert.Empty(t, none)

		byName, err := repo.FindMany(ctx, UserFilter{Name: "mAmA"})
		require.NoError(t, err)
		assert.Equal(t, []int64{mama.ID}, userIDs(byName))

		byEmail, err := repo.FindMany(ctx, UserFilter{Email: "mamauser@"})
		require.NoError(t, err)
		assert.Equal(t, []int64{mama.ID}, userIDs(byEmail))

		byExact, err := repo.FindMany(ctx, UserFilter{EmailEquals: "mamauser@fake-mail.com"})
		require.NoError(t, err)
		assert.Equal(t, []int64{mama.ID}, userIDs(byExact))

		notExact, err := repo.FindMany(ctx, UserFilter{EmailEquals: "mamauser@fake-mail"})
		require.NoError(t, err)
		assert.Empty(t, notExact)

		_, err = repo.SoftDelete(ctx, ids[0])
		require.NoError(t, err)
		afterDelete, err := repo.FindMany(ctx, UserFilter{Limit: 100})
		require.NoError(t, err)
		assert.NotContains(t, userIDs(afterDelete), ids[0])

		withDeleted, err := repo.FindMany(ctx, UserFilter{Limit: 100, IncludeDeleted: true})
		require.NoError(t, err)
		assert.Contains(t, userIDs(withDeleted), ids[0])
	})

	t.Run("updated since", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		old, err := repo.Create(ctx, params("Old", "old@fake-mail.com"))
		require.NoError(t, err)
		fresh, err := repo.Create(ctx, params("Fresh", "fresh@fake-mail.com"))
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		newName := "Fresher"
		touched, err := repo.Update(ctx, fresh.ID, UpdateUserParams{Name: &newName})
		require.NoError(t, err)
		require.True(t, touched.UpdatedAt.After(old.UpdatedAt))

		since := old.UpdatedAt
		users, err := repo.FindMany(ctx, UserFilter{UpdatedSince: &since})
		require.NoError(t, err)
		assert.Contains(t, userIDs(users), fresh.ID)
		assert.NotContains(t, userIDs(users), old.ID)
	})

	t.Run("partial update", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		u, err := repo.Create(ctx, params("Before", "before@fake-mail.com"))
		require.NoError(t, err)

		time.Sleep(5 * time.Millisecond)
		name := "After"
		updated, err := repo.Update(ctx, u.ID, UpdateUserParams{Name: &name})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Name)
		assert.Equal(t, "before@fake-mail.com", updated.Email)
		assert.Equal(t, *u.CredentialID, *updated.CredentialID)
		assert.True(t, updated.UpdatedAt.After(u.UpdatedAt))

		email := "after@fake-mail.com"
		updated, err = repo.Update(ctx, u.ID, UpdateUserParams{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Name)
		assert.Equal(t, email, updated.Email)
	})

	t.Run("password update rotates credential", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		u, err := repo.Create(ctx, params("Rot", "rot@fake-mail.com"))
		require.NoError(t, err)

		hash := "rotated-hash"
		updated, err := repo.Update(ctx, u.ID, UpdateUserParams{PasswordHash: &hash})
		require.NoError(t, err)
		require.NotNil(t, updated.CredentialID)
		assert.NotEqual(t, *u.CredentialID, *updated.CredentialID)

		found, err := repo.FindOne(ctx, UserFilter{IDs: []int64{u.ID}, IncludeCredential: true})
		require.NoError(t, err)
		require.NotNil(t, found.Credential)
		assert.Equal(t, "rotated-hash", found.Credential.Hash)
	})

	t.Run("update errors", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		name := "ghost"
		_, err := repo.Update(ctx, 424242, UpdateUserParams{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)

		a, err := repo.Create(ctx, params("A", "a@fake-mail.com"))
		require.NoError(t, err)
		_, err = repo.Create(ctx, params("B", "b@fake-mail.com"))
		require.NoError(t, err)

		taken := "b@fake-mail.com"
		_, err = repo.Update(ctx, a.ID, UpdateUserParams{Email: &taken})
		assert.ErrorIs(t, err, ErrDuplicateEmail)

		takenUpper := "B@FAKE-MAIL.COM"
		_, err = repo.Update(ctx, a.ID, UpdateUserParams{Email: &takenUpper})
		assert.ErrorIs(t, err, ErrDuplicateEmail)

		ownUpper := "A@fake-mail.com"
		_, err = repo.Update(ctx, a.ID, UpdateUserParams{Email: &ownUpper})
		require.NoError(t, err, "changing the case of one's own email is allowed")

		_, err = repo.SoftDelete(ctx, a.ID)
		require.NoError(t, err)
		_, err = repo.Update(ctx, a.ID, UpdateUserParams{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("soft delete", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		u, err := repo.Create(ctx, params("Doomed", "doomed@fake-mail.com"))
		require.NoError(t, err)

		deleted, err := repo.SoftDelete(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, deleted.ID)
		assert.True(t, deleted.IsDeleted)
		assert.Equal(t, domain.DeletedUserName, deleted.Name)
		assert.Empty(t, deleted.Email)
		assert.Nil(t, deleted.CredentialID)

		_, err = repo.SoftDelete(ctx, u.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.SoftDelete(ctx, 424242)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.FindOne(ctx, UserFilter{IDs: []int64{u.ID}})
		assert.ErrorIs(t, err, ErrNotFound)

		row, err := repo.FindOne(ctx, UserFilter{IDs: []int64{u.ID}, IncludeDeleted: true})
		require.NoError(t, err)
		assert.True(t, row.IsDeleted)
	})
}

func params(name, email string) CreateUserParams {
	return CreateUserParams{
		Name:           name,
		Email:          email,
		PasswordHash:   "hash-" + email,
		ActivationCode: "code-" + email,
	}
}

func userIDs(users []domain.User) []int64 {
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}
