package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/user-service/internal/domain"
)

const uniqueViolation = "23505"

const userColumns = `u.id, u.name, u.email, u.email_confirmed, u.email_activation_code,
               u.is_admin, u.is_deleted, u.credential_id, u.created_at, u.updated_at,
               c.id, c.hash, c.created_at`

type userRepository struct {
	db DB
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(db DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindMany(ctx context.Context, filter UserFilter) ([]domain.User, error) {
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return []domain.User{}, nil
	}

	where, args := buildUserWhere(filter)
	query := fmt.Sprintf(`SELECT %s
        FROM users u LEFT JOIN credentials c ON c.id = u.credential_id
        WHERE %s ORDER BY u.id ASC LIMIT %d OFFSET %d`,
		userColumns, where, filter.limit(), filter.offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		user, err := scanUser(rows, filter.IncludeCredential)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *userRepository) FindOne(ctx context.Context, filter UserFilter) (*domain.User, error) {
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

func (r *userRepository) Create(ctx context.Context, params CreateUserParams) (*domain.User, error) {
	var created *domain.User
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		const insertUser = `
        INSERT INTO users (name, email, email_activation_code, email_confirmed, is_admin)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id`

		var id int64
		if err := tx.QueryRow(ctx, insertUser,
			params.Name,
			params.Email,
			params.ActivationCode,
			params.EmailConfirmed,
			params.IsAdmin,
		).Scan(&id); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("insert user: %w", err)
		}

		credentialID, err := insertCredential(ctx, tx, params.PasswordHash)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET credential_id=$1 WHERE id=$2`, credentialID, id); err != nil {
			return fmt.Errorf("link credential: %w", err)
		}

		created, err = selectUserByID(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *userRepository) Update(ctx context.Context, id int64, params UpdateUserParams) (*domain.User, error) {
	var updated *domain.User
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var (
			previousCredential *int64
			newCredential      *int64
		)
		if params.PasswordHash != nil {
			current, err := lockActiveUser(ctx, tx, id)
			if err != nil {
				return err
			}
			previousCredential = current

			credentialID, err := insertCredential(ctx, tx, *params.PasswordHash)
			if err != nil {
				return err
			}
			newCredential = &credentialID
		}

		const query = `
        UPDATE users SET name=COALESCE($2, name), email=COALESCE($3, email),
            credential_id=COALESCE($4, credential_id), updated_at=NOW()
        WHERE id=$1 AND is_deleted=FALSE`

		cmd, err := tx.Exec(ctx, query, id, params.Name, params.Email, newCredential)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return fmt.Errorf("update user: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}

		if previousCredential != nil {
			if err := deleteCredential(ctx, tx, *previousCredential); err != nil {
				return err
			}
		}

		updated, err = selectUserByID(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *userRepository) SoftDelete(ctx context.Context, id int64) (*domain.User, error) {
	var deleted *domain.User
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		credentialID, err := lockActiveUser(ctx, tx, id)
		if err != nil {
			return err
		}

		const query = `
        UPDATE users SET is_deleted=TRUE, name=$2, email=NULL, credential_id=NULL, updated_at=NOW()
        WHERE id=$1 AND is_deleted=FALSE`

		cmd, err := tx.Exec(ctx, query, id, domain.DeletedUserName)
		if err != nil {
			return fmt.Errorf("soft delete user: %w", err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}

		if credentialID != nil {
			if err := deleteCredential(ctx, tx, *credentialID); err != nil {
				return err
			}
		}

		deleted, err = selectUserByID(ctx, tx, id, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// lockActiveUser row-locks a non-deleted user and returns its credential id.
func lockActiveUser(ctx context.Context, q querier, id int64) (*int64, error) {
	var credentialID *int64
	err := q.QueryRow(ctx,
		`SELECT credential_id FROM users WHERE id=$1 AND is_deleted=FALSE FOR UPDATE`, id,
	).Scan(&credentialID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return credentialID, nil
}

func insertCredential(ctx context.Context, q querier, hash string) (int64, error) {
	var id int64
	if err := q.QueryRow(ctx, `INSERT INTO credentials (hash) VALUES ($1) RETURNING id`, hash).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert credential: %w", err)
	}
	return id, nil
}

func deleteCredential(ctx context.Context, q querier, id int64) error {
	if _, err := q.Exec(ctx, `DELETE FROM credentials WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func selectUserByID(ctx context.Context, q querier, id int64, includeDeleted bool) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s
        FROM users u LEFT JOIN credentials c ON c.id = u.credential_id
        WHERE u.id=$1`, userColumns)
	if !includeDeleted {
		query += ` AND u.is_deleted=FALSE`
	}

	user, err := scanUser(q.QueryRow(ctx, query, id), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func buildUserWhere(filter UserFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if !filter.IncludeDeleted {
		clauses = append(clauses, "u.is_deleted=FALSE")
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		clauses = append(clauses, fmt.Sprintf("u.id = ANY($%d)", len(args)))
	}
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		clauses = append(clauses, fmt.Sprintf("u.name ILIKE $%d", len(args)))
	}
	if email := strings.TrimSpace(filter.Email); email != "" {
		args = append(args, "%"+escapeLike(email)+"%")
		clauses = append(clauses, fmt.Sprintf("u.email ILIKE $%d", len(args)))
	}
	if email := strings.TrimSpace(filter.EmailEquals); email != "" {
		args = append(args, email)
		clauses = append(clauses, fmt.Sprintf("LOWER(u.email) = LOWER($%d)", len(args)))
	}
	if filter.UpdatedSince != nil {
		args = append(args, *filter.UpdatedSince)
		clauses = append(clauses, fmt.Sprintf("u.updated_at > $%d", len(args)))
	}

	return strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanUser(row pgx.Row, includeCredential bool) (*domain.User, error) {
	var (
		user        domain.User
		email       *string
		credID      *int64
		credHash    *string
		credCreated *time.Time
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&email,
		&user.EmailConfirmed,
		&user.EmailActivationCode,
		&user.IsAdmin,
		&user.IsDeleted,
		&user.CredentialID,
		&user.CreatedAt,
		&user.UpdatedAt,
		&credID,
		&credHash,
		&credCreated,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	if email != nil {
		user.Email = *email
	}
	if includeCredential && credID != nil {
		user.Credential = &domain.Credential{ID: *credID}
		if credHash != nil {
			user.Credential.Hash = *credHash
		}
		if credCreated != nil {
			user.Credential.CreatedAt = *credCreated
		}
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
