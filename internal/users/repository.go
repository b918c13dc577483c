package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-scm/larder-scm/internal/shared"
)

// Repository persists user accounts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, full_name, role_name, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.RoleName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// List returns every account with its branch assignments.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY full_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	byID := map[int64]int{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		byID[u.ID] = len(out)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	branchRows, err := r.pool.Query(ctx,
		`SELECT user_id, branch_id FROM user_branches ORDER BY user_id, branch_id`)
	if err != nil {
		return nil, err
	}
	defer branchRows.Close()
	for branchRows.Next() {
		var userID, branchID int64
		if err := branchRows.Scan(&userID, &branchID); err != nil {
			return nil, err
		}
		if idx, ok := byID[userID]; ok {
			out[idx].BranchIDs = append(out[idx].BranchIDs, branchID)
		}
	}
	return out, branchRows.Err()
}

// Get returns one account with branch assignments.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT branch_id FROM user_branches WHERE user_id = $1 ORDER BY branch_id`, id)
	if err != nil {
		return User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var branchID int64
		if err := rows.Scan(&branchID); err != nil {
			return User{}, err
		}
		u.BranchIDs = append(u.BranchIDs, branchID)
	}
	return u, rows.Err()
}

// Insert creates an account and its branch assignments.
func (r *Repository) Insert(ctx context.Context, u User, passwordHash string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, full_name, role_name, password_hash, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, true, now(), now())
		 RETURNING id`,
		u.Email, u.FullName, u.RoleName, passwordHash).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, branchID := range u.BranchIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_branches (user_id, branch_id) VALUES ($1, $2)`, id, branchID); err != nil {
			return 0, err
		}
	}
	return id, tx.Commit(ctx)
}

// Update applies non-nil fields and, when branchIDs is non-nil, replaces
// the branch assignments.
func (r *Repository) Update(ctx context.Context, id int64, input UpdateInput, passwordHash string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE users SET
		    full_name = COALESCE($2, full_name),
		    role_name = COALESCE($3, role_name),
		    is_active = COALESCE($4, is_active),
		    password_hash = COALESCE(NULLIF($5, ''), password_hash),
		    updated_at = now()
		  WHERE id = $1`,
		id, input.FullName, input.RoleName, input.IsActive, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	if input.BranchIDs != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM user_branches WHERE user_id = $1`, id); err != nil {
			return err
		}
		for _, branchID := range input.BranchIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_branches (user_id, branch_id) VALUES ($1, $2)`, id, branchID); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}
