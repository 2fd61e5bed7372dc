package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikerental/internal/apperr"
)

var ErrNotFound = fmt.Errorf("user %w", apperr.ErrNotFound)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

const userColumns = `id, email, name, dni, profile_picture, rol, co2_saved`

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserQuery, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Classify(err)
	}
	return &u, nil
}

const getUserQuery = `SELECT ` + userColumns + ` FROM "user" WHERE id = $1`

// CreateUser inserts the profile row for a freshly authenticated account.
// Creating an existing user returns the stored row.
func (r *Repository) CreateUser(ctx context.Context, id uuid.UUID, email string) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, createUserQuery, id, email)
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return &u, nil
}

const createUserQuery = `
INSERT INTO "user" (id, email, rol, co2_saved) VALUES ($1, NULLIF($2, ''), 'user', 0)
ON CONFLICT (id) DO UPDATE SET email = COALESCE("user".email, EXCLUDED.email)
RETURNING ` + userColumns

func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, name, dni string) error {
	res, err := r.db.ExecContext(ctx, updateProfileQuery, name, dni, id)
	if err != nil {
		return apperr.Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const updateProfileQuery = `UPDATE "user" SET name = NULLIF($1, ''), dni = NULLIF($2, '') WHERE id = $3`

func (r *Repository) Stats(ctx context.Context, id uuid.UUID) (Stats, error) {
	var s Stats
	err := r.db.QueryRowxContext(ctx, statsQuery, id).Scan(&s.TotalTrips, &s.CO2Saved)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, apperr.Classify(err)
}

const statsQuery = `
SELECT (SELECT count(*) FROM trip WHERE user_id = u.id), u.co2_saved
FROM "user" u WHERE u.id = $1
`
