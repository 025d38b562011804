package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/pavelanni/suppcompanion/internal/model"
)

const userColumns = `id, username, firstname, lastname, email, auth, password, confirmed, suspended, timecreated`

// CreateUser inserts a new user.
func (s *Store) CreateUser(ctx context.Context, u model.User) (int64, error) {
	if u.Auth == "" {
		u.Auth = "manual"
	}
	id, err := s.insert(ctx,
		`INSERT INTO users (username, firstname, lastname, email, auth, password, confirmed, suspended, timecreated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.Username, u.FirstName, u.LastName, u.Email, u.Auth, u.PasswordHash,
		boolInt(u.Confirmed), boolInt(u.Suspended), s.unixNow(),
	)
	if err != nil {
		slog.Error("failed to create user", "username", u.Username, "error", err)
		return 0, err
	}
	slog.Info("created user", "id", id, "username", u.Username)
	return id, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	var confirmed, suspended int
	var created int64
	err := s.q(ctx).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(
		&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Email, &u.Auth, &u.PasswordHash,
		&confirmed, &suspended, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Confirmed, u.Suspended = confirmed != 0, suspended != 0
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `username = $1`, username)
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

// SetUserSuspended suspends or reactivates a user.
func (s *Store) SetUserSuspended(ctx context.Context, id int64, suspended bool) error {
	_, err := s.q(ctx).ExecContext(ctx, `UPDATE users SET suspended = $1 WHERE id = $2`, boolInt(suspended), id)
	return err
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
