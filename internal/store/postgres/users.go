package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autopilot/internal/model"
)

const userColumns = `id, locale, status, resume_id, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var status string
	if err := row.Scan(&u.ID, &u.Locale, &status, &u.ResumeID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Status = model.UserStatus(status)
	return &u, nil
}

// EnsureUser inserts the user unless it exists and returns the stored row.
func (s *Store) EnsureUser(ctx context.Context, user *model.User) (*model.User, error) {
	status := user.Status
	if status == "" {
		status = model.UserPaused
	}
	locale := user.Locale
	if locale == "" {
		locale = "ru"
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, locale, status) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		user.ID, locale, string(status),
	)
	if err != nil {
		return nil, classify("insert user", err)
	}

	return s.GetUser(ctx, user.ID)
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, classify("get user "+id, err)
	}
	return u, nil
}

// ListUsers returns users with the given status, or all users when status is empty.
func (s *Store) ListUsers(ctx context.Context, status model.UserStatus) ([]*model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE ($1 = '' OR status = $1) ORDER BY id`,
		string(status),
	)
	if err != nil {
		return nil, classify("list users", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, classify("scan user", err)
		}
		users = append(users, u)
	}

	return users, classify("list users", rows.Err())
}

func (s *Store) SetUserStatus(ctx context.Context, id string, status model.UserStatus) error {
	return s.updateUser(ctx, "set user status", `UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

func (s *Store) SetResumeID(ctx context.Context, id, resumeID string) error {
	return s.updateUser(ctx, "set resume id", `UPDATE users SET resume_id = $2, updated_at = now() WHERE id = $1`, id, resumeID)
}

// DeleteUser removes the user; the token and resume rows cascade, sent records stay.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.updateUser(ctx, "delete user", `DELETE FROM users WHERE id = $1`, id)
}

func (s *Store) updateUser(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return classify(op, err)
	}
	if tag.RowsAffected() == 0 {
		return classify(op, pgx.ErrNoRows)
	}
	return nil
}
