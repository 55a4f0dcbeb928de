package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// UpsertUser registers id or refreshes its handle in a single statement.
func (s *Store) UpsertUser(ctx context.Context, id int64, handle string) error {
	now := s.stamp()
	_, err := s.exec(ctx, "upsert user", s.d.upsertUser, id, handle, now, now)
	return err
}

// SetContact stores the user's e-mail address.
func (s *Store) SetContact(ctx context.Context, id int64, email string) error {
	res, err := s.exec(ctx, "set contact", `UPDATE users SET email = ?, updated_at = ? WHERE id = ?`, email, s.stamp(), id)
	if err != nil {
		return err
	}
	n, err := affected("set contact", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u       User
		email   sql.NullString
		created int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT id, handle, email, created_at FROM users WHERE id = ?`), id).
		Scan(&u.ID, &u.Handle, &email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, unavailable("get user", err)
	}
	u.Email = email.String
	u.CreatedAt = time.UnixMilli(created)
	return u, nil
}

// ListUserIDs returns every registered user id in ascending order.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("list users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list users", err)
	}
	return ids, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, unavailable("count users", err)
	}
	return n, nil
}
