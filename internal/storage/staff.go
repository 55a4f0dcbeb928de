package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AssignStaff grants m.Role to m.UserID, replacing any other staff role.
// It reports false when the user already held exactly that role.
func (s *Store) AssignStaff(ctx context.Context, m StaffMember) (bool, error) {
	if !m.Role.Valid() {
		return false, fmt.Errorf("storage: invalid staff role %q", m.Role)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable("assign staff", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur string
	err = tx.QueryRowContext(ctx, s.d.rebind(`SELECT role FROM staff WHERE user_id = ?`), m.UserID).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, unavailable("assign staff", err)
	case StaffRole(cur) == m.Role:
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, s.d.rebind(s.d.upsertStaff), m.UserID, m.Handle, string(m.Role), s.stamp()); err != nil {
		return false, unavailable("assign staff", err)
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("assign staff", err)
	}
	return true, nil
}

// RemoveStaff revokes role from userID; ErrNotFound if they do not hold it.
func (s *Store) RemoveStaff(ctx context.Context, userID int64, role StaffRole) error {
	res, err := s.exec(ctx, "remove staff", `DELETE FROM staff WHERE user_id = ? AND role = ?`, userID, string(role))
	if err != nil {
		return err
	}
	n, err := affected("remove staff", res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetStaff(ctx context.Context, userID int64) (StaffMember, error) {
	var (
		m    StaffMember
		role string
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT user_id, handle, role FROM staff WHERE user_id = ?`), userID).
		Scan(&m.UserID, &m.Handle, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return StaffMember{}, ErrNotFound
	}
	if err != nil {
		return StaffMember{}, unavailable("get staff", err)
	}
	m.Role = StaffRole(role)
	return m, nil
}

func (s *Store) ListStaff(ctx context.Context, role StaffRole) ([]StaffMember, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`SELECT user_id, handle, role FROM staff WHERE role = ? ORDER BY user_id`), string(role))
	if err != nil {
		return nil, unavailable("list staff", err)
	}
	defer rows.Close()

	var out []StaffMember
	for rows.Next() {
		var (
			m StaffMember
			r string
		)
		if err := rows.Scan(&m.UserID, &m.Handle, &r); err != nil {
			return nil, unavailable("list staff", err)
		}
		m.Role = StaffRole(r)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list staff", err)
	}
	return out, nil
}

// AppendAudit records a privileged action.
func (s *Store) AppendAudit(ctx context.Context, e AuditEntry) error {
	at := s.stamp()
	if !e.At.IsZero() {
		at = e.At.UnixMilli()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.exec(ctx, "append audit",
		`INSERT INTO audit(at, actor_id, actor_handle, action, target, ok, detail) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		at, e.ActorID, nullStr(e.ActorHandle), e.Action, e.Target, ok, nullStr(e.Detail))
	return err
}
