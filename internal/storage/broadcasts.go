package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CreateBroadcast persists body as given and returns the new id.
func (s *Store) CreateBroadcast(ctx context.Context, body string) (int64, error) {
	return s.insertID(ctx, "create broadcast", `INSERT INTO broadcasts(body, created_at) VALUES(?, ?)`, body, s.stamp())
}

func (s *Store) ListBroadcasts(ctx context.Context) ([]Broadcast, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, body, created_at FROM broadcasts ORDER BY id`)
	if err != nil {
		return nil, unavailable("list broadcasts", err)
	}
	defer rows.Close()

	var out []Broadcast
	for rows.Next() {
		var (
			b  Broadcast
			at int64
		)
		if err := rows.Scan(&b.ID, &b.Body, &at); err != nil {
			return nil, unavailable("list broadcasts", err)
		}
		b.CreatedAt = time.UnixMilli(at)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list broadcasts", err)
	}
	return out, nil
}

func (s *Store) GetBroadcast(ctx context.Context, id int64) (Broadcast, error) {
	var (
		b  Broadcast
		at int64
	)
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT id, body, created_at FROM broadcasts WHERE id = ?`), id).
		Scan(&b.ID, &b.Body, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Broadcast{}, ErrNotFound
	}
	if err != nil {
		return Broadcast{}, unavailable("get broadcast", err)
	}
	b.CreatedAt = time.UnixMilli(at)
	return b, nil
}

// RecordAcknowledgement inserts (broadcastID, userID) once. It reports false
// when the pair already existed and ErrNotFound when the broadcast is gone.
func (s *Store) RecordAcknowledgement(ctx context.Context, broadcastID, userID int64) (bool, error) {
	res, err := s.exec(ctx, "record acknowledgement", s.d.insertAck, broadcastID, userID, s.stamp(), broadcastID)
	if err != nil {
		return false, err
	}
	n, err := affected("record acknowledgement", res)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetBroadcast(ctx, broadcastID); err != nil {
		return false, err
	}
	return false, nil
}

// AcknowledgedUsers lists who confirmed broadcastID with their current handles.
func (s *Store) AcknowledgedUsers(ctx context.Context, broadcastID int64) ([]UserRef, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(`
		SELECT a.user_id, COALESCE(u.handle, '')
		FROM acknowledgements a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.broadcast_id = ?
		ORDER BY a.user_id`), broadcastID)
	if err != nil {
		return nil, unavailable("acknowledged users", err)
	}
	defer rows.Close()

	var out []UserRef
	for rows.Next() {
		var r UserRef
		if err := rows.Scan(&r.ID, &r.Handle); err != nil {
			return nil, unavailable("acknowledged users", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("acknowledged users", err)
	}
	return out, nil
}

// RetireBroadcast deletes the broadcast and all of its acknowledgements in
// one transaction. It reports whether the broadcast existed.
func (s *Store) RetireBroadcast(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, unavailable("retire broadcast", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM acknowledgements WHERE broadcast_id = ?`), id); err != nil {
		return false, unavailable("retire broadcast", err)
	}
	res, err := tx.ExecContext(ctx, s.d.rebind(`DELETE FROM broadcasts WHERE id = ?`), id)
	if err != nil {
		return false, unavailable("retire broadcast", err)
	}
	n, err := affected("retire broadcast", res)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, unavailable("retire broadcast", err)
	}
	return n > 0, nil
}
