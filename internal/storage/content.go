package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetContent returns the body stored under name, or ErrNotFound.
func (s *Store) GetContent(ctx context.Context, name string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT body FROM content WHERE name = ?`), name).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", unavailable("get content", err)
	}
	return body, nil
}

func (s *Store) SetContent(ctx context.Context, name, body string) error {
	_, err := s.exec(ctx, "set content", s.d.upsertContent, name, body, s.stamp())
	return err
}

// Items is a table of numbered text entries (news or quizzes).
type Items struct {
	s     *Store
	table string
}

func (s *Store) News() Items    { return Items{s: s, table: "news"} }
func (s *Store) Quizzes() Items { return Items{s: s, table: "quizzes"} }

func (it Items) Name() string { return it.table }

func (it Items) Add(ctx context.Context, body string) (int64, error) {
	return it.s.insertID(ctx, "add "+it.table, `INSERT INTO `+it.table+`(body, created_at) VALUES(?, ?)`, body, it.s.stamp())
}

func (it Items) Update(ctx context.Context, id int64, body string) error {
	return it.mutate(ctx, "update "+it.table, `UPDATE `+it.table+` SET body = ? WHERE id = ?`, body, id)
}

func (it Items) Delete(ctx context.Context, id int64) error {
	return it.mutate(ctx, "delete "+it.table, `DELETE FROM `+it.table+` WHERE id = ?`, id)
}

func (it Items) mutate(ctx context.Context, op, q string, args ...any) error {
	res, err := it.s.exec(ctx, op, q, args...)
	if err != nil {
		return err
	}
	n, err := affected(op, res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (it Items) Get(ctx context.Context, id int64) (Item, error) {
	var (
		item Item
		at   int64
	)
	err := it.s.db.QueryRowContext(ctx, it.s.d.rebind(`SELECT id, body, created_at FROM `+it.table+` WHERE id = ?`), id).
		Scan(&item.ID, &item.Body, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, unavailable("get "+it.table, err)
	}
	item.CreatedAt = time.UnixMilli(at)
	return item, nil
}

func (it Items) List(ctx context.Context) ([]Item, error) {
	rows, err := it.s.db.QueryContext(ctx, `SELECT id, body, created_at FROM `+it.table+` ORDER BY id`)
	if err != nil {
		return nil, unavailable("list "+it.table, err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var (
			item Item
			at   int64
		)
		if err := rows.Scan(&item.ID, &item.Body, &at); err != nil {
			return nil, unavailable("list "+it.table, err)
		}
		item.CreatedAt = time.UnixMilli(at)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list "+it.table, err)
	}
	return out, nil
}
