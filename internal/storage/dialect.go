package storage

import (
	"strconv"
	"strings"
)

// dialect holds the statements whose syntax differs per database.
// Queries elsewhere are written with ? placeholders and rebound.
type dialect struct {
	name        string
	driver      string
	numbered    bool // $1, $2, ... placeholders
	returningID bool

	upsertUser    string
	upsertStaff   string
	upsertContent string
	insertAck     string
	maintenance   string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		driver: "sqlite",
		upsertUser: `INSERT INTO users(id, handle, created_at, updated_at) VALUES(?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET handle = excluded.handle, updated_at = excluded.updated_at`,
		upsertStaff: `INSERT INTO staff(user_id, handle, role, created_at) VALUES(?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET handle = excluded.handle, role = excluded.role`,
		upsertContent: `INSERT INTO content(name, body, updated_at) VALUES(?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		insertAck: `INSERT INTO acknowledgements(broadcast_id, user_id, acked_at)
			SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM broadcasts WHERE id = ?)
			ON CONFLICT DO NOTHING`,
		maintenance: "PRAGMA optimize",
	},
	"postgres": {
		name:        "postgres",
		driver:      "postgres",
		numbered:    true,
		returningID: true,
		upsertUser: `INSERT INTO users(id, handle, created_at, updated_at) VALUES(?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET handle = EXCLUDED.handle, updated_at = EXCLUDED.updated_at`,
		upsertStaff: `INSERT INTO staff(user_id, handle, role, created_at) VALUES(?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET handle = EXCLUDED.handle, role = EXCLUDED.role`,
		upsertContent: `INSERT INTO content(name, body, updated_at) VALUES(?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		insertAck: `INSERT INTO acknowledgements(broadcast_id, user_id, acked_at)
			SELECT CAST(? AS BIGINT), CAST(? AS BIGINT), CAST(? AS BIGINT)
			WHERE EXISTS (SELECT 1 FROM broadcasts WHERE id = ?)
			ON CONFLICT DO NOTHING`,
		maintenance: "ANALYZE",
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		upsertUser: `INSERT INTO users(id, handle, created_at, updated_at) VALUES(?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE handle = VALUES(handle), updated_at = VALUES(updated_at)`,
		upsertStaff: `INSERT INTO staff(user_id, handle, role, created_at) VALUES(?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE handle = VALUES(handle), role = VALUES(role)`,
		upsertContent: `INSERT INTO content(name, body, updated_at) VALUES(?, ?, ?)
			ON DUPLICATE KEY UPDATE body = VALUES(body), updated_at = VALUES(updated_at)`,
		insertAck: `INSERT IGNORE INTO acknowledgements(broadcast_id, user_id, acked_at)
			SELECT ?, ?, ? FROM DUAL WHERE EXISTS (SELECT 1 FROM broadcasts WHERE id = ?)`,
	},
}

// rebind rewrites ? placeholders for numbered dialects.
func (d dialect) rebind(q string) string {
	if !d.numbered || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}
