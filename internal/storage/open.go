package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"quizbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the relational store behind every persistent entity.
type Store struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
	now func() time.Time
}

// Open connects, pings and migrates. Every failure wraps ErrUnavailable.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if name == "" {
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return nil, unavailable("open", fmt.Errorf("unknown driver %q", cfg.Driver))
	}

	dsn, err := buildDSN(d, cfg)
	if err != nil {
		return nil, unavailable("open", err)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}
	if d.name == "sqlite" {
		// One writer; WAL lets readers proceed.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, d: d, log: log, now: time.Now}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	log.Info("storage ready", logx.String("driver", d.name))
	return s, nil
}

func buildDSN(d dialect, cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	switch d.name {
	case "sqlite":
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return "", errors.New("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		q := url.Values{}
		q.Add("_pragma", "foreign_keys(1)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
		return "file:" + path + "?" + q.Encode(), nil
	case "postgres":
		port := cfg.Port
		if port == 0 {
			port = 5432
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(hostOrLocal(cfg.Host), strconv.Itoa(port)),
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(hostOrLocal(cfg.Host), strconv.Itoa(port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.AllowNativePasswords = true
		// UPDATE reports matched rows, so an unchanged value is not mistaken for a missing row.
		mc.ClientFoundRows = true
		return mc.FormatDSN(), nil
	}
	return "", fmt.Errorf("no dsn builder for %s", d.name)
}

func hostOrLocal(h string) string {
	if strings.TrimSpace(h) == "" {
		return "127.0.0.1"
	}
	return strings.TrimSpace(h)
}

// migrate applies the embedded schema statement by statement; every
// statement is idempotent.
func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.d.name + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, strings.TrimSpace(stmt))
		}
	}
	return nil
}

func (s *Store) Driver() string { return s.d.name }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Maintain runs the dialect's periodic maintenance statement, or a ping.
func (s *Store) Maintain(ctx context.Context) error {
	if s.d.maintenance == "" {
		return s.Ping(ctx)
	}
	if _, err := s.db.ExecContext(ctx, s.d.maintenance); err != nil {
		return unavailable("maintain", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, q string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	return res, nil
}

// insertID runs an INSERT and returns the generated id.
func (s *Store) insertID(ctx context.Context, op, q string, args ...any) (int64, error) {
	if s.d.returningID {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.d.rebind(q+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, unavailable(op, err)
		}
		return id, nil
	}
	res, err := s.exec(ctx, op, q, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return id, nil
}

func affected(op string, res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

func (s *Store) stamp() int64 { return s.now().UnixMilli() }

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
