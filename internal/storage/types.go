package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound reports an absent row.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps every driver, connectivity and statement failure.
	ErrUnavailable = errors.New("storage unavailable")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("storage: %s: %w: %w", op, ErrUnavailable, err)
}

// Config selects and addresses the database.
type Config struct {
	Driver       string // sqlite, postgres, mysql
	Path         string
	DSN          string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

type User struct {
	ID        int64
	Handle    string
	Email     string
	CreatedAt time.Time
}

// UserRef is a user id with the handle known at read time.
type UserRef struct {
	ID     int64
	Handle string
}

type Broadcast struct {
	ID        int64
	Body      string
	CreatedAt time.Time
}

// Item is a news entry or a quiz announcement.
type Item struct {
	ID        int64
	Body      string
	CreatedAt time.Time
}

type StaffRole string

const (
	StaffModerator StaffRole = "moderator"
	StaffSubAdmin  StaffRole = "subadmin"
)

func (r StaffRole) Valid() bool { return r == StaffModerator || r == StaffSubAdmin }

type StaffMember struct {
	UserID int64
	Handle string
	Role   StaffRole
}

// Content blocks editable by sub-admins.
const (
	ContentAbout         = "about"
	ContentFAQ           = "faq"
	ContentRules         = "rules"
	ContentQuestionsLink = "questions_link"
)

// AuditEntry records a privileged action.
type AuditEntry struct {
	At          time.Time
	ActorID     int64
	ActorHandle string
	Action      string
	Target      string
	OK          bool
	Detail      string
}
