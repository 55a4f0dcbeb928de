package router

import (
	"context"
	"errors"
	"slices"
	"sync"

	"quizbot/internal/storage"
)

// Role is the sender's privilege level. Each role holds every capability of
// the roles below it.
type Role int

const (
	RoleUser Role = iota
	RoleModerator
	RoleSubAdmin
	RoleAdmin
)

var Roles = []Role{RoleUser, RoleModerator, RoleSubAdmin, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RoleModerator:
		return "moderator"
	case RoleSubAdmin:
		return "subadmin"
	case RoleAdmin:
		return "admin"
	}
	return "user"
}

// Capability is one permission. Routes name the capability they need.
type Capability uint32

const (
	CapViewInfo Capability = 1 << iota
	CapAskQuestion
	CapChangeContact
	CapAcknowledge
	CapShowID
	CapStaffMenu
	CapViewQuestionsChat
	CapEditContent
	CapMailing
	CapConfirmBroadcasts
	CapManageModerators
	CapManageSubAdmins
	CapResetQuestionsChat
)

const (
	userCaps      = CapViewInfo | CapAskQuestion | CapChangeContact | CapAcknowledge | CapShowID
	moderatorCaps = userCaps | CapStaffMenu | CapViewQuestionsChat
	subAdminCaps  = moderatorCaps | CapEditContent | CapMailing | CapConfirmBroadcasts
	adminCaps     = subAdminCaps | CapManageModerators | CapManageSubAdmins | CapResetQuestionsChat
)

// Capabilities returns the set held by r.
func (r Role) Capabilities() Capability {
	switch r {
	case RoleModerator:
		return moderatorCaps
	case RoleSubAdmin:
		return subAdminCaps
	case RoleAdmin:
		return adminCaps
	}
	return userCaps
}

// Can reports whether r holds every capability in c.
func (r Role) Can(c Capability) bool {
	return r.Capabilities()&c == c
}

// RoleResolver maps a user id to a role. On error the router treats the
// sender as RoleUser.
type RoleResolver interface {
	Resolve(ctx context.Context, userID int64) (Role, error)
}

type StaffLookup interface {
	GetStaff(ctx context.Context, userID int64) (storage.StaffMember, error)
}

// Resolver takes admins from configuration and staff from the store.
type Resolver struct {
	mu     sync.RWMutex
	admins []int64
	staff  StaffLookup
}

func NewResolver(admins []int64, staff StaffLookup) *Resolver {
	r := &Resolver{staff: staff}
	r.SetAdmins(admins)
	return r
}

// SetAdmins replaces the admin list; safe during config reload.
func (r *Resolver) SetAdmins(ids []int64) {
	cp := slices.Clone(ids)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Resolver) IsAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.admins, id)
}

func (r *Resolver) Resolve(ctx context.Context, userID int64) (Role, error) {
	if r.IsAdmin(userID) {
		return RoleAdmin, nil
	}
	if r.staff == nil {
		return RoleUser, nil
	}
	m, err := r.staff.GetStaff(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return RoleUser, nil
	case err != nil:
		return RoleUser, err
	}
	switch m.Role {
	case storage.StaffSubAdmin:
		return RoleSubAdmin, nil
	case storage.StaffModerator:
		return RoleModerator, nil
	}
	return RoleUser, nil
}
