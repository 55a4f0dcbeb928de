// Package conversation keeps the per-user multi-step dialog state.
//
// Every user is in exactly one Step. Handlers move a user into a step with
// Enter, read it back with Read and return the user to StepIdle with Clear
// once the step's input arrived, whatever the outcome of the action was.
package conversation

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Step string

const (
	StepIdle                Step = "idle"
	StepAskQuestion         Step = "ask-question"
	StepChangeContact       Step = "change-contact"
	StepAddModerator        Step = "add-moderator"
	StepAddSubAdmin         Step = "add-subadmin"
	StepMakeMailing         Step = "make-mailing"
	StepAddConfirmBroadcast Step = "add-confirm-broadcast"
	StepAddNews             Step = "add-news"
	StepEditNews            Step = "edit-news"
	StepAddQuiz             Step = "add-quiz"
	StepEditQuiz            Step = "edit-quiz"
	StepEditAbout           Step = "edit-about"
	StepEditFAQ             Step = "edit-faq"
	StepEditRules           Step = "edit-rules"
)

// Steps lists every non-idle step.
var Steps = []Step{
	StepAskQuestion, StepChangeContact, StepAddModerator, StepAddSubAdmin,
	StepMakeMailing, StepAddConfirmBroadcast, StepAddNews, StepEditNews,
	StepAddQuiz, StepEditQuiz, StepEditAbout, StepEditFAQ, StepEditRules,
}

func (s Step) Valid() bool {
	if s == StepIdle {
		return true
	}
	for _, x := range Steps {
		if x == s {
			return true
		}
	}
	return false
}

// State is a user's current step. ItemID is set by the edit steps.
type State struct {
	Step   Step
	ItemID int64
	Since  time.Time
}

func (s State) Idle() bool { return s.Step == "" || s.Step == StepIdle }

type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithActiveGauge reports the number of non-idle users to g.
func WithActiveGauge(g prometheus.Gauge) Option {
	return func(m *Machine) { m.active = g }
}

// Machine is safe for concurrent use. Idle users are not stored.
type Machine struct {
	mu     sync.Mutex
	states map[int64]State
	now    func() time.Time
	active prometheus.Gauge
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{states: make(map[int64]State), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enter overwrites the user's state unconditionally.
func (m *Machine) Enter(userID int64, step Step, itemID int64) {
	if step == StepIdle || step == "" {
		m.Clear(userID)
		return
	}
	m.mu.Lock()
	m.states[userID] = State{Step: step, ItemID: itemID, Since: m.now()}
	m.report()
	m.mu.Unlock()
}

// Read returns the user's state; unknown users are idle.
func (m *Machine) Read(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return State{Step: StepIdle}
	}
	return st
}

// Clear resets the user to idle and returns the state they were in.
func (m *Machine) Clear(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[userID]
	if !ok {
		return State{Step: StepIdle}
	}
	delete(m.states, userID)
	m.report()
	return st
}

// Expire clears every state entered longer than ttl ago and returns how
// many were cleared.
func (m *Machine) Expire(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := m.now().Add(-ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, st := range m.states {
		if st.Since.Before(cutoff) {
			delete(m.states, id)
			n++
		}
	}
	if n > 0 {
		m.report()
	}
	return n
}

// Len returns the number of users outside idle.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

// caller holds mu
func (m *Machine) report() {
	if m.active != nil {
		m.active.Set(float64(len(m.states)))
	}
}
