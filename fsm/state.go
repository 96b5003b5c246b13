// Package fsm provides a generic finite state machine with a global state
// and one level of transition history.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/messaging"
)

// ErrInvalidTransition is reported to observers when ChangeState is asked to
// move to an absent state.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is one behaviour of an owner of type T. Implementations hold no
// per-owner data, so a single value can be shared by every owner.
type State[T any] interface {
	Enter(owner T)
	Execute(owner T)
	Exit(owner T)
	// OnMessage returns true when the state consumed the telegram.
	OnMessage(owner T, t messaging.Telegram) bool
}

// Transition describes a completed or rejected state change.
type Transition struct {
	From string
	To   string
	// Err is ErrInvalidTransition for rejected transitions.
	Err error
}

// TransitionObserver is notified of every transition.
type TransitionObserver func(Transition)

// Option configures a StateMachine.
type Option func(*options)

type options struct {
	log      logging.Logger
	observer TransitionObserver
}

// WithLogger sets the logger used for rejected transitions.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver sets the transition observer.
func WithObserver(fn TransitionObserver) Option {
	return func(o *options) { o.observer = fn }
}

// StateMachine drives the states of a single owner. It does not own the
// owner and is not safe for concurrent use.
type StateMachine[T any] struct {
	owner    T
	current  State[T]
	previous State[T]
	global   State[T]

	log      logging.Logger
	observer TransitionObserver
}

// NewStateMachine returns a machine with no states set.
func NewStateMachine[T any](owner T, opts ...Option) *StateMachine[T] {
	o := options{log: logging.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &StateMachine[T]{
		owner:    owner,
		log:      o.log,
		observer: o.observer,
	}
}

// SetCurrentState sets the current state without calling Enter.
func (m *StateMachine[T]) SetCurrentState(s State[T]) { m.current = s }

// SetPreviousState sets the previous state.
func (m *StateMachine[T]) SetPreviousState(s State[T]) { m.previous = s }

// SetGlobalState sets the global state without calling Enter.
func (m *StateMachine[T]) SetGlobalState(s State[T]) { m.global = s }

// CurrentState returns the active state, or nil before one is set.
func (m *StateMachine[T]) CurrentState() State[T] { return m.current }

// PreviousState returns the state left by the last ChangeState.
func (m *StateMachine[T]) PreviousState() State[T] { return m.previous }

// GlobalState returns the state executed on every Update before the
// current one.
func (m *StateMachine[T]) GlobalState() State[T] { return m.global }

// Update runs the global state and then the current state.
func (m *StateMachine[T]) Update() {
	if m.global != nil {
		m.global.Execute(m.owner)
	}
	if m.current != nil {
		m.current.Execute(m.owner)
	}
}

// HandleMessage offers t to the current state, then to the global state.
// It returns false when neither consumes it.
func (m *StateMachine[T]) HandleMessage(t messaging.Telegram) bool {
	if m.current != nil && m.current.OnMessage(m.owner, t) {
		return true
	}
	if m.global != nil && m.global.OnMessage(m.owner, t) {
		return true
	}
	return false
}

// ChangeState exits the current state and enters next. A nil next is
// rejected: the machine is left untouched and the rejection is logged and
// reported to the observer.
func (m *StateMachine[T]) ChangeState(next State[T]) {
	if next == nil {
		m.log.Warn(context.Background(), "rejected transition to nil state",
			logging.String("from", m.StateName()))
		m.notify(Transition{From: m.StateName(), Err: ErrInvalidTransition})
		return
	}

	from := m.StateName()
	m.previous = m.current
	if m.current != nil {
		m.current.Exit(m.owner)
	}
	m.current = next
	m.current.Enter(m.owner)
	m.notify(Transition{From: from, To: m.StateName()})
}

// RevertToPreviousState changes back to the previous state. History is one
// level deep, so calling it twice toggles between two states.
func (m *StateMachine[T]) RevertToPreviousState() {
	if m.previous == nil {
		return
	}
	m.ChangeState(m.previous)
}

// IsInState reports whether the current state has the same dynamic type as s.
func (m *StateMachine[T]) IsInState(s State[T]) bool {
	if m.current == nil || s == nil {
		return m.current == nil && s == nil
	}
	return reflect.TypeOf(m.current) == reflect.TypeOf(s)
}

// StateName returns the name of the current state, or "" when unset.
func (m *StateMachine[T]) StateName() string {
	return Name[T](m.current)
}

// Name returns a printable name for s: its String method when it has one,
// otherwise its type name.
func Name[T any](s State[T]) string {
	if s == nil {
		return ""
	}
	if str, ok := s.(fmt.Stringer); ok {
		return str.String()
	}
	t := reflect.TypeOf(s)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func (m *StateMachine[T]) notify(tr Transition) {
	if m.observer != nil {
		m.observer(tr)
	}
}
