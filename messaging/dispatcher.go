package messaging

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/signalsfoundry/agentsim/internal/logging"
	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/timectrl"
)

var (
	// ErrUnroutable marks a delivery whose receiver no longer exists.
	ErrUnroutable = errors.New("receiver not found")
	// ErrUnhandled marks a delivery that no state claimed.
	ErrUnhandled = errors.New("message not handled")
)

// Receiver is anything that can consume a telegram; typically an agent
// forwarding to its state machine.
type Receiver interface {
	HandleMessage(t Telegram) bool
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(t Telegram) bool

// HandleMessage implements Receiver.
func (f ReceiverFunc) HandleMessage(t Telegram) bool { return f(t) }

// Directory resolves entity IDs to receivers at discharge time.
type Directory interface {
	Receiver(id model.EntityID) (Receiver, bool)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(id model.EntityID) (Receiver, bool)

// Receiver implements Directory.
func (f DirectoryFunc) Receiver(id model.EntityID) (Receiver, bool) { return f(id) }

// Delivery outcomes used for metrics labels.
const (
	OutcomeHandled    = "handled"
	OutcomeUnhandled  = "unhandled"
	OutcomeUnroutable = "unroutable"
)

// Delivery describes one discharged telegram.
type Delivery struct {
	Telegram    Telegram
	DeliveredAt time.Time
	Handled     bool
	// Err is ErrUnroutable or ErrUnhandled for informational outcomes, nil
	// when a state handled the telegram.
	Err error
}

// Outcome returns the metrics label for the delivery.
func (d Delivery) Outcome() string {
	switch {
	case errors.Is(d.Err, ErrUnroutable):
		return OutcomeUnroutable
	case errors.Is(d.Err, ErrUnhandled):
		return OutcomeUnhandled
	default:
		return OutcomeHandled
	}
}

// MetricsRecorder receives dispatcher counters. internal/observability
// provides the Prometheus implementation.
type MetricsRecorder interface {
	TelegramDispatched(immediate bool)
	TelegramDelivered(outcome string)
	SetPendingTelegrams(n int)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDeliveryObserver registers fn to be called after every discharge.
func WithDeliveryObserver(fn func(Delivery)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.observers = append(d.observers, fn)
		}
	}
}

// Dispatcher holds deferred telegrams and delivers them on simulation time.
//
// The pending set is a slice ordered by (DispatchTime, seq). Insertion uses a
// binary search for the first telegram strictly later than the new one, so
// telegrams with equal dispatch times keep their enqueue order.
//
// A Dispatcher is not safe for concurrent use; it belongs to the simulation
// goroutine.
type Dispatcher struct {
	clock     timectrl.SimClock
	dir       Directory
	log       logging.Logger
	metrics   MetricsRecorder
	observers []func(Delivery)

	seq     uint64
	pending []Telegram
}

// NewDispatcher creates a dispatcher reading time from clock and resolving
// receivers through dir.
func NewDispatcher(clock timectrl.SimClock, dir Directory, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		clock: clock,
		dir:   dir,
		log:   logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchMessage sends msg from sender to receiver. A non-positive delay
// delivers synchronously before DispatchMessage returns; otherwise the
// telegram is queued for clock.Now()+delay.
//
// The only error is ErrPayloadMismatch. Unroutable and unhandled telegrams
// are informational and never surface here.
func (d *Dispatcher) DispatchMessage(delay time.Duration, sender, receiver model.EntityID, msg MessageType, payload Payload) error {
	if err := checkPayload(msg, payload); err != nil {
		return err
	}

	now := d.clock.Now()
	d.seq++
	t := Telegram{
		Sender:       sender,
		Receiver:     receiver,
		Msg:          msg,
		DispatchTime: now,
		Payload:      payload,
		seq:          d.seq,
	}

	if delay <= 0 {
		if d.metrics != nil {
			d.metrics.TelegramDispatched(true)
		}
		d.discharge(t, now)
		return nil
	}

	t.DispatchTime = now.Add(delay)
	d.insert(t)
	if d.metrics != nil {
		d.metrics.TelegramDispatched(false)
		d.metrics.SetPendingTelegrams(len(d.pending))
	}
	d.log.Debug(context.Background(), "telegram queued",
		logging.Int64("sender", int64(sender)),
		logging.Int64("receiver", int64(receiver)),
		logging.Int("msg", int(msg)),
		logging.Time("dispatch_time", t.DispatchTime),
	)
	return nil
}

func (d *Dispatcher) insert(t Telegram) {
	idx := sort.Search(len(d.pending), func(i int) bool {
		return d.pending[i].DispatchTime.After(t.DispatchTime)
	})
	d.pending = append(d.pending, Telegram{})
	copy(d.pending[idx+1:], d.pending[idx:])
	d.pending[idx] = t
}

// Update discharges every pending telegram whose dispatch time is at or
// before now, earliest first, and returns how many were discharged.
// Telegrams queued by handlers during Update are delivered in the same call
// if they are already due.
func (d *Dispatcher) Update(now time.Time) int {
	n := 0
	for len(d.pending) > 0 && !d.pending[0].DispatchTime.After(now) {
		t := d.pending[0]
		d.pending[0] = Telegram{}
		d.pending = d.pending[1:]
		d.discharge(t, now)
		n++
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	if d.metrics != nil && n > 0 {
		d.metrics.SetPendingTelegrams(len(d.pending))
	}
	return n
}

// Discharge delivers t immediately, bypassing the pending set, and reports
// whether a state handled it.
func (d *Dispatcher) Discharge(t Telegram) bool {
	return d.discharge(t, d.clock.Now())
}

func (d *Dispatcher) discharge(t Telegram, at time.Time) bool {
	del := Delivery{Telegram: t, DeliveredAt: at}

	var r Receiver
	var ok bool
	if d.dir != nil {
		r, ok = d.dir.Receiver(t.Receiver)
	}
	switch {
	case !ok || r == nil:
		del.Err = ErrUnroutable
		d.log.Debug(context.Background(), "telegram dropped: receiver not found",
			logging.Int64("receiver", int64(t.Receiver)),
			logging.Int("msg", int(t.Msg)),
		)
	case r.HandleMessage(t):
		del.Handled = true
	default:
		del.Err = ErrUnhandled
		d.log.Debug(context.Background(), "telegram not handled",
			logging.Int64("receiver", int64(t.Receiver)),
			logging.Int("msg", int(t.Msg)),
		)
	}

	if d.metrics != nil {
		d.metrics.TelegramDelivered(del.Outcome())
	}
	for _, fn := range d.observers {
		fn(del)
	}
	return del.Handled
}

// Pending returns the number of queued telegrams.
func (d *Dispatcher) Pending() int { return len(d.pending) }

// PendingTelegrams returns a copy of the queue in delivery order.
func (d *Dispatcher) PendingTelegrams() []Telegram {
	out := make([]Telegram, len(d.pending))
	copy(out, d.pending)
	return out
}

// Clear drops all queued telegrams without delivering them.
func (d *Dispatcher) Clear() {
	d.pending = nil
	if d.metrics != nil {
		d.metrics.SetPendingTelegrams(0)
	}
}

type ctxKey struct{}

// ContextWithDispatcher stores d on the context so states can send
// telegrams without a global.
func ContextWithDispatcher(ctx context.Context, d *Dispatcher) context.Context {
	return context.WithValue(ctx, ctxKey{}, d)
}

// DispatcherFromContext returns the dispatcher stored by
// ContextWithDispatcher, or nil.
func DispatcherFromContext(ctx context.Context) *Dispatcher {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(ctxKey{}).(*Dispatcher)
	return d
}
