package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/agentsim/model"
	"github.com/signalsfoundry/agentsim/timectrl"
)

const (
	msgPing MessageType = iota + 1
	msgPong
)

type pingPayload struct{ N int }

func (pingPayload) MessageType() MessageType { return msgPing }

type recorder struct {
	got     []Telegram
	handles bool
}

func (r *recorder) HandleMessage(t Telegram) bool {
	r.got = append(r.got, t)
	return r.handles
}

type fakeMetrics struct {
	dispatched map[bool]int
	delivered  map[string]int
	pending    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{dispatched: map[bool]int{}, delivered: map[string]int{}}
}

func (m *fakeMetrics) TelegramDispatched(immediate bool) { m.dispatched[immediate]++ }
func (m *fakeMetrics) TelegramDelivered(outcome string)  { m.delivered[outcome]++ }
func (m *fakeMetrics) SetPendingTelegrams(n int)         { m.pending = n }

func directoryOf(rs map[model.EntityID]Receiver) Directory {
	return DirectoryFunc(func(id model.EntityID) (Receiver, bool) {
		r, ok := rs[id]
		return r, ok
	})
}

func newTestDispatcher(rs map[model.EntityID]Receiver, opts ...Option) (*Dispatcher, *timectrl.TimeController) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := timectrl.NewTimeController(start, 100*time.Millisecond, timectrl.Accelerated)
	return NewDispatcher(clock, directoryOf(rs), opts...), clock
}

func TestDelayedTelegramDeliveredOnFirstDueUpdate(t *testing.T) {
	r := &recorder{handles: true}
	d, clock := newTestDispatcher(map[model.EntityID]Receiver{2: r})

	sent := clock.Now()
	if err := d.DispatchMessage(1500*time.Millisecond, 1, 2, msgPing, nil); err != nil {
		t.Fatalf("DispatchMessage: %v", err)
	}

	for i := 0; i < 14; i++ {
		now := clock.Advance(100 * time.Millisecond)
		if n := d.Update(now); n != 0 {
			t.Fatalf("delivered early at %v", now.Sub(sent))
		}
	}
	now := clock.Advance(100 * time.Millisecond)
	if n := d.Update(now); n != 1 {
		t.Fatalf("Update at %v delivered %d, want 1", now.Sub(sent), n)
	}
	if len(r.got) != 1 || !r.got[0].DispatchTime.Equal(sent.Add(1500*time.Millisecond)) {
		t.Fatalf("unexpected deliveries: %+v", r.got)
	}
	if d.Update(clock.Advance(time.Second)) != 0 {
		t.Fatal("telegram delivered twice")
	}
}

func TestDeliveryOrderByTimeThenEnqueue(t *testing.T) {
	r := &recorder{handles: true}
	d, clock := newTestDispatcher(map[model.EntityID]Receiver{2: r})

	// enqueued out of time order, with two ties at 1s
	mustDispatch(t, d, 3*time.Second, 10)
	mustDispatch(t, d, time.Second, 11)
	mustDispatch(t, d, 2*time.Second, 12)
	mustDispatch(t, d, time.Second, 13)
	mustDispatch(t, d, time.Second, 14)

	if d.Pending() != 5 {
		t.Fatalf("Pending() = %d, want 5", d.Pending())
	}
	if n := d.Update(clock.Advance(5 * time.Second)); n != 5 {
		t.Fatalf("Update delivered %d, want 5", n)
	}

	want := []model.EntityID{11, 13, 14, 12, 10}
	for i, tg := range r.got {
		if tg.Sender != want[i] {
			t.Fatalf("delivery %d from %d, want %d (all: %v)", i, tg.Sender, want[i], senders(r.got))
		}
	}
}

func TestImmediateDispatchIsSynchronous(t *testing.T) {
	r := &recorder{handles: true}
	d, _ := newTestDispatcher(map[model.EntityID]Receiver{2: r})

	if err := d.DispatchMessage(0, 1, 2, msgPing, pingPayload{N: 3}); err != nil {
		t.Fatalf("DispatchMessage: %v", err)
	}
	if len(r.got) != 1 {
		t.Fatalf("handler not invoked before return")
	}
	if d.Pending() != 0 {
		t.Fatalf("immediate telegram queued")
	}
	p, ok := PayloadAs[pingPayload](r.got[0])
	if !ok || p.N != 3 {
		t.Fatalf("PayloadAs = %+v, %v", p, ok)
	}
}

func TestUnroutableAndUnhandledAreInformational(t *testing.T) {
	r := &recorder{handles: false}
	m := newFakeMetrics()
	var deliveries []Delivery
	d, _ := newTestDispatcher(map[model.EntityID]Receiver{2: r},
		WithMetrics(m),
		WithDeliveryObserver(func(del Delivery) { deliveries = append(deliveries, del) }),
	)

	if err := d.DispatchMessage(0, 1, 99, msgPing, nil); err != nil {
		t.Fatalf("unroutable returned error: %v", err)
	}
	if err := d.DispatchMessage(0, 1, 2, msgPong, nil); err != nil {
		t.Fatalf("unhandled returned error: %v", err)
	}

	if len(deliveries) != 2 {
		t.Fatalf("observer calls = %d", len(deliveries))
	}
	if !errors.Is(deliveries[0].Err, ErrUnroutable) || deliveries[0].Outcome() != OutcomeUnroutable {
		t.Fatalf("first delivery = %+v", deliveries[0])
	}
	if !errors.Is(deliveries[1].Err, ErrUnhandled) || deliveries[1].Handled {
		t.Fatalf("second delivery = %+v", deliveries[1])
	}
	if m.delivered[OutcomeUnroutable] != 1 || m.delivered[OutcomeUnhandled] != 1 {
		t.Fatalf("delivered metrics = %v", m.delivered)
	}
	if m.dispatched[true] != 2 {
		t.Fatalf("dispatched metrics = %v", m.dispatched)
	}
}

func TestNilReceiverIsUnroutable(t *testing.T) {
	d, _ := newTestDispatcher(map[model.EntityID]Receiver{2: nil})
	if d.Discharge(Telegram{Receiver: 2, Msg: msgPing}) {
		t.Fatal("nil receiver reported handled")
	}
}

func TestPayloadMismatchRejected(t *testing.T) {
	r := &recorder{handles: true}
	d, _ := newTestDispatcher(map[model.EntityID]Receiver{2: r})

	err := d.DispatchMessage(time.Second, 1, 2, msgPong, pingPayload{})
	if !errors.Is(err, ErrPayloadMismatch) {
		t.Fatalf("err = %v, want ErrPayloadMismatch", err)
	}
	if d.Pending() != 0 || len(r.got) != 0 {
		t.Fatal("mismatched telegram was accepted")
	}
}

func TestHandlerMayDispatchDuringUpdate(t *testing.T) {
	var d *Dispatcher
	var order []MessageType
	reply := ReceiverFunc(func(tg Telegram) bool {
		order = append(order, tg.Msg)
		if tg.Msg == msgPing {
			if err := d.DispatchMessage(0, tg.Receiver, tg.Sender, msgPong, nil); err != nil {
				t.Errorf("reply: %v", err)
			}
		}
		return true
	})
	d, clock := newTestDispatcher(map[model.EntityID]Receiver{1: reply, 2: reply})

	mustDispatch(t, d, time.Second, 1)
	if n := d.Update(clock.Advance(time.Second)); n != 1 {
		t.Fatalf("Update delivered %d", n)
	}
	if len(order) != 2 || order[0] != msgPing || order[1] != msgPong {
		t.Fatalf("order = %v", order)
	}
}

func TestClearDropsPending(t *testing.T) {
	r := &recorder{handles: true}
	m := newFakeMetrics()
	d, clock := newTestDispatcher(map[model.EntityID]Receiver{2: r}, WithMetrics(m))
	mustDispatch(t, d, time.Second, 1)
	mustDispatch(t, d, 2*time.Second, 1)
	if m.pending != 2 {
		t.Fatalf("pending gauge = %d", m.pending)
	}
	d.Clear()
	if d.Update(clock.Advance(time.Hour)) != 0 || len(r.got) != 0 {
		t.Fatal("cleared telegrams delivered")
	}
	if m.pending != 0 {
		t.Fatalf("pending gauge = %d after clear", m.pending)
	}
}

func TestDispatcherContext(t *testing.T) {
	if DispatcherFromContext(context.Background()) != nil {
		t.Fatal("expected nil dispatcher")
	}
	d, _ := newTestDispatcher(nil)
	ctx := ContextWithDispatcher(context.Background(), d)
	if DispatcherFromContext(ctx) != d {
		t.Fatal("dispatcher not round-tripped through context")
	}
}

func mustDispatch(t *testing.T, d *Dispatcher, delay time.Duration, sender model.EntityID) {
	t.Helper()
	if err := d.DispatchMessage(delay, sender, 2, msgPing, nil); err != nil {
		t.Fatalf("DispatchMessage: %v", err)
	}
}

func senders(ts []Telegram) []model.EntityID {
	out := make([]model.EntityID, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Sender)
	}
	return out
}
