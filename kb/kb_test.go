package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/agentsim/messaging"
	"github.com/signalsfoundry/agentsim/model"
)

type plainEntity struct{ id model.EntityID }

func (e plainEntity) ID() model.EntityID { return e.id }

type listener struct {
	plainEntity
	got []messaging.Telegram
}

func (l *listener) HandleMessage(t messaging.Telegram) bool {
	l.got = append(l.got, t)
	return true
}

func TestAddAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(plainEntity{id: 1}); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	got, ok := r.Get(1)
	if !ok || got.ID() != 1 {
		t.Fatalf("Get returned %#v, %v", got, ok)
	}
	if _, ok := r.Get(2); ok {
		t.Fatal("Get(2) found an entity")
	}
}

func TestAddDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(plainEntity{id: 1}); err != nil {
		t.Fatalf("first Add error: %v", err)
	}
	if err := r.Add(plainEntity{id: 1}); !errors.Is(err, ErrEntityExists) {
		t.Fatalf("duplicate Add err = %v, want ErrEntityExists", err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 3; i++ {
		if err := r.Add(plainEntity{id: model.EntityID(i)}); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}
	if _, err := r.Remove(2); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := r.Remove(2); !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("second Remove err = %v", err)
	}

	var order []model.EntityID
	r.Each(func(e Entity) { order = append(order, e.ID()) })
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("order = %v, want [1 3]", order)
	}
}

func TestReceiverDirectory(t *testing.T) {
	r := NewRegistry()
	l := &listener{plainEntity: plainEntity{id: 5}}
	if err := r.Add(l); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := r.Add(plainEntity{id: 6}); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	var dir messaging.Directory = r
	if rec, ok := dir.Receiver(5); !ok || rec == nil {
		t.Fatal("listener not resolved")
	}
	if _, ok := dir.Receiver(6); ok {
		t.Fatal("non-receiver resolved as receiver")
	}
	if _, ok := dir.Receiver(7); ok {
		t.Fatal("unknown id resolved")
	}
}

func TestSubscribeEvents(t *testing.T) {
	r := NewRegistry()
	var events []Event
	unsub := r.Subscribe(func(e Event) { events = append(events, e) })

	_ = r.Add(plainEntity{id: 1})
	_, _ = r.Remove(1)
	unsub()
	_ = r.Add(plainEntity{id: 2})

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != EventEntityAdded || events[1].Type != EventEntityRemoved {
		t.Fatalf("events = %+v", events)
	}
}

func TestConcurrentReads(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 100; i++ {
		_ = r.Add(plainEntity{id: model.EntityID(i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if r.Len() < 100 {
					t.Errorf("Len dropped below 100")
					return
				}
				_, _ = r.Get(model.EntityID(j + 1))
			}
		}()
	}
	for i := 101; i <= 150; i++ {
		_ = r.Add(plainEntity{id: model.EntityID(i)})
	}
	wg.Wait()
}
