package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/agentsim/model"
)

// MessageType tags a telegram. Applications define their own closed set of
// constants.
type MessageType int

// Payload is the optional body of a telegram. Each payload shape belongs to
// exactly one MessageType, so handlers can trust the shape once the tag
// matches.
type Payload interface {
	MessageType() MessageType
}

// ErrPayloadMismatch is returned when a payload is attached to a telegram
// with a different MessageType.
var ErrPayloadMismatch = errors.New("payload does not match message type")

// Telegram is a scheduled message between two entities. Telegrams are
// values: once created they are never mutated, and the dispatcher delivers
// each one exactly once.
type Telegram struct {
	Sender       model.EntityID
	Receiver     model.EntityID
	Msg          MessageType
	DispatchTime time.Time
	Payload      Payload

	seq uint64
}

// Seq is the enqueue sequence number assigned by the dispatcher. Telegrams
// with equal dispatch times are delivered in Seq order.
func (t Telegram) Seq() uint64 { return t.seq }

func (t Telegram) String() string {
	return fmt.Sprintf("telegram{%d->%d msg=%d at=%s seq=%d}",
		t.Sender, t.Receiver, t.Msg, t.DispatchTime.Format(time.RFC3339Nano), t.seq)
}

// PayloadAs returns the telegram payload as P. It reports false when the
// telegram has no payload or a payload of another shape.
func PayloadAs[P Payload](t Telegram) (P, bool) {
	var zero P
	if t.Payload == nil {
		return zero, false
	}
	p, ok := t.Payload.(P)
	if !ok {
		return zero, false
	}
	return p, true
}

func checkPayload(msg MessageType, p Payload) error {
	if p == nil {
		return nil
	}
	if got := p.MessageType(); got != msg {
		return fmt.Errorf("%w: payload %T tagged %d, telegram %d", ErrPayloadMismatch, p, got, msg)
	}
	return nil
}
