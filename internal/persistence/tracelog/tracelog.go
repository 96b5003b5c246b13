// Package tracelog writes a compressed replay trace of simulation ticks and
// telegram deliveries as JSON lines.
package tracelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/messaging"
)

const (
	KindTick     = "tick"
	KindDelivery = "delivery"
)

// Record is one trace line. Tick fields are set for KindTick, telegram
// fields for KindDelivery.
type Record struct {
	Kind    string    `json:"kind"`
	Tick    uint64    `json:"tick"`
	SimTime time.Time `json:"sim_time"`

	Delivered int `json:"delivered,omitempty"`
	Pending   int `json:"pending,omitempty"`
	Entities  int `json:"entities,omitempty"`
	Steered   int `json:"steered,omitempty"`

	Sender       int64     `json:"sender,omitempty"`
	Receiver     int64     `json:"receiver,omitempty"`
	Msg          int       `json:"msg,omitempty"`
	DispatchTime time.Time `json:"dispatch_time,omitzero"`
	Outcome      string    `json:"outcome,omitempty"`
}

// Writer appends records to zstd-compressed JSONL segments named
// <prefix>-<first tick>.jsonl.zst. A new segment starts every segmentTicks
// ticks; zero keeps a single segment.
type Writer struct {
	baseDir      string
	prefix       string
	segmentTicks uint64

	mu      sync.Mutex
	tick    uint64
	segment uint64
	open    bool
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewWriter(baseDir, prefix string, segmentTicks uint64) *Writer {
	if prefix == "" {
		prefix = "trace"
	}
	return &Writer{baseDir: baseDir, prefix: prefix, segmentTicks: segmentTicks, tick: 1}
}

// ObserveDelivery records a telegram delivery against the current tick.
// Its signature matches core.WithDeliveryObserver.
func (w *Writer) ObserveDelivery(d messaging.Delivery) {
	w.mu.Lock()
	tick := w.tick
	w.mu.Unlock()
	_ = w.Write(Record{
		Kind:         KindDelivery,
		Tick:         tick,
		SimTime:      d.DeliveredAt,
		Sender:       int64(d.Telegram.Sender),
		Receiver:     int64(d.Telegram.Receiver),
		Msg:          int(d.Telegram.Msg),
		DispatchTime: d.Telegram.DispatchTime,
		Outcome:      d.Outcome(),
	})
}

// ObserveTick records a tick summary. Its signature matches
// core.SimulationEngine.RegisterTickListener.
func (w *Writer) ObserveTick(r core.TickReport) {
	_ = w.Write(Record{
		Kind:      KindTick,
		Tick:      r.Tick,
		SimTime:   r.SimTime,
		Delivered: r.Delivered,
		Pending:   r.Pending,
		Entities:  r.Entities,
		Steered:   r.Steered,
	})
}

// Write appends rec, rotating to a new segment when rec starts one.
// Deliveries of tick N arrive before tick N's summary, so the trace cursor
// moves to N+1 once the summary is written.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	seg := w.segmentFor(rec.Tick)
	if !w.open || seg != w.segment {
		if err := w.rotateLocked(seg); err != nil {
			return err
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if rec.Kind == KindTick {
		w.tick = rec.Tick + 1
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) segmentFor(tick uint64) uint64 {
	if w.segmentTicks == 0 {
		return 0
	}
	return tick / w.segmentTicks * w.segmentTicks
}

func (w *Writer) rotateLocked(seg uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathFor(seg), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.segment = seg
	w.open = true
	return nil
}

func (w *Writer) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.open = false
	return err1
}

func (w *Writer) pathFor(seg uint64) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%08d.jsonl.zst", w.prefix, seg))
}

// Segments lists the trace files under dir for prefix in tick order.
func Segments(dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = "trace"
	}
	// zero-padded tick numbers sort lexically
	return filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
}

// ReadFile decodes every record in a trace segment, calling fn in order.
// Returning a non-nil error from fn stops the scan.
func ReadFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}
