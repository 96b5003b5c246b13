// Package indexdb keeps a queryable SQLite index of ticks, telegram
// deliveries and state transitions next to the replay trace.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/agentsim/core"
	"github.com/signalsfoundry/agentsim/fsm"
	"github.com/signalsfoundry/agentsim/messaging"
)

// SQLiteIndex batches writes on a single goroutine. Record methods never
// block the simulation: when the queue is full the row is dropped and
// counted in Dropped. The replay trace remains the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqTelegram
	reqTransition
)

type req struct {
	kind reqKind

	tick       core.TickReport
	delivery   messaging.Delivery
	owner      string
	transition fsm.Transition
}

// OpenSQLite opens or creates the index at path with a queue of queueSize
// pending rows (a default is used when queueSize <= 0).
func OpenSQLite(path string, queueSize int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 65536
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			sim_time TEXT NOT NULL,
			delivered INTEGER NOT NULL,
			pending INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			steered INTEGER NOT NULL,
			grid_moves INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS telegrams (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			sender INTEGER NOT NULL,
			receiver INTEGER NOT NULL,
			msg INTEGER NOT NULL,
			dispatch_time TEXT NOT NULL,
			delivered_at TEXT NOT NULL,
			outcome TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_telegrams_receiver_tick ON telegrams(receiver, tick);`,
		`CREATE TABLE IF NOT EXISTS transitions (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			owner TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			rejected INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_owner_tick ON transitions(owner, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores run metadata synchronously. Call it before the first tick.
func (s *SQLiteIndex) RecordRun(ctx context.Context, scenario string, seed uint64) error {
	if s == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	rows := [][2]string{
		{"schema_version", "1"},
		{"scenario", scenario},
		{"seed", strconv.FormatUint(seed, 10)},
		{"started_at", time.Now().UTC().Format(time.RFC3339Nano)},
	}
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ObserveTick queues a tick summary.
func (s *SQLiteIndex) ObserveTick(r core.TickReport) {
	s.enqueue(req{kind: reqTick, tick: r})
}

// ObserveDelivery queues a telegram delivery. It is attributed to the tick
// whose summary follows it.
func (s *SQLiteIndex) ObserveDelivery(d messaging.Delivery) {
	s.enqueue(req{kind: reqTelegram, delivery: d})
}

// RecordTransition queues a state change of owner.
func (s *SQLiteIndex) RecordTransition(owner string, tr fsm.Transition) {
	s.enqueue(req{kind: reqTransition, owner: owner, transition: tr})
}

// Dropped returns how many rows were discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,sim_time,delivered,pending,entities,steered,grid_moves,duration_ns) VALUES(?,?,?,?,?,?,?,?)`)
	insertTelegram, _ := s.db.Prepare(`INSERT OR REPLACE INTO telegrams(tick,seq,sender,receiver,msg,dispatch_time,delivered_at,outcome) VALUES(?,?,?,?,?,?,?,?)`)
	insertTransition, _ := s.db.Prepare(`INSERT OR REPLACE INTO transitions(tick,seq,owner,from_state,to_state,rejected) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertTelegram, insertTransition} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	// rows before a tick summary belong to that tick
	curTick := uint64(1)
	var telegramSeq, transitionSeq int

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			exec(insertTick,
				int64(t.Tick),
				t.SimTime.UTC().Format(time.RFC3339Nano),
				t.Delivered,
				t.Pending,
				t.Entities,
				t.Steered,
				int64(t.GridMoves),
				int64(t.Duration),
			)
			curTick = t.Tick + 1
			telegramSeq = 0
			transitionSeq = 0

		case reqTelegram:
			d := r.delivery
			exec(insertTelegram,
				int64(curTick),
				telegramSeq,
				int64(d.Telegram.Sender),
				int64(d.Telegram.Receiver),
				int(d.Telegram.Msg),
				d.Telegram.DispatchTime.UTC().Format(time.RFC3339Nano),
				d.DeliveredAt.UTC().Format(time.RFC3339Nano),
				d.Outcome(),
			)
			telegramSeq++

		case reqTransition:
			tr := r.transition
			rejected := 0
			if tr.Err != nil {
				rejected = 1
			}
			exec(insertTransition, int64(curTick), transitionSeq, r.owner, tr.From, tr.To, rejected)
			transitionSeq++
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
