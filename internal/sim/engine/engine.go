package engine

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"structurize.ai/internal/sim/changes"
	"structurize.ai/internal/sim/ops"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrClosed        = errors.New("engine closed")
)

type Config struct {
	TickRateHz int
	// StartTick resumes the tick counter, e.g. from a world snapshot.
	StartTick uint64

	// Both are read on every tick, so a reloaded tuning applies to the next one.
	BlocksPerTick    func() int
	MaxCachedChanges func() int
}

// ChangeLogEntry describes one completed operation.
type ChangeLogEntry struct {
	Tick     uint64    `json:"tick"`
	Time     time.Time `json:"time"`
	Actor    string    `json:"actor"`
	Kind     ops.Kind  `json:"kind"`
	Undo     bool      `json:"undo"`
	Visited  int       `json:"visited"`
	Written  int       `json:"written"`
	Captured int       `json:"captured"`
	Archived bool      `json:"archived"`
	Evicted  int       `json:"evicted"`

	Changes []changes.Change `json:"changes,omitempty"`
}

type ChangeLogger interface {
	LogChange(e ChangeLogEntry)
}

type ChangeLoggerFunc func(e ChangeLogEntry)

func (f ChangeLoggerFunc) LogChange(e ChangeLogEntry) { f(e) }

// MultiChangeLogger fans an entry out to every non-nil logger.
func MultiChangeLogger(ls ...ChangeLogger) ChangeLogger {
	out := make([]ChangeLogger, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return ChangeLoggerFunc(func(e ChangeLogEntry) {
		for _, l := range out {
			l.LogChange(e)
		}
	})
}

type TickResult struct {
	Tick      uint64
	Advanced  bool
	Completed ops.Operation
	Archived  bool
	Evicted   int
}

type Stats struct {
	Tick        uint64 `json:"tick"`
	QueueDepth  int    `json:"queue_depth"`
	HistorySize int    `json:"history_size"`
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithChangeLogger(cl ChangeLogger) Option {
	return func(e *Engine) { e.changeLog = cl }
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.reg = reg }
}

// WithFullChanges includes every captured position in change log entries.
func WithFullChanges(on bool) Option {
	return func(e *Engine) { e.fullChanges = on }
}

// Engine is one session context: the pending edit queue, the undo history and
// the world they apply to. Tick, Submit and Undo must be called from a single
// goroutine; Run provides that goroutine and the Request* methods feed it.
type Engine struct {
	cfg   Config
	world ops.World

	queue   ops.Queue
	history *changes.History
	tick    uint64

	log         *log.Logger
	changeLog   ChangeLogger
	fullChanges bool
	reg         prometheus.Registerer
	metrics     *metrics

	submit chan submitReq
	undo   chan undoReq
	stop   chan struct{}
	// runMu is held by Run for its lifetime.
	runMu sync.Mutex

	closed atomic.Bool
	stats  atomic.Pointer[Stats]
}

func New(cfg Config, world ops.World, opts ...Option) *Engine {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.BlocksPerTick == nil {
		cfg.BlocksPerTick = func() int { return ops.DefaultBlocksPerTick }
	}
	e := &Engine{
		cfg:    cfg,
		world:  world,
		log:    log.New(io.Discard, "", 0),
		submit: make(chan submitReq, 256),
		undo:   make(chan undoReq, 64),
		stop:   make(chan struct{}),
		tick:   cfg.StartTick,
	}
	for _, o := range opts {
		o(e)
	}
	e.history = changes.NewHistory(cfg.MaxCachedChanges)
	e.metrics = newMetrics(e.reg)
	e.publishStats()
	return e
}

// Submit enqueues op at the front of the queue; it runs from the next tick.
func (e *Engine) Submit(op ops.Operation) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if op == nil {
		return nil
	}
	e.queue.Push(op)
	e.metrics.queueDepth.Set(float64(e.queue.Len()))
	return nil
}

// Undo consumes the actor's most recent record and enqueues its reversal.
// It reports false when the actor has nothing to undo.
func (e *Engine) Undo(actor string) bool {
	if e.closed.Load() {
		return false
	}
	rec, ok := e.history.FindAndConsume(actor)
	if !ok {
		e.metrics.undoRequests.WithLabelValues("nothing").Inc()
		return false
	}
	e.queue.Push(ops.Undo(rec))
	e.metrics.undoRequests.WithLabelValues("queued").Inc()
	e.metrics.queueDepth.Set(float64(e.queue.Len()))
	e.metrics.historySize.Set(float64(e.history.Len()))
	return true
}

// Tick advances the front operation by one slice. A completed operation is
// popped and, unless it is an undo, archived for its actor.
func (e *Engine) Tick() TickResult {
	e.tick++
	res := TickResult{Tick: e.tick}
	defer e.publishStats()

	if e.closed.Load() {
		return res
	}
	op, ok := e.queue.Peek()
	if !ok {
		return res
	}
	res.Advanced = true
	if !op.Advance(e.world, e.cfg.BlocksPerTick()) {
		return res
	}
	e.queue.Pop()
	res.Completed = op

	rec := op.Record()
	if !op.IsUndo() {
		res.Evicted = e.history.Archive(rec)
		res.Archived = e.history.Len() > 0
		e.metrics.evicted.Add(float64(res.Evicted))
	}
	written := 0
	if w, ok := op.(ops.Writer); ok {
		written = w.Written()
	}
	e.metrics.completed.WithLabelValues(string(op.Kind())).Inc()
	e.metrics.blocks.Add(float64(written))
	e.metrics.queueDepth.Set(float64(e.queue.Len()))
	e.metrics.historySize.Set(float64(e.history.Len()))

	if e.changeLog != nil {
		visited, _ := op.Progress()
		entry := ChangeLogEntry{
			Tick:     e.tick,
			Time:     time.Now().UTC(),
			Actor:    op.Actor(),
			Kind:     op.Kind(),
			Undo:     op.IsUndo(),
			Visited:  visited,
			Written:  written,
			Captured: rec.Len(),
			Archived: res.Archived,
			Evicted:  res.Evicted,
		}
		if e.fullChanges {
			entry.Changes = rec.Changes()
		}
		e.changeLog.LogChange(entry)
	}
	return res
}

func (e *Engine) QueueLen() int   { return e.queue.Len() }
func (e *Engine) HistoryLen() int { return e.history.Len() }

// Stats is safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	if s := e.stats.Load(); s != nil {
		return *s
	}
	return Stats{}
}

func (e *Engine) publishStats() {
	e.stats.Store(&Stats{Tick: e.tick, QueueDepth: e.queue.Len(), HistorySize: e.history.Len()})
}

// Close ends the session: history is dropped and pending operations are
// discarded. It stops Run and waits for it to return. Further submissions fail
// with ErrClosed.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	close(e.stop)
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.history.Reset()
	e.queue.Clear()
	e.metrics.queueDepth.Set(0)
	e.metrics.historySize.Set(0)
	e.publishStats()
}
