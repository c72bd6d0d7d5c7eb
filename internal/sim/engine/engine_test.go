package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"structurize.ai/internal/sim/grid"
	"structurize.ai/internal/sim/ops"
	"structurize.ai/internal/sim/shape"
)

type Vec3i = ops.Vec3i

func fixed(n int) func() int { return func() int { return n } }

func newTestEngine(t *testing.T, bpt, max int, opts ...Option) (*Engine, *grid.Store) {
	t.Helper()
	w := grid.NewStore(nil, -64, 255)
	e := New(Config{TickRateHz: 200, BlocksPerTick: fixed(bpt), MaxCachedChanges: fixed(max)}, w, opts...)
	t.Cleanup(e.Close)
	return e, w
}

func drain(t *testing.T, e *Engine) []TickResult {
	t.Helper()
	var done []TickResult
	for i := 0; e.QueueLen() > 0; i++ {
		if i > 100000 {
			t.Fatalf("queue did not drain")
		}
		if r := e.Tick(); r.Completed != nil {
			done = append(done, r)
		}
	}
	return done
}

func TestLatestSubmissionPreemptsOlder(t *testing.T) {
	e, w := newTestEngine(t, 10, 10)
	a := ops.Fill("a", Vec3i{X: 0, Y: 0, Z: 0}, Vec3i{X: 9, Y: 0, Z: 9}, "STONE")
	b := ops.Fill("b", Vec3i{X: 0, Y: 5, Z: 0}, Vec3i{X: 1, Y: 5, Z: 1}, "DIRT")

	if err := e.Submit(a); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	e.Tick()
	if d, _ := a.Progress(); d != 10 {
		t.Fatalf("a progress=%d", d)
	}
	_ = e.Submit(b)
	r := e.Tick()
	if r.Completed != b {
		t.Fatalf("b should run and finish first")
	}
	if d, _ := a.Progress(); d != 10 {
		t.Fatalf("a advanced while preempted: %d", d)
	}
	if w.BlockAt(Vec3i{X: 1, Y: 5, Z: 1}) != "DIRT" {
		t.Fatalf("b not applied")
	}

	done := drain(t, e)
	if len(done) != 1 || done[0].Completed != a {
		t.Fatalf("a should resume and finish, got %d completions", len(done))
	}
	if w.BlockAt(Vec3i{X: 9, Y: 0, Z: 9}) != "STONE" {
		t.Fatalf("a not applied")
	}
	if e.HistoryLen() != 2 {
		t.Fatalf("history=%d", e.HistoryLen())
	}
}

func TestHistoryEvictsOldest(t *testing.T) {
	e, _ := newTestEngine(t, 64, 2)
	for i, actor := range []string{"r1", "r2", "r3"} {
		_ = e.Submit(ops.Fill(actor, Vec3i{X: i, Y: 0, Z: 0}, Vec3i{X: i, Y: 0, Z: 0}, "STONE"))
		drain(t, e)
	}
	if e.HistoryLen() != 2 {
		t.Fatalf("history=%d want 2", e.HistoryLen())
	}
	if e.Undo("r1") {
		t.Fatalf("r1 was evicted, undo must report nothing")
	}
	if !e.Undo("r3") || !e.Undo("r2") {
		t.Fatalf("r2 and r3 should be undoable")
	}
}

func TestUndoRestoresWorld(t *testing.T) {
	e, w := newTestEngine(t, 37, 10)
	w.SetBlock(Vec3i{X: 0, Y: 0, Z: 0}, "WATER")
	before := w.Digest()

	tm, err := shape.Rasterize(shape.Params{Kind: shape.KindHalfSphere, Height: 12, Block: "GLASS"})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	_ = e.Submit(ops.PlaceTemplate("p1", tm, Vec3i{X: 2, Y: 0, Z: 2}))
	drain(t, e)
	if w.Digest() == before {
		t.Fatalf("placement changed nothing")
	}

	if e.Undo("p2") {
		t.Fatalf("p2 has no history")
	}
	if !e.Undo("p1") {
		t.Fatalf("p1 undo refused")
	}
	if e.HistoryLen() != 0 {
		t.Fatalf("undo must consume the record, history=%d", e.HistoryLen())
	}
	done := drain(t, e)
	if len(done) != 1 || !done[0].Completed.IsUndo() || done[0].Archived {
		t.Fatalf("undo completion: %+v", done)
	}
	if w.Digest() != before {
		t.Fatalf("world not restored")
	}
	if e.HistoryLen() != 0 {
		t.Fatalf("undo must not be archived")
	}
	if e.Undo("p1") {
		t.Fatalf("second undo should find nothing")
	}
}

func TestZeroLimitDisablesArchiving(t *testing.T) {
	e, _ := newTestEngine(t, 64, 0)
	_ = e.Submit(ops.Fill("p1", Vec3i{}, Vec3i{X: 1, Y: 1, Z: 1}, "STONE"))
	done := drain(t, e)
	if len(done) != 1 || done[0].Archived {
		t.Fatalf("expected unarchived completion")
	}
	if e.Undo("p1") {
		t.Fatalf("nothing should be undoable")
	}
}

func TestLiveLimitShrinks(t *testing.T) {
	limit := 5
	w := grid.NewStore(nil, 0, 64)
	e := New(Config{BlocksPerTick: fixed(64), MaxCachedChanges: func() int { return limit }}, w)
	defer e.Close()
	for i := 0; i < 5; i++ {
		_ = e.Submit(ops.Fill("p", Vec3i{X: i, Y: 0, Z: 0}, Vec3i{X: i, Y: 0, Z: 0}, "STONE"))
		drain(t, e)
	}
	limit = 2
	_ = e.Submit(ops.Fill("p", Vec3i{X: 9, Y: 0, Z: 0}, Vec3i{X: 9, Y: 0, Z: 0}, "STONE"))
	done := drain(t, e)
	if done[0].Evicted != 4 || e.HistoryLen() != 2 {
		t.Fatalf("evicted=%d history=%d", done[0].Evicted, e.HistoryLen())
	}
}

func TestChangeLoggerAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var got []ChangeLogEntry
	e, _ := newTestEngine(t, 64, 4,
		WithRegisterer(reg),
		WithFullChanges(true),
		WithChangeLogger(ChangeLoggerFunc(func(en ChangeLogEntry) { got = append(got, en) })),
	)
	_ = e.Submit(ops.Fill("p1", Vec3i{}, Vec3i{X: 1, Y: 0, Z: 1}, "BRICK"))
	drain(t, e)
	e.Undo("p1")
	e.Undo("nobody")
	drain(t, e)

	if len(got) != 2 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[0].Kind != ops.KindFill || got[0].Written != 4 || got[0].Captured != 4 || !got[0].Archived || len(got[0].Changes) != 4 {
		t.Fatalf("fill entry=%+v", got[0])
	}
	if got[1].Kind != ops.KindUndo || !got[1].Undo || got[1].Archived {
		t.Fatalf("undo entry=%+v", got[1])
	}
	if v := testutil.ToFloat64(e.metrics.blocks); v != 8 {
		t.Fatalf("blocks_written_total=%v", v)
	}
	if v := testutil.ToFloat64(e.metrics.completed.WithLabelValues("FILL")); v != 1 {
		t.Fatalf("completed FILL=%v", v)
	}
	if v := testutil.ToFloat64(e.metrics.undoRequests.WithLabelValues("nothing")); v != 1 {
		t.Fatalf("undo nothing=%v", v)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("gather: n=%d err=%v", n, err)
	}
}

func TestCloseDropsSession(t *testing.T) {
	w := grid.NewStore(nil, 0, 64)
	e := New(Config{MaxCachedChanges: fixed(3)}, w)
	_ = e.Submit(ops.Fill("p1", Vec3i{}, Vec3i{}, "STONE"))
	drain(t, e)
	_ = e.Submit(ops.Fill("p1", Vec3i{}, Vec3i{X: 20, Y: 20, Z: 20}, "STONE"))
	e.Close()
	if e.QueueLen() != 0 || e.HistoryLen() != 0 {
		t.Fatalf("queue=%d history=%d after close", e.QueueLen(), e.HistoryLen())
	}
	if err := e.Submit(ops.Fill("p1", Vec3i{}, Vec3i{}, "STONE")); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close: %v", err)
	}
	e.Close()
}

func TestRunServesRequests(t *testing.T) {
	e, w := newTestEngine(t, 64, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()

	if err := e.RequestUndo(ctx, "p1"); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("RequestUndo on empty history: %v", err)
	}
	if err := e.RequestSubmit(ctx, ops.Fill("p1", Vec3i{}, Vec3i{X: 3, Y: 3, Z: 3}, "SAND")); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	for e.Stats().HistorySize != 1 {
		select {
		case <-ctx.Done():
			t.Fatalf("fill never archived")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if w.BlockAt(Vec3i{X: 3, Y: 3, Z: 3}) != "SAND" {
		t.Fatalf("fill not applied")
	}
	if err := e.RequestUndo(ctx, "p1"); err != nil {
		t.Fatalf("RequestUndo: %v", err)
	}

	e.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v after Close", err)
	}
	if err := e.RequestSubmit(ctx, ops.Fill("p1", Vec3i{}, Vec3i{}, "SAND")); !errors.Is(err, ErrClosed) {
		t.Fatalf("submit after close: %v", err)
	}
}

func TestStartTickResumesCounter(t *testing.T) {
	w := grid.NewStore(nil, -64, 255)
	e := New(Config{StartTick: 500}, w)
	defer e.Close()
	if got := e.Stats().Tick; got != 500 {
		t.Fatalf("stats tick=%d want 500", got)
	}
	if r := e.Tick(); r.Tick != 501 {
		t.Fatalf("tick=%d want 501", r.Tick)
	}
}
