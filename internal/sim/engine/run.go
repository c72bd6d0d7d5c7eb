package engine

import (
	"context"
	"time"

	"structurize.ai/internal/sim/ops"
)

type submitReq struct {
	Op   ops.Operation
	Resp chan error
}

type undoReq struct {
	Actor string
	Resp  chan error
}

// Run drives Tick at TickRateHz until ctx is done or Close is called.
// Requests received between ticks are applied in arrival order right before
// the next tick.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []any

	for {
		select {
		case <-ctx.Done():
			e.failPending(pending, ctx.Err())
			return ctx.Err()
		case <-e.stop:
			e.failPending(pending, ErrClosed)
			return nil
		case req := <-e.submit:
			pending = append(pending, req)
		case req := <-e.undo:
			pending = append(pending, req)
		case <-ticker.C:
			for _, p := range pending {
				e.handleRequest(p)
			}
			pending = pending[:0]
			res := e.Tick()
			if res.Completed != nil {
				done, total := res.Completed.Progress()
				e.log.Printf("tick=%d completed kind=%s actor=%s visited=%d/%d undo=%v", res.Tick, res.Completed.Kind(), res.Completed.Actor(), done, total, res.Completed.IsUndo())
			}
		}
	}
}

func (e *Engine) handleRequest(p any) {
	switch req := p.(type) {
	case submitReq:
		reply(req.Resp, e.Submit(req.Op))
	case undoReq:
		var err error
		if e.closed.Load() {
			err = ErrClosed
		} else if !e.Undo(req.Actor) {
			err = ErrNothingToUndo
		}
		reply(req.Resp, err)
	}
}

func (e *Engine) failPending(pending []any, err error) {
	for _, p := range pending {
		switch req := p.(type) {
		case submitReq:
			reply(req.Resp, err)
		case undoReq:
			reply(req.Resp, err)
		}
	}
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
		// Caller gave up; don't block the tick loop.
	}
}

// RequestSubmit hands op to the Run goroutine and waits until it is queued.
// It is safe to call from other goroutines (e.g. websocket sessions).
func (e *Engine) RequestSubmit(ctx context.Context, op ops.Operation) error {
	if e.closed.Load() {
		return ErrClosed
	}
	resp := make(chan error, 1)
	select {
	case e.submit <- submitReq{Op: op, Resp: resp}:
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return wait(ctx, e.stop, resp)
}

// RequestUndo asks the Run goroutine to undo the actor's latest edit. It
// returns ErrNothingToUndo when the history holds nothing for actor.
func (e *Engine) RequestUndo(ctx context.Context, actor string) error {
	if e.closed.Load() {
		return ErrClosed
	}
	resp := make(chan error, 1)
	select {
	case e.undo <- undoReq{Actor: actor, Resp: resp}:
	case <-e.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return wait(ctx, e.stop, resp)
}

func wait(ctx context.Context, stop <-chan struct{}, resp <-chan error) error {
	select {
	case err := <-resp:
		return err
	case <-stop:
		// Run may have answered just before stopping.
		select {
		case err := <-resp:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
