package ops

import (
	"math"

	"structurize.ai/internal/sim/changes"
	"structurize.ai/internal/sim/template"
)

// step resolves the i-th unit of an edit against the current world. ok=false
// means the position is visited but left untouched.
type step func(w World, i int) (pos Vec3i, block string, ok bool)

// edit is the shared cursor machinery behind every operation: it walks steps
// [0,total) in order, captures the prior block before each write and stops
// after budget steps.
type edit struct {
	kind   Kind
	actor  string
	undo   bool
	total  int
	cursor int
	at     step
	rec    *changes.Builder

	written int
}

func newEdit(kind Kind, actor string, undo bool, total int, at step) *edit {
	return &edit{
		kind:  kind,
		actor: actor,
		undo:  undo,
		total: total,
		at:    at,
		rec:   changes.NewBuilder(actor, undo),
	}
}

func (e *edit) Kind() Kind    { return e.kind }
func (e *edit) Actor() string { return e.actor }
func (e *edit) IsUndo() bool  { return e.undo }

func (e *edit) Progress() (done, total int) { return e.cursor, e.total }

// Written is the number of blocks actually changed so far.
func (e *edit) Written() int { return e.written }

func (e *edit) Record() changes.Record { return e.rec.Build() }

func (e *edit) Advance(w World, budget int) bool {
	limit := ClampBlocksPerTick(budget)
	for n := 0; n < limit && e.cursor < e.total; n++ {
		pos, block, ok := e.at(w, e.cursor)
		e.cursor++
		if !ok {
			continue
		}
		if bw, ok := w.(BoundedWorld); ok && !bw.InBounds(pos) {
			continue
		}
		cur := w.BlockAt(pos)
		if cur == block {
			continue
		}
		e.rec.Capture(pos, cur)
		w.SetBlock(pos, block)
		e.written++
	}
	return e.cursor >= e.total
}

// PlaceTemplate writes every template entry at anchor+pos.
func PlaceTemplate(actor string, t *template.Template, anchor Vec3i) Operation {
	var entries []template.Entry
	if t != nil {
		entries = make([]template.Entry, len(t.Entries))
		copy(entries, t.Entries)
	}
	return newEdit(KindPlaceTemplate, actor, false, len(entries), func(_ World, i int) (Vec3i, string, bool) {
		en := entries[i]
		return anchor.Add(en.Pos), en.Block, true
	})
}

// Fill sets every position of the inclusive box [a,b] to block.
func Fill(actor string, a, b Vec3i, block string) Operation {
	bx := newBox(a, b)
	return newEdit(KindFill, actor, false, bx.volume(), func(_ World, i int) (Vec3i, string, bool) {
		return bx.at(i), block, true
	})
}

// Replace swaps from for to inside the inclusive box [a,b].
func Replace(actor string, a, b Vec3i, from, to string) Operation {
	return replaceIn(KindReplace, actor, newBox(a, b), from, to)
}

// Remove clears block (sets AIR) inside the inclusive box [a,b].
func Remove(actor string, a, b Vec3i, block string) Operation {
	return replaceIn(KindRemove, actor, newBox(a, b), block, Air)
}

func replaceIn(kind Kind, actor string, bx box, from, to string) *edit {
	return newEdit(kind, actor, false, bx.volume(), func(w World, i int) (Vec3i, string, bool) {
		pos := bx.at(i)
		if w.BlockAt(pos) != from {
			return pos, "", false
		}
		return pos, to, true
	})
}

// Undo restores every position of r to its captured prior block, newest capture
// first. Its own record is flagged as an undo.
func Undo(r changes.Record) Operation {
	n := r.Len()
	return newEdit(KindUndo, r.Actor(), true, n, func(_ World, i int) (Vec3i, string, bool) {
		c := r.At(n - 1 - i)
		return c.Pos, c.Prior, true
	})
}

// MaxBoxEdge bounds every edge of a box edit. A larger box is treated as empty.
const MaxBoxEdge = 1 << 20

// BoxEdges returns the edge lengths of the inclusive box [a,b]. The arithmetic
// is unsigned so corners at the ends of the int range cannot wrap; an edge
// spanning the whole range saturates at math.MaxUint64.
func BoxEdges(a, b Vec3i) [3]uint64 {
	return [3]uint64{span(a.X, b.X), span(a.Y, b.Y), span(a.Z, b.Z)}
}

func span(p, q int) uint64 {
	if p > q {
		p, q = q, p
	}
	d := uint64(q) - uint64(p)
	if d == math.MaxUint64 {
		return d
	}
	return d + 1
}

type box struct {
	min        Vec3i
	dx, dy, dz int
}

func newBox(a, b Vec3i) box {
	min := Vec3i{X: minInt(a.X, b.X), Y: minInt(a.Y, b.Y), Z: minInt(a.Z, b.Z)}
	e := BoxEdges(a, b)
	for _, n := range e {
		if n > MaxBoxEdge {
			return box{min: min}
		}
	}
	return box{min: min, dx: int(e[0]), dy: int(e[1]), dz: int(e[2])}
}

func (b box) volume() int {
	return b.dx * b.dy * b.dz
}

// at maps a linear index to a position, y-major then x then z.
func (b box) at(i int) Vec3i {
	layer := b.dx * b.dz
	y := i / layer
	r := i % layer
	return Vec3i{X: b.min.X + r/b.dz, Y: b.min.Y + y, Z: b.min.Z + r%b.dz}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
