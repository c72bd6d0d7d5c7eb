package changes

import "structurize.ai/internal/sim/template"

type Vec3i = template.Vec3i

// Change is the state of one position before an edit touched it.
type Change struct {
	Pos   Vec3i
	Prior string
}

// Record is the reversible log of one world edit. It is immutable once built.
type Record struct {
	actor   string
	undo    bool
	changes []Change
}

func (r Record) Actor() string { return r.actor }
func (r Record) IsUndo() bool  { return r.undo }
func (r Record) Len() int      { return len(r.changes) }

// Changes returns a copy of the captured entries in capture order.
func (r Record) Changes() []Change {
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// At returns the i-th captured entry.
func (r Record) At(i int) Change { return r.changes[i] }

// Builder accumulates changes while an edit is in progress. The first capture
// of a position is kept so the record always holds the pre-edit state.
type Builder struct {
	actor   string
	undo    bool
	seen    map[Vec3i]struct{}
	changes []Change
}

func NewBuilder(actor string, undo bool) *Builder {
	return &Builder{
		actor: actor,
		undo:  undo,
		seen:  map[Vec3i]struct{}{},
	}
}

func (b *Builder) Capture(pos Vec3i, prior string) {
	if _, ok := b.seen[pos]; ok {
		return
	}
	b.seen[pos] = struct{}{}
	b.changes = append(b.changes, Change{Pos: pos, Prior: prior})
}

func (b *Builder) Len() int { return len(b.changes) }

func (b *Builder) Build() Record {
	out := make([]Change, len(b.changes))
	copy(out, b.changes)
	return Record{actor: b.actor, undo: b.undo, changes: out}
}
