package ops

import (
	"structurize.ai/internal/sim/changes"
	"structurize.ai/internal/sim/template"
)

type Vec3i = template.Vec3i

type Kind string

const (
	KindPlaceTemplate Kind = "PLACE_TEMPLATE"
	KindFill          Kind = "FILL"
	KindReplace       Kind = "REPLACE"
	KindRemove        Kind = "REMOVE"
	KindUndo          Kind = "UNDO"
)

const (
	Air = "AIR"

	DefaultBlocksPerTick = 64
	MaxBlocksPerTick     = 4096
)

// World is the block access an operation needs while it advances.
type World interface {
	BlockAt(pos Vec3i) string
	SetBlock(pos Vec3i, block string)
}

// BoundedWorld is a World that drops writes outside InBounds. Operations skip
// such positions without recording them.
type BoundedWorld interface {
	World
	InBounds(pos Vec3i) bool
}

// Operation is a world edit applied in bounded slices, one slice per tick.
type Operation interface {
	Kind() Kind
	Actor() string
	IsUndo() bool

	// Advance applies at most budget units of work and reports whether the
	// operation is complete.
	Advance(w World, budget int) bool

	// Record returns the prior states captured so far.
	Record() changes.Record

	Progress() (done, total int)
}

// Writer is implemented by operations that count the blocks they changed.
type Writer interface {
	Written() int
}

func ClampBlocksPerTick(n int) int {
	if n <= 0 {
		return DefaultBlocksPerTick
	}
	if n > MaxBlocksPerTick {
		return MaxBlocksPerTick
	}
	return n
}
