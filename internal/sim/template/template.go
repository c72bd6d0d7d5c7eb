package template

type Vec3i struct{ X, Y, Z int }

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Entry is one voxel of a template. Pos is relative to the template origin.
type Entry struct {
	Pos   Vec3i
	Block string
	Meta  map[string]string
}

// Template is a generated block layout. Entries keep insertion order and never
// share a position.
//
// Size is the bounding vector reported by the generator. It is not guaranteed to
// be tight (see Bounds).
type Template struct {
	Size    Vec3i
	Entries []Entry

	index map[Vec3i]struct{}
}

func New() *Template {
	return &Template{index: map[Vec3i]struct{}{}}
}

// Add inserts an entry unless its position is already occupied. The first
// entry at a position wins.
func (t *Template) Add(pos Vec3i, block string, meta map[string]string) bool {
	if t.index == nil {
		t.index = make(map[Vec3i]struct{}, len(t.Entries))
		for _, e := range t.Entries {
			t.index[e.Pos] = struct{}{}
		}
	}
	if _, ok := t.index[pos]; ok {
		return false
	}
	t.index[pos] = struct{}{}
	t.Entries = append(t.Entries, Entry{Pos: pos, Block: block, Meta: meta})
	return true
}

func (t *Template) Has(pos Vec3i) bool {
	if t.index != nil {
		_, ok := t.index[pos]
		return ok
	}
	for _, e := range t.Entries {
		if e.Pos == pos {
			return true
		}
	}
	return false
}

func (t *Template) Len() int { return len(t.Entries) }

// Bounds returns the tight inclusive bounding box of the emitted entries.
func (t *Template) Bounds() (min, max Vec3i, ok bool) {
	if len(t.Entries) == 0 {
		return Vec3i{}, Vec3i{}, false
	}
	min = t.Entries[0].Pos
	max = min
	for _, e := range t.Entries[1:] {
		p := e.Pos
		if p.X < min.X {
			min.X = p.X
		}
		if p.Y < min.Y {
			min.Y = p.Y
		}
		if p.Z < min.Z {
			min.Z = p.Z
		}
		if p.X > max.X {
			max.X = p.X
		}
		if p.Y > max.Y {
			max.Y = p.Y
		}
		if p.Z > max.Z {
			max.Z = p.Z
		}
	}
	return min, max, true
}

// Palette returns the distinct block names in first-seen order.
func (t *Template) Palette() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range t.Entries {
		if _, ok := seen[e.Block]; ok {
			continue
		}
		seen[e.Block] = struct{}{}
		out = append(out, e.Block)
	}
	return out
}
