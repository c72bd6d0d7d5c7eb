package shape

import (
	"errors"
	"math"
	"testing"

	"structurize.ai/internal/sim/template"
)

func mustRasterize(t *testing.T, p Params) *template.Template {
	t.Helper()
	tm, err := Rasterize(p)
	if err != nil {
		t.Fatalf("Rasterize(%+v): %v", p, err)
	}
	return tm
}

func assertUnique(t *testing.T, tm *template.Template) {
	t.Helper()
	seen := map[template.Vec3i]bool{}
	for _, e := range tm.Entries {
		if seen[e.Pos] {
			t.Fatalf("duplicate position %v", e.Pos)
		}
		seen[e.Pos] = true
	}
}

func TestCubeSolidFillsBox(t *testing.T) {
	cases := []struct{ w, h, l int }{
		{1, 1, 1},
		{3, 3, 3},
		{2, 5, 4},
		{7, 1, 3},
		{0, 4, 4},
	}
	for _, c := range cases {
		tm := mustRasterize(t, Params{Kind: KindCube, Width: c.w, Height: c.h, Length: c.l, Block: "STONE"})
		if got, want := tm.Len(), c.w*c.h*c.l; got != want {
			t.Fatalf("cube %dx%dx%d: entries=%d want %d", c.w, c.h, c.l, got, want)
		}
		assertUnique(t, tm)
		for _, e := range tm.Entries {
			p := e.Pos
			if p.X < 0 || p.X >= c.w || p.Y < 0 || p.Y >= c.h || p.Z < 0 || p.Z >= c.l {
				t.Fatalf("cube %dx%dx%d: %v outside box", c.w, c.h, c.l, p)
			}
			if e.Block != "STONE" {
				t.Fatalf("block=%q", e.Block)
			}
		}
		if tm.Size != (template.Vec3i{X: c.w, Y: c.h, Z: c.l}) {
			t.Fatalf("size=%v", tm.Size)
		}
	}
}

func TestCubeHollow3x3x3(t *testing.T) {
	tm := mustRasterize(t, Params{Kind: KindCube, Width: 3, Length: 3, Height: 3, Hollow: true, Block: "STONE"})
	if tm.Len() != 26 {
		t.Fatalf("entries=%d want 26", tm.Len())
	}
	if tm.Has(template.Vec3i{X: 1, Y: 1, Z: 1}) {
		t.Fatalf("interior point must be absent")
	}
	if tm.Size != (template.Vec3i{X: 3, Y: 3, Z: 3}) {
		t.Fatalf("size=%v", tm.Size)
	}
}

func TestCubeHollowOnlyFaces(t *testing.T) {
	w, h, l := 6, 4, 5
	tm := mustRasterize(t, Params{Kind: KindCube, Width: w, Height: h, Length: l, Hollow: true})
	for _, e := range tm.Entries {
		p := e.Pos
		onFace := p.X == 0 || p.X == w-1 || p.Y == 0 || p.Y == h-1 || p.Z == 0 || p.Z == l-1
		if !onFace {
			t.Fatalf("interior point %v emitted", p)
		}
	}
	if got, want := tm.Len(), w*h*l-(w-2)*(h-2)*(l-2); got != want {
		t.Fatalf("entries=%d want %d", got, want)
	}
}

func TestDefaultBlock(t *testing.T) {
	tm := mustRasterize(t, Params{Kind: KindCube, Width: 1, Height: 1, Length: 1})
	if tm.Entries[0].Block != DefaultBlock {
		t.Fatalf("block=%q want %q", tm.Entries[0].Block, DefaultBlock)
	}
}

func countBall(r int, hollow bool) int {
	n := 0
	rr := r * r
	for x := -r - 1; x <= r+1; x++ {
		for y := -r - 1; y <= r+1; y++ {
			for z := -r - 1; z <= r+1; z++ {
				d := x*x + y*y + z*z
				if d < rr && (!hollow || d > rr-2*r) {
					n++
				}
			}
		}
	}
	return n
}

func TestSphereFamilyUniqueAndComplete(t *testing.T) {
	for _, height := range []int{0, 1, 2, 5, 10, 17} {
		for _, hollow := range []bool{false, true} {
			r := height / 2
			tm := mustRasterize(t, Params{Kind: KindSphere, Height: height, Hollow: hollow})
			assertUnique(t, tm)
			if got, want := tm.Len(), countBall(r, hollow); got != want {
				t.Fatalf("sphere h=%d hollow=%v: entries=%d want %d", height, hollow, got, want)
			}
			if tm.Size != (template.Vec3i{X: 2 * r, Y: 2 * r, Z: 2 * r}) {
				t.Fatalf("size=%v", tm.Size)
			}
		}
	}
}

func TestHalfSphereAndBowlHalves(t *testing.T) {
	half := mustRasterize(t, Params{Kind: KindHalfSphere, Height: 12})
	bowl := mustRasterize(t, Params{Kind: KindBowl, Height: 12})
	full := mustRasterize(t, Params{Kind: KindSphere, Height: 12})
	assertUnique(t, half)
	assertUnique(t, bowl)
	for _, e := range half.Entries {
		if e.Pos.Y < 0 {
			t.Fatalf("half sphere emitted %v below origin", e.Pos)
		}
		if !full.Has(e.Pos) {
			t.Fatalf("half sphere point %v not in sphere", e.Pos)
		}
	}
	for _, e := range bowl.Entries {
		if e.Pos.Y > 0 {
			t.Fatalf("bowl emitted %v above origin", e.Pos)
		}
		mirrored := template.Vec3i{X: e.Pos.X, Y: -e.Pos.Y, Z: e.Pos.Z}
		if !half.Has(mirrored) {
			t.Fatalf("bowl point %v has no mirror in half sphere", e.Pos)
		}
	}
	// The y=0 disc is shared by both halves.
	disc := 0
	for _, e := range half.Entries {
		if e.Pos.Y == 0 {
			disc++
		}
	}
	if got, want := full.Len(), half.Len()+bowl.Len()-disc; got != want {
		t.Fatalf("sphere entries=%d want %d", got, want)
	}
}

func TestHollowSphereIsSubsetOfSolid(t *testing.T) {
	solid := mustRasterize(t, Params{Kind: KindSphere, Height: 14})
	hollow := mustRasterize(t, Params{Kind: KindSphere, Height: 14, Hollow: true})
	if hollow.Len() >= solid.Len() {
		t.Fatalf("hollow=%d solid=%d", hollow.Len(), solid.Len())
	}
	for _, e := range hollow.Entries {
		if !solid.Has(e.Pos) {
			t.Fatalf("hollow point %v missing from solid", e.Pos)
		}
	}
	if hollow.Has(template.Vec3i{}) {
		t.Fatalf("hollow sphere must not contain its center")
	}
}

func TestFlatWave(t *testing.T) {
	p := Params{Kind: KindWave, Width: 3, Length: 10, Height: 2, Frequency: 3, Block: "SAND"}
	tm := mustRasterize(t, p)
	if tm.Len() != 30 {
		t.Fatalf("entries=%d want 30", tm.Len())
	}
	for _, e := range tm.Entries {
		want := int(math.Floor(3 * math.Sin(float64(e.Pos.X)/2)))
		if e.Pos.Y != want {
			t.Fatalf("x=%d y=%d want %d", e.Pos.X, e.Pos.Y, want)
		}
	}
	if tm.Size != (template.Vec3i{X: 10, Y: 21, Z: 7}) {
		t.Fatalf("size=%v", tm.Size)
	}
}

func TestWave3DMirrorsAndRidges(t *testing.T) {
	p := Params{Kind: KindWave3D, Width: 4, Length: 8, Height: 3, Frequency: 2}
	tm := mustRasterize(t, p)
	assertUnique(t, tm)
	for x := 0; x < p.Length; x++ {
		for z := 0; z < p.Width; z++ {
			y := int(math.Floor(float64(z) + 2*math.Sin(float64(x)/3)))
			for _, want := range []template.Vec3i{
				{X: x, Y: y, Z: z},
				{X: x, Y: y, Z: -z},
				{X: x, Y: y + 3, Z: z - 3},
				{X: x, Y: y + 3, Z: -z + 3},
			} {
				if !tm.Has(want) {
					t.Fatalf("missing %v", want)
				}
			}
		}
	}
	if tm.Size != (template.Vec3i{X: 8, Y: 25, Z: 9}) {
		t.Fatalf("size=%v", tm.Size)
	}
}

func TestRandomIsEmpty(t *testing.T) {
	tm := mustRasterize(t, Params{Kind: KindRandom, Width: 10, Length: 10, Height: 10})
	if tm.Len() != 0 {
		t.Fatalf("entries=%d want 0", tm.Len())
	}
	if tm.Size != (template.Vec3i{}) {
		t.Fatalf("size=%v want zero", tm.Size)
	}
}

func TestValidateRejectsBadParams(t *testing.T) {
	cases := []Params{
		{Kind: KindCube, Width: -1, Height: 1, Length: 1},
		{Kind: KindCube, Width: 1, Height: -1, Length: 1},
		{Kind: KindCube, Width: 1, Height: 1, Length: -3},
		{Kind: KindSphere, Height: -4},
		{Kind: KindWave, Width: 2, Length: 2, Height: 0},
		{Kind: KindWave3D, Width: 2, Length: 2, Height: 0},
		{Kind: "PYRAMID", Width: 1, Height: 1, Length: 1},
	}
	for _, p := range cases {
		tm, err := Rasterize(p)
		if !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("Rasterize(%+v) err=%v want ErrInvalidParams", p, err)
		}
		if tm != nil {
			t.Fatalf("expected no template on error")
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(string(k))
		if !ok || got != k {
			t.Fatalf("ParseKind(%q)=%q,%v", k, got, ok)
		}
	}
	if got, ok := ParseKind(" wave_3d "); !ok || got != KindWave3D {
		t.Fatalf("expected case-insensitive parse, got %q %v", got, ok)
	}
	if _, ok := ParseKind("CONE"); ok {
		t.Fatalf("expected unknown kind rejected")
	}
}

func TestRasterizeIsDeterministic(t *testing.T) {
	p := Params{Kind: KindSphere, Height: 9, Hollow: true, Block: "GLASS"}
	a := mustRasterize(t, p)
	b := mustRasterize(t, p)
	if a.Len() != b.Len() {
		t.Fatalf("len mismatch %d vs %d", a.Len(), b.Len())
	}
	for i := range a.Entries {
		if a.Entries[i].Pos != b.Entries[i].Pos {
			t.Fatalf("entry %d differs: %v vs %v", i, a.Entries[i].Pos, b.Entries[i].Pos)
		}
	}
}

func TestEstimateBlocksBoundsRasterize(t *testing.T) {
	cases := []Params{
		{Kind: KindCube, Width: 5, Length: 7, Height: 3},
		{Kind: KindCube, Width: 5, Length: 7, Height: 3, Hollow: true},
		{Kind: KindSphere, Height: 9},
		{Kind: KindHalfSphere, Height: 12},
		{Kind: KindBowl, Height: 4, Hollow: true},
		{Kind: KindWave, Width: 6, Length: 10, Height: 2, Frequency: 3},
		{Kind: KindWave3D, Width: 6, Length: 10, Height: 2, Frequency: 3},
		{Kind: KindRandom, Width: 9, Length: 9, Height: 9},
	}
	for _, p := range cases {
		tm, err := Rasterize(p)
		if err != nil {
			t.Fatalf("%s: %v", p.Kind, err)
		}
		if est := EstimateBlocks(p); est < uint64(tm.Len()) {
			t.Fatalf("%s: estimate %d below actual %d", p.Kind, est, tm.Len())
		}
	}
	if got := EstimateBlocks(Params{Kind: KindCube, Width: 256, Length: 256, Height: 256}); got != 1<<24 {
		t.Fatalf("256 cube estimate=%d", got)
	}
	if got := EstimateBlocks(Params{Kind: KindCube, Width: math.MaxInt, Length: math.MaxInt, Height: 2}); got != math.MaxUint64 {
		t.Fatalf("estimate should saturate, got %d", got)
	}
}
