package shape

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"structurize.ai/internal/sim/template"
)

type Kind string

const (
	KindCube       Kind = "CUBE"
	KindSphere     Kind = "SPHERE"
	KindHalfSphere Kind = "HALF_SPHERE"
	KindBowl       Kind = "BOWL"
	KindWave       Kind = "WAVE"
	KindWave3D     Kind = "WAVE_3D"
	KindRandom     Kind = "RANDOM"
)

// DefaultBlock is used when a request carries no fill block.
const DefaultBlock = "GOLD_BLOCK"

var ErrInvalidParams = errors.New("invalid shape parameters")

var kinds = []Kind{KindCube, KindSphere, KindHalfSphere, KindBowl, KindWave, KindWave3D, KindRandom}

func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range kinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Params describes one generation request.
//
// For the wave kinds Height is the horizontal period divisor of the sine and
// Frequency its amplitude. For the sphere family the radius is Height/2.
type Params struct {
	Kind      Kind
	Width     int
	Length    int
	Height    int
	Frequency int
	Block     string
	Hollow    bool
}

func (p Params) Validate() error {
	if _, ok := ParseKind(string(p.Kind)); !ok {
		return fmt.Errorf("%w: unknown shape %q", ErrInvalidParams, p.Kind)
	}
	if p.Width < 0 {
		return fmt.Errorf("%w: width %d", ErrInvalidParams, p.Width)
	}
	if p.Length < 0 {
		return fmt.Errorf("%w: length %d", ErrInvalidParams, p.Length)
	}
	if p.Height < 0 {
		return fmt.Errorf("%w: height %d", ErrInvalidParams, p.Height)
	}
	if (p.Kind == KindWave || p.Kind == KindWave3D) && p.Height == 0 {
		return fmt.Errorf("%w: wave height must be positive", ErrInvalidParams)
	}
	return nil
}

// EstimateBlocks is an upper bound on the entries Rasterize emits for p. It
// builds nothing and saturates at math.MaxUint64.
func EstimateBlocks(p Params) uint64 {
	switch p.Kind {
	case KindCube:
		return mulSat(dim(p.Width), dim(p.Height), dim(p.Length))
	case KindSphere, KindHalfSphere, KindBowl:
		n := 2*dim(p.Height/2) + 3
		return mulSat(n, n, n)
	case KindWave, KindWave3D:
		return mulSat(4, dim(p.Width), dim(p.Length))
	}
	return 0
}

func dim(n int) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func mulSat(xs ...uint64) uint64 {
	out := uint64(1)
	for _, x := range xs {
		if x == 0 {
			return 0
		}
		if out > math.MaxUint64/x {
			return math.MaxUint64
		}
		out *= x
	}
	return out
}

// Rasterize validates p and builds its template. It touches no shared state and
// may run on any goroutine.
func Rasterize(p Params) (*template.Template, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	block := strings.TrimSpace(p.Block)
	if block == "" {
		block = DefaultBlock
	}

	t := template.New()
	switch p.Kind {
	case KindCube:
		cube(t, p.Width, p.Height, p.Length, block, p.Hollow)
	case KindSphere, KindHalfSphere, KindBowl:
		sphere(t, p.Height/2, block, p.Hollow, p.Kind)
	case KindWave:
		wave(t, p.Height, p.Width, p.Length, p.Frequency, block, true)
	case KindWave3D:
		wave(t, p.Height, p.Width, p.Length, p.Frequency, block, false)
	case KindRandom:
		// Never filled: the generator emits nothing for this kind.
	}
	return t, nil
}

func cube(t *template.Template, width, height, length int, block string, hollow bool) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for z := 0; z < length; z++ {
				onFace := x == 0 || x == width-1 || y == 0 || y == height-1 || z == 0 || z == length-1
				if hollow && !onFace {
					continue
				}
				t.Add(template.Vec3i{X: x, Y: y, Z: z}, block, nil)
			}
		}
	}
	t.Size = template.Vec3i{X: width, Y: height, Z: length}
}

// sphere walks the non-negative octant and mirrors each hit. The hollow shell
// keeps points with r²-2r < d² < r², which is about one block thick.
func sphere(t *template.Template, r int, block string, hollow bool, kind Kind) {
	upper := kind == KindSphere || kind == KindHalfSphere
	lower := kind == KindSphere || kind == KindBowl
	rr := r * r
	for y := 0; y <= r+1; y++ {
		for x := 0; x <= r+1; x++ {
			for z := 0; z <= r+1; z++ {
				sum := x*x + y*y + z*z
				if sum >= rr {
					continue
				}
				if hollow && sum <= rr-2*r {
					continue
				}
				if upper {
					mirrorXZ(t, x, y, z, block)
				}
				if lower {
					mirrorXZ(t, x, -y, z, block)
				}
			}
		}
	}
	t.Size = template.Vec3i{X: 2 * r, Y: 2 * r, Z: 2 * r}
}

func mirrorXZ(t *template.Template, x, y, z int, block string) {
	t.Add(template.Vec3i{X: x, Y: y, Z: z}, block, nil)
	t.Add(template.Vec3i{X: x, Y: y, Z: -z}, block, nil)
	t.Add(template.Vec3i{X: -x, Y: y, Z: z}, block, nil)
	t.Add(template.Vec3i{X: -x, Y: y, Z: -z}, block, nil)
}

// wave emits a sine profile along x. The non-flat variant mirrors across z and
// adds a second ridge raised by width-1.
//
// Size is kept as length × (period·length+1) × (2·width+1); it does not bound the
// emitted points.
func wave(t *template.Template, period, width, length, amplitude int, block string, flat bool) {
	for x := 0; x < length; x++ {
		for z := 0; z < width; z++ {
			base := 0.0
			if !flat {
				base = float64(z)
			}
			y := int(math.Floor(base + float64(amplitude)*math.Sin(float64(x)/float64(period))))
			t.Add(template.Vec3i{X: x, Y: y, Z: z}, block, nil)
			if !flat {
				t.Add(template.Vec3i{X: x, Y: y, Z: -z}, block, nil)
				t.Add(template.Vec3i{X: x, Y: y + width - 1, Z: z - width + 1}, block, nil)
				t.Add(template.Vec3i{X: x, Y: y + width - 1, Z: -z + width - 1}, block, nil)
			}
		}
	}
	t.Size = template.Vec3i{X: length, Y: period*length + 1, Z: width*2 + 1}
}
