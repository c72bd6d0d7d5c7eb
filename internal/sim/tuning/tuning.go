package tuning

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`

	// MaxCachedChanges bounds the undo history.
	MaxCachedChanges int `yaml:"max_cached_changes" json:"max_cached_changes"`
	// BlocksPerTick is the slice size of a queued world edit.
	BlocksPerTick int `yaml:"blocks_per_tick" json:"blocks_per_tick"`

	MaxShapeDimension   int  `yaml:"max_shape_dimension" json:"max_shape_dimension"`
	// MaxShapeBlocks caps the voxels one shape or box request may cover.
	MaxShapeBlocks      int  `yaml:"max_shape_blocks" json:"max_shape_blocks"`
	TemplateCompression bool `yaml:"template_compression" json:"template_compression"`

	World WorldBounds `yaml:"world" json:"world"`
}

type WorldBounds struct {
	MinY int `yaml:"min_y" json:"min_y"`
	MaxY int `yaml:"max_y" json:"max_y"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		TickRateHz:          20,
		MaxCachedChanges:    50,
		BlocksPerTick:       64,
		MaxShapeDimension:   256,
		MaxShapeBlocks:      1 << 21,
		TemplateCompression: true,
		World:               WorldBounds{MinY: -64, MaxY: 319},
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.MaxCachedChanges <= 0 {
		return fmt.Errorf("max_cached_changes must be positive")
	}
	if t.BlocksPerTick <= 0 {
		return fmt.Errorf("blocks_per_tick must be positive")
	}
	if t.MaxShapeDimension <= 0 {
		return fmt.Errorf("max_shape_dimension must be positive")
	}
	if t.MaxShapeBlocks <= 0 {
		return fmt.Errorf("max_shape_blocks must be positive")
	}
	if t.World.MaxY < t.World.MinY {
		return fmt.Errorf("world.max_y below world.min_y")
	}
	return nil
}

// Load reads path on top of Defaults, so a partial file only overrides the keys
// it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Source holds the live tuning. Readers always see a complete value; Reload
// swaps it atomically and keeps the previous one on error.
type Source struct {
	path string
	cur  atomic.Pointer[Tuning]
}

func NewSource(path string, initial Tuning) *Source {
	s := &Source{path: path}
	s.cur.Store(&initial)
	return s
}

func (s *Source) Get() Tuning {
	return *s.cur.Load()
}

func (s *Source) Path() string { return s.path }

func (s *Source) Reload() (Tuning, error) {
	if s.path == "" {
		return s.Get(), fmt.Errorf("tuning: no path to reload from")
	}
	t, err := Load(s.path)
	if err != nil {
		return s.Get(), err
	}
	s.cur.Store(&t)
	return t, nil
}

func (s *Source) MaxCachedChanges() int { return s.Get().MaxCachedChanges }
func (s *Source) BlocksPerTick() int    { return s.Get().BlocksPerTick }
