package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const Air = "AIR"

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID    string `json:"id"`
	Solid bool   `json:"solid"`
}

// Known reports whether name is a block of this catalog.
func (c *BlockCatalog) Known(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Index[name]
	return ok
}

// Load reads <configDir>/blocks.json.
func Load(configDir string) (*BlockCatalog, error) {
	return LoadBlocks(filepath.Join(configDir, "blocks.json"))
}

func LoadBlocks(path string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c, err := build(defs)
	if err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	c.DefsDigest = sha256Hex(raw)
	return c, nil
}

// Default is the built-in catalog used when no blocks.json is configured.
func Default() *BlockCatalog {
	defs := []BlockDef{
		{ID: Air},
		{ID: "STONE", Solid: true},
		{ID: "DIRT", Solid: true},
		{ID: "GRASS", Solid: true},
		{ID: "SAND", Solid: true},
		{ID: "GLASS", Solid: true},
		{ID: "PLANK", Solid: true},
		{ID: "BRICK", Solid: true},
		{ID: "WATER"},
		{ID: "GOLD_BLOCK", Solid: true},
	}
	c, _ := build(defs)
	b, _ := json.Marshal(defs)
	c.DefsDigest = sha256Hex(b)
	return c
}

func build(defs []BlockDef) (*BlockCatalog, error) {
	out := &BlockCatalog{Defs: map[string]BlockDef{}}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("empty id")
		}
		out.Defs[d.ID] = d
	}
	// AIR is always palette id 0.
	if _, ok := out.Defs[Air]; !ok {
		return nil, fmt.Errorf("missing %s", Air)
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		if id != Air {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{Air}, ids...)

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
