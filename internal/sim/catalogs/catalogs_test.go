package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBlocks_AirFirstAndSorted(t *testing.T) {
	dir := t.TempDir()
	raw := `[{"id":"STONE","solid":true},{"id":"AIR"},{"id":"BRICK","solid":true}]`
	if err := os.WriteFile(filepath.Join(dir, "blocks.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"AIR", "BRICK", "STONE"}
	if len(c.Palette) != len(want) {
		t.Fatalf("palette=%v", c.Palette)
	}
	for i := range want {
		if c.Palette[i] != want[i] {
			t.Fatalf("palette=%v want %v", c.Palette, want)
		}
		if c.Index[want[i]] != uint16(i) {
			t.Fatalf("index[%s]=%d", want[i], c.Index[want[i]])
		}
	}
	if !c.Known("BRICK") || c.Known("GLASS") {
		t.Fatalf("Known mismatch")
	}
	if c.DefsDigest == "" || c.PaletteDigest == "" {
		t.Fatalf("expected digests")
	}
}

func TestLoadBlocks_RequiresAir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocks.json")
	if err := os.WriteFile(path, []byte(`[{"id":"STONE"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadBlocks(path); err == nil {
		t.Fatalf("expected missing AIR error")
	}
}

func TestDefaultHasGold(t *testing.T) {
	c := Default()
	if c.Palette[0] != Air {
		t.Fatalf("palette[0]=%q", c.Palette[0])
	}
	if !c.Known("GOLD_BLOCK") {
		t.Fatalf("default catalog must contain the default fill block")
	}
}

func TestShippedCatalog(t *testing.T) {
	c, err := Load("../../../configs")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Palette[0] != Air || !c.Known("GOLD_BLOCK") || !c.Known("STONE") {
		t.Fatalf("palette=%v", c.Palette)
	}
}
