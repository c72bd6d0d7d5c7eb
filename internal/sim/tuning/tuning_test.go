package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	writeFile(t, path, "max_cached_changes: 7\nblocks_per_tick: 128\n")

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MaxCachedChanges != 7 || got.BlocksPerTick != 128 {
		t.Fatalf("got max=%d bpt=%d", got.MaxCachedChanges, got.BlocksPerTick)
	}
	def := Defaults()
	if got.TickRateHz != def.TickRateHz || got.World != def.World {
		t.Fatalf("unset keys should keep defaults: %+v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	writeFile(t, path, "max_cached_changes: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
	writeFile(t, path, "max_shape_blocks: -5\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected max_shape_blocks validation error")
	}
	writeFile(t, path, "tick_rate_hz: [\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestSourceReloadIsLive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	writeFile(t, path, "max_cached_changes: 3\n")
	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	src := NewSource(path, initial)
	if src.MaxCachedChanges() != 3 {
		t.Fatalf("max=%d", src.MaxCachedChanges())
	}

	writeFile(t, path, "max_cached_changes: 9\n")
	if _, err := src.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if src.MaxCachedChanges() != 9 {
		t.Fatalf("max=%d after reload", src.MaxCachedChanges())
	}

	writeFile(t, path, "max_cached_changes: -1\n")
	if _, err := src.Reload(); err == nil {
		t.Fatalf("expected reload error")
	}
	if src.MaxCachedChanges() != 9 {
		t.Fatalf("failed reload must keep previous value, got %d", src.MaxCachedChanges())
	}
}

func TestSourceWithoutPath(t *testing.T) {
	src := NewSource("", Defaults())
	if _, err := src.Reload(); err == nil {
		t.Fatalf("expected error without path")
	}
	if src.BlocksPerTick() != Defaults().BlocksPerTick {
		t.Fatalf("bpt=%d", src.BlocksPerTick())
	}
}

func TestShippedTuningMatchesDefaults(t *testing.T) {
	got, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("configs/tuning.yaml=%+v defaults=%+v", got, Defaults())
	}
}
