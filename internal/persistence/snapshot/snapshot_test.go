package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/grid"
	"structurize.ai/internal/sim/ops"
	"structurize.ai/internal/sim/template"
)

func TestWriteReadRestore(t *testing.T) {
	src := grid.NewStore(catalogs.Default(), -64, 255)
	fill := ops.Fill("p1", template.Vec3i{X: -3, Y: 0, Z: -3}, template.Vec3i{X: 20, Y: 4, Z: 2}, "STONE")
	for !fill.Advance(src, 4096) {
	}
	src.SetBlock(template.Vec3i{X: 1, Y: 1, Z: 1}, "MARBLE")

	dir := t.TempDir()
	path := PathFor(dir, 77)
	if err := WriteSnapshot(path, Capture(src, "srv", 77)); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	snap, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if snap.Header.Tick != 77 || snap.Header.ServerID != "srv" || snap.MinY != -64 {
		t.Fatalf("header=%+v miny=%d", snap.Header, snap.MinY)
	}

	dst := grid.NewStore(catalogs.Default(), snap.MinY, snap.MaxY)
	if err := Restore(dst, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if dst.Digest() != src.Digest() {
		t.Fatalf("digest mismatch")
	}
	if got := dst.BlockAt(template.Vec3i{X: 1, Y: 1, Z: 1}); got != "MARBLE" {
		t.Fatalf("got %q", got)
	}
}

func TestRestoreRejects(t *testing.T) {
	s := grid.NewStore(nil, 0, 15)
	if err := Restore(s, SnapshotV1{Header: Header{Version: 99}}); err == nil {
		t.Fatalf("expected version error")
	}
	bad := SnapshotV1{Header: Header{Version: Version}, Palette: []string{catalogs.Air}, Chunks: []ChunkV1{{RLE: "!!"}}}
	if err := Restore(s, bad); err == nil {
		t.Fatalf("expected rle error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if Latest(dir) != "" {
		t.Fatalf("empty dir should have no snapshot")
	}
	for _, name := range []string{"9.snap.zst", "120.snap.zst", "30.snap.zst", "x.snap.zst", "500.snap.zst.tmp"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := filepath.Base(Latest(dir)); got != "120.snap.zst" {
		t.Fatalf("latest=%s", got)
	}
}
