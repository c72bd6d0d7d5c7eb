package log

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/ops"
)

func readJSONL(t *testing.T, path string) []engine.ChangeLogEntry {
	t.Helper()
	var out []engine.ChangeLogEntry
	err := ReadChanges(path, func(e engine.ChangeLogEntry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadChanges: %v", err)
	}
	return out
}

func TestChangeLoggerWritesCompressedJSONL(t *testing.T) {
	dir := t.TempDir()
	l := NewChangeLogger(dir)

	l.LogChange(engine.ChangeLogEntry{Tick: 1, Actor: "p1", Kind: ops.KindFill, Written: 8, Archived: true})
	l.LogChange(engine.ChangeLogEntry{Tick: 4, Actor: "p1", Kind: ops.KindUndo, Undo: true, Written: 8})

	path := l.w.Path()
	if path == "" || !strings.HasSuffix(path, ".jsonl.zst") {
		t.Fatalf("path=%q", path)
	}
	if filepath.Dir(path) != filepath.Join(dir, "changes") {
		t.Fatalf("unexpected dir %q", filepath.Dir(path))
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got := readJSONL(t, path)
	if len(got) != 2 {
		t.Fatalf("entries=%d want 2", len(got))
	}
	if got[0].Kind != ops.KindFill || got[0].Written != 8 || !got[0].Archived {
		t.Fatalf("first=%+v", got[0])
	}
	if !got[1].Undo || got[1].Tick != 4 {
		t.Fatalf("second=%+v", got[1])
	}
	if l.WriteErrors() != 0 {
		t.Fatalf("write errors=%d", l.WriteErrors())
	}
}

func TestWriterPathEmptyBeforeWrite(t *testing.T) {
	w := NewJSONLZstdWriter(t.TempDir(), "x")
	if w.Path() != "" {
		t.Fatalf("path=%q", w.Path())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestListChangeFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"changes-2026-01-02-03.jsonl.zst", "changes-2026-01-01-23.jsonl.zst", "other.txt", "changes-x.jsonl"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got, err := ListChangeFiles(dir)
	if err != nil {
		t.Fatalf("ListChangeFiles: %v", err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "changes-2026-01-01-23.jsonl.zst" {
		t.Fatalf("files=%v", got)
	}
}

func TestReadChangesStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewChangeLogger(dir)
	for i := 0; i < 3; i++ {
		l.LogChange(engine.ChangeLogEntry{Tick: uint64(i), Actor: "p", Kind: ops.KindRemove})
	}
	path := l.w.Path()
	_ = l.Close()

	stop := errors.New("stop")
	n := 0
	err := ReadChanges(path, func(engine.ChangeLogEntry) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestReadChangesRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "changes-bad.jsonl.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc, _ := zstd.NewWriter(f)
	_, _ = enc.Write([]byte("{not json}\n"))
	_ = enc.Close()
	_ = f.Close()

	if err := ReadChanges(path, func(engine.ChangeLogEntry) error { return nil }); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
