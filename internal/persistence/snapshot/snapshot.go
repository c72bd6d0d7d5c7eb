package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"structurize.ai/internal/sim/encoding"
	"structurize.ai/internal/sim/grid"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	ServerID string `json:"server_id"`
	Tick     uint64 `json:"tick"`
	SavedAt  string `json:"saved_at"`
}

// SnapshotV1 is the voxel store at one tick.
type SnapshotV1 struct {
	Header Header `json:"header"`

	MinY int `json:"min_y"`
	MaxY int `json:"max_y"`

	// Palette is indexed by the ids inside each chunk's RLE.
	Palette []string  `json:"palette"`
	Chunks  []ChunkV1 `json:"chunks"`
}

type ChunkV1 struct {
	CX  int    `json:"cx"`
	CY  int    `json:"cy"`
	CZ  int    `json:"cz"`
	RLE string `json:"rle"`
}

// Capture copies the store into a snapshot.
func Capture(s *grid.Store, serverID string, tick uint64) SnapshotV1 {
	palette, chunks := s.Export()
	snap := SnapshotV1{
		Header: Header{
			Version:  Version,
			ServerID: serverID,
			Tick:     tick,
			SavedAt:  time.Now().UTC().Format(time.RFC3339),
		},
		MinY:    s.MinY,
		MaxY:    s.MaxY,
		Palette: palette,
		Chunks:  make([]ChunkV1, 0, len(chunks)),
	}
	for _, c := range chunks {
		snap.Chunks = append(snap.Chunks, ChunkV1{CX: c.Key.CX, CY: c.Key.CY, CZ: c.Key.CZ, RLE: encoding.EncodeRLE(c.Blocks)})
	}
	return snap
}

// Restore loads snap into s, replacing its contents.
func Restore(s *grid.Store, snap SnapshotV1) error {
	if snap.Header.Version != Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	chunks := make([]grid.ChunkData, 0, len(snap.Chunks))
	for _, c := range snap.Chunks {
		ids, err := encoding.DecodeRLE(c.RLE, grid.ChunkSize*grid.ChunkSize*grid.ChunkSize)
		if err != nil {
			return fmt.Errorf("chunk %d,%d,%d: %w", c.CX, c.CY, c.CZ, err)
		}
		chunks = append(chunks, grid.ChunkData{Key: grid.ChunkKey{CX: c.CX, CY: c.CY, CZ: c.CZ}, Blocks: ids})
	}
	return s.Import(snap.Palette, chunks)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Written next to the target and renamed so a crash never leaves a torn file.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Header line is for humans and tooling; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// PathFor is where the snapshot for tick lives under dir.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

// Latest returns the highest-tick snapshot in dir, or "" when there is none.
func Latest(dir string) string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
