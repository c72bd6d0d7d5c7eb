package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/template"
)

const ChunkSize = 16

type Vec3i = template.Vec3i

type ChunkKey struct {
	CX, CY, CZ int
}

type Chunk struct {
	Key    ChunkKey
	Blocks []uint16 // len = 16*16*16, x + z*16 + y*256

	dirty bool
	hash  [32]byte
}

func index(x, y, z int) int {
	return x + z*ChunkSize + y*ChunkSize*ChunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 {
	return c.Blocks[index(x, y, z)]
}

func (c *Chunk) Set(x, y, z int, b uint16) {
	i := index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Store is an in-memory voxel world. Unloaded chunks read as AIR. Block names
// are interned into a palette seeded from the block catalog; AIR is id 0.
type Store struct {
	MinY, MaxY int

	mu      sync.RWMutex
	chunks  map[ChunkKey]*Chunk
	palette []string
	index   map[string]uint16
}

func NewStore(cat *catalogs.BlockCatalog, minY, maxY int) *Store {
	if cat == nil {
		cat = catalogs.Default()
	}
	s := &Store{
		MinY:   minY,
		MaxY:   maxY,
		chunks: map[ChunkKey]*Chunk{},
		index:  map[string]uint16{},
	}
	for _, name := range cat.Palette {
		s.intern(name)
	}
	return s
}

func (s *Store) InBounds(pos Vec3i) bool {
	return pos.Y >= s.MinY && pos.Y <= s.MaxY
}

func (s *Store) BlockAt(pos Vec3i) string {
	if !s.InBounds(pos) {
		return catalogs.Air
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.chunks[chunkKey(pos)]
	if ch == nil {
		return catalogs.Air
	}
	lx, ly, lz := local(pos)
	return s.palette[ch.Get(lx, ly, lz)]
}

// SetBlock writes block at pos. Writes outside the vertical bounds are dropped.
func (s *Store) SetBlock(pos Vec3i, block string) {
	if !s.InBounds(pos) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.intern(block)
	k := chunkKey(pos)
	ch := s.chunks[k]
	if ch == nil {
		if id == 0 {
			return
		}
		ch = &Chunk{Key: k, Blocks: make([]uint16, ChunkSize*ChunkSize*ChunkSize)}
		s.chunks[k] = ch
	}
	lx, ly, lz := local(pos)
	ch.Set(lx, ly, lz, id)
}

func (s *Store) intern(name string) uint16 {
	if id, ok := s.index[name]; ok {
		return id
	}
	id := uint16(len(s.palette))
	s.palette = append(s.palette, name)
	s.index[name] = id
	return id
}

func (s *Store) LoadedChunkKeys() []ChunkKey {
	s.mu.RLock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		if keys[i].CY != keys[j].CY {
			return keys[i].CY < keys[j].CY
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

// Digest hashes all non-empty chunks in key order. Palette ids depend on the
// order blocks were first written, so digests are only comparable within one
// store.
func (s *Store) Digest() string {
	keys := s.LoadedChunkKeys()
	s.mu.Lock()
	defer s.mu.Unlock()
	h := sha256.New()
	var tmp [8]byte
	for _, k := range keys {
		ch := s.chunks[k]
		if ch == nil || ch.empty() {
			continue
		}
		for _, v := range []int{k.CX, k.CY, k.CZ} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
			h.Write(tmp[:])
		}
		d := ch.Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Chunk) empty() bool {
	for _, b := range c.Blocks {
		if b != 0 {
			return false
		}
	}
	return true
}

func chunkKey(p Vec3i) ChunkKey {
	return ChunkKey{CX: floorDiv(p.X, ChunkSize), CY: floorDiv(p.Y, ChunkSize), CZ: floorDiv(p.Z, ChunkSize)}
}

func local(p Vec3i) (int, int, int) {
	return mod(p.X, ChunkSize), mod(p.Y, ChunkSize), mod(p.Z, ChunkSize)
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// ChunkData is a copy of one chunk's palette ids.
type ChunkData struct {
	Key    ChunkKey
	Blocks []uint16
}

// Export copies the palette and every non-empty chunk in key order.
func (s *Store) Export() (palette []string, chunks []ChunkData) {
	keys := s.LoadedChunkKeys()
	s.mu.RLock()
	defer s.mu.RUnlock()
	palette = append([]string(nil), s.palette...)
	chunks = make([]ChunkData, 0, len(keys))
	for _, k := range keys {
		ch := s.chunks[k]
		if ch == nil || ch.empty() {
			continue
		}
		chunks = append(chunks, ChunkData{Key: k, Blocks: append([]uint16(nil), ch.Blocks...)})
	}
	return palette, chunks
}

// Import replaces the store's contents. Ids in chunks index palette; they are
// re-interned so the store palette keeps its catalog prefix.
func (s *Store) Import(palette []string, chunks []ChunkData) error {
	const size = ChunkSize * ChunkSize * ChunkSize
	s.mu.Lock()
	defer s.mu.Unlock()

	remap := make([]uint16, len(palette))
	for i, name := range palette {
		remap[i] = s.intern(name)
	}
	next := make(map[ChunkKey]*Chunk, len(chunks))
	for _, cd := range chunks {
		if len(cd.Blocks) != size {
			return fmt.Errorf("chunk %v: %d blocks, want %d", cd.Key, len(cd.Blocks), size)
		}
		ch := &Chunk{Key: cd.Key, Blocks: make([]uint16, size), dirty: true}
		for i, id := range cd.Blocks {
			if int(id) >= len(remap) {
				return fmt.Errorf("chunk %v: palette id %d out of range", cd.Key, id)
			}
			ch.Blocks[i] = remap[id]
		}
		next[cd.Key] = ch
	}
	s.chunks = next
	return nil
}
