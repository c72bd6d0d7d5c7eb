package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"structurize.ai/internal/sim/template"
)

// EncodeTemplate builds a TEMPLATE message. Block names are palette-indexed in
// first-seen order; entries keep template order.
func EncodeTemplate(reqID, shape string, t *template.Template) TemplateMsg {
	m := TemplateMsg{
		Type:            TypeTemplate,
		ProtocolVersion: Version,
		ReqID:           reqID,
		Shape:           shape,
		Palette:         []string{},
		Blocks:          [][4]int{},
	}
	if t == nil {
		return m
	}
	m.Size = [3]int{t.Size.X, t.Size.Y, t.Size.Z}
	if lo, hi, ok := t.Bounds(); ok {
		m.Min = [3]int{lo.X, lo.Y, lo.Z}
		m.Max = [3]int{hi.X, hi.Y, hi.Z}
	}
	if p := t.Palette(); len(p) > 0 {
		m.Palette = p
	}
	idx := make(map[string]int, len(m.Palette))
	for i, b := range m.Palette {
		idx[b] = i
	}
	m.Blocks = make([][4]int, 0, len(t.Entries))
	for _, e := range t.Entries {
		m.Blocks = append(m.Blocks, [4]int{e.Pos.X, e.Pos.Y, e.Pos.Z, idx[e.Block]})
	}
	return m
}

// DecodeTemplate rebuilds a template from a TEMPLATE message.
func DecodeTemplate(m TemplateMsg) (*template.Template, error) {
	t := template.New()
	t.Size = template.Vec3i{X: m.Size[0], Y: m.Size[1], Z: m.Size[2]}
	for i, b := range m.Blocks {
		if b[3] < 0 || b[3] >= len(m.Palette) {
			return nil, fmt.Errorf("block %d: palette index %d out of range", i, b[3])
		}
		if !t.Add(template.Vec3i{X: b[0], Y: b[1], Z: b[2]}, m.Palette[b[3]], nil) {
			return nil, fmt.Errorf("block %d: duplicate position %v", i, b[:3])
		}
	}
	return t, nil
}

var (
	zencOnce sync.Once
	zenc     *zstd.Encoder
	zdecOnce sync.Once
	zdec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	zencOnce.Do(func() {
		zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zenc
}

func decoder() *zstd.Decoder {
	zdecOnce.Do(func() {
		zdec, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	})
	return zdec
}

// EncodeFrame marshals v as JSON and compresses it into a single zstd frame.
func EncodeFrame(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return encoder().EncodeAll(b, make([]byte, 0, len(b)/4)), nil
}

func DecodeFrame(frame []byte, v any) error {
	b, err := decoder().DecodeAll(frame, nil)
	if err != nil {
		return fmt.Errorf("zstd frame: %w", err)
	}
	return json.Unmarshal(b, v)
}
