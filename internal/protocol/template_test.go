package protocol

import (
	"testing"

	"structurize.ai/internal/sim/shape"
	"structurize.ai/internal/sim/template"
)

func TestTemplateWireRoundTrip(t *testing.T) {
	tm, err := shape.Rasterize(shape.Params{Kind: shape.KindBowl, Height: 10, Block: "GLASS", Hollow: true})
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	tm.Add(template.Vec3i{X: 100}, "STONE", nil)

	m := EncodeTemplate("R1", string(shape.KindBowl), tm)
	if len(m.Palette) != 2 || m.Palette[0] != "GLASS" || m.Palette[1] != "STONE" {
		t.Fatalf("palette=%v", m.Palette)
	}
	if m.Max[0] != 100 {
		t.Fatalf("bounds max=%v", m.Max)
	}

	frame, err := EncodeFrame(m)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	var back TemplateMsg
	if err := DecodeFrame(frame, &back); err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	got, err := DecodeTemplate(back)
	if err != nil {
		t.Fatalf("DecodeTemplate: %v", err)
	}
	if got.Len() != tm.Len() || got.Size != tm.Size {
		t.Fatalf("len=%d size=%v want len=%d size=%v", got.Len(), got.Size, tm.Len(), tm.Size)
	}
	for i, e := range tm.Entries {
		if got.Entries[i].Pos != e.Pos || got.Entries[i].Block != e.Block {
			t.Fatalf("entry %d: %+v want %+v", i, got.Entries[i], e)
		}
	}
}

func TestEncodeEmptyTemplate(t *testing.T) {
	tm, _ := shape.Rasterize(shape.Params{Kind: shape.KindRandom})
	m := EncodeTemplate("R1", string(shape.KindRandom), tm)
	if m.Palette == nil || m.Blocks == nil || len(m.Blocks) != 0 {
		t.Fatalf("empty template must encode as empty arrays: %+v", m)
	}
}

func TestDecodeTemplateRejectsBadInput(t *testing.T) {
	if _, err := DecodeTemplate(TemplateMsg{Palette: []string{"STONE"}, Blocks: [][4]int{{0, 0, 0, 1}}}); err == nil {
		t.Fatalf("expected palette index error")
	}
	if _, err := DecodeTemplate(TemplateMsg{Palette: []string{"STONE"}, Blocks: [][4]int{{0, 0, 0, 0}, {0, 0, 0, 0}}}); err == nil {
		t.Fatalf("expected duplicate position error")
	}
	if err := DecodeFrame([]byte("not zstd"), &TemplateMsg{}); err == nil {
		t.Fatalf("expected frame error")
	}
}
