package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"structurize.ai/internal/protocol"
	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/shape"
)

type options struct {
	Kind      string
	Width     int
	Length    int
	Height    int
	Frequency int
	Block     string
	Hollow    bool
	Zstd      bool
	MaxDim    int
}

func main() {
	var o options
	configDir := flag.String("configs", "", "config directory with blocks.json (optional; default catalog otherwise)")
	outPath := flag.String("out", "", "output file (default stdout)")
	flag.StringVar(&o.Kind, "shape", "CUBE", "shape kind: "+kindList())
	flag.IntVar(&o.Width, "width", 5, "x extent")
	flag.IntVar(&o.Length, "length", 5, "z extent")
	flag.IntVar(&o.Height, "height", 5, "y extent (sphere diameter, wave period)")
	flag.IntVar(&o.Frequency, "frequency", 1, "wave amplitude")
	flag.StringVar(&o.Block, "block", "", "fill block (default "+shape.DefaultBlock+")")
	flag.BoolVar(&o.Hollow, "hollow", false, "hollow shell")
	flag.BoolVar(&o.Zstd, "zstd", false, "write a zstd frame instead of JSON")
	flag.IntVar(&o.MaxDim, "max_dim", 256, "largest accepted dimension")
	flag.Parse()

	cats := catalogs.Default()
	if strings.TrimSpace(*configDir) != "" {
		c, err := catalogs.Load(*configDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load catalogs:", err)
			os.Exit(1)
		}
		cats = c
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create:", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	n, err := generate(w, o, cats)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Fprintf(os.Stderr, "%s: %d blocks\n", strings.ToUpper(o.Kind), n)
}

// generate rasterizes o and writes it as a TEMPLATE message. It returns the
// number of blocks written.
func generate(w io.Writer, o options, cats *catalogs.BlockCatalog) (int, error) {
	kind, ok := shape.ParseKind(o.Kind)
	if !ok {
		return 0, fmt.Errorf("unknown shape %q (want %s)", o.Kind, kindList())
	}
	if o.MaxDim > 0 && (o.Width > o.MaxDim || o.Length > o.MaxDim || o.Height > o.MaxDim) {
		return 0, fmt.Errorf("dimension exceeds %d", o.MaxDim)
	}
	if o.Block != "" && !cats.Known(o.Block) {
		return 0, fmt.Errorf("unknown block %q", o.Block)
	}
	t, err := shape.Rasterize(shape.Params{
		Kind:      kind,
		Width:     o.Width,
		Length:    o.Length,
		Height:    o.Height,
		Frequency: o.Frequency,
		Block:     o.Block,
		Hollow:    o.Hollow,
	})
	if err != nil {
		return 0, err
	}
	msg := protocol.EncodeTemplate("", string(kind), t)

	if o.Zstd {
		b, err := protocol.EncodeFrame(msg)
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
		return t.Len(), nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(msg); err != nil {
		return 0, err
	}
	return t.Len(), nil
}

func kindList() string {
	ks := shape.Kinds()
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return strings.Join(out, "|")
}
