package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"structurize.ai/internal/protocol"
	"structurize.ai/internal/sim/shape"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name")
		rounds = flag.Int("rounds", 0, "shape/place rounds (0 = until interrupted)")
		every  = flag.Duration("every", 2*time.Second, "delay between rounds")
		seed   = flag.Int64("seed", 0, "rng seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	b := &builder{conn: conn, log: logger, rng: rand.New(rand.NewSource(*seed))}
	if err := b.hello(*name); err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	if err := b.run(ctx, *rounds, *every); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("run: %v", err)
	}
}

// builder requests a random shape, places it near the origin and undoes every
// third placement.
type builder struct {
	conn *websocket.Conn
	log  *log.Logger
	rng  *rand.Rand

	seq     int
	maxDim  int
	placed  int
	undone  int
	welcome protocol.WelcomeMsg
}

func (b *builder) hello(name string) error {
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      name,
		Capabilities:    protocol.HelloCapabilities{Zstd: true},
	}
	if err := b.conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}
	_, msg, err := b.conn.ReadMessage()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(msg, &b.welcome); err != nil {
		return err
	}
	if b.welcome.Type != protocol.TypeWelcome {
		return fmt.Errorf("expected WELCOME, got %s", b.welcome.Type)
	}
	b.maxDim = b.welcome.Limits.MaxShapeDimension
	b.log.Printf("WELCOME session=%s server=%s blocks_per_tick=%d", b.welcome.SessionID, b.welcome.ServerID, b.welcome.Limits.BlocksPerTick)
	return nil
}

func (b *builder) run(ctx context.Context, rounds int, every time.Duration) error {
	for i := 0; rounds == 0 || i < rounds; i++ {
		if err := b.round(); err != nil {
			return err
		}
		if rounds != 0 && i == rounds-1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
	return nil
}

func (b *builder) round() error {
	kinds := []shape.Kind{shape.KindCube, shape.KindSphere, shape.KindHalfSphere, shape.KindBowl, shape.KindWave, shape.KindWave3D}
	kind := kinds[b.rng.Intn(len(kinds))]
	dim := 3 + b.rng.Intn(6)
	if b.maxDim > 0 && dim > b.maxDim {
		dim = b.maxDim
	}

	b.seq++
	shapeID := fmt.Sprintf("S%d", b.seq)
	if err := b.conn.WriteJSON(protocol.ShapeMsg{
		Type:            protocol.TypeShape,
		ProtocolVersion: protocol.Version,
		ReqID:           shapeID,
		Shape:           string(kind),
		Width:           dim,
		Length:          dim,
		Height:          dim,
		Frequency:       1 + b.rng.Intn(3),
		Hollow:          b.rng.Intn(2) == 0,
	}); err != nil {
		return err
	}
	tmpl, err := b.readTemplate(shapeID)
	if err != nil {
		return err
	}

	anchor := [3]int{b.rng.Intn(64) - 32, 0, b.rng.Intn(64) - 32}
	placeID := fmt.Sprintf("P%d", b.seq)
	if err := b.conn.WriteJSON(protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version, ReqID: placeID, Anchor: anchor}); err != nil {
		return err
	}
	ack, err := b.readAck(placeID)
	if err != nil {
		return err
	}
	if !ack.Accepted {
		b.log.Printf("place rejected: %s %s", ack.Code, ack.Message)
		return nil
	}
	b.placed++
	b.log.Printf("placed %s size=%v blocks=%d at %v queue=%d", kind, tmpl.Size, len(tmpl.Blocks), anchor, ack.QueueDepth)

	if b.placed%3 == 0 {
		undoID := fmt.Sprintf("U%d", b.seq)
		if err := b.conn.WriteJSON(protocol.UndoMsg{Type: protocol.TypeUndo, ProtocolVersion: protocol.Version, ReqID: undoID}); err != nil {
			return err
		}
		ack, err := b.readAck(undoID)
		if err != nil {
			return err
		}
		if ack.Accepted {
			b.undone++
		}
		b.log.Printf("undo accepted=%v code=%s", ack.Accepted, ack.Code)
	}
	return nil
}

// readTemplate waits for the TEMPLATE answering reqID, in either framing.
func (b *builder) readTemplate(reqID string) (protocol.TemplateMsg, error) {
	var tm protocol.TemplateMsg
	typ, msg, err := b.conn.ReadMessage()
	if err != nil {
		return tm, err
	}
	if typ == websocket.BinaryMessage {
		if err := protocol.DecodeFrame(msg, &tm); err != nil {
			return tm, err
		}
	} else {
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			return tm, err
		}
		if base.Type == protocol.TypeAck {
			var ack protocol.AckMsg
			_ = json.Unmarshal(msg, &ack)
			return tm, fmt.Errorf("shape %s rejected: %s %s", reqID, ack.Code, ack.Message)
		}
		if err := json.Unmarshal(msg, &tm); err != nil {
			return tm, err
		}
	}
	if tm.ReqID != reqID {
		return tm, fmt.Errorf("template for %q, want %q", tm.ReqID, reqID)
	}
	return tm, nil
}

func (b *builder) readAck(reqID string) (protocol.AckMsg, error) {
	var ack protocol.AckMsg
	if err := b.conn.ReadJSON(&ack); err != nil {
		return ack, err
	}
	if ack.AckFor != reqID {
		return ack, fmt.Errorf("ack for %q, want %q", ack.AckFor, reqID)
	}
	return ack, nil
}
