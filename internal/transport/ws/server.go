package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"structurize.ai/internal/protocol"
	"structurize.ai/internal/sim/catalogs"
	"structurize.ai/internal/sim/engine"
	"structurize.ai/internal/sim/ops"
	"structurize.ai/internal/sim/shape"
	"structurize.ai/internal/sim/template"
	"structurize.ai/internal/sim/tuning"
)

// Engine is the part of the edit engine a session talks to. Both request
// methods are safe to call from connection goroutines.
type Engine interface {
	RequestSubmit(ctx context.Context, op ops.Operation) error
	RequestUndo(ctx context.Context, actor string) error
	Stats() engine.Stats
}

type Config struct {
	ServerID uuid.UUID
	Blocks   *catalogs.BlockCatalog
	// Tuning returns the live tuning; it is read per request.
	Tuning func() tuning.Tuning

	RequestTimeout time.Duration
}

type Server struct {
	eng Engine
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader

	sessions atomic.Int64
}

func NewServer(eng Engine, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.Tuning == nil {
		def := tuning.Defaults()
		cfg.Tuning = func() tuning.Tuning { return def }
	}
	if cfg.Blocks == nil {
		cfg.Blocks = catalogs.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Server{
		eng: eng,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected players.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

type frame struct {
	binary bool
	data   []byte
}

// session is owned by the connection's reader goroutine.
type session struct {
	id     string
	player string
	zstd   bool
	out    chan frame

	tmpl *template.Template
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		s.log.Printf("session %s joined player=%s zstd=%v", sess.id, sess.player, sess.zstd)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-sess.out:
					typ := websocket.TextMessage
					if f.binary {
						typ = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(typ, f.data); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(ctx, sess, msg)
			if ctx.Err() != nil {
				break
			}
		}
		s.log.Printf("session %s left player=%s", sess.id, sess.player)
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}

	tune := s.cfg.Tuning()
	sess := &session{
		id:     uuid.NewString(),
		player: strings.TrimSpace(hello.PlayerName),
		zstd:   hello.Capabilities.Zstd && tune.TemplateCompression,
		out:    make(chan frame, 16),
	}
	kinds := shape.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		ServerID:        s.cfg.ServerID.String(),
		Limits: protocol.Limits{
			TickRateHz:        tune.TickRateHz,
			BlocksPerTick:     ops.ClampBlocksPerTick(tune.BlocksPerTick),
			MaxCachedChanges:  tune.MaxCachedChanges,
			MaxShapeDimension: tune.MaxShapeDimension,
			MaxShapeBlocks:    tune.MaxShapeBlocks,
		},
		Shapes: names,
		Catalogs: protocol.CatalogDigests{
			BlockPalette: protocol.DigestRef{Digest: s.cfg.Blocks.PaletteDigest, Count: len(s.cfg.Blocks.Palette)},
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func (s *Server) handleMessage(ctx context.Context, sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.ack(ctx, sess, "", protocol.ErrProtoBadRequest, "invalid json")
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	switch base.Type {
	case protocol.TypeShape, protocol.TypePlace, protocol.TypeFill, protocol.TypeReplace, protocol.TypeRemove, protocol.TypeUndo:
	default:
		s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, "unknown type "+base.Type)
		return
	}
	if err := protocol.Validate(base.Type, msg); err != nil {
		s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		return
	}

	switch base.Type {
	case protocol.TypeShape:
		var m protocol.ShapeMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		s.handleShape(ctx, sess, m)
	case protocol.TypePlace:
		var m protocol.PlaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		if sess.tmpl == nil {
			s.ack(ctx, sess, m.ReqID, protocol.ErrNoTemplate, "request a SHAPE first")
			return
		}
		s.submit(ctx, sess, m.ReqID, ops.PlaceTemplate(sess.player, sess.tmpl, vec(m.Anchor)))
	case protocol.TypeFill:
		var m protocol.FillMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		if code, why := s.checkBox(m.Min, m.Max, m.Block); code != "" {
			s.ack(ctx, sess, m.ReqID, code, why)
			return
		}
		s.submit(ctx, sess, m.ReqID, ops.Fill(sess.player, vec(m.Min), vec(m.Max), m.Block))
	case protocol.TypeReplace:
		var m protocol.ReplaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		if code, why := s.checkBox(m.Min, m.Max, m.From, m.To); code != "" {
			s.ack(ctx, sess, m.ReqID, code, why)
			return
		}
		s.submit(ctx, sess, m.ReqID, ops.Replace(sess.player, vec(m.Min), vec(m.Max), m.From, m.To))
	case protocol.TypeRemove:
		var m protocol.RemoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			s.ack(ctx, sess, base.ReqID, protocol.ErrProtoBadRequest, err.Error())
			return
		}
		if code, why := s.checkBox(m.Min, m.Max, m.Block); code != "" {
			s.ack(ctx, sess, m.ReqID, code, why)
			return
		}
		s.submit(ctx, sess, m.ReqID, ops.Remove(sess.player, vec(m.Min), vec(m.Max), m.Block))
	case protocol.TypeUndo:
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		err := s.eng.RequestUndo(rctx, sess.player)
		s.ack(ctx, sess, base.ReqID, codeFor(err), errMessage(err))
	}
}

func (s *Server) handleShape(ctx context.Context, sess *session, m protocol.ShapeMsg) {
	kind, ok := shape.ParseKind(m.Shape)
	if !ok {
		s.ack(ctx, sess, m.ReqID, protocol.ErrBadRequest, "unknown shape "+m.Shape)
		return
	}
	tune := s.cfg.Tuning()
	max := tune.MaxShapeDimension
	if m.Width > max || m.Length > max || m.Height > max || m.Frequency > max || m.Frequency < -max {
		s.ack(ctx, sess, m.ReqID, protocol.ErrTooLarge, fmt.Sprintf("dimensions are limited to %d", max))
		return
	}
	if m.Block != "" && !s.cfg.Blocks.Known(m.Block) {
		s.ack(ctx, sess, m.ReqID, protocol.ErrUnknownBlock, m.Block)
		return
	}
	p := shape.Params{
		Kind:      kind,
		Width:     m.Width,
		Length:    m.Length,
		Height:    m.Height,
		Frequency: m.Frequency,
		Block:     m.Block,
		Hollow:    m.Hollow,
	}
	if n := shape.EstimateBlocks(p); n > uint64(tune.MaxShapeBlocks) {
		s.ack(ctx, sess, m.ReqID, protocol.ErrTooLarge, fmt.Sprintf("shape would cover up to %d blocks, limit %d", n, tune.MaxShapeBlocks))
		return
	}
	tm, err := shape.Rasterize(p)
	if err != nil {
		code := protocol.ErrInternal
		if errors.Is(err, shape.ErrInvalidParams) {
			code = protocol.ErrBadRequest
		}
		s.ack(ctx, sess, m.ReqID, code, err.Error())
		return
	}
	sess.tmpl = tm
	s.deliver(ctx, sess, protocol.EncodeTemplate(m.ReqID, string(kind), tm))
}

// deliver sends a template, as a zstd binary frame when the session asked for it.
func (s *Server) deliver(ctx context.Context, sess *session, m protocol.TemplateMsg) {
	if sess.zstd {
		b, err := protocol.EncodeFrame(m)
		if err != nil {
			s.ack(ctx, sess, m.ReqID, protocol.ErrInternal, err.Error())
			return
		}
		send(ctx, sess, frame{binary: true, data: b})
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		s.ack(ctx, sess, m.ReqID, protocol.ErrInternal, err.Error())
		return
	}
	send(ctx, sess, frame{data: b})
}

func (s *Server) checkBox(min, max [3]int, blocks ...string) (code, why string) {
	tune := s.cfg.Tuning()
	lim := uint64(tune.MaxShapeDimension)
	budget := uint64(tune.MaxShapeBlocks)
	vol := uint64(1)
	for _, e := range ops.BoxEdges(vec(min), vec(max)) {
		if e > lim {
			return protocol.ErrTooLarge, fmt.Sprintf("box edges are limited to %d", lim)
		}
		if vol > budget/e {
			return protocol.ErrTooLarge, fmt.Sprintf("box volume is limited to %d blocks", budget)
		}
		vol *= e
	}
	for _, b := range blocks {
		if !s.cfg.Blocks.Known(b) {
			return protocol.ErrUnknownBlock, b
		}
	}
	return "", ""
}

func (s *Server) submit(ctx context.Context, sess *session, reqID string, op ops.Operation) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	err := s.eng.RequestSubmit(rctx, op)
	s.ack(ctx, sess, reqID, codeFor(err), errMessage(err))
}

func (s *Server) ack(ctx context.Context, sess *session, reqID, code, message string) {
	st := s.eng.Stats()
	a := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Accepted:        code == "",
		Code:            code,
		Message:         message,
		ServerTick:      st.Tick,
		QueueDepth:      st.QueueDepth,
	}
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	send(ctx, sess, frame{data: b})
}

func send(ctx context.Context, sess *session, f frame) {
	select {
	case sess.out <- f:
	case <-ctx.Done():
	}
}

func codeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrNothingToUndo):
		return protocol.ErrNothingToUndo
	case errors.Is(err, engine.ErrClosed):
		return protocol.ErrSessionClosed
	default:
		return protocol.ErrInternal
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func vec(a [3]int) template.Vec3i {
	return template.Vec3i{X: a[0], Y: a[1], Z: a[2]}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
