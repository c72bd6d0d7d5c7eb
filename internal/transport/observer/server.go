package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"structurize.ai/internal/observerproto"
	"structurize.ai/internal/sim/engine"
)

// State is what the bootstrap endpoint reports.
type State struct {
	ServerID     string
	TickRateHz   int
	BlockPalette []string
	Stats        func() engine.Stats
	Sessions     func() int64
}

// Server streams completed edits to loopback observers. It is an
// engine.ChangeLogger; LogChange never blocks the tick loop and drops messages
// for observers that fall behind.
type Server struct {
	state State
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.RWMutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	actor  string
	blocks bool
	out    chan []byte
}

func NewServer(state State, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		state: state,
		log:   logger,
		subs:  map[string]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// SetStats and SetSessions fill in sources created after the server. Call
// them before serving.
func (s *Server) SetStats(f func() engine.Stats) { s.state.Stats = f }
func (s *Server) SetSessions(f func() int64)     { s.state.Sessions = f }

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) LogChange(e engine.ChangeLogEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subs) == 0 {
		return
	}
	var plain, full []byte
	for _, sub := range s.subs {
		if sub.actor != "" && sub.actor != e.Actor {
			continue
		}
		var b []byte
		if sub.blocks {
			if full == nil {
				full = encodeChange(e, true)
			}
			b = full
		} else {
			if plain == nil {
				plain = encodeChange(e, false)
			}
			b = plain
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func encodeChange(e engine.ChangeLogEntry, blocks bool) []byte {
	m := observerproto.ChangeMsg{
		Type:            "CHANGE",
		ProtocolVersion: observerproto.Version,
		Tick:            e.Tick,
		Actor:           e.Actor,
		Kind:            string(e.Kind),
		Undo:            e.Undo,
		Written:         e.Written,
		Captured:        e.Captured,
		Archived:        e.Archived,
		Evicted:         e.Evicted,
	}
	if blocks {
		m.Blocks = make([][3]int, 0, len(e.Changes))
		for _, c := range e.Changes {
			m.Blocks = append(m.Blocks, [3]int{c.Pos.X, c.Pos.Y, c.Pos.Z})
		}
	}
	b, _ := json.Marshal(m)
	return b
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			ServerID:        s.state.ServerID,
			TickRateHz:      s.state.TickRateHz,
			BlockPalette:    s.state.BlockPalette,
		}
		if s.state.Stats != nil {
			st := s.state.Stats()
			resp.Tick, resp.QueueDepth, resp.HistorySize = st.Tick, st.QueueDepth, st.HistorySize
		}
		if s.state.Sessions != nil {
			resp.Sessions = s.state.Sessions()
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 256)
		s.mu.Lock()
		s.subs[sid] = &subscriber{actor: strings.TrimSpace(sub.Actor), blocks: sub.Blocks, out: out}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sid)
			s.mu.Unlock()
		}()
		s.log.Printf("observer %s subscribed actor=%q", sid, sub.Actor)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Reader: observers only send close frames; a read error ends the session.
		go func() {
			defer cancel()
			for {
				_ = conn.SetReadDeadline(time.Time{})
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
