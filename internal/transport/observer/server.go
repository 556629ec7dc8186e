package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nanofab.ai/internal/observerproto"
	"nanofab.ai/internal/protocol"
	"nanofab.ai/internal/sim/world"
)

// Server streams committed rounds of one run to read-only websocket
// observers. It never blocks the round loop: slow sessions lose rounds.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.Mutex
	boot     observerproto.BootstrapResponse
	sessions map[string]*session
	result   []byte
}

type session struct {
	out          chan []byte
	includeCells atomic.Bool
}

func NewServer(boot observerproto.BootstrapResponse, logger *log.Logger) *Server {
	boot.ProtocolVersion = observerproto.Version
	return &Server{
		log:      logger,
		boot:     boot,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only anyway
		},
	}
}

// Handler mounts the bootstrap and websocket endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observe/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/v1/observe/ws", s.WSHandler())
	return mux
}

// Pump forwards rounds from the world's sink until in is closed or ctx ends.
func (s *Server) Pump(ctx context.Context, in <-chan world.RoundLogEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			s.PublishRound(e)
		}
	}
}

func (s *Server) PublishRound(e world.RoundLogEntry) {
	msg := observerproto.RoundMsg{
		Type:            observerproto.TypeRound,
		ProtocolVersion: observerproto.Version,
		RunID:           e.WorldID,
		Round:           e.Round,
		Energy:          e.Energy,
		Harmonics:       e.Harmonics,
		Bots:            e.Bots,
		FullCells:       e.FullCells,
		Halted:          e.Halted,
	}
	for _, in := range e.Instructions {
		msg.Instructions = append(msg.Instructions, observerproto.RoundInstruction{BotID: in.BotID, Text: in.Text})
	}
	plain, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var withCells []byte

	s.mu.Lock()
	defer s.mu.Unlock()
	s.boot.Round = e.Round + 1
	for _, sess := range s.sessions {
		b := plain
		if sess.includeCells.Load() && len(e.Cells) > 0 {
			if withCells == nil {
				for _, c := range e.Cells {
					msg.Cells = append(msg.Cells, observerproto.Cell{Pos: c.Pos, Full: c.Full})
				}
				withCells, _ = json.Marshal(msg)
			}
			b = withCells
		}
		sendLatest(sess.out, b)
	}
}

// PublishResult sends the final report to every session and keeps it for
// observers that subscribe afterwards.
func (s *Server) PublishResult(r protocol.Report) {
	b, err := json.Marshal(observerproto.ResultMsg{
		Type:            observerproto.TypeResult,
		ProtocolVersion: observerproto.Version,
		Report:          r,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = b
	for _, sess := range s.sessions {
		sendLatest(sess.out, b)
	}
}

// Sessions is the number of subscribed observers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
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
		s.mu.Lock()
		resp := s.boot
		s.mu.Unlock()

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
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		sess := &session{out: make(chan []byte, 256)}
		sess.includeCells.Store(sub.IncludeCells)

		s.mu.Lock()
		s.sessions[sid] = sess
		if s.result != nil {
			sendLatest(sess.out, s.result)
		}
		s.mu.Unlock()
		if s.log != nil {
			s.log.Printf("observer %s subscribed from %s", sid, r.RemoteAddr)
		}
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sid)
			s.mu.Unlock()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				sess.includeCells.Store(sub.IncludeCells)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(b []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == observerproto.TypeSubscribe && sub.ProtocolVersion == observerproto.Version
}

// sendLatest drops the message when the session queue is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
	default:
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
