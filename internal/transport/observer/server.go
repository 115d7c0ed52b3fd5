package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"minotaur.dev/internal/host"
	"minotaur.dev/internal/observerproto"
)

const (
	DefaultPositionRate  = 20
	DefaultPositionBurst = 5
)

type Server struct {
	host *host.Host
	log  *log.Logger

	// PositionRate caps POSITION updates per second per connection.
	PositionRate  rate.Limit
	PositionBurst int
	// AllowRemote accepts non-loopback clients.
	AllowRemote bool

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	limited  atomic.Uint64
}

func NewServer(h *host.Host, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		host:          h,
		log:           logger,
		PositionRate:  DefaultPositionRate,
		PositionBurst: DefaultPositionBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// RateLimited is the number of POSITION updates refused so far.
func (s *Server) RateLimited() uint64 { return s.limited.Load() }

func (s *Server) allowed(r *http.Request) bool {
	return s.AllowRemote || isLoopbackRemote(r.RemoteAddr)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.host.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
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
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		progressOut := make(chan []byte, 8)
		dataOut := make(chan []byte, 4096)
		errOut := make(chan []byte, 4)

		joinReq := host.ObserverJoinRequest{
			SessionID:   sid,
			ProgressOut: progressOut,
			DataOut:     dataOut,
		}
		if sub.Pos != nil {
			p := mgl32.Vec3(*sub.Pos)
			joinReq.Pos = &p
		}
		select {
		case s.host.Join() <- joinReq:
		default:
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer func() {
			select {
			case s.host.Leave() <- sid:
			default:
				// Host loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The host closes our channels when it drops the
		// session; closing the conn then unblocks the reader.
		writeErr := make(chan error, 1)
		go func() {
			write := func(b []byte) error {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				return conn.WriteMessage(websocket.TextMessage, b)
			}
			for {
				var b []byte
				var ok bool
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok = <-dataOut:
				case b, ok = <-progressOut:
				case b = <-errOut:
					ok = true
				}
				if !ok {
					_ = conn.Close()
					writeErr <- nil
					return
				}
				if err := write(b); err != nil {
					writeErr <- err
					return
				}
			}
		}()

		limiter := rate.NewLimiter(s.PositionRate, s.PositionBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			pos, code, reason := parseMove(msg)
			if code != "" {
				sendErr(errOut, code, reason)
				continue
			}
			if !limiter.Allow() {
				s.limited.Add(1)
				sendErr(errOut, observerproto.ErrRateLimit, "position updates too fast")
				continue
			}
			select {
			case s.host.Move() <- host.ObserverMoveRequest{SessionID: sid, Pos: pos}:
			default:
				// Drop updates under load; the next one supersedes it.
			}
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// parseMove accepts POSITION, and SUBSCRIBE re-sent with a position.
func parseMove(msg []byte) (pos mgl32.Vec3, code, reason string) {
	var hdr struct {
		Type            string `json:"type"`
		ProtocolVersion string `json:"protocol_version"`
	}
	if err := json.Unmarshal(msg, &hdr); err != nil {
		return pos, observerproto.ErrBadRequest, "bad json"
	}
	if hdr.ProtocolVersion != observerproto.Version {
		return pos, observerproto.ErrBadRequest, "unsupported protocol_version"
	}
	switch hdr.Type {
	case observerproto.TypePosition:
		var m observerproto.PositionMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return pos, observerproto.ErrBadRequest, "bad POSITION"
		}
		return mgl32.Vec3(m.Pos), "", ""
	case observerproto.TypeSubscribe:
		var m observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &m); err != nil || m.Pos == nil {
			return pos, observerproto.ErrBadRequest, "SUBSCRIBE update needs pos"
		}
		return mgl32.Vec3(*m.Pos), "", ""
	}
	return pos, observerproto.ErrBadRequest, "unknown message type: " + hdr.Type
}

func sendErr(ch chan []byte, code, msg string) {
	b, _ := json.Marshal(observerproto.NewError(code, msg))
	select {
	case ch <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	addr := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		addr = h
	}
	addr = strings.TrimPrefix(addr, "[")
	addr = strings.TrimSuffix(addr, "]")
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}
