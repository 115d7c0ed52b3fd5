package host

import (
	"encoding/json"
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"minotaur.dev/internal/lifecycle"
	"minotaur.dev/internal/maze"
	"minotaur.dev/internal/observerproto"
	"minotaur.dev/internal/stream"
)

// ObserverJoinRequest registers an observer session. It receives:
//   - generation progress (ProgressOut, latest wins)
//   - chunk loads and evictions (DataOut, never dropped; a full channel
//     ends the session)
//
// Both channels are closed by the host when the session ends.
type ObserverJoinRequest struct {
	SessionID   string
	ProgressOut chan []byte
	DataOut     chan []byte

	// Optional starting position. Without one the observer holds no chunks.
	Pos *mgl32.Vec3
}

type ObserverMoveRequest struct {
	SessionID string
	Pos       mgl32.Vec3
}

var errSessionClosed = errors.New("session closed")

type session struct {
	id          string
	progressOut chan []byte
	dataOut     chan []byte
	encoding    string

	pos    mgl32.Vec3
	hasPos bool

	mgr    *stream.Manager
	closed bool
	cause  string
}

func (s *session) Position() (mgl32.Vec3, bool) { return s.pos, s.hasPos }

// Render implements stream.Renderer by shipping the chunk to the client.
func (s *session) Render(snap maze.ChunkSnapshot) (stream.Handle, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	msg, err := observerproto.EncodeChunk(snap, s.encoding)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if !trySend(s.dataOut, b) {
		s.cause = "data channel full"
		return nil, errors.New(s.cause)
	}
	return chunkHandle{s: s, p: snap.Pos}, nil
}

type chunkHandle struct {
	s *session
	p maze.Pos
}

func (h chunkHandle) Dispose() {
	s := h.s
	if s.closed {
		return
	}
	b, _ := json.Marshal(observerproto.NewChunkEvict(h.p))
	if !trySend(s.dataOut, b) {
		s.cause = "data channel full"
		s.mgr.Disable(s.cause)
	}
}

func (s *session) reason() string {
	if s.cause != "" {
		return s.cause
	}
	return "streaming disabled"
}

func (h *Host) handleJoin(req ObserverJoinRequest) {
	if req.SessionID == "" || req.ProgressOut == nil || req.DataOut == nil {
		return
	}
	if _, ok := h.sessions[req.SessionID]; ok {
		h.dropSession(req.SessionID)
	}
	s := &session{
		id:          req.SessionID,
		progressOut: req.ProgressOut,
		dataOut:     req.DataOut,
		encoding:    h.cfg.Stream.ChunkEncoding,
	}
	if req.Pos != nil {
		s.pos, s.hasPos = *req.Pos, true
	}
	s.mgr = stream.NewManager(h.maze, h.layout, s, h.cfg.StreamConfig(), h.sink, h.logger)
	h.sessions[s.id] = s

	st := h.progress.Status()
	if st.MazeID != "" {
		sendLatest(s.progressOut, progressBytes(st))
	}
}

func (h *Host) handleMove(req ObserverMoveRequest) {
	s := h.sessions[req.SessionID]
	if s == nil {
		return
	}
	s.pos, s.hasPos = req.Pos, true
}

func (h *Host) handleLeave(id string) {
	if _, ok := h.sessions[id]; ok {
		h.dropSession(id)
	}
}

// dropSession stops the session's streaming, releases its chunks and
// closes its channels. A pass still queued for it winds down on its next
// step because the manager is disabled.
func (h *Host) dropSession(id string) {
	s := h.sessions[id]
	delete(h.sessions, id)
	s.closed = true
	if s.cause == "" {
		s.cause = "observer left"
	}
	s.mgr.Disable(s.cause)
	s.mgr.Clear()
	close(s.progressOut)
	close(s.dataOut)
}

func (h *Host) closeSessions() {
	for _, id := range h.sessionIDs() {
		h.dropSession(id)
	}
}

func (h *Host) broadcastProgress(e maze.Event) {
	switch e.Kind {
	case maze.EventChunkLoad, maze.EventChunkEvict:
		return
	}
	if len(h.sessions) == 0 {
		return
	}
	st := h.progress.Status()
	st.Text = lifecycle.Describe(e)
	b := progressBytes(st)
	for _, id := range h.sessionIDs() {
		sendLatest(h.sessions[id].progressOut, b)
	}
}

func progressBytes(st lifecycle.Status) []byte {
	b, _ := json.Marshal(observerproto.ProgressMsg{
		Type:            observerproto.TypeProgress,
		ProtocolVersion: observerproto.Version,
		MazeID:          st.MazeID,
		Stage:           st.Stage,
		Fraction:        st.Fraction,
		Text:            st.Text,
	})
	return b
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
