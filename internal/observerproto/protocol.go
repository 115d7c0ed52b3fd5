package observerproto

import (
	"fmt"

	"minotaur.dev/internal/encoding"
	"minotaur.dev/internal/maze"
)

// Version is the observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe  = "SUBSCRIBE"
	TypePosition   = "POSITION"
	TypeChunk      = "CHUNK"
	TypeChunkEvict = "CHUNK_EVICT"
	TypeProgress   = "PROGRESS"
	TypeError      = "ERROR"
)

// Chunk payload encodings.
const (
	// EncodingDump is the textual chunk dump, jitter offsets included.
	EncodingDump = "DUMP"
	// EncodingRLE is base64(varint (mask, run) pairs) of the wall masks in
	// node index order. Offsets are not carried.
	EncodingRLE = "RLE"
)

const (
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrBusy       = "E_BUSY"
)

// Client -> Server. First message on the observer WS connection. Pos is the
// initial world position; without it the observer holds no chunks.
type SubscribeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Pos             *[3]float32 `json:"pos,omitempty"`
}

// Client -> Server. Moves the observer.
type PositionMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float32 `json:"pos"`
}

// HTTP response for GET /v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string     `json:"protocol_version"`
	MazeID          string     `json:"maze_id"`
	Algorithm       string     `json:"algorithm,omitempty"`
	Generated       bool       `json:"generated"`
	Stage           string     `json:"stage,omitempty"`
	Fraction        float32    `json:"fraction"`
	MazeParams      MazeParams `json:"maze_params"`
}

type MazeParams struct {
	ChunkSize        int     `json:"chunk_size"`
	ChunksX          int     `json:"chunks_x"`
	ChunksY          int     `json:"chunks_y"`
	PathWidth        float32 `json:"path_width"`
	PathSpread       float32 `json:"path_spread"`
	PathHeight       float32 `json:"path_height"`
	Seed             int64   `json:"seed"`
	Start            [2]int  `json:"start"`
	UpdateIntervalMs int     `json:"update_interval_ms"`
	UnloadPadding    float32 `json:"unload_padding"`
	ChunkEncoding    string  `json:"chunk_encoding"`
}

// Server -> Client. A chunk entered the observer's range.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
	Size            int    `json:"size"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
}

// Server -> Client. Evict a chunk from the client cache.
type ChunkEvictMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CX              int    `json:"cx"`
	CY              int    `json:"cy"`
}

// Server -> Client. Generation lifecycle.
type ProgressMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	MazeID          string  `json:"maze_id"`
	Stage           string  `json:"stage"`
	Fraction        float32 `json:"fraction"`
	Text            string  `json:"text,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

func NewChunkEvict(p maze.Pos) ChunkEvictMsg {
	return ChunkEvictMsg{Type: TypeChunkEvict, ProtocolVersion: Version, CX: p.X, CY: p.Y}
}

// EncodeChunk packs a chunk snapshot for the wire.
func EncodeChunk(s maze.ChunkSnapshot, enc string) (ChunkMsg, error) {
	msg := ChunkMsg{Type: TypeChunk, ProtocolVersion: Version, CX: s.Pos.X, CY: s.Pos.Y, Size: s.Size, Encoding: enc}
	switch enc {
	case EncodingDump:
		msg.Data = s.Dump()
	case EncodingRLE:
		msg.Data = encoding.EncodeRLE(s.WallMasks())
	default:
		return ChunkMsg{}, fmt.Errorf("unknown chunk encoding %q", enc)
	}
	return msg, nil
}

// DecodeWalls returns the wall mask of every node of the chunk in node
// index order, whatever the encoding.
func (m ChunkMsg) DecodeWalls() ([]byte, error) {
	switch m.Encoding {
	case EncodingDump:
		c, err := maze.ParseChunk(m.Data, m.Size)
		if err != nil {
			return nil, err
		}
		if c.Pos() != maze.P(m.CX, m.CY) {
			return nil, fmt.Errorf("chunk dump for %s sent as (%d, %d)", c.Pos(), m.CX, m.CY)
		}
		return c.WallMasks(), nil
	case EncodingRLE:
		return encoding.DecodeRLE(m.Data, m.Size*m.Size)
	}
	return nil, fmt.Errorf("unknown chunk encoding %q", m.Encoding)
}
