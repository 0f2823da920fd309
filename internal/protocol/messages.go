package protocol

import (
	"encoding/binary"
	"fmt"

	"voxelstream.ai/internal/terrain"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ClientName      string      `json:"client_name"`
	Params          ChunkParams `json:"params"`
	MaxInflight     int         `json:"max_inflight,omitempty"`
}

// ChunkParams are the session-wide generation inputs. Coordinates come with
// each CHUNK_REQ.
type ChunkParams struct {
	Size           int     `json:"size"`
	Seed           string  `json:"seed"`
	Base           int     `json:"base"`
	SurfaceScale   float64 `json:"surface_scale"`
	CavesScale     float64 `json:"caves_scale"`
	CavesThreshold float64 `json:"caves_threshold"`
	GrassDepth     int     `json:"grass_depth"`
	DirtDepth      int     `json:"dirt_depth"`
}

func ParamsFrom(p terrain.Params) ChunkParams {
	return ChunkParams{
		Size:           p.Size,
		Seed:           p.Seed,
		Base:           int(p.Base),
		SurfaceScale:   p.SurfaceScale,
		CavesScale:     p.CavesScale,
		CavesThreshold: p.CavesThreshold,
		GrassDepth:     p.GrassDepth,
		DirtDepth:      p.DirtDepth,
	}
}

// Terrain converts to generation params at chunk c. Out-of-range values are
// clamped the same way the HTTP endpoint clamps them.
func (cp ChunkParams) Terrain(c terrain.ChunkCoord) terrain.Params {
	base := cp.Base
	if base < 0 {
		base = 0
	}
	if base >= terrain.NumBlocks {
		base = terrain.NumBlocks - 1
	}
	return terrain.Params{
		Size:           cp.Size,
		Seed:           cp.Seed,
		Base:           terrain.Block(base),
		Coord:          c,
		SurfaceScale:   cp.SurfaceScale,
		CavesScale:     cp.CavesScale,
		CavesThreshold: cp.CavesThreshold,
		GrassDepth:     cp.GrassDepth,
		DirtDepth:      cp.DirtDepth,
	}.Clamp()
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ChunkSize       int    `json:"chunk_size"`
	MaxInflight     int    `json:"max_inflight"`
}

// CHUNK_REQ (client -> server)
type ChunkReqMsg struct {
	Type string `json:"type"`
	ID   uint64 `json:"id"`
	CX   int    `json:"cx"`
	CY   int    `json:"cy"`
	CZ   int    `json:"cz"`
}

// ERROR (server -> client). ID is zero for session-level errors.
type ErrorMsg struct {
	Type    string `json:"type"`
	ID      uint64 `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(id uint64, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ID: id, Code: code, Message: msg}
}

// ChunkFrameHeader is the length of the request id prefix on binary chunk frames.
const ChunkFrameHeader = 8

// EncodeChunkFrame prefixes grid with the big-endian request id.
func EncodeChunkFrame(id uint64, grid []byte) []byte {
	b := make([]byte, ChunkFrameHeader+len(grid))
	binary.BigEndian.PutUint64(b, id)
	copy(b[ChunkFrameHeader:], grid)
	return b
}

func DecodeChunkFrame(b []byte) (id uint64, grid []byte, err error) {
	if len(b) < ChunkFrameHeader {
		return 0, nil, fmt.Errorf("chunk frame: %d bytes is shorter than header", len(b))
	}
	return binary.BigEndian.Uint64(b), b[ChunkFrameHeader:], nil
}
