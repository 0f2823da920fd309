// Package transport holds what the HTTP and websocket chunk transports share.
package transport

import (
	"time"

	"voxelstream.ai/internal/terrain"
)

const (
	HTTP      = "http"
	WebSocket = "ws"
)

// RequestEvent describes one served chunk request.
type RequestEvent struct {
	ID        string
	At        time.Time
	Transport string
	Key       string
	Coord     terrain.ChunkCoord
	Size      int
	Status    int
	Source    string
	Bytes     int
	Duration  time.Duration
	Err       string
}

// Observer receives request events. Implementations must not block.
type Observer interface {
	ObserveRequest(RequestEvent)
}
