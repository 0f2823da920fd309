// Package ws streams chunk grids over a websocket session.
//
// A session opens with HELLO, which fixes the generation params for the whole
// connection. The server answers WELCOME, then every CHUNK_REQ gets either a
// binary frame (request id + grid bytes) or an ERROR carrying the same id.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/terrain"
	"voxelstream.ai/internal/transport"
)

const (
	defaultMaxInflight = 8
	maxInflightCap     = 64

	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second
)

type Getter interface {
	Get(ctx context.Context, p terrain.Params) (chunkcache.Entry, error)
}

type Options struct {
	Logger   *log.Logger
	Observer transport.Observer
	// Defaults fill HELLO params the client leaves out.
	Defaults *terrain.Params
	// MaxInflight caps what a client may ask for in HELLO.
	MaxInflight int
}

type Stats struct {
	Sessions      int64  `json:"sessions"`
	TotalSessions uint64 `json:"total_sessions"`
	Chunks        uint64 `json:"chunks"`
	Errors        uint64 `json:"errors"`
}

type Server struct {
	cache       Getter
	log         *log.Logger
	observer    transport.Observer
	defaults    terrain.Params
	maxInflight int

	upgrader websocket.Upgrader

	sessions      atomic.Int64
	totalSessions atomic.Uint64
	chunks        atomic.Uint64
	errors        atomic.Uint64
}

func NewServer(cache Getter, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	def := terrain.DefaultParams()
	if opts.Defaults != nil {
		def = *opts.Defaults
	}
	maxInflight := opts.MaxInflight
	if maxInflight <= 0 || maxInflight > maxInflightCap {
		maxInflight = maxInflightCap
	}
	return &Server{
		cache:       cache,
		log:         logger,
		observer:    opts.Observer,
		defaults:    def,
		maxInflight: maxInflight,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:      s.sessions.Load(),
		TotalSessions: s.totalSessions.Load(),
		Chunks:        s.chunks.Load(),
		Errors:        s.errors.Load(),
	}
}

type frame struct {
	kind int
	data []byte
}

type session struct {
	id       string
	params   protocol.ChunkParams
	inflight chan struct{}
	out      chan frame
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
		s.totalSessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var writer sync.WaitGroup
		writer.Add(1)
		go func() {
			defer writer.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(f.kind, f.data); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		var work sync.WaitGroup
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			kind, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if kind != websocket.TextMessage {
				s.send(ctx, sess, protocol.NewError(0, protocol.ErrProtoBadRequest, "binary frames are server-to-client only"))
				continue
			}
			base, err := protocol.Validate(msg)
			if err != nil {
				s.send(ctx, sess, protocol.NewError(0, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			if base.Type != protocol.TypeChunkReq {
				s.send(ctx, sess, protocol.NewError(0, protocol.ErrProtoBadRequest, "unexpected "+base.Type))
				continue
			}
			var req protocol.ChunkReqMsg
			if err := json.Unmarshal(msg, &req); err != nil {
				s.send(ctx, sess, protocol.NewError(0, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			select {
			case sess.inflight <- struct{}{}:
			default:
				s.errors.Add(1)
				s.send(ctx, sess, protocol.NewError(req.ID, protocol.ErrRateLimit, "too many chunk requests in flight"))
				continue
			}
			work.Add(1)
			go func() {
				defer work.Done()
				defer func() { <-sess.inflight }()
				s.serveChunk(ctx, sess, req)
			}()
		}
		cancel()
		work.Wait()
		writer.Wait()
	}
}

func (s *Server) serveChunk(ctx context.Context, sess *session, req protocol.ChunkReqMsg) {
	start := time.Now()
	p := sess.params.Terrain(terrain.ChunkCoord{X: req.CX, Y: req.CY, Z: req.CZ})
	ev := transport.RequestEvent{
		ID:        uuid.NewString(),
		At:        start,
		Transport: transport.WebSocket,
		Key:       p.Key(),
		Coord:     p.Coord,
		Size:      p.Size,
	}
	defer func() {
		ev.Duration = time.Since(start)
		if s.observer != nil {
			s.observer.ObserveRequest(ev)
		}
	}()

	e, err := s.cache.Get(ctx, p)
	if err != nil {
		s.errors.Add(1)
		if !errors.Is(err, context.Canceled) {
			s.log.Printf("session %s chunk %s: %v", sess.id, p.Coord, err)
		}
		ev.Status = http.StatusInternalServerError
		ev.Err = err.Error()
		s.send(ctx, sess, protocol.NewError(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	s.chunks.Add(1)
	ev.Status = http.StatusOK
	ev.Source = string(e.Source)
	ev.Bytes = len(e.Data)
	s.sendFrame(ctx, sess, frame{kind: websocket.BinaryMessage, data: protocol.EncodeChunkFrame(req.ID, e.Data)})
}

func (s *Server) send(ctx context.Context, sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.sendFrame(ctx, sess, frame{kind: websocket.TextMessage, data: b})
}

func (s *Server) sendFrame(ctx context.Context, sess *session, f frame) {
	select {
	case sess.out <- f:
	case <-ctx.Done():
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError(0, protocol.ErrProtoVersion, "unsupported protocol_version "+base.ProtocolVersion))
		closeWith(conn, "bad protocol_version")
		return nil
	}

	hello := protocol.HelloMsg{Params: protocol.ParamsFrom(s.defaults)}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}

	inflight := hello.MaxInflight
	if inflight <= 0 {
		inflight = defaultMaxInflight
	}
	if inflight > s.maxInflight {
		inflight = s.maxInflight
	}

	sess := &session{
		id:       uuid.NewString(),
		params:   hello.Params,
		inflight: make(chan struct{}, inflight),
		out:      make(chan frame, inflight),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		ChunkSize:       terrain.ClampSize(hello.Params.Size),
		MaxInflight:     inflight,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	name := hello.ClientName
	if name == "" {
		name = "client"
	}
	s.log.Printf("session %s open client=%s seed=%q size=%d inflight=%d", sess.id, name, hello.Params.Seed, welcome.ChunkSize, inflight)
	return sess
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
