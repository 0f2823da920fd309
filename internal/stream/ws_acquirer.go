package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/terrain"
)

var ErrSessionClosed = errors.New("ws session closed")

type wsResult struct {
	grid []byte
	err  error
}

// WSAcquirer multiplexes chunk requests over one websocket session. The
// generation params are fixed by HELLO; Acquire only varies the coordinate.
type WSAcquirer struct {
	conn    *websocket.Conn
	params  protocol.ChunkParams
	size    int
	session string

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan wsResult
	err     error
	done    chan struct{}
}

// DialWS opens a session at url (e.g. "ws://127.0.0.1:8080/v1/ws") for p.
func DialWS(ctx context.Context, url, clientName string, p terrain.Params, maxInflight int) (*WSAcquirer, error) {
	p = p.Clamp()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      clientName,
		Params:          protocol.ParamsFrom(p),
		MaxInflight:     maxInflight,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		_ = json.Unmarshal(msg, &e)
		conn.Close()
		return nil, fmt.Errorf("server refused session: %s %s", e.Code, e.Message)
	}
	var w protocol.WelcomeMsg
	if base.Type != protocol.TypeWelcome || json.Unmarshal(msg, &w) != nil {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", base.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	a := &WSAcquirer{
		conn:    conn,
		params:  hello.Params,
		size:    w.ChunkSize,
		session: w.SessionID,
		pending: map[uint64]chan wsResult{},
		done:    make(chan struct{}),
	}
	go a.readLoop()
	return a, nil
}

func (a *WSAcquirer) SessionID() string { return a.session }

func (a *WSAcquirer) Acquire(ctx context.Context, p terrain.Params) (terrain.Grid, error) {
	p = p.Clamp()
	fail := func(err error) (terrain.Grid, error) {
		return nil, &AcquireError{Coord: p.Coord, Err: err}
	}
	if protocol.ParamsFrom(p) != a.params {
		return fail(errors.New("params differ from the session's HELLO"))
	}

	id := a.nextID.Add(1)
	ch := make(chan wsResult, 1)
	a.mu.Lock()
	if a.err != nil {
		err := a.err
		a.mu.Unlock()
		return fail(err)
	}
	a.pending[id] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
	}()

	req := protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ID: id, CX: p.Coord.X, CY: p.Coord.Y, CZ: p.Coord.Z}
	a.writeMu.Lock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := a.conn.WriteJSON(req)
	a.writeMu.Unlock()
	if err != nil {
		return fail(err)
	}

	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fail(r.err)
		}
		g, err := terrain.GridFromBytes(r.grid, a.size)
		if err != nil {
			return fail(err)
		}
		return g, nil
	}
}

func (a *WSAcquirer) readLoop() {
	defer close(a.done)
	for {
		kind, msg, err := a.conn.ReadMessage()
		if err != nil {
			a.shutdown(err)
			return
		}
		if kind == websocket.BinaryMessage {
			id, grid, err := protocol.DecodeChunkFrame(msg)
			if err != nil {
				continue
			}
			a.deliver(id, wsResult{grid: grid})
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeError {
			continue
		}
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil || e.ID == 0 {
			continue
		}
		a.deliver(e.ID, wsResult{err: fmt.Errorf("%s: %s", e.Code, e.Message)})
	}
}

func (a *WSAcquirer) deliver(id uint64, r wsResult) {
	a.mu.Lock()
	ch, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()
	if ok {
		ch <- r
	}
}

func (a *WSAcquirer) shutdown(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	for id, ch := range a.pending {
		ch <- wsResult{err: a.err}
		delete(a.pending, id)
	}
}

// Close ends the session; pending Acquire calls fail.
func (a *WSAcquirer) Close() error {
	a.writeMu.Lock()
	_ = a.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	a.writeMu.Unlock()
	err := a.conn.Close()
	<-a.done
	return err
}
