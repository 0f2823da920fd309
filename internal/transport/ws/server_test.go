package ws

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/chunkcache"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/terrain"
)

func startServer(t *testing.T, gen func(terrain.Params) terrain.Grid) *httptest.Server {
	t.Helper()
	c := chunkcache.New(chunkcache.Options{Generate: gen})
	srv := httptest.NewServer(NewServer(c, Options{}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func hello(t *testing.T, conn *websocket.Conn, params protocol.ChunkParams) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      "test",
		Params:          params,
		MaxInflight:     4,
	}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if w.Type != protocol.TypeWelcome || w.SessionID == "" {
		t.Fatalf("welcome=%+v", w)
	}
	return w
}

func smallParams() terrain.Params {
	p := terrain.DefaultParams()
	p.Size = 4
	return p
}

func TestServer_StreamsChunks(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	w := hello(t, conn, protocol.ParamsFrom(smallParams()))
	if w.ChunkSize != 4 || w.MaxInflight != 4 {
		t.Fatalf("welcome=%+v want size 4 inflight 4", w)
	}

	if err := conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ID: 42, CX: 1, CZ: -1}); err != nil {
		t.Fatalf("write req: %v", err)
	}
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("kind=%d want binary: %s", kind, msg)
	}
	id, grid, err := protocol.DecodeChunkFrame(msg)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if id != 42 {
		t.Fatalf("id=%d want=42", id)
	}
	want := terrain.Synthesize(smallParams().WithCoord(terrain.ChunkCoord{X: 1, Z: -1})).Bytes()
	if !bytes.Equal(grid, want) {
		t.Fatalf("grid differs from synthesized chunk")
	}
}

func TestServer_MissingParamsUseDefaults(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	raw := `{"type":"HELLO","protocol_version":"1.0","params":{"seed":"seed","size":8}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if w.ChunkSize != 8 || w.MaxInflight != defaultMaxInflight {
		t.Fatalf("welcome=%+v", w)
	}
	_ = conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ID: 1})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	_, grid, _ := protocol.DecodeChunkFrame(msg)
	p := terrain.DefaultParams()
	p.Size = 8
	if !bytes.Equal(grid, terrain.Synthesize(p).Bytes()) {
		t.Fatalf("omitted params did not fall back to defaults")
	}
}

func TestServer_GenerationFailureIsError(t *testing.T) {
	srv := startServer(t, func(terrain.Params) terrain.Grid { panic("boom") })
	conn := dial(t, srv)
	hello(t, conn, protocol.ParamsFrom(smallParams()))

	_ = conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ID: 9})
	var e protocol.ErrorMsg
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if e.Type != protocol.TypeError || e.ID != 9 || e.Code != protocol.ErrInternal {
		t.Fatalf("error=%+v", e)
	}
}

func TestServer_InvalidRequestIsReported(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	hello(t, conn, protocol.ParamsFrom(smallParams()))

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CHUNK_REQ","cx":0}`))
	var e protocol.ErrorMsg
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%s want=%s", e.Code, protocol.ErrProtoBadRequest)
	}
}

func TestServer_RejectsMissingHello(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	_ = conn.WriteJSON(protocol.ChunkReqMsg{Type: protocol.TypeChunkReq, ID: 1})
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !asCloseError(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	srv := startServer(t, nil)
	conn := dial(t, srv)
	b, _ := json.Marshal(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: "0.1",
		Params:          protocol.ParamsFrom(smallParams()),
	})
	_ = conn.WriteMessage(websocket.TextMessage, b)
	var e protocol.ErrorMsg
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if e.Code != protocol.ErrProtoVersion {
		t.Fatalf("code=%s want=%s", e.Code, protocol.ErrProtoVersion)
	}
}

func asCloseError(err error, out **websocket.CloseError) bool {
	ce, ok := err.(*websocket.CloseError)
	if ok {
		*out = ce
	}
	return ok
}
