package wsapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// newTestConnPair upgrades a real HTTP connection to a WebSocket, wraps
// the server side in a bare *Conn, and runs handle against it
// synchronously so assertions can read back whatever handle sent via
// c.send over the client side of the same connection.
func newTestConnPair(t *testing.T, handle func(c *Conn)) (*websocket.Conn, func()) {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		c := &Conn{ws: ws, server: &Server{}}
		handle(c)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return client, func() {
		client.Close()
		srv.Close()
	}
}

func readEnvelope(t *testing.T, client *websocket.Conn) envelope {
	t.Helper()
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func readErrorMessage(t *testing.T, client *websocket.Conn) string {
	t.Helper()
	env := readEnvelope(t, client)
	if env.Type != "ERROR" {
		t.Fatalf("expected ERROR envelope, got type %q", env.Type)
	}
	var out errorOut
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		t.Fatalf("unmarshal errorOut: %v", err)
	}
	return out.Message
}

// TestHandleHandshake_InvalidChannelsRejected covers spec.md §6's
// "channels ∈ {1, 2} (else error)" rule: a handshake naming an
// out-of-range channel count must be rejected with an ERROR, not
// silently defaulted to stereo.
func TestHandleHandshake_InvalidChannelsRejected(t *testing.T) {
	payload, err := json.Marshal(handshakeIn{EncoderConfig: &encoderConfig{Codec: "pcm", Channels: 3}})
	if err != nil {
		t.Fatalf("marshal handshakeIn: %v", err)
	}
	env := envelope{Type: "HANDSHAKE", Payload: payload}

	client, closeFn := newTestConnPair(t, func(c *Conn) {
		c.handleHandshake(env)
	})
	defer closeFn()

	msg := readErrorMessage(t, client)
	if msg != "channels must be 1 or 2" {
		t.Fatalf("expected channels validation error, got %q", msg)
	}
}

// TestHandleHandshake_InvalidCodecRejected covers the codec branch of the
// same validation block: an unrecognized codec name must error out
// before any stream is created.
func TestHandleHandshake_InvalidCodecRejected(t *testing.T) {
	payload, err := json.Marshal(handshakeIn{Codec: "opus"})
	if err != nil {
		t.Fatalf("marshal handshakeIn: %v", err)
	}
	env := envelope{Type: "HANDSHAKE", Payload: payload}

	client, closeFn := newTestConnPair(t, func(c *Conn) {
		c.handleHandshake(env)
	})
	defer closeFn()

	msg := readErrorMessage(t, client)
	if !strings.Contains(msg, "opus") {
		t.Fatalf("expected codec error to mention the rejected name, got %q", msg)
	}
}

// TestHandleHandshake_MalformedPayloadRejected covers the JSON-decode
// failure path.
func TestHandleHandshake_MalformedPayloadRejected(t *testing.T) {
	env := envelope{Type: "HANDSHAKE", Payload: json.RawMessage(`{not valid json`)}

	client, closeFn := newTestConnPair(t, func(c *Conn) {
		c.handleHandshake(env)
	})
	defer closeFn()

	msg := readErrorMessage(t, client)
	if msg != "invalid HANDSHAKE payload" {
		t.Fatalf("expected malformed-payload error, got %q", msg)
	}
}
