package wsbinding

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/agent-uri/agentcore/problem"
)

// gorillaConn adapts *websocket.Conn to the Conn interface, pinning every
// frame to a text message (the wire format is always JSON).
type gorillaConn struct {
	ws *websocket.Conn
}

func (g *gorillaConn) ReadMessage() ([]byte, error) {
	_, data, err := g.ws.ReadMessage()
	return data, err
}

func (g *gorillaConn) WriteMessage(data []byte) error {
	return g.ws.WriteMessage(websocket.TextMessage, data)
}

func (g *gorillaConn) Close() error { return g.ws.Close() }

// Dial opens a production WebSocket connection to url (a "wss://" or
// "ws://" endpoint) and, once the handshake has succeeded, returns a Binding
// over it in the OPEN state.
func Dial(ctx context.Context, url string, header http.Header) (*Binding, error) {
	dialer := websocket.Dialer{}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, problem.Wrap(problem.NetworkError, "failed to dial WebSocket endpoint", err).WithInstance(url)
	}
	return New(&gorillaConn{ws: ws}), nil
}
