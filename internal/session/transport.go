package session

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one client connection carrying text messages.
type Transport interface {
	// Receive blocks until the client sends a message or the connection fails.
	Receive() (string, error)
	Send(msg string) error
	Close() error
}

// Pinger is implemented by transports that need keepalive traffic.
type Pinger interface {
	Ping() error
}

// wsTransport adapts a gorilla connection. Receive may run concurrently with
// Send and Ping, but Send and Ping must come from a single goroutine.
type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	readWait  time.Duration
}

func newWSTransport(conn *websocket.Conn, opts Options) *wsTransport {
	t := &wsTransport{
		conn:      conn,
		writeWait: opts.WriteWait,
		readWait:  opts.PingInterval + opts.WriteWait,
	}
	conn.SetReadLimit(maxMessageSize)
	if opts.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(t.readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.readWait))
		})
	}
	return t
}

func (t *wsTransport) Receive() (string, error) {
	for {
		typ, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (t *wsTransport) Send(msg string) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (t *wsTransport) Ping() error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame and tears the connection down.
func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
	// ErrCloseSent means the close handshake already answered the client.
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logf("close frame to %s: %v", t.conn.RemoteAddr(), err)
	}
	return t.conn.Close()
}
