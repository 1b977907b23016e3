// Package session connects remote clients to the router. Each client gets a
// pad on the grid; text messages it sends become status reports, and function
// buttons pressed while it is selected are pushed back to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/padmux/internal/monitoring"
	"github.com/banshee-data/padmux/internal/router"
)

var logf = monitoring.Component("session")

const maxMessageSize = 512

// Router is the part of *router.Router a session needs.
type Router interface {
	Register(ctx context.Context, out router.Outbox) (int, error)
	ClientMessage(ctx context.Context, id int, code string) error
	Unregister(ctx context.Context, id int) error
}

// Options tunes session I/O.
type Options struct {
	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration
	// WriteWait bounds every write to the client.
	WriteWait time.Duration
	// OutboxSize is the number of forwarded buttons buffered per session.
	OutboxSize int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		WriteWait:    10 * time.Second,
		OutboxSize:   16,
	}
}

// ErrClosed ends a session whose client went away.
var ErrClosed = errors.New("session: connection closed")

// Serve runs one session over t until the client disconnects, a write fails
// or ctx is done. The session is unregistered and t is closed before Serve
// returns.
func Serve(ctx context.Context, r Router, t Transport, name string, opts Options) error {
	out := router.NewOutbox(opts.OutboxSize)
	id, err := r.Register(ctx, out)
	if err != nil {
		t.Close()
		return fmt.Errorf("register %s: %w", name, err)
	}
	logf("%s joined as session %d", name, id)

	// Teardown must reach the device even when ctx is the reason we stop.
	cleanupCtx := context.WithoutCancel(ctx)

	readErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		readErr <- receive(ctx, r, t, id)
	}()

	err = send(ctx, t, out, readErr, opts.PingInterval)

	if uerr := r.Unregister(cleanupCtx, id); uerr != nil {
		logf("unregister session %d: %v", id, uerr)
	}
	t.Close()
	wg.Wait()

	logf("%s left session %d: %v", name, id, err)
	if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// receive feeds client messages into the router until the transport fails.
func receive(ctx context.Context, r Router, t Transport, id int) error {
	for {
		msg, err := t.Receive()
		if err != nil {
			if errors.Is(err, ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("receive: %w", err)
		}
		if err := r.ClientMessage(ctx, id, msg); err != nil {
			logf("session %d message %q: %v", id, msg, err)
		}
	}
}

// send drains the outbox to the client and keeps the connection alive.
func send(ctx context.Context, t Transport, out router.Outbox, readErr <-chan error, pingInterval time.Duration) error {
	var ping <-chan time.Time
	pinger, canPing := t.(Pinger)
	if canPing && pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case msg := <-out:
			if err := t.Send(msg); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		case <-ping:
			if err := pinger.Ping(); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// Handler upgrades HTTP requests to WebSocket sessions.
type Handler struct {
	ctx      context.Context
	router   Router
	opts     Options
	upgrader websocket.Upgrader

	wg sync.WaitGroup
}

// NewHandler returns a handler whose sessions end when ctx is done.
func NewHandler(ctx context.Context, r Router, opts Options) *Handler {
	return &Handler{
		ctx:    ctx,
		router: r,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Sessions are unauthenticated; any page may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade: Shutdown stops tracking hijacked connections.
	h.wg.Add(1)
	defer h.wg.Done()

	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	name := fmt.Sprintf("%s (%s)", uuid.NewString(), r.RemoteAddr)
	if err := Serve(h.ctx, h.router, newWSTransport(conn, h.opts), name, h.opts); err != nil {
		logf("%s: %v", name, err)
	}
}

// Wait blocks until every session served by h has ended.
func (h *Handler) Wait() {
	h.wg.Wait()
}
