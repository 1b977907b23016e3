// Package router maps grid presses to connected remote sessions. Each session
// owns one pad, at most one session is selected at a time, and the grid's lights
// always reflect who is connected, who is selected and what each session last
// reported.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/metrics"
	"github.com/banshee-data/padmux/internal/monitoring"
	"github.com/banshee-data/padmux/internal/slots"
)

var logf = monitoring.Component("router")

// ErrFull is returned by Register when every pad is taken.
var ErrFull = fmt.Errorf("%w: every pad has a session", launchpad.ErrOutOfRange)

// Session light colors.
const (
	Neutral     launchpad.Color = 0x11
	PendingGood launchpad.Color = 0x10
	PendingBad  launchpad.Color = 0x01

	// selectFactor scales a session light up on selection and back down when
	// another session takes over.
	selectFactor = 3

	// forwardColumns is the number of function-row buttons forwarded to the
	// selected session.
	forwardColumns = 5
)

// Client message codes.
const (
	CodeGood = "1"
	CodeBad  = "2"
)

// Palette is shown on the function row next to the indicator.
var Palette = map[launchpad.Pos]launchpad.Color{
	{Col: 1, Row: 0}: launchpad.Yellow,
	{Col: 2, Row: 0}: launchpad.Orange,
	{Col: 3, Row: 0}: launchpad.Red,
	{Col: 4, Row: 0}: launchpad.Green,
}

// Outbox carries messages to one session's client.
type Outbox chan string

// NewOutbox returns an outbox buffering up to size messages.
func NewOutbox(size int) Outbox {
	return make(Outbox, size)
}

// Router is the single owner of the grid's lights and the session table. Every
// method runs one transition under the router mutex.
type Router struct {
	mu       sync.Mutex
	lights   *launchpad.Lights
	sessions slots.Table[Outbox]

	selected int
	active   bool

	metrics *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithMetrics records router activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New returns a router drawing on lights.
func New(lights *launchpad.Lights, opts ...Option) *Router {
	r := &Router{lights: lights}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init clears the grid and draws the palette.
func (r *Router) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.lights.Clear(ctx); err != nil {
		return err
	}
	for col := uint8(1); col < forwardColumns; col++ {
		p := launchpad.Pos{Col: col, Row: 0}
		if err := r.lights.Set(ctx, p, Palette[p]); err != nil {
			return err
		}
	}
	return nil
}

// Register claims the lowest free pad for a new session and lights it. The
// returned id identifies the session in later calls.
func (r *Router) Register(ctx context.Context, out Outbox) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions.NextIndex() >= MaxSessions {
		return 0, ErrFull
	}
	id := r.sessions.Allocate(out)
	if err := r.lights.Set(ctx, IndexToPos(id), Neutral); err != nil {
		r.sessions.Release(id)
		return 0, fmt.Errorf("register session %d: %w", id, err)
	}
	r.metrics.SessionJoined()
	return id, nil
}

// Press handles a button going down.
func (r *Router) Press(ctx context.Context, col, row uint8) error {
	p := launchpad.Pos{Col: col, Row: row}
	if !p.Valid() {
		return fmt.Errorf("%w: press at %s", launchpad.ErrOutOfRange, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := PosToIndex(p); ok {
		if _, ok := r.sessions.Get(id); ok {
			r.metrics.Press(metrics.PressSelect)
			return r.selectLocked(ctx, id)
		}
	} else if row == 0 && col < forwardColumns && r.forwardLocked(col) {
		r.metrics.Press(metrics.PressForward)
		return nil
	}
	r.metrics.Press(metrics.PressIgnored)
	return nil
}

// Release handles a button going up. Releases carry no meaning yet.
func (r *Router) Release(ctx context.Context, col, row uint8) error {
	p := launchpad.Pos{Col: col, Row: row}
	if !p.Valid() {
		return fmt.Errorf("%w: release at %s", launchpad.ErrOutOfRange, p)
	}
	return nil
}

func (r *Router) selectLocked(ctx context.Context, id int) error {
	if r.active && r.selected == id {
		return nil
	}
	if _, ok := r.sessions.Get(id); !ok {
		return nil
	}

	if r.active {
		prev := IndexToPos(r.selected)
		if err := r.lights.Set(ctx, prev, r.lights.Get(prev).Dim(selectFactor)); err != nil {
			return fmt.Errorf("deselect session %d: %w", r.selected, err)
		}
		// Dimmed: the previous session must never be dimmed again.
		r.active = false
	}

	p := IndexToPos(id)
	c := r.lights.Get(p).Brighten(selectFactor)
	if err := r.lights.Set(ctx, p, c); err != nil {
		return fmt.Errorf("select session %d: %w", id, err)
	}
	r.selected, r.active = id, true

	if err := r.lights.Set(ctx, Indicator, c); err != nil {
		return fmt.Errorf("select session %d: %w", id, err)
	}
	return nil
}

// forwardLocked queues col for the selected session. It reports whether a
// session was selected, even if its outbox was full.
func (r *Router) forwardLocked(col uint8) bool {
	if !r.active {
		return false
	}
	out, ok := r.sessions.Get(r.selected)
	if !ok {
		return false
	}
	select {
	case out <- strconv.Itoa(int(col)):
		r.metrics.Forward(true)
	default:
		r.metrics.Forward(false)
		logf("outbox of session %d full, dropping button %d", r.selected, col)
	}
	return true
}

// ClientMessage applies a status code reported by session id. The selected
// session shows the confirmed color on its pad and on the indicator; any other
// session gets a provisional shade on its pad only.
func (r *Router) ClientMessage(ctx context.Context, id int, code string) error {
	var confirmed, provisional launchpad.Color
	var label string
	switch code {
	case CodeGood:
		confirmed, provisional, label = launchpad.Green, PendingGood, "good"
	case CodeBad:
		confirmed, provisional, label = launchpad.Red, PendingBad, "bad"
	default:
		r.metrics.Report("unknown")
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions.Get(id); !ok {
		return nil
	}
	r.metrics.Report(label)
	p := IndexToPos(id)
	if !r.active || r.selected != id {
		return r.lights.Set(ctx, p, provisional)
	}
	if err := r.lights.Set(ctx, p, confirmed); err != nil {
		return err
	}
	return r.lights.Set(ctx, Indicator, confirmed)
}

// Unregister turns the session's pad off and frees it for the next Register.
// Unregistering the selected session clears the selection and the indicator.
// The slot is released even when the device rejects the light change.
func (r *Router) Unregister(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions.Release(id); !ok {
		return nil
	}
	r.metrics.SessionLeft()

	errs := []error{r.lights.Set(ctx, IndexToPos(id), launchpad.Black)}
	if r.active && r.selected == id {
		r.active = false
		errs = append(errs, r.lights.Set(ctx, Indicator, launchpad.Black))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("unregister session %d: %w", id, err)
	}
	return nil
}

// Selected returns the selected session, if any.
func (r *Router) Selected() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected, r.active
}

// State is a point-in-time copy of the router for inspection.
type State struct {
	Grid     [launchpad.Rows][launchpad.Columns]launchpad.Color `json:"grid"`
	Selected int                                                `json:"selected"` // -1 when none
	Sessions []int                                              `json:"sessions"`
}

// Snapshot copies the router state.
func (r *Router) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{Grid: r.lights.Snapshot(), Selected: -1, Sessions: []int{}}
	if r.active {
		st.Selected = r.selected
	}
	r.sessions.Each(func(id int, _ Outbox) bool {
		st.Sessions = append(st.Sessions, id)
		return true
	})
	return st
}

// Run feeds decoded grid events into the router until events is closed or ctx
// is done. Failed transitions are logged and do not stop the loop.
func (r *Router) Run(ctx context.Context, events <-chan launchpad.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			var err error
			switch ev.Type {
			case launchpad.Press:
				err = r.Press(ctx, ev.Pos.Col, ev.Pos.Row)
			case launchpad.Release:
				err = r.Release(ctx, ev.Pos.Col, ev.Pos.Row)
			}
			if err != nil {
				logf("%s: %v", ev, err)
			}
		}
	}
}
