package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/metrics"
	"github.com/banshee-data/padmux/internal/testutil"
)

type fakeOut struct {
	mu     sync.Mutex
	count  int
	err    error
	failIn int // fail the failIn-th send from now, once
}

func (f *fakeOut) Send(context.Context, byte, byte, byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.failIn > 0 {
		f.failIn--
		if f.failIn == 0 {
			return errors.New("transient")
		}
	}
	f.count++
	return nil
}

func (f *fakeOut) failNth(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIn = n
}

func (f *fakeOut) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newTestRouter(t *testing.T) (*Router, *fakeOut) {
	t.Helper()
	testutil.CaptureLogs(t)

	out := &fakeOut{}
	return New(launchpad.NewLights(out)), out
}

func light(r *Router, p launchpad.Pos) launchpad.Color {
	st := r.Snapshot()
	return st.Grid[p.Row][p.Col]
}

func press(t *testing.T, r *Router, id int) {
	t.Helper()
	p := IndexToPos(id)
	require.NoError(t, r.Press(context.Background(), p.Col, p.Row))
}

func TestRegister_LightsNeutral(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	a, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	b, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, Neutral, light(r, IndexToPos(a)))
	assert.Equal(t, Neutral, light(r, IndexToPos(b)))

	_, ok := r.Selected()
	assert.False(t, ok, "registering never selects")
}

func TestRegister_Full(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	for i := 0; i < MaxSessions; i++ {
		_, err := r.Register(ctx, NewOutbox(1))
		require.NoError(t, err)
	}
	_, err := r.Register(ctx, NewOutbox(1))
	assert.ErrorIs(t, err, launchpad.ErrOutOfRange)
	assert.Len(t, r.Snapshot().Sessions, MaxSessions)

	require.NoError(t, r.Unregister(ctx, 17))
	id, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	assert.Equal(t, 17, id)
}

func TestRegister_LightFailureFreesSlot(t *testing.T) {
	r, out := newTestRouter(t)
	ctx := context.Background()

	out.fail(errors.New("unplugged"))
	_, err := r.Register(ctx, NewOutbox(1))
	require.Error(t, err)
	assert.Empty(t, r.Snapshot().Sessions)

	out.fail(nil)
	id, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

// TestPress_SelectAndSwitch: selecting brightens a session, selecting another
// dims the first and brightens the second.
func TestPress_SelectAndSwitch(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	b, _ := r.Register(ctx, NewOutbox(1))

	press(t, r, a)
	sel, ok := r.Selected()
	require.True(t, ok)
	assert.Equal(t, a, sel)
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(a)))
	assert.Equal(t, launchpad.Color(0x33), light(r, Indicator))

	press(t, r, b)
	sel, _ = r.Selected()
	assert.Equal(t, b, sel)
	assert.Equal(t, Neutral, light(r, IndexToPos(a)))
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(b)))
}

func TestPress_SelectedAgainIsNoop(t *testing.T) {
	r, out := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	press(t, r, a)
	before := out.count

	press(t, r, a)
	assert.Equal(t, before, out.count)
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(a)))
}

func TestPress_EmptyPadIsNoop(t *testing.T) {
	r, out := newTestRouter(t)

	require.NoError(t, r.Press(context.Background(), 5, 5))
	_, ok := r.Selected()
	assert.False(t, ok)
	assert.Zero(t, out.count)
}

func TestPress_OutOfRange(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.Press(ctx, 9, 1), launchpad.ErrOutOfRange)
	assert.ErrorIs(t, r.Press(ctx, 0, 9), launchpad.ErrOutOfRange)
	assert.ErrorIs(t, r.Release(ctx, 12, 0), launchpad.ErrOutOfRange)
	assert.NoError(t, r.Release(ctx, 3, 3))
}

func TestPress_FunctionRowForwards(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	outA, outB := NewOutbox(8), NewOutbox(8)
	a, _ := r.Register(ctx, outA)
	_, _ = r.Register(ctx, outB)

	// Nothing selected yet.
	require.NoError(t, r.Press(ctx, 2, 0))
	assert.Empty(t, outA)

	press(t, r, a)
	for col := uint8(0); col < 8; col++ {
		require.NoError(t, r.Press(ctx, col, 0))
	}
	require.NoError(t, r.Press(ctx, 8, 4), "scene buttons are ignored")

	var got []string
	for len(outA) > 0 {
		got = append(got, <-outA)
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, got)
	assert.Empty(t, outB)
}

func TestPress_FullOutboxDrops(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	out := NewOutbox(1)
	a, _ := r.Register(ctx, out)
	press(t, r, a)

	require.NoError(t, r.Press(ctx, 1, 0))
	require.NoError(t, r.Press(ctx, 2, 0))
	assert.Equal(t, "1", <-out)
	assert.Empty(t, out)
}

func TestPress_SendFailureKeepsSelection(t *testing.T) {
	r, out := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	b, _ := r.Register(ctx, NewOutbox(1))
	press(t, r, a)

	out.fail(errors.New("unplugged"))
	p := IndexToPos(b)
	require.Error(t, r.Press(ctx, p.Col, p.Row))

	sel, _ := r.Selected()
	assert.Equal(t, a, sel)
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(a)))
	assert.Equal(t, Neutral, light(r, p))
}

// TestPress_PartialSelectionFailure fails one send in the middle of a
// selection change and checks that no live pad is dimmed twice.
func TestPress_PartialSelectionFailure(t *testing.T) {
	tests := []struct {
		name         string
		failSend     int // 1 dims the old pad, 2 brightens the new one, 3 sets the indicator
		wantSelected bool
		wantB        launchpad.Color
	}{
		{"brighten fails", 2, false, Neutral},
		{"indicator fails", 3, true, Neutral.Brighten(selectFactor)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, out := newTestRouter(t)
			ctx := context.Background()

			a, _ := r.Register(ctx, NewOutbox(1))
			b, _ := r.Register(ctx, NewOutbox(1))
			c, _ := r.Register(ctx, NewOutbox(1))
			press(t, r, a)

			out.failNth(tt.failSend)
			pb := IndexToPos(b)
			require.Error(t, r.Press(ctx, pb.Col, pb.Row))

			sel, ok := r.Selected()
			assert.Equal(t, tt.wantSelected, ok)
			if ok {
				assert.Equal(t, b, sel)
			}
			assert.Equal(t, Neutral, light(r, IndexToPos(a)), "deselected pad dimmed once")
			assert.Equal(t, tt.wantB, light(r, pb))

			press(t, r, c)
			sel, ok = r.Selected()
			require.True(t, ok)
			assert.Equal(t, c, sel)
			assert.Equal(t, Neutral, light(r, IndexToPos(a)), "live session pad must stay lit")
			assert.Equal(t, Neutral, light(r, pb))
			assert.Equal(t, Neutral.Brighten(selectFactor), light(r, IndexToPos(c)))
			assert.Equal(t, Neutral.Brighten(selectFactor), light(r, Indicator))
		})
	}
}

func TestClientMessage(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		selected      bool
		wantLight     launchpad.Color
		wantIndicator launchpad.Color
	}{
		{"good while selected", CodeGood, true, launchpad.Green, launchpad.Green},
		{"bad while selected", CodeBad, true, launchpad.Red, launchpad.Red},
		{"good while not selected", CodeGood, false, PendingGood, launchpad.Black},
		{"bad while not selected", CodeBad, false, PendingBad, launchpad.Black},
		{"unknown code while selected", "x", true, 0x33, 0x33},
		{"unknown code while not selected", "3", false, Neutral, launchpad.Black},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			ctx := context.Background()

			id, err := r.Register(ctx, NewOutbox(1))
			require.NoError(t, err)
			if tt.selected {
				press(t, r, id)
			}

			require.NoError(t, r.ClientMessage(ctx, id, tt.code))
			assert.Equal(t, tt.wantLight, light(r, IndexToPos(id)))
			assert.Equal(t, tt.wantIndicator, light(r, Indicator))
		})
	}
}

func TestClientMessage_OtherSessionLeavesIndicator(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	b, _ := r.Register(ctx, NewOutbox(1))
	press(t, r, a)

	require.NoError(t, r.ClientMessage(ctx, b, CodeBad))
	assert.Equal(t, PendingBad, light(r, IndexToPos(b)))
	assert.Equal(t, launchpad.Color(0x33), light(r, Indicator))
}

func TestClientMessage_UnknownSession(t *testing.T) {
	r, out := newTestRouter(t)

	require.NoError(t, r.ClientMessage(context.Background(), 4, CodeGood))
	assert.Zero(t, out.count)
}

func TestUnregister(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	b, _ := r.Register(ctx, NewOutbox(1))
	require.NoError(t, r.ClientMessage(ctx, a, CodeGood))

	require.NoError(t, r.Unregister(ctx, a))
	assert.Equal(t, launchpad.Black, light(r, IndexToPos(a)))
	assert.Equal(t, []int{b}, r.Snapshot().Sessions)

	require.NoError(t, r.Unregister(ctx, a), "second unregister is a no-op")

	id, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	assert.Equal(t, a, id)
	assert.Equal(t, Neutral, light(r, IndexToPos(a)))
}

func TestUnregister_SelectedClearsSelection(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	out := NewOutbox(1)
	a, _ := r.Register(ctx, out)
	press(t, r, a)

	require.NoError(t, r.Unregister(ctx, a))
	_, ok := r.Selected()
	assert.False(t, ok)
	assert.Equal(t, launchpad.Black, light(r, Indicator))
	assert.Equal(t, -1, r.Snapshot().Selected)

	require.NoError(t, r.Press(ctx, 1, 0))
	assert.Empty(t, out, "nothing is forwarded once the selection is gone")

	// The reused slot starts unselected.
	b, _ := r.Register(ctx, NewOutbox(1))
	assert.Equal(t, a, b)
	assert.Equal(t, Neutral, light(r, IndexToPos(b)))
}

func TestUnregister_LightFailureStillReleases(t *testing.T) {
	r, out := newTestRouter(t)
	ctx := context.Background()

	a, _ := r.Register(ctx, NewOutbox(1))
	out.fail(errors.New("unplugged"))

	require.Error(t, r.Unregister(ctx, a))
	assert.Empty(t, r.Snapshot().Sessions)
}

// TestRouter_EndToEnd walks two sessions through selection, a client report and
// a switch of selection.
func TestRouter_EndToEnd(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	a, err := r.Register(ctx, NewOutbox(4))
	require.NoError(t, err)
	b, err := r.Register(ctx, NewOutbox(4))
	require.NoError(t, err)

	press(t, r, a)
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(a)))
	assert.Equal(t, light(r, IndexToPos(a)), light(r, Indicator))

	require.NoError(t, r.ClientMessage(ctx, a, CodeBad))
	assert.Equal(t, launchpad.Red, light(r, IndexToPos(a)))
	assert.Equal(t, launchpad.Red, light(r, Indicator))

	press(t, r, b)
	sel, _ := r.Selected()
	assert.Equal(t, b, sel)
	assert.Equal(t, launchpad.Red.Dim(3), light(r, IndexToPos(a)))
	assert.Equal(t, launchpad.Color(0x01), light(r, IndexToPos(a)), "hue kept")
	assert.Equal(t, launchpad.Color(0x33), light(r, IndexToPos(b)))
	assert.Equal(t, light(r, IndexToPos(b)), light(r, Indicator))
}

func TestInit_DrawsPalette(t *testing.T) {
	r, _ := newTestRouter(t)
	require.NoError(t, r.Init(context.Background()))

	for p, c := range Palette {
		assert.Equal(t, c, light(r, p), "palette at %s", p)
	}
	assert.Equal(t, launchpad.Black, light(r, Indicator))
}

func TestRun_RoutesEvents(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := NewOutbox(4)
	a, _ := r.Register(ctx, out)
	p := IndexToPos(a)

	events := make(chan launchpad.Event, 8)
	events <- launchpad.Event{Type: launchpad.Press, Pos: p}
	events <- launchpad.Event{Type: launchpad.Release, Pos: p}
	events <- launchpad.Event{Type: launchpad.Press, Pos: launchpad.Pos{Col: 3, Row: 0}}
	close(events)

	require.NoError(t, r.Run(ctx, events))
	sel, ok := r.Selected()
	require.True(t, ok)
	assert.Equal(t, a, sel)
	assert.Equal(t, "3", <-out)
}

func TestRun_StopsOnCancel(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, make(chan launchpad.Event)) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRouter_ConcurrentSessions(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Register(ctx, NewOutbox(1))
			if err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			p := IndexToPos(id)
			_ = r.Press(ctx, p.Col, p.Row)
			_ = r.ClientMessage(ctx, id, CodeGood)
			_ = r.Unregister(ctx, id)
		}()
	}
	wg.Wait()

	st := r.Snapshot()
	assert.Empty(t, st.Sessions)
	assert.Equal(t, -1, st.Selected)
	assert.Equal(t, [launchpad.Rows][launchpad.Columns]launchpad.Color{}, st.Grid)
}

func TestRouter_Metrics(t *testing.T) {
	testutil.CaptureLogs(t)
	m := metrics.New(prometheus.NewRegistry())
	r := New(launchpad.NewLights(&fakeOut{}), WithMetrics(m))
	ctx := context.Background()

	a, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	b, err := r.Register(ctx, NewOutbox(1))
	require.NoError(t, err)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Sessions))

	require.NoError(t, r.Press(ctx, 0, 0)) // nothing selected yet
	press(t, r, a)
	require.NoError(t, r.Press(ctx, 1, 0))
	require.NoError(t, r.Press(ctx, 2, 0)) // outbox of one is full
	require.NoError(t, r.Press(ctx, 7, 0)) // not a forwarded column
	require.NoError(t, r.ClientMessage(ctx, b, CodeGood))
	require.NoError(t, r.ClientMessage(ctx, b, "hello"))
	require.NoError(t, r.Unregister(ctx, b))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.Sessions))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Presses.WithLabelValues(metrics.PressSelect)))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Presses.WithLabelValues(metrics.PressForward)))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.Presses.WithLabelValues(metrics.PressIgnored)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Forwarded))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Dropped))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Reports.WithLabelValues("good")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Reports.WithLabelValues("unknown")))
}
