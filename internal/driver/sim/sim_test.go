package sim

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/midi"
	"github.com/banshee-data/padmux/internal/testutil"
)

// openDevice opens the virtual Launchpad through an actor the way the server
// does.
func openDevice(t *testing.T, pad *Launchpad) (*midi.In, *midi.Out) {
	t.Helper()
	ctx := testutil.Context(t)

	a := midi.NewActor(pad)
	t.Cleanup(func() { a.Close() })

	dev, err := launchpad.FindFirst(ctx, a, launchpad.DefaultPattern)
	require.NoError(t, err)
	in, out, err := dev.Open(ctx, a)
	require.NoError(t, err)
	return in, out
}

func TestLaunchpad_Enumerates(t *testing.T) {
	pad := New("Launchpad")
	ins, err := pad.Ins()
	require.NoError(t, err)
	outs, err := pad.Outs()
	require.NoError(t, err)

	require.Len(t, ins, 1)
	require.Len(t, outs, 1)
	assert.True(t, ins[0].Matches(outs[0]))
	assert.Equal(t, uint16(VendorID), ins[0].VendorID)
}

func TestLaunchpad_BadDeviceID(t *testing.T) {
	pad := New("Launchpad")

	_, err := pad.OpenIn(3, func(int, midi.Notification) {}, 0)
	var de *midi.DriverError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, codeBadDeviceID, de.Code)

	_, err = pad.OpenOut(1)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, codeBadDeviceID, de.Code)
}

func TestLaunchpad_PressReachesDecoder(t *testing.T) {
	pad := New("Launchpad")
	in, _ := openDevice(t, pad)
	ctx := testutil.Context(t)

	require.NoError(t, pad.Press(launchpad.Pos{Col: 3, Row: 5}))
	require.NoError(t, pad.Release(launchpad.Pos{Col: 3, Row: 5}))
	require.NoError(t, pad.Press(launchpad.Pos{Col: 6, Row: 0}))

	var got []launchpad.Event
	for n := range in.Notifications(ctx) {
		if ev, ok := launchpad.Decode(n); ok {
			got = append(got, ev)
		}
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []launchpad.Event{
		{Type: launchpad.Press, Pos: launchpad.Pos{Col: 3, Row: 5}},
		{Type: launchpad.Release, Pos: launchpad.Pos{Col: 3, Row: 5}},
		{Type: launchpad.Press, Pos: launchpad.Pos{Col: 6, Row: 0}},
	}, got)
}

func TestLaunchpad_PressOutOfRange(t *testing.T) {
	pad := New("Launchpad")
	assert.ErrorIs(t, pad.Press(launchpad.Pos{Col: 8, Row: 0}), launchpad.ErrOutOfRange)
	assert.ErrorIs(t, pad.Press(launchpad.Pos{Col: 0, Row: 9}), launchpad.ErrOutOfRange)
}

func TestLaunchpad_StoppedInputIsSilent(t *testing.T) {
	pad := New("Launchpad")
	var calls int
	native, err := pad.OpenIn(0, func(_ int, n midi.Notification) {
		if n.Kind == midi.KindData {
			calls++
		}
	}, 7)
	require.NoError(t, err)

	require.NoError(t, pad.Press(launchpad.Pos{Col: 1, Row: 1}))
	assert.Zero(t, calls)

	require.NoError(t, native.Start())
	require.NoError(t, pad.Press(launchpad.Pos{Col: 1, Row: 1}))
	assert.Equal(t, 1, calls)

	require.NoError(t, native.Stop())
	var de *midi.DriverError
	require.True(t, errors.As(native.Stop(), &de))
	assert.Equal(t, codeNotEnabled, de.Code)

	require.NoError(t, native.Close())
	require.True(t, errors.As(native.Close(), &de))
	assert.Equal(t, codeInvalHandle, de.Code)
}

func TestLaunchpad_LEDsFollowLights(t *testing.T) {
	pad := New("Launchpad")
	_, out := openDevice(t, pad)
	ctx := testutil.Context(t)

	lights := launchpad.NewLights(out)
	require.NoError(t, lights.Set(ctx, launchpad.Pos{Col: 2, Row: 0}, launchpad.Orange))
	require.NoError(t, lights.Set(ctx, launchpad.Pos{Col: 7, Row: 8}, launchpad.Green))
	require.NoError(t, lights.Set(ctx, launchpad.Pos{Col: 8, Row: 4}, launchpad.Red))
	assert.Equal(t, lights.Snapshot(), pad.LEDs())

	require.NoError(t, lights.Set(ctx, launchpad.Pos{Col: 7, Row: 8}, launchpad.Black))
	assert.Equal(t, lights.Snapshot(), pad.LEDs())

	require.NoError(t, lights.Clear(ctx))
	assert.Equal(t, [launchpad.Rows][launchpad.Columns]launchpad.Color{}, pad.LEDs())
	assert.Equal(t, 5, pad.Sent())
}

func TestLaunchpad_ClosedOutputFails(t *testing.T) {
	pad := New("Launchpad")
	native, err := pad.OpenOut(0)
	require.NoError(t, err)
	require.NoError(t, native.Close())

	var de *midi.DriverError
	require.True(t, errors.As(native.Send(midi.Pack(0x90, 0, 0x30)), &de))
	assert.Equal(t, codeInvalHandle, de.Code)
	assert.Zero(t, pad.Sent())
}

func TestAdminRoutes_Press(t *testing.T) {
	pad := New("Launchpad")
	in, _ := openDevice(t, pad)
	ctx := testutil.Context(t)

	mux := http.NewServeMux()
	pad.AttachAdminRoutes(mux)

	tests := []struct {
		name       string
		method     string
		path       string
		form       url.Values
		wantStatus int
	}{
		{"press pad", http.MethodPost, "/debug/press", url.Values{"col": {"4"}, "row": {"2"}}, http.StatusOK},
		{"release pad", http.MethodPost, "/debug/release", url.Values{"col": {"4"}, "row": {"2"}}, http.StatusOK},
		{"missing row", http.MethodPost, "/debug/press", url.Values{"col": {"4"}}, http.StatusBadRequest},
		{"not a number", http.MethodPost, "/debug/press", url.Values{"col": {"x"}, "row": {"1"}}, http.StatusBadRequest},
		{"off grid", http.MethodPost, "/debug/press", url.Values{"col": {"9"}, "row": {"1"}}, http.StatusBadRequest},
		{"GET not allowed", http.MethodGet, "/debug/press", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testutil.Serve(mux, testutil.LocalRequest(tt.method, tt.path, tt.form))
			testutil.AssertStatusCode(t, rec, tt.wantStatus)
		})
	}

	var got []launchpad.Event
	for n := range in.Notifications(ctx) {
		if ev, ok := launchpad.Decode(n); ok {
			got = append(got, ev)
		}
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []launchpad.Event{
		{Type: launchpad.Press, Pos: launchpad.Pos{Col: 4, Row: 2}},
		{Type: launchpad.Release, Pos: launchpad.Pos{Col: 4, Row: 2}},
	}, got)
}

func TestAdminRoutes_LEDs(t *testing.T) {
	pad := New("Launchpad")
	_, out := openDevice(t, pad)
	require.NoError(t, out.Send(testutil.Context(t), 0xB0, 0x68, 0x33))

	mux := http.NewServeMux()
	pad.AttachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.LocalRequest(http.MethodGet, "/debug/leds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "[[51,"), rec.Body.String())
}
