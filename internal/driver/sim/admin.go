package sim

import (
	"net/http"
	"strconv"

	"tailscale.com/tsweb"

	"github.com/banshee-data/padmux/internal/httputil"
	"github.com/banshee-data/padmux/internal/launchpad"
)

// AttachAdminRoutes adds debug endpoints that press and release virtual
// buttons and dump the LED grid.
func (l *Launchpad) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("press", l.buttonHandler(l.Press))
	debug.HandleSilentFunc("release", l.buttonHandler(l.Release))

	debug.HandleFunc("leds", "virtual Launchpad LEDs as JSON", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, l.LEDs())
	})
}

func (l *Launchpad) buttonHandler(action func(launchpad.Pos) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireMethod(w, r, http.MethodPost) {
			return
		}
		col, errCol := strconv.ParseUint(r.FormValue("col"), 10, 8)
		row, errRow := strconv.ParseUint(r.FormValue("row"), 10, 8)
		if errCol != nil || errRow != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, "missing or invalid col/row")
			return
		}
		p := launchpad.Pos{Col: uint8(col), Row: uint8(row)}
		if err := action(p); err != nil {
			httputil.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]string{"ok": p.String()})
	}
}
