package router

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/padmux/internal/httputil"
	"github.com/banshee-data/padmux/internal/launchpad"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var gridTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/grid.html.tmpl"))

type cellView struct {
	Pos      launchpad.Pos
	Color    launchpad.Color
	Session  int
	Selected bool
}

// CSS approximates the LED color for a browser.
func (c cellView) CSS() template.CSS {
	return template.CSS(fmt.Sprintf("rgb(%d, %d, 0)", int(c.Color.Red())*85, int(c.Color.Green())*85))
}

type gridView struct {
	Rows     [][]cellView
	Selected int
	Sessions []int
}

func newGridView(st State) gridView {
	owner := make(map[launchpad.Pos]int, len(st.Sessions))
	for _, id := range st.Sessions {
		owner[IndexToPos(id)] = id
	}

	v := gridView{Selected: st.Selected, Sessions: st.Sessions}
	for r := range st.Grid {
		row := make([]cellView, len(st.Grid[r]))
		for c := range st.Grid[r] {
			p := launchpad.Pos{Col: uint8(c), Row: uint8(r)}
			cell := cellView{Pos: p, Color: st.Grid[r][c], Session: -1}
			if id, ok := owner[p]; ok {
				cell.Session = id
				cell.Selected = id == st.Selected
			}
			row[c] = cell
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

// AttachAdminRoutes attaches grid inspection pages to the /debug/ section of
// mux. They are reachable only from localhost or over Tailscale.
func (r *Router) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Sessions", func() any { return len(r.Snapshot().Sessions) })

	debug.HandleFunc("grid", "grid lights and sessions", func(w http.ResponseWriter, req *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := gridTemplate.Execute(buf, newGridView(r.Snapshot())); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	debug.HandleFunc("sessions", "router state as JSON", func(w http.ResponseWriter, req *http.Request) {
		if !httputil.RequireMethod(w, req, http.MethodGet) {
			return
		}
		httputil.WriteJSONOK(w, r.Snapshot())
	})
}
