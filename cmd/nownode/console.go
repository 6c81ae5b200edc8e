package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/speters/nowtank/pkg/command"
	"github.com/speters/nowtank/pkg/display"
	"github.com/speters/nowtank/pkg/menu"
)

// requestTimeout bounds how long a console request waits for the menu task
const requestTimeout = 2 * time.Second

// console exposes the controller menu over http
type console struct {
	menu    *menu.Menu
	display *display.Queue
	vocab   command.Vocabulary
}

type targetJSON struct {
	Index   int    `json:"index"`
	Label   string `json:"label"`
	Address string `json:"address"`
}

type statusJSON struct {
	Index   int    `json:"index"`
	Mode    string `json:"mode"`
	Label   string `json:"label"`
	Display string `json:"display"`
}

func newRouter(c *console) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/status", c.getStatus).Methods("GET")
	router.HandleFunc("/targets", c.getTargets).Methods("GET")
	router.HandleFunc("/targets/{idx}/command", c.postCommand).Methods("POST")
	router.HandleFunc("/targets/{idx}/tank", c.postTank).Methods("POST")
	router.HandleFunc("/press", c.postPress).Methods("POST")
	router.HandleFunc("/version", versionInfo).Methods("GET")
	return router
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(code)
	w.Write([]byte(err.Error()))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("\"OK\"\n"))
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate})
}

func (c *console) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := c.menu.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, statusJSON{Index: st.Index, Mode: st.Mode.String(), Label: st.Label, Display: c.display.Last()})
}

func (c *console) getTargets(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	st, err := c.menu.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	ts := make([]targetJSON, len(st.Targets))
	for i, t := range st.Targets {
		ts[i] = targetJSON{Index: i, Label: t.Label, Address: t.Address.String()}
	}
	writeJSON(w, ts)
}

func (c *console) send(w http.ResponseWriter, r *http.Request, f command.Frame) {
	idx, err := strconv.Atoi(mux.Vars(r)["idx"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	err = c.menu.Command(ctx, idx, f)
	switch {
	case errors.Is(err, menu.ErrNoTarget):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		writeError(w, http.StatusBadGateway, err)
	default:
		writeOK(w)
	}
}

func (c *console) postCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Verb string `json:"verb"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, err := c.vocab.Decode([]byte(req.Verb), 0)
	if err != nil || f.Kind == command.Telemetry || f.Kind == command.SetTank {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown verb %q", req.Verb))
		return
	}
	c.send(w, r, f)
}

func (c *console) postTank(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Diameter int32 `json:"diameter"`
		Height   int32 `json:"height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c.send(w, r, command.Tank(req.Diameter, req.Height))
}

func (c *console) postPress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MS int `json:"ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := c.menu.Press(ctx, time.Duration(req.MS)*time.Millisecond); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeOK(w)
}
