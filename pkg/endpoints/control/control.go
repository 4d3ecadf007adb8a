// Package control exposes the pipeline operations over HTTP.
package control

import (
	"encoding/json"
	"net/http"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/model"
	"github.com/mpapenbr/simcoach/pkg/service"
	"github.com/mpapenbr/simcoach/version"
)

const ServiceName = "simcoach"

// Pipeline is the part of service.Pipeline the control surface drives.
type Pipeline interface {
	Start() bool
	Stop() bool
	ForceSynthetic(on bool)
	Status() service.Status
}

type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Info struct {
	Status          string       `json:"status"`
	Service         string       `json:"service"`
	Version         string       `json:"version"`
	GamesSupported  []model.Game `json:"games_supported"`
	Clients         int          `json:"websocket_clients"`
	LatestTelemetry bool         `json:"latest_telemetry"`
}

type handler struct {
	p Pipeline
	l *log.Logger
}

type Option func(*handler)

func WithLogger(l *log.Logger) Option {
	return func(h *handler) {
		h.l = l
	}
}

// NewHandler returns the mount path and the handler serving the control
// routes.
func NewHandler(p Pipeline, opts ...Option) (string, http.Handler) {
	h := &handler{p: p, l: log.Default().Named("control")}
	for _, opt := range opts {
		opt(h)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.info)
	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/pipeline/start", h.start)
	mux.HandleFunc("POST /api/pipeline/stop", h.stop)
	mux.HandleFunc("POST /api/pipeline/synthetic", h.forceSynthetic)
	mux.HandleFunc("DELETE /api/pipeline/synthetic", h.releaseSynthetic)
	mux.HandleFunc("POST /demo/start", h.demoStart)
	mux.HandleFunc("POST /demo/stop", h.demoStop)
	return "/", mux
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	st := h.p.Status()
	h.write(w, Info{
		Status:          "running",
		Service:         ServiceName,
		Version:         version.Version,
		GamesSupported:  model.SupportedGames(),
		Clients:         st.Subscribers,
		LatestTelemetry: st.LastUpdate != nil,
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	h.write(w, h.p.Status())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	if h.p.Start() {
		h.write(w, Response{"started", "Pipeline started"})
		return
	}
	h.write(w, Response{"already_running", "Pipeline already running"})
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	if h.p.Stop() {
		h.write(w, Response{"stopped", "Pipeline stopped"})
		return
	}
	h.write(w, Response{"already_stopped", "Pipeline already stopped"})
}

func (h *handler) forceSynthetic(w http.ResponseWriter, r *http.Request) {
	h.p.ForceSynthetic(true)
	h.write(w, Response{"synthetic", "Synthetic source forced"})
}

func (h *handler) releaseSynthetic(w http.ResponseWriter, r *http.Request) {
	h.p.ForceSynthetic(false)
	h.write(w, Response{"auto", "Source selection back to automatic"})
}

// demoStart pins the synthetic source and starts the pipeline.
func (h *handler) demoStart(w http.ResponseWriter, r *http.Request) {
	st := h.p.Status()
	if st.Running && st.Forced {
		h.write(w, Response{"already_running", "Demo mode already running"})
		return
	}
	h.p.ForceSynthetic(true)
	h.p.Start()
	h.write(w, Response{"started", "Demo mode started"})
}

// demoStop releases the synthetic source. The pipeline keeps running so a
// connected simulator takes over.
func (h *handler) demoStop(w http.ResponseWriter, r *http.Request) {
	if !h.p.Status().Forced {
		h.write(w, Response{"already_stopped", "Demo mode already stopped"})
		return
	}
	h.p.ForceSynthetic(false)
	h.write(w, Response{"stopped", "Demo mode stopped"})
}

func (h *handler) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.l.Warn("could not write response", log.ErrorField(err))
	}
}
