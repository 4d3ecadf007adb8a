// Package live pushes coached frames to websocket clients.
package live

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/hub"
)

const Path = "/ws"

// Registry is the part of hub.Hub used to attach clients.
type Registry interface {
	Register(sub hub.Subscriber) error
	Unregister(id string) bool
}

type handler struct {
	reg        Registry
	l          *log.Logger
	origins    []string
	minVersion string
	debugWire  bool
}

type Option func(*handler)

func WithLogger(l *log.Logger) Option {
	return func(h *handler) {
		h.l = l
	}
}

// WithOriginPatterns allows cross origin clients matching the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *handler) {
		h.origins = patterns
	}
}

// WithMinClientVersion rejects clients announcing an older version via the
// version query parameter. Clients without a version are accepted.
func WithMinClientVersion(v string) Option {
	return func(h *handler) {
		h.minVersion = v
	}
}

func WithDebugWire(arg bool) Option {
	return func(h *handler) {
		h.debugWire = arg
	}
}

func NewHandler(reg Registry, opts ...Option) (string, http.Handler) {
	h := &handler{reg: reg, l: log.Default().Named("live")}
	for _, opt := range opts {
		opt(h)
	}
	return Path, h
}

// CheckClientVersion reports whether toCheck is at least required. An empty
// required version accepts everything.
func CheckClientVersion(toCheck, required string) bool {
	if required == "" {
		return true
	}
	return semver.Compare(canonical(toCheck), canonical(required)) >= 0
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("version"); v != "" && !CheckClientVersion(v, h.minVersion) {
		h.l.Info("rejecting outdated client",
			log.String("version", v), log.String("required", h.minVersion))
		http.Error(w, "client version "+v+" is not supported, need "+h.minVersion,
			http.StatusUpgradeRequired)
		return
	}
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.l.Warn("websocket handshake failed", log.ErrorField(err))
		return
	}
	sub := newConnSubscriber(c, h.l, h.debugWire)
	if err := h.reg.Register(sub); err != nil {
		h.l.Warn("could not register client", log.ErrorField(err))
		c.Close(websocket.StatusTryAgainLater, "service shutting down")
		return
	}
	h.l.Debug("client connected",
		log.String("id", sub.ID()), log.String("remote", r.RemoteAddr))

	h.drain(r.Context(), c)

	h.reg.Unregister(sub.ID())
	_ = sub.Close()
	h.l.Debug("client disconnected", log.String("id", sub.ID()))
}

// drain reads and discards client messages until the connection is gone.
func (h *handler) drain(ctx context.Context, c *websocket.Conn) {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.l.Debug("read ended", log.ErrorField(err))
			}
			return
		}
	}
}

type connSubscriber struct {
	id        string
	c         *websocket.Conn
	l         *log.Logger
	debugWire bool
	once      sync.Once
}

func newConnSubscriber(c *websocket.Conn, l *log.Logger, debugWire bool) *connSubscriber {
	return &connSubscriber{
		id:        "ws-" + uuid.NewString(),
		c:         c,
		l:         l,
		debugWire: debugWire,
	}
}

func (s *connSubscriber) ID() string { return s.id }

func (s *connSubscriber) Send(ctx context.Context, data []byte) error {
	if s.debugWire {
		s.l.Debug("sending frame", log.String("id", s.id), log.Int("bytes", len(data)))
	}
	return s.c.Write(ctx, websocket.MessageText, data)
}

func (s *connSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		err = s.c.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
