// Package service bundles supervisor and hub into the pipeline driven by the
// control surface.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/hub"
	"github.com/mpapenbr/simcoach/pkg/supervisor"
)

type Pipeline struct {
	ctx context.Context
	l   *log.Logger
	hub *hub.Hub
	sup *supervisor.Supervisor

	mu sync.Mutex
}

type Status struct {
	supervisor.Status
	Subscribers int        `json:"subscribers"`
	LastUpdate  *time.Time `json:"lastUpdate,omitempty"`
	Sink        string     `json:"sink"`
	Hub         hub.Stats  `json:"hub"`
}

type Option func(*Pipeline)

func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.l = l
	}
}

// NewPipeline wires the supervisor to publish into h. The pipeline's loop
// runs under ctx, independent of the callers of Start.
//
//nolint:whitespace // can't make both editor and linter happy
func NewPipeline(
	ctx context.Context,
	h *hub.Hub,
	synth adapter.Adapter,
	real []adapter.Adapter,
	supOpts []supervisor.Option,
	opts ...Option,
) *Pipeline {
	ret := &Pipeline{
		ctx: ctx,
		l:   log.GetFromContext(ctx).Named("pipeline"),
		hub: h,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.sup = supervisor.New(synth, real,
		append(supOpts, supervisor.WithPublisher(h.Publish))...)
	return ret
}

// Start launches the pipeline. It returns false if it was already running.
func (p *Pipeline) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sup.Running() {
		return false
	}
	p.sup.Start(p.ctx)
	p.l.Info("pipeline started")
	return true
}

// Stop halts the pipeline. It returns false if it was not running.
func (p *Pipeline) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sup.Running() {
		return false
	}
	p.sup.Stop()
	p.l.Info("pipeline stopped")
	return true
}

func (p *Pipeline) Running() bool {
	return p.sup.Running()
}

func (p *Pipeline) ForceSynthetic(on bool) {
	p.sup.ForceSynthetic(on)
}

func (p *Pipeline) Status() Status {
	ret := Status{
		Status:      p.sup.Status(),
		Subscribers: p.hub.SubscriberCount(),
		Sink:        p.hub.SinkKind(),
		Hub:         p.hub.Stats(),
	}
	if t := p.hub.LastUpdate(); !t.IsZero() {
		ret.LastUpdate = &t
	}
	return ret
}

func (p *Pipeline) Hub() *hub.Hub {
	return p.hub
}

// Close stops the pipeline and shuts down the hub including its sink.
func (p *Pipeline) Close() {
	p.Stop()
	p.hub.Close()
}
