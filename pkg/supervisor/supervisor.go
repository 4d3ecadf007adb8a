// Package supervisor drives the source adapters on a fixed cadence and
// falls back to the synthetic source when no simulator is reachable.
package supervisor

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/model"
)

var errStale = errors.New("source stopped delivering data")

type Config struct {
	Period time.Duration

	// ConnectTimeoutTicks is the number of ticks without a real source before
	// the synthetic source takes over.
	ConnectTimeoutTicks int

	// ErrorThreshold consecutive poll errors tear down the active source.
	ErrorThreshold int

	// StaleTicks consecutive ticks without data tear down a real source.
	// 0 disables the check.
	StaleTicks int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Period:              16 * time.Millisecond,
		ConnectTimeoutTicks: 180,
		ErrorThreshold:      30,
		StaleTicks:          600,
		BackoffInitial:      500 * time.Millisecond,
		BackoffMax:          10 * time.Second,
	}
}

// PublishFunc receives every frame produced by the active source.
type PublishFunc func(*model.Frame)

type AdapterStatus struct {
	Name      string                `json:"name"`
	Game      model.Game            `json:"game"`
	State     model.ConnectionState `json:"state"`
	Retries   int                   `json:"retries"`
	LastError string                `json:"lastError,omitempty"`
}

type Status struct {
	Running   bool            `json:"running"`
	Active    string          `json:"active,omitempty"`
	Game      model.Game      `json:"game,omitempty"`
	Synthetic bool            `json:"synthetic"`
	Forced    bool            `json:"forced"`
	Ticks     uint64          `json:"ticks"`
	Frames    uint64          `json:"frames"`
	Adapters  []AdapterStatus `json:"adapters"`
}

// slot holds the supervisor's bookkeeping for one real adapter.
type slot struct {
	a           adapter.Adapter
	state       model.ConnectionState
	retries     int
	errors      int
	noData      int
	bo          *backoff.ExponentialBackOff
	nextAttempt uint64
	lastErr     error
}

type Supervisor struct {
	cfg     Config
	l       *log.Logger
	publish PublishFunc
	synth   adapter.Adapter
	slots   []*slot

	mu          sync.Mutex
	tick        uint64
	frames      uint64
	searchStart uint64
	active      adapter.Adapter
	activeSlot  *slot // nil while the synthetic source is active
	synthErrors int
	forced      bool
	cancel      context.CancelFunc
	done        chan struct{}

	metrics metrics
}

type Option func(*Supervisor)

func WithConfig(cfg Config) Option {
	return func(s *Supervisor) {
		s.cfg = cfg
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) {
		s.l = l
	}
}

func WithPublisher(p PublishFunc) Option {
	return func(s *Supervisor) {
		s.publish = p
	}
}

// New creates a supervisor for the real adapters in order of preference.
func New(synth adapter.Adapter, real []adapter.Adapter, opts ...Option) *Supervisor {
	ret := &Supervisor{
		cfg:     DefaultConfig(),
		l:       log.Default().Named("supervisor"),
		publish: func(*model.Frame) {},
		synth:   synth,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.cfg.Period <= 0 {
		ret.cfg.Period = DefaultConfig().Period
	}
	for _, a := range real {
		ret.slots = append(ret.slots, &slot{
			a:     a,
			state: model.StateDisconnected,
			bo:    ret.newBackoff(),
		})
	}
	ret.metrics = newMetrics(ret.l)
	return ret
}

func (s *Supervisor) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.BackoffInitial
	bo.MaxInterval = s.cfg.BackoffMax
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// ticks converts a duration into a number of ticks, at least one.
func (s *Supervisor) ticks(d time.Duration) uint64 {
	if d <= 0 {
		return 1
	}
	return uint64(math.Ceil(float64(d) / float64(s.cfg.Period)))
}

// Start launches the tick loop. Calling Start on a running supervisor is a
// no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.searchStart = s.tick
	s.l.Info("supervisor started",
		log.Duration("period", s.cfg.Period), log.Int("sources", len(s.slots)))
	go s.run(runCtx, s.done)
}

// Stop ends the tick loop after the current tick and disconnects the active
// source.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivate(model.StateDisconnected)
	s.cancel = nil
	s.done = nil
	s.l.Info("supervisor stopped")
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// ForceSynthetic pins the synthetic source (on) or lets real sources take
// over again (off). Applied at the next tick.
func (s *Supervisor) ForceSynthetic(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced == on {
		return
	}
	s.forced = on
	s.searchStart = s.tick
	s.l.Info("synthetic source forced", log.Bool("on", on))
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := Status{
		Running:   s.cancel != nil,
		Synthetic: s.active != nil && s.activeSlot == nil,
		Forced:    s.forced,
		Ticks:     s.tick,
		Frames:    s.frames,
		Adapters:  make([]AdapterStatus, 0, len(s.slots)),
	}
	if s.active != nil {
		ret.Active = s.active.Name()
		ret.Game = s.active.Game()
	}
	for _, sl := range s.slots {
		st := AdapterStatus{
			Name:    sl.a.Name(),
			Game:    sl.a.Game(),
			State:   sl.state,
			Retries: sl.retries,
		}
		if sl.lastErr != nil {
			st.LastError = sl.lastErr.Error()
		}
		ret.Adapters = append(ret.Adapters, st)
	}
	return ret
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if f := s.step(ctx); f != nil {
				s.publish(f)
			}
		}
	}
}

// step performs one tick and returns the frame to publish, if any.
func (s *Supervisor) step(ctx context.Context) *model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	s.metrics.ticks.Add(ctx, 1)

	// poll and connect calls must not be interrupted by Stop
	pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Period)
	defer cancel()

	if s.forced {
		if s.activeSlot != nil {
			s.l.Info("switching to synthetic source",
				log.String("from", s.activeSlot.a.Name()))
			s.deactivate(model.StateDisconnected)
		}
	} else if s.activeSlot == nil {
		s.connectReal(pollCtx)
	}

	if s.active == nil && s.synthDue() {
		s.activateSynthetic(pollCtx)
	}
	if s.active == nil {
		return nil
	}
	return s.poll(pollCtx)
}

func (s *Supervisor) synthDue() bool {
	return s.forced ||
		len(s.slots) == 0 ||
		s.tick-s.searchStart >= uint64(max(0, s.cfg.ConnectTimeoutTicks))
}

// connectReal tries eligible real adapters in order. The first success
// replaces the synthetic source.
func (s *Supervisor) connectReal(ctx context.Context) {
	for _, sl := range s.slots {
		if sl.nextAttempt > s.tick {
			continue
		}
		sl.state = model.StateConnecting
		err := sl.a.Connect(ctx)
		if err != nil {
			s.connectFailed(sl, err)
			continue
		}
		if s.active != nil {
			s.l.Info("real source available, leaving synthetic source")
			s.deactivate(model.StateDisconnected)
		}
		sl.state = model.StateConnected
		sl.retries = 0
		sl.errors = 0
		sl.noData = 0
		sl.lastErr = nil
		sl.bo.Reset()
		s.active = sl.a
		s.activeSlot = sl
		s.l.Info("source connected",
			log.String("source", sl.a.Name()), log.String("game", string(sl.a.Game())))
		return
	}
}

func (s *Supervisor) connectFailed(sl *slot, err error) {
	sl.retries++
	sl.lastErr = err
	wait := sl.bo.NextBackOff()
	sl.nextAttempt = s.tick + s.ticks(wait)
	if errors.Is(err, adapter.ErrTransportUnavailable) {
		sl.state = model.StateDisconnected
		s.l.Debug("source not available",
			log.String("source", sl.a.Name()),
			log.Int("retries", sl.retries),
			log.Duration("wait", wait))
		return
	}
	sl.state = model.StateFailed
	s.l.Warn("source connect failed",
		log.String("source", sl.a.Name()),
		log.Int("retries", sl.retries),
		log.Duration("wait", wait),
		log.ErrorField(err))
}

func (s *Supervisor) activateSynthetic(ctx context.Context) {
	if err := s.synth.Connect(ctx); err != nil {
		s.l.Error("synthetic source failed to connect", log.ErrorField(err))
		return
	}
	s.active = s.synth
	s.activeSlot = nil
	s.synthErrors = 0
	s.metrics.failovers.Add(ctx, 1)
	s.l.Info("synthetic source active", log.Bool("forced", s.forced))
}

// deactivate disconnects the active source. A real source is left in state.
func (s *Supervisor) deactivate(state model.ConnectionState) {
	if s.active == nil {
		return
	}
	if err := s.active.Disconnect(); err != nil {
		s.l.Warn("disconnect failed",
			log.String("source", s.active.Name()), log.ErrorField(err))
	}
	if s.activeSlot != nil {
		s.activeSlot.state = state
	}
	s.active = nil
	s.activeSlot = nil
}

func (s *Supervisor) poll(ctx context.Context) *model.Frame {
	res := s.active.Poll(ctx)
	attrs := metric.WithAttributes(attribute.String("source", s.active.Name()))
	switch res.Status {
	case adapter.StatusFrame:
		s.metrics.frames.Add(ctx, 1, attrs)
		s.frames++
		if sl := s.activeSlot; sl != nil {
			sl.errors = 0
			sl.noData = 0
		} else {
			s.synthErrors = 0
		}
		return res.Frame
	case adapter.StatusNoData:
		s.metrics.noData.Add(ctx, 1, attrs)
		if sl := s.activeSlot; sl != nil {
			sl.errors = 0
			sl.noData++
			if s.cfg.StaleTicks > 0 && sl.noData >= s.cfg.StaleTicks {
				s.fail(sl, errStale)
			}
		}
	case adapter.StatusError:
		s.metrics.errors.Add(ctx, 1, attrs)
		s.pollFailed(res.Err)
	}
	return nil
}

func (s *Supervisor) pollFailed(err error) {
	sl := s.activeSlot
	if sl == nil {
		s.synthErrors++
		s.l.Warn("synthetic source poll error", log.ErrorField(err))
		if s.synthErrors >= max(1, s.cfg.ErrorThreshold) {
			s.deactivate(model.StateDisconnected)
		}
		return
	}
	sl.errors++
	sl.lastErr = err
	s.l.Debug("poll error",
		log.String("source", sl.a.Name()), log.Int("errors", sl.errors), log.ErrorField(err))
	if sl.errors >= max(1, s.cfg.ErrorThreshold) {
		s.fail(sl, err)
	}
}

// fail tears down the active real source and schedules its next attempt.
func (s *Supervisor) fail(sl *slot, err error) {
	wait := sl.bo.NextBackOff()
	s.l.Warn("source failed",
		log.String("source", sl.a.Name()),
		log.Duration("retryIn", wait),
		log.ErrorField(err))
	s.deactivate(model.StateFailed)
	sl.lastErr = err
	sl.retries++
	sl.errors = 0
	sl.noData = 0
	sl.nextAttempt = s.tick + s.ticks(wait)
	s.searchStart = s.tick
}

type metrics struct {
	ticks     metric.Int64Counter
	frames    metric.Int64Counter
	noData    metric.Int64Counter
	errors    metric.Int64Counter
	failovers metric.Int64Counter
}

func newMetrics(l *log.Logger) metrics {
	meter := otel.GetMeterProvider().Meter("simcoach.supervisor")
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name,
			metric.WithDescription(desc),
			metric.WithUnit("{count}"))
		if err != nil {
			l.Error("failed to register metric",
				log.String("metric", name), log.ErrorField(err))
			return noop.Int64Counter{}
		}
		return c
	}
	return metrics{
		ticks:     counter("simcoach.supervisor.ticks", "Number of supervisor ticks"),
		frames:    counter("simcoach.supervisor.frames", "Number of produced frames"),
		noData:    counter("simcoach.supervisor.nodata", "Number of polls without data"),
		errors:    counter("simcoach.supervisor.errors", "Number of poll errors"),
		failovers: counter("simcoach.supervisor.failovers", "Activations of the synthetic source"),
	}
}
