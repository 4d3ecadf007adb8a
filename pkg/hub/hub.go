// Package hub distributes coached frames to live subscribers and the
// persistence sink.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/coaching"
	"github.com/mpapenbr/simcoach/pkg/model"
	"github.com/mpapenbr/simcoach/pkg/sink"
)

var (
	ErrClosed       = errors.New("hub closed")
	ErrDuplicateID  = errors.New("subscriber already registered")
	errSendTimedOut = errors.New("send timed out")
)

// Subscriber is a live consumer of serialized frames.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, data []byte) error
	Close() error
}

type Config struct {
	SendTimeout time.Duration
	// MaxFailures consecutive failed pushes evict a subscriber.
	MaxFailures int
	SinkQueue   int
	SinkTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SendTimeout: 100 * time.Millisecond,
		MaxFailures: 3,
		SinkQueue:   256,
		SinkTimeout: 2 * time.Second,
	}
}

type AnalyzeFunc func(*model.Frame) []string

type Hub struct {
	cfg     Config
	l       *log.Logger
	sinkLog *log.Logger
	analyze AnalyzeFunc
	sink    sink.Sink
	sinkKey string
	now     func() time.Time

	mu         sync.RWMutex
	members    map[string]*member
	latest     *model.Frame
	latestData []byte
	lastUpdate time.Time
	closed     bool

	sinkCh    chan sink.Point
	sinkDone  chan struct{}
	writers   sync.WaitGroup
	closeOnce sync.Once

	stats stats
}

type stats struct {
	published  atomic.Int64
	sent       atomic.Int64
	skipped    atomic.Int64
	evicted    atomic.Int64
	sinkWrites atomic.Int64
	sinkErrors atomic.Int64
	sinkDrops  atomic.Int64
}

type Option func(*Hub)

func WithConfig(cfg Config) Option {
	return func(h *Hub) {
		h.cfg = cfg
	}
}

func WithLogger(l *log.Logger) Option {
	return func(h *Hub) {
		h.l = l
	}
}

// WithSink sets the persistence sink. kind is used for status and metrics.
func WithSink(s sink.Sink, kind string) Option {
	return func(h *Hub) {
		h.sink = s
		h.sinkKey = kind
	}
}

func WithAnalyzer(fn AnalyzeFunc) Option {
	return func(h *Hub) {
		h.analyze = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		h.now = now
	}
}

func New(opts ...Option) *Hub {
	ret := &Hub{
		cfg:     DefaultConfig(),
		l:       log.Default().Named("hub"),
		analyze: coaching.Analyze,
		sink:    sink.Discard{},
		sinkKey: string(sink.KindNone),
		now:     time.Now,
		members: map[string]*member{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.cfg.MaxFailures < 1 {
		ret.cfg.MaxFailures = 1
	}
	ret.sinkLog = ret.l.Named("sink").Sampled(10*time.Second, 1)
	ret.sinkCh = make(chan sink.Point, max(1, ret.cfg.SinkQueue))
	ret.sinkDone = make(chan struct{})
	go ret.writeSink()
	ret.setupMetrics()
	return ret
}

// Publish coaches the frame, stores it as the latest one and hands it to all
// subscribers and the sink. It never blocks on consumers.
func (h *Hub) Publish(frame *model.Frame) {
	f := frame.Annotate(h.analyze(frame))
	data, err := json.Marshal(f)
	if err != nil {
		h.l.Error("cannot serialize frame", log.ErrorField(err))
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.latest = f
	h.latestData = data
	h.lastUpdate = h.now()
	targets := make([]*member, 0, len(h.members))
	for _, m := range h.members {
		targets = append(targets, m)
	}
	select {
	case h.sinkCh <- sink.FromFrame(f):
	default:
		h.stats.sinkDrops.Add(1)
		h.sinkLog.Warn("sink queue full, dropping point")
	}
	h.mu.Unlock()

	h.stats.published.Add(1)
	for _, m := range targets {
		m.offer(data)
	}
}

// Register adds a subscriber. It receives the latest frame right away.
func (h *Hub) Register(sub Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if _, ok := h.members[sub.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, sub.ID())
	}
	m := &member{
		hub:  h,
		sub:  sub,
		slot: make(chan []byte, 1),
		done: make(chan struct{}),
	}
	h.members[sub.ID()] = m
	h.writers.Add(1)
	go m.run()
	if h.latestData != nil {
		m.offer(h.latestData)
	}
	h.l.Debug("subscriber registered",
		log.String("id", sub.ID()), log.Int("subscribers", len(h.members)))
	return nil
}

// Unregister removes the subscriber and closes it. Unknown ids are ignored.
func (h *Hub) Unregister(id string) bool {
	h.mu.Lock()
	m, ok := h.members[id]
	if ok {
		delete(h.members, id)
	}
	h.mu.Unlock()
	if ok {
		m.stop()
		h.l.Debug("subscriber unregistered", log.String("id", id))
	}
	return ok
}

// evict removes m if it is still registered.
func (h *Hub) evict(m *member, err error) {
	h.mu.Lock()
	cur, ok := h.members[m.sub.ID()]
	if ok && cur == m {
		delete(h.members, m.sub.ID())
	}
	h.mu.Unlock()
	if ok && cur == m {
		h.stats.evicted.Add(1)
		h.l.Info("subscriber evicted",
			log.String("id", m.sub.ID()), log.ErrorField(err))
	}
	m.stop()
}

// Latest returns the most recently published frame including its coaching
// messages.
func (h *Hub) Latest() *model.Frame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Hub) LastUpdate() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastUpdate
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Hub) SinkKind() string {
	return h.sinkKey
}

type Stats struct {
	Published  int64 `json:"published"`
	Sent       int64 `json:"sent"`
	Skipped    int64 `json:"skipped"`
	Evicted    int64 `json:"evicted"`
	SinkWrites int64 `json:"sinkWrites"`
	SinkErrors int64 `json:"sinkErrors"`
	SinkDrops  int64 `json:"sinkDrops"`
}

func (h *Hub) Stats() Stats {
	return Stats{
		Published:  h.stats.published.Load(),
		Sent:       h.stats.sent.Load(),
		Skipped:    h.stats.skipped.Load(),
		Evicted:    h.stats.evicted.Load(),
		SinkWrites: h.stats.sinkWrites.Load(),
		SinkErrors: h.stats.sinkErrors.Load(),
		SinkDrops:  h.stats.sinkDrops.Load(),
	}
}

// Close stops all subscribers, drains the sink queue and closes the sink.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		members := h.members
		h.members = map[string]*member{}
		close(h.sinkCh)
		h.mu.Unlock()

		for _, m := range members {
			m.stop()
		}
		h.writers.Wait()
		<-h.sinkDone
		if err := h.sink.Close(); err != nil {
			h.l.Warn("closing sink", log.ErrorField(err))
		}
		s := h.Stats()
		h.l.Info("hub closed",
			log.Int64("published", s.Published),
			log.Int64("sent", s.Sent),
			log.Int64("skipped", s.Skipped),
			log.Int64("evicted", s.Evicted))
	})
}

func (h *Hub) writeSink() {
	defer close(h.sinkDone)
	for p := range h.sinkCh {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		err := h.sink.Write(ctx, p)
		cancel()
		if err != nil {
			h.stats.sinkErrors.Add(1)
			h.sinkLog.Warn("sink write failed",
				log.String("sink", h.sinkKey), log.ErrorField(err))
			continue
		}
		h.stats.sinkWrites.Add(1)
	}
}

// member is a registered subscriber with its one slot mailbox.
type member struct {
	hub      *Hub
	sub      Subscriber
	slot     chan []byte
	done     chan struct{}
	failures atomic.Int32
	stopOnce sync.Once
}

// offer places data in the mailbox. An undelivered frame is replaced and only
// counted as skipped; eviction is left to failed or timed out sends.
func (m *member) offer(data []byte) {
	select {
	case m.slot <- data:
		return
	default:
	}
	select {
	case <-m.slot:
		m.hub.stats.skipped.Add(1)
	default:
	}
	select {
	case m.slot <- data:
	default:
	}
}

func (m *member) failed(err error) {
	if int(m.failures.Add(1)) >= m.hub.cfg.MaxFailures {
		m.hub.evict(m, err)
	}
}

func (m *member) stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *member) run() {
	defer m.hub.writers.Done()
	defer func() {
		if err := m.sub.Close(); err != nil {
			m.hub.l.Debug("closing subscriber",
				log.String("id", m.sub.ID()), log.ErrorField(err))
		}
	}()
	for {
		select {
		case <-m.done:
			return
		case data := <-m.slot:
			if err := m.send(data); err != nil {
				m.failed(err)
				continue
			}
			m.failures.Store(0)
			m.hub.stats.sent.Add(1)
		}
	}
}

func (m *member) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.hub.cfg.SendTimeout)
	defer cancel()
	err := m.sub.Send(ctx, data)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", errSendTimedOut, err)
	}
	return err
}
