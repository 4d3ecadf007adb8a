package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/model"
)

var errBroken = errors.New("broken packet")

type fakeAdapter struct {
	mu          sync.Mutex
	name        string
	game        model.Game
	available   bool
	result      adapter.Result
	connected   bool
	connects    int
	disconnects int
}

func newFake(name string, game model.Game, available bool) *fakeAdapter {
	return &fakeAdapter{
		name:      name,
		game:      game,
		available: available,
		result:    adapter.FrameResult(&model.Frame{Game: game, LapNumber: 1}),
	}
}

func (f *fakeAdapter) Name() string     { return f.name }
func (f *fakeAdapter) Game() model.Game { return f.game }

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if !f.available {
		return adapter.ErrTransportUnavailable
	}
	f.connected = true
	return nil
}

func (f *fakeAdapter) Poll(ctx context.Context) adapter.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return adapter.ErrorResult(adapter.ErrNotConnected)
	}
	return f.result
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.disconnects++
	}
	f.connected = false
	return nil
}

func (f *fakeAdapter) set(available bool, res adapter.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = available
	f.result = res
}

func (f *fakeAdapter) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func testConfig() Config {
	return Config{
		Period:              10 * time.Millisecond,
		ConnectTimeoutTicks: 3,
		ErrorThreshold:      2,
		StaleTicks:          4,
		BackoffInitial:      20 * time.Millisecond,
		BackoffMax:          80 * time.Millisecond,
	}
}

// connectedCount asserts the single producer invariant.
func connectedCount(list ...*fakeAdapter) int {
	n := 0
	for _, f := range list {
		if f.isConnected() {
			n++
		}
	}
	return n
}

func TestFirstAvailableSourceWins(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, false)
	b := newFake("lmu", model.GameLMU, true)
	c := newFake("ams2", model.GameAMS2, true)
	s := New(synth, []adapter.Adapter{a, b, c}, WithConfig(testConfig()))

	f := s.step(context.Background())
	require.NotNil(t, f)
	assert.Equal(t, model.GameLMU, f.Game)
	assert.Equal(t, 0, c.connects)
	assert.Equal(t, 0, synth.connects)

	st := s.Status()
	assert.Equal(t, "lmu", st.Active)
	assert.False(t, st.Synthetic)
	assert.Equal(t, model.StateDisconnected, st.Adapters[0].State)
	assert.Equal(t, 1, st.Adapters[0].Retries)
	assert.Equal(t, model.StateConnected, st.Adapters[1].State)
	assert.Equal(t, uint64(1), st.Frames)
}

func TestSyntheticAfterConnectTimeout(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, false)
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))

	assert.Nil(t, s.step(context.Background()))
	assert.Nil(t, s.step(context.Background()))
	f := s.step(context.Background())
	require.NotNil(t, f)
	assert.Equal(t, model.GameDemo, f.Game)

	st := s.Status()
	assert.True(t, st.Synthetic)
	assert.Equal(t, "synthetic", st.Active)
	assert.Equal(t, 2, a.connects, "backoff delays the second attempt")
}

func TestWithoutRealSourcesSyntheticStartsImmediately(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	s := New(synth, nil, WithConfig(testConfig()))
	require.NotNil(t, s.step(context.Background()))
	assert.True(t, s.Status().Synthetic)
}

func TestRealSourceReplacesSynthetic(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, false)
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))
	for range 5 {
		s.step(context.Background())
		assert.LessOrEqual(t, connectedCount(synth, a), 1)
	}
	require.True(t, s.Status().Synthetic)

	a.set(true, adapter.FrameResult(&model.Frame{Game: model.GameACC, LapNumber: 1}))
	var f *model.Frame
	for range 20 {
		f = s.step(context.Background())
		assert.LessOrEqual(t, connectedCount(synth, a), 1)
		if f != nil && f.Game == model.GameACC {
			break
		}
	}
	require.NotNil(t, f)
	assert.Equal(t, model.GameACC, f.Game)
	assert.False(t, synth.isConnected())
	assert.Equal(t, 1, synth.disconnects)
	assert.Equal(t, "acc", s.Status().Active)
}

func TestErrorThresholdTearsDownSource(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	a.set(true, adapter.ErrorResult(errBroken))
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))

	assert.Nil(t, s.step(context.Background()))
	assert.Equal(t, model.StateConnected, s.Status().Adapters[0].State)
	assert.Nil(t, s.step(context.Background()))

	st := s.Status()
	assert.Equal(t, model.StateFailed, st.Adapters[0].State)
	assert.Equal(t, errBroken.Error(), st.Adapters[0].LastError)
	assert.Empty(t, st.Active)
	assert.Equal(t, 1, a.disconnects)

	// backoff of two ticks before the next attempt
	a.set(true, adapter.FrameResult(&model.Frame{Game: model.GameACC, LapNumber: 1}))
	assert.Nil(t, s.step(context.Background()))
	assert.Equal(t, 1, a.connects)
	f := s.step(context.Background())
	require.NotNil(t, f)
	assert.Equal(t, 2, a.connects)
	assert.Equal(t, model.StateConnected, s.Status().Adapters[0].State)
	assert.Equal(t, 0, s.Status().Adapters[0].Retries)
}

func TestSingleErrorsBelowThresholdAreTolerated(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))
	frame := adapter.FrameResult(&model.Frame{Game: model.GameACC, LapNumber: 1})
	for range 5 {
		a.set(true, adapter.ErrorResult(errBroken))
		assert.Nil(t, s.step(context.Background()))
		a.set(true, frame)
		assert.NotNil(t, s.step(context.Background()))
	}
	assert.Equal(t, 1, a.connects)
	assert.Equal(t, model.StateConnected, s.Status().Adapters[0].State)
}

func TestStaleSourceIsTornDown(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	a.set(true, adapter.NoData())
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))
	for range 3 {
		assert.Nil(t, s.step(context.Background()))
		assert.Equal(t, model.StateConnected, s.Status().Adapters[0].State)
	}
	assert.Nil(t, s.step(context.Background()))
	st := s.Status()
	assert.Equal(t, model.StateFailed, st.Adapters[0].State)
	assert.Equal(t, errStale.Error(), st.Adapters[0].LastError)
}

func TestStaleCheckDisabled(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	a.set(true, adapter.NoData())
	cfg := testConfig()
	cfg.StaleTicks = 0
	s := New(synth, []adapter.Adapter{a}, WithConfig(cfg))
	for range 50 {
		assert.Nil(t, s.step(context.Background()))
	}
	assert.Equal(t, model.StateConnected, s.Status().Adapters[0].State)
}

func TestForceSynthetic(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	s := New(synth, []adapter.Adapter{a}, WithConfig(testConfig()))
	require.Equal(t, model.GameACC, s.step(context.Background()).Game)

	s.ForceSynthetic(true)
	for range 5 {
		f := s.step(context.Background())
		require.NotNil(t, f)
		assert.Equal(t, model.GameDemo, f.Game)
		assert.Equal(t, 1, connectedCount(synth, a))
	}
	st := s.Status()
	assert.True(t, st.Forced)
	assert.True(t, st.Synthetic)
	assert.Equal(t, model.StateDisconnected, st.Adapters[0].State)
	assert.Equal(t, 1, a.connects)

	s.ForceSynthetic(false)
	f := s.step(context.Background())
	require.NotNil(t, f)
	assert.Equal(t, model.GameACC, f.Game)
	assert.False(t, synth.isConnected())
	assert.False(t, s.Status().Forced)
}

func TestStartStop(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	a := newFake("acc", model.GameACC, true)
	var published atomic.Int64
	cfg := testConfig()
	cfg.Period = time.Millisecond
	s := New(synth, []adapter.Adapter{a},
		WithConfig(cfg),
		WithPublisher(func(f *model.Frame) { published.Add(1) }))

	s.Start(context.Background())
	s.Start(context.Background())
	assert.True(t, s.Running())
	assert.Eventually(t, func() bool { return published.Load() > 10 },
		time.Second, 5*time.Millisecond)

	s.Stop()
	st := s.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Active)
	assert.False(t, a.isConnected())
	assert.Equal(t, model.StateDisconnected, st.Adapters[0].State)

	count := published.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, published.Load())

	// restart picks up the source again
	s.Start(context.Background())
	defer s.Stop()
	assert.Eventually(t, func() bool { return published.Load() > count },
		time.Second, 5*time.Millisecond)
}

func TestStopOnCancelledParent(t *testing.T) {
	synth := newFake("synthetic", model.GameDemo, true)
	s := New(synth, nil, WithConfig(testConfig()))
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()
	s.Stop()
	assert.False(t, s.Running())
	assert.False(t, synth.isConnected())
}
