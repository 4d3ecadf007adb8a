// Package acc reads Assetto Corsa Competizione telemetry from its shared
// memory pages.
package acc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/adapter/shm"
	"github.com/mpapenbr/simcoach/pkg/model"
)

type Config struct {
	PhysicsName  string
	GraphicsName string
	StaticName   string
	Dir          string // used on non windows platforms
}

func DefaultConfig() Config {
	return Config{
		PhysicsName:  `Local\acpmf_physics`,
		GraphicsName: `Local\acpmf_graphics`,
		StaticName:   `Local\acpmf_static`,
		Dir:          "/dev/shm",
	}
}

var sessionTypes = adapter.SessionTable{
	0: "Practice",
	1: "Qualifying",
	2: "Race",
	3: "Hotlap",
	4: "Time Attack",
	5: "Drift",
	6: "Drag",
	7: "Hotstint",
	8: "Hotlap Superpole",
}

var (
	physicsSize  = binary.Size(physicsPage{})
	graphicsSize = binary.Size(graphicsPage{})
	staticSize   = binary.Size(staticPage{})
)

type Adapter struct {
	cfg    Config
	opener shm.Opener
	l      *log.Logger
	now    func() time.Time

	physics  shm.Region
	graphics shm.Region
	static   shm.Region

	lastPacket int32
	seenPacket bool
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithConfig(cfg Config) Option {
	return func(a *Adapter) {
		a.cfg = cfg
	}
}

func WithOpener(o shm.Opener) Option {
	return func(a *Adapter) {
		a.opener = o
	}
}

func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		a.l = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

func New(opts ...Option) *Adapter {
	ret := &Adapter{
		cfg: DefaultConfig(),
		l:   log.Default().Named("acc"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.opener == nil {
		ret.opener = shm.NewOpener(ret.cfg.Dir)
	}
	return ret
}

func (a *Adapter) Name() string     { return "acc" }
func (a *Adapter) Game() model.Game { return model.GameACC }

func (a *Adapter) Connect(ctx context.Context) error {
	if a.physics != nil {
		return nil
	}
	var err error
	regions := []struct {
		target *shm.Region
		name   string
		size   int
	}{
		{&a.physics, a.cfg.PhysicsName, physicsSize},
		{&a.graphics, a.cfg.GraphicsName, graphicsSize},
		{&a.static, a.cfg.StaticName, staticSize},
	}
	for _, r := range regions {
		if *r.target, err = a.opener.Open(r.name, r.size); err != nil {
			a.closeRegions()
			return err
		}
	}
	var g graphicsPage
	if err = readPage(a.graphics, graphicsSize, &g); err != nil {
		a.closeRegions()
		return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	if g.Status == statusOff {
		a.closeRegions()
		return fmt.Errorf("%w: simulator not in session", adapter.ErrTransportUnavailable)
	}
	a.seenPacket = false
	a.l.Info("connected to shared memory")
	return nil
}

func (a *Adapter) Poll(ctx context.Context) adapter.Result {
	if a.physics == nil {
		return adapter.ErrorResult(adapter.ErrNotConnected)
	}
	var (
		p physicsPage
		g graphicsPage
		s staticPage
	)
	if err := errors.Join(
		readPage(a.graphics, graphicsSize, &g),
		readPage(a.physics, physicsSize, &p),
		readPage(a.static, staticSize, &s),
	); err != nil {
		return adapter.ErrorResult(err)
	}
	if g.Status != statusLive {
		return adapter.NoData()
	}
	if a.seenPacket && p.PacketID == a.lastPacket {
		return adapter.NoData()
	}
	a.lastPacket, a.seenPacket = p.PacketID, true
	return adapter.FrameResult(toFrame(a.now(), &p, &g, &s))
}

func (a *Adapter) Disconnect() error {
	if a.physics == nil {
		return nil
	}
	a.l.Info("disconnecting from shared memory")
	return a.closeRegions()
}

func (a *Adapter) closeRegions() error {
	var errs []error
	for _, r := range []*shm.Region{&a.physics, &a.graphics, &a.static} {
		if *r != nil {
			errs = append(errs, (*r).Close())
			*r = nil
		}
	}
	return errors.Join(errs...)
}

func readPage(r shm.Region, size int, target any) error {
	buf := make([]byte, size)
	if err := shm.ReadFull(r, buf, 0); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, target); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrMalformedData, err)
	}
	return nil
}

func lapTime(ms int32) null.Val[float64] {
	if ms <= 0 || ms == unsetLapTime {
		return null.Val[float64]{}
	}
	return null.From(adapter.MillisToSeconds(ms))
}

func positiveInt(v int32) null.Val[int] {
	if v <= 0 {
		return null.Val[int]{}
	}
	return null.From(int(v))
}

//nolint:funlen // field mapping
func toFrame(ts time.Time, p *physicsPage, g *graphicsPage, s *staticPage) *model.Frame {
	maxRPM := int(s.MaxRPM)
	if p.CurrentMaxRPM > 0 {
		maxRPM = int(p.CurrentMaxRPM)
	}
	totalCars := g.ActiveCars
	if totalCars <= 0 {
		totalCars = s.NumCars
	}
	current := 0.0
	if g.ICurrentTime > 0 && g.ICurrentTime != unsetLapTime {
		current = adapter.MillisToSeconds(g.ICurrentTime)
	}
	return &model.Frame{
		Timestamp: ts,
		Game:      model.GameACC,

		Speed:    max(0, float64(p.SpeedKmh)),
		RPM:      max(0, int(p.RPM)),
		MaxRPM:   max(0, maxRPM),
		Gear:     int(p.Gear) - 1,
		Throttle: adapter.Unit(float64(p.Gas)),
		Brake:    adapter.Unit(float64(p.Brake)),
		Clutch:   adapter.Unit(float64(p.Clutch)),
		Steering: adapter.Clamp(float64(p.SteerAngle), -1, 1),

		GForceLateral:      float64(p.AccG[0]),
		GForceLongitudinal: float64(p.AccG[2]),
		GForceVertical:     float64(p.AccG[1]),

		TireTempFL:     float64(p.TyreCoreTemperature[0]),
		TireTempFR:     float64(p.TyreCoreTemperature[1]),
		TireTempRL:     float64(p.TyreCoreTemperature[2]),
		TireTempRR:     float64(p.TyreCoreTemperature[3]),
		TirePressureFL: float64(p.WheelsPressure[0]),
		TirePressureFR: float64(p.WheelsPressure[1]),
		TirePressureRL: float64(p.WheelsPressure[2]),
		TirePressureRR: float64(p.WheelsPressure[3]),
		BrakeTempFL:    float64(p.BrakeTemp[0]),
		BrakeTempFR:    float64(p.BrakeTemp[1]),
		BrakeTempRL:    float64(p.BrakeTemp[2]),
		BrakeTempRR:    float64(p.BrakeTemp[3]),

		WaterTemp: null.From(float64(p.WaterTemp)),
		FuelLevel: adapter.FuelLevel(float64(p.Fuel), float64(s.MaxFuel)),
		Fuel:      max(0, float64(p.Fuel)),
		FuelLaps:  adapter.FuelLaps(float64(p.Fuel), float64(g.FuelXLap)),

		TC:        null.From(int(g.TC)),
		ABS:       null.From(int(g.ABS)),
		BrakeBias: null.From(adapter.Unit(float64(p.BrakeBias))),
		EngineMap: null.From(int(g.EngineMap) + 1),

		Position:             positiveInt(g.Position),
		TotalCars:            positiveInt(totalCars),
		SessionType:          sessionTypes.Lookup(g.Session),
		SessionTimeRemaining: max(0, float64(g.SessionTimeLeft)/1000),
		TrackName:            adapter.UTF16String(s.Track[:]),
		CarName:              adapter.UTF16String(s.CarModel[:]),

		LapDistance: adapter.Unit(float64(g.NormalizedCarPosition)),
		LapTime:     current,
		LapNumber:   max(1, int(g.CompletedLaps)+1),
		LastLapTime: lapTime(g.ILastTime),
		BestLapTime: lapTime(g.IBestTime),
	}
}
