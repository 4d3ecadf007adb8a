// Package synthetic fabricates plausible telemetry when no simulator is
// available.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/model"
)

type Config struct {
	Step        time.Duration // simulated time per poll
	Seed        uint64
	TrackName   string
	CarName     string
	TrackLength float64 // meters
	Session     time.Duration
	TankSize    float64 // liters
	StartFuel   float64 // liters
	FuelPerLap  float64 // liters
	TotalCars   int
	Position    int
}

func DefaultConfig() Config {
	return Config{
		Step:        16 * time.Millisecond,
		Seed:        1,
		TrackName:   "Spa-Francorchamps",
		CarName:     "Mercedes-AMG GT3",
		TrackLength: 7004,
		Session:     30 * time.Minute,
		TankSize:    120,
		StartFuel:   72,
		FuelPerLap:  2.9,
		TotalCars:   20,
		Position:    4,
	}
}

const (
	corners   = 6
	minSpeed  = 90.0  // km/h
	maxSpeed  = 265.0 // km/h
	maxRPM    = 8500
	gearWidth = 46.0 // km/h per gear
	topGear   = 6
)

var rivals = []struct {
	number string
	driver string
	pace   float64 // seconds per lap relative to the player
}{
	{"88", "M. Verstappen", -0.6},
	{"4", "L. Norris", -0.35},
	{"16", "C. Leclerc", -0.1},
	{"44", "L. Hamilton", 0.25},
}

type Adapter struct {
	cfg       Config
	l         *log.Logger
	now       func() time.Time
	rnd       *rand.Rand
	connected bool

	sessionLeft float64
	lapDist     float64
	lapTime     float64
	lapNumber   int
	pace        float64
	lastLap     null.Val[float64]
	bestLap     null.Val[float64]
	sectors     [3]float64 // sector times of the current lap
	bestSectors [3]float64
	fuel        float64
	tires       [4]float64
	brakes      [4]float64
	lastSpeed   float64
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

func WithConfig(cfg Config) Option {
	return func(a *Adapter) {
		a.cfg = cfg
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
		l:   log.Default().Named("synthetic"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (a *Adapter) Name() string     { return "synthetic" }
func (a *Adapter) Game() model.Game { return model.GameDemo }

// Connect always succeeds. A new session starts on each fresh connect.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.connected {
		return nil
	}
	a.rnd = rand.New(rand.NewPCG(a.cfg.Seed, a.cfg.Seed^0x5eed))
	a.sessionLeft = a.cfg.Session.Seconds()
	a.lapDist = 0
	a.lapTime = 0
	a.lapNumber = 1
	a.pace = a.lapPace()
	a.lastLap = null.Val[float64]{}
	a.bestLap = null.Val[float64]{}
	a.sectors = [3]float64{}
	a.bestSectors = [3]float64{}
	a.fuel = math.Min(a.cfg.StartFuel, a.cfg.TankSize)
	a.tires = [4]float64{60, 60, 60, 60}
	a.brakes = [4]float64{150, 150, 150, 150}
	a.lastSpeed = speedAt(0)
	a.connected = true
	a.l.Info("synthetic session started", log.String("track", a.cfg.TrackName))
	return nil
}

func (a *Adapter) Disconnect() error {
	if a.connected {
		a.l.Info("synthetic session stopped")
	}
	a.connected = false
	return nil
}

func (a *Adapter) Poll(ctx context.Context) adapter.Result {
	if !a.connected {
		return adapter.ErrorResult(adapter.ErrNotConnected)
	}
	return adapter.FrameResult(a.step())
}

// lapPace returns a per lap speed factor around 1.
func (a *Adapter) lapPace() float64 {
	return 0.99 + a.rnd.Float64()*0.02
}

// speedAt is the reference speed profile in km/h at lap fraction d.
func speedAt(d float64) float64 {
	mid := (maxSpeed + minSpeed) / 2
	amp := (maxSpeed - minSpeed) / 2
	return mid + amp*math.Cos(2*math.Pi*corners*d)
}

func curvatureAt(d float64) float64 {
	return math.Sin(2 * math.Pi * corners * d)
}

//nolint:funlen // simulation step
func (a *Adapter) step() *model.Frame {
	dt := a.cfg.Step.Seconds()
	speed := speedAt(a.lapDist) * a.pace
	accel := (speed - a.lastSpeed) / 3.6 / dt // m/s²
	a.lastSpeed = speed

	throttle, brake := 0.0, 0.0
	if accel >= 0 {
		throttle = adapter.Unit(0.55 + accel/8)
	} else {
		brake = adapter.Unit(-accel / 25)
	}

	a.advance(speed, dt)
	a.heat(speed, brake, dt)

	gear := min(topGear, 1+int(speed/gearWidth))
	gearLow := float64(gear-1) * gearWidth
	rpm := 4200 + int((speed-gearLow)/gearWidth*4000)
	lateral := 2.2 * curvatureAt(a.lapDist) * math.Pow(speed/maxSpeed, 2)

	f := &model.Frame{
		Timestamp: a.now(),
		Game:      model.GameDemo,

		Speed:    speed,
		RPM:      min(rpm, maxRPM),
		MaxRPM:   maxRPM,
		Gear:     gear,
		Throttle: throttle,
		Brake:    brake,
		Steering: adapter.Clamp(lateral/3, -1, 1),

		GForceLateral:      lateral,
		GForceLongitudinal: adapter.Clamp(adapter.MpsSqToG(accel), -2.5, 1.5),
		GForceVertical:     1 + (a.rnd.Float64()-0.5)*0.1,

		TireTempFL:     a.tires[0],
		TireTempFR:     a.tires[1],
		TireTempRL:     a.tires[2],
		TireTempRR:     a.tires[3],
		TirePressureFL: pressure(a.tires[0]),
		TirePressureFR: pressure(a.tires[1]),
		TirePressureRL: pressure(a.tires[2]),
		TirePressureRR: pressure(a.tires[3]),
		BrakeTempFL:    a.brakes[0],
		BrakeTempFR:    a.brakes[1],
		BrakeTempRL:    a.brakes[2],
		BrakeTempRR:    a.brakes[3],

		OilTemp:   null.From(104 + a.rnd.Float64()*2),
		WaterTemp: null.From(89 + a.rnd.Float64()*2),
		FuelLevel: adapter.FuelLevel(a.fuel, a.cfg.TankSize),
		Fuel:      a.fuel,
		FuelLaps:  adapter.FuelLaps(a.fuel, a.cfg.FuelPerLap),

		TC:        null.From(2),
		ABS:       null.From(3),
		BrakeBias: null.From(0.56),
		EngineMap: null.From(1),

		Position:             null.From(a.cfg.Position),
		TotalCars:            null.From(a.cfg.TotalCars),
		SessionType:          "Race",
		SessionTimeRemaining: a.sessionLeft,
		TrackName:            a.cfg.TrackName,
		CarName:              a.cfg.CarName,

		LapDistance: a.lapDist,
		LapTime:     a.lapTime,
		LapNumber:   a.lapNumber,
		LastLapTime: a.lastLap,
		BestLapTime: a.bestLap,
	}
	a.sectorDeltas(f)
	f.Leaderboard = a.leaderboard()
	return f
}

// advance moves the car along the lap and handles sector and lap crossings.
func (a *Adapter) advance(speed, dt float64) {
	a.sessionLeft = math.Max(0, a.sessionLeft-dt)
	a.lapTime += dt
	delta := speed / 3.6 * dt / a.cfg.TrackLength
	a.fuel = math.Max(0, a.fuel-delta*a.cfg.FuelPerLap)
	prevSector := sectorOf(a.lapDist)
	a.lapDist += delta
	if a.lapDist >= 1 {
		a.completeLap()
		return
	}
	if s := sectorOf(a.lapDist); s != prevSector {
		a.sectors[prevSector] = a.lapTime - a.elapsedBefore(prevSector)
	}
}

func (a *Adapter) completeLap() {
	a.sectors[2] = a.lapTime - a.elapsedBefore(2)
	lap := a.lapTime
	a.lastLap = null.From(lap)
	if best, ok := a.bestLap.Get(); !ok || lap < best {
		a.bestLap = null.From(lap)
		a.bestSectors = a.sectors
	}
	a.lapDist -= 1
	a.lapTime = 0
	a.lapNumber++
	a.sectors = [3]float64{}
	a.pace = a.lapPace()
}

func (a *Adapter) elapsedBefore(sector int) float64 {
	sum := 0.0
	for i := range sector {
		sum += a.sectors[i]
	}
	return sum
}

func sectorOf(d float64) int {
	return min(2, int(d*3))
}

func (a *Adapter) sectorDeltas(f *model.Frame) {
	if a.bestLap.IsNull() {
		return
	}
	targets := []*null.Val[float64]{&f.Sector1Delta, &f.Sector2Delta, &f.Sector3Delta}
	for i := range sectorOf(a.lapDist) {
		*targets[i] = null.From(a.sectors[i] - a.bestSectors[i])
	}
}

func (a *Adapter) heat(speed, brake, dt float64) {
	load := math.Abs(curvatureAt(a.lapDist))*speed/maxSpeed + brake
	target := 72 + 28*load
	for i := range a.tires {
		a.tires[i] += (target + float64(i%2) - a.tires[i]) * 0.08 * dt
	}
	for i := range a.brakes {
		bias := 1.0
		if i >= 2 {
			bias = 0.7
		}
		a.brakes[i] += 700*brake*bias*dt - (a.brakes[i]-150)*0.35*dt
	}
}

func pressure(temp float64) float64 {
	return 26 + (temp-80)*0.04
}

func (a *Adapter) leaderboard() []model.LeaderboardEntry {
	ret := make([]model.LeaderboardEntry, 0, len(rivals)+1)
	best := a.bestLap.GetOr(0)
	for i, r := range rivals {
		e := model.LeaderboardEntry{
			Position:   i + 1,
			CarNumber:  r.number,
			DriverName: r.driver,
			Gap:        "Leader",
		}
		if i > 0 {
			e.Gap = fmt.Sprintf("+%.3f", float64(i)*1.417+float64(a.lapNumber)*0.05)
		}
		if best > 0 {
			e.BestLap = null.From(best + r.pace)
		}
		ret = append(ret, e)
	}
	player := model.LeaderboardEntry{
		Position:   len(rivals) + 1,
		CarNumber:  "77",
		DriverName: "You",
		Gap:        fmt.Sprintf("+%.3f", 6.204+float64(a.lapNumber)*0.05),
		BestLap:    a.bestLap,
	}
	if !a.bestLap.IsNull() {
		player.Sector1 = null.From(a.bestSectors[0])
		player.Sector2 = null.From(a.bestSectors[1])
		player.Sector3 = null.From(a.bestSectors[2])
	}
	return append(ret, player)
}
