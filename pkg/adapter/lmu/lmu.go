// Package lmu reads Le Mans Ultimate telemetry through the rFactor 2 shared
// memory map plugin.
package lmu

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/adapter/shm"
	"github.com/mpapenbr/simcoach/pkg/model"
)

type Config struct {
	TelemetryName   string
	ScoringName     string
	Dir             string // used on non windows platforms
	LeaderboardSize int
}

func DefaultConfig() Config {
	return Config{
		TelemetryName:   "$rFactor2SMMP_Telemetry$",
		ScoringName:     "$rFactor2SMMP_Scoring$",
		Dir:             "/dev/shm",
		LeaderboardSize: 10,
	}
}

var sessionTypes = adapter.SessionTable{
	0:  "Test Day",
	1:  "Practice",
	2:  "Practice",
	3:  "Practice",
	4:  "Practice",
	5:  "Qualifying",
	6:  "Qualifying",
	7:  "Qualifying",
	8:  "Qualifying",
	9:  "Warmup",
	10: "Race",
	11: "Race",
	12: "Race",
	13: "Race",
}

var (
	telemetryHeaderSize = binary.Size(telemetryHeader{})
	vehicleTelSize      = binary.Size(vehicleTelemetry{})
	scoringHeaderSize   = binary.Size(scoringHeader{})
	vehicleScoringSize  = binary.Size(vehicleScoring{})
	telemetryMapSize    = telemetryHeaderSize + maxMappedVehicles*vehicleTelSize
	scoringMapSize      = scoringHeaderSize + maxMappedVehicles*vehicleScoringSize
)

var errTornRead = errors.New("snapshot changed while reading")

type Adapter struct {
	cfg    Config
	opener shm.Opener
	l      *log.Logger
	now    func() time.Time

	telemetry shm.Region
	scoring   shm.Region

	lastTelemetryVersion uint32
	seenTelemetry        bool
	scoringVersion       uint32
	scoringInfo          scoringInfo
	vehicles             []vehicleScoring
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
		l:   log.Default().Named("lmu"),
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

func (a *Adapter) Name() string     { return "lmu" }
func (a *Adapter) Game() model.Game { return model.GameLMU }

func (a *Adapter) Connect(ctx context.Context) error {
	if a.telemetry != nil {
		return nil
	}
	var err error
	if a.telemetry, err = a.opener.Open(a.cfg.TelemetryName, telemetryMapSize); err != nil {
		a.closeRegions()
		return err
	}
	if a.scoring, err = a.opener.Open(a.cfg.ScoringName, scoringMapSize); err != nil {
		a.closeRegions()
		return err
	}
	var h telemetryHeader
	if err = decodeAt(a.telemetry, 0, telemetryHeaderSize, &h); err != nil {
		a.closeRegions()
		return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	if h.NumVehicles <= 0 {
		a.closeRegions()
		return fmt.Errorf("%w: no vehicles in session", adapter.ErrTransportUnavailable)
	}
	a.seenTelemetry = false
	a.scoringVersion = 0
	a.vehicles = nil
	a.l.Info("connected to rF2 shared memory", log.Int32("vehicles", h.NumVehicles))
	return nil
}

func (a *Adapter) Poll(ctx context.Context) adapter.Result {
	if a.telemetry == nil {
		return adapter.ErrorResult(adapter.ErrNotConnected)
	}
	if err := a.refreshScoring(); err != nil {
		return adapter.ErrorResult(err)
	}
	player := a.player()
	if player == nil {
		return adapter.NoData()
	}

	var tel *vehicleTelemetry
	var version uint32
	err := retryTorn(func() error {
		var err error
		tel, version, err = a.readPlayerTelemetry(player.ID)
		return err
	})
	if err != nil {
		return adapter.ErrorResult(err)
	}
	if tel == nil {
		return adapter.NoData()
	}
	if a.seenTelemetry && version == a.lastTelemetryVersion {
		return adapter.NoData()
	}
	a.lastTelemetryVersion, a.seenTelemetry = version, true
	return adapter.FrameResult(a.toFrame(tel, player))
}

func (a *Adapter) Disconnect() error {
	if a.telemetry == nil {
		return nil
	}
	a.l.Info("disconnecting from rF2 shared memory")
	return a.closeRegions()
}

func (a *Adapter) closeRegions() error {
	var errs []error
	for _, r := range []*shm.Region{&a.telemetry, &a.scoring} {
		if *r != nil {
			errs = append(errs, (*r).Close())
			*r = nil
		}
	}
	return errors.Join(errs...)
}

// refreshScoring decodes the scoring buffer when its version changed.
func (a *Adapter) refreshScoring() error {
	return retryTorn(func() error {
		var h scoringHeader
		if err := decodeAt(a.scoring, 0, scoringHeaderSize, &h); err != nil {
			return err
		}
		if h.VersionUpdateBegin != h.VersionUpdateEnd {
			return errTornRead
		}
		if a.vehicles != nil && h.VersionUpdateBegin == a.scoringVersion {
			return nil
		}
		n := int(h.Info.NumVehicles)
		if n < 0 || n > maxMappedVehicles {
			return fmt.Errorf("%w: %d scoring vehicles", adapter.ErrMalformedData, n)
		}
		vehicles := make([]vehicleScoring, n)
		if n > 0 {
			err := decodeAt(a.scoring, int64(scoringHeaderSize), n*vehicleScoringSize, vehicles)
			if err != nil {
				return err
			}
		}
		if err := checkUnchanged(a.scoring, h.VersionUpdateBegin); err != nil {
			return err
		}
		a.scoringVersion = h.VersionUpdateBegin
		a.scoringInfo = h.Info
		a.vehicles = vehicles
		return nil
	})
}

func (a *Adapter) player() *vehicleScoring {
	for i := range a.vehicles {
		if a.vehicles[i].IsPlayer != 0 {
			return &a.vehicles[i]
		}
	}
	return nil
}

//nolint:whitespace // can't make both editor and linter happy
func (a *Adapter) readPlayerTelemetry(id int32) (
	*vehicleTelemetry, uint32, error,
) {
	var h telemetryHeader
	if err := decodeAt(a.telemetry, 0, telemetryHeaderSize, &h); err != nil {
		return nil, 0, err
	}
	if h.VersionUpdateBegin != h.VersionUpdateEnd {
		return nil, 0, errTornRead
	}
	n := int(h.NumVehicles)
	if n < 0 || n > maxMappedVehicles {
		return nil, 0, fmt.Errorf("%w: %d telemetry vehicles", adapter.ErrMalformedData, n)
	}
	for i := range n {
		off := int64(telemetryHeaderSize + i*vehicleTelSize)
		var vid int32
		if err := decodeAt(a.telemetry, off, 4, &vid); err != nil {
			return nil, 0, err
		}
		if vid != id {
			continue
		}
		var v vehicleTelemetry
		if err := decodeAt(a.telemetry, off, vehicleTelSize, &v); err != nil {
			return nil, 0, err
		}
		if err := checkUnchanged(a.telemetry, h.VersionUpdateBegin); err != nil {
			return nil, 0, err
		}
		return &v, h.VersionUpdateBegin, nil
	}
	return nil, h.VersionUpdateBegin, nil
}

// retryTorn runs read once more if the buffer was updated concurrently.
func retryTorn(read func() error) error {
	err := read()
	if errors.Is(err, errTornRead) {
		err = read()
	}
	if errors.Is(err, errTornRead) {
		return fmt.Errorf("%w: %w", adapter.ErrMalformedData, err)
	}
	return err
}

// checkUnchanged detects a writer that started a new update after version
// was read.
func checkUnchanged(r shm.Region, version uint32) error {
	var begin uint32
	if err := decodeAt(r, 0, 4, &begin); err != nil {
		return err
	}
	if begin != version {
		return errTornRead
	}
	return nil
}

func decodeAt(r shm.Region, off int64, size int, target any) error {
	buf := make([]byte, size)
	if err := shm.ReadFull(r, buf, off); err != nil {
		return err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, target); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrMalformedData, err)
	}
	return nil
}

func positiveTime(v float64) null.Val[float64] {
	if v <= 0 {
		return null.Val[float64]{}
	}
	return null.From(v)
}

func avgKelvin(t [3]float64) float64 {
	return adapter.KelvinToCelsius((t[0] + t[1] + t[2]) / 3)
}

//nolint:funlen // field mapping
func (a *Adapter) toFrame(t *vehicleTelemetry, s *vehicleScoring) *model.Frame {
	info := &a.scoringInfo
	lapDist := 0.0
	if info.LapDist > 0 {
		lapDist = adapter.Unit(s.LapDist / info.LapDist)
	}
	brakeBias := null.Val[float64]{}
	if t.RearBrakeBias > 0 {
		brakeBias = null.From(adapter.Unit(1 - t.RearBrakeBias))
	}
	w := &t.Wheels
	f := &model.Frame{
		Timestamp: a.now(),
		Game:      model.GameLMU,

		Speed:    adapter.MpsToKmh(adapter.Magnitude(t.LocalVel.X, t.LocalVel.Y, t.LocalVel.Z)),
		RPM:      max(0, int(math.Round(t.EngineRPM))),
		MaxRPM:   max(0, int(math.Round(t.EngineMaxRPM))),
		Gear:     max(-1, int(t.Gear)),
		Throttle: adapter.Unit(t.UnfilteredThrottle),
		Brake:    adapter.Unit(t.UnfilteredBrake),
		Clutch:   adapter.Unit(t.UnfilteredClutch),
		Steering: adapter.Clamp(t.UnfilteredSteering, -1, 1),

		// rF2 local frame: +x left, +y up, +z rear
		GForceLateral:      adapter.MpsSqToG(t.LocalAccel.X),
		GForceLongitudinal: adapter.MpsSqToG(-t.LocalAccel.Z),
		GForceVertical:     adapter.MpsSqToG(t.LocalAccel.Y),

		TireTempFL:     avgKelvin(w[0].Temperature),
		TireTempFR:     avgKelvin(w[1].Temperature),
		TireTempRL:     avgKelvin(w[2].Temperature),
		TireTempRR:     avgKelvin(w[3].Temperature),
		TirePressureFL: adapter.KPaToPsi(w[0].Pressure),
		TirePressureFR: adapter.KPaToPsi(w[1].Pressure),
		TirePressureRL: adapter.KPaToPsi(w[2].Pressure),
		TirePressureRR: adapter.KPaToPsi(w[3].Pressure),
		BrakeTempFL:    w[0].BrakeTemp,
		BrakeTempFR:    w[1].BrakeTemp,
		BrakeTempRL:    w[2].BrakeTemp,
		BrakeTempRR:    w[3].BrakeTemp,

		OilTemp:   null.From(t.EngineOilTemp),
		WaterTemp: null.From(t.EngineWaterTemp),
		FuelLevel: adapter.FuelLevel(t.Fuel, t.FuelCapacity),
		Fuel:      max(0, t.Fuel),
		BrakeBias: brakeBias,

		Position:             positiveInt(int(s.Place)),
		TotalCars:            positiveInt(len(a.vehicles)),
		SessionType:          sessionTypes.Lookup(info.Session),
		SessionTimeRemaining: max(0, info.EndET-info.CurrentET),
		TrackName:            adapter.CString(t.TrackName[:]),
		CarName:              adapter.CString(t.VehicleName[:]),

		LapDistance: lapDist,
		LapTime:     max(0, t.ElapsedTime-t.LapStartET),
		LapNumber:   max(1, int(s.TotalLaps)+1),
		LastLapTime: positiveTime(s.LastLapTime),
		BestLapTime: positiveTime(s.BestLapTime),

		Leaderboard: a.leaderboard(),
	}
	if s.CurSector1 > 0 && s.BestSector1 > 0 {
		f.Sector1Delta = null.From(s.CurSector1 - s.BestSector1)
	}
	if s.CurSector2 > 0 && s.CurSector1 > 0 && s.BestSector2 > 0 && s.BestSector1 > 0 {
		f.Sector2Delta = null.From((s.CurSector2 - s.CurSector1) - (s.BestSector2 - s.BestSector1))
	}
	return f
}

func positiveInt(v int) null.Val[int] {
	if v <= 0 {
		return null.Val[int]{}
	}
	return null.From(v)
}

func (a *Adapter) leaderboard() []model.LeaderboardEntry {
	if len(a.vehicles) == 0 {
		return nil
	}
	sorted := slices.Clone(a.vehicles)
	slices.SortFunc(sorted, func(x, y vehicleScoring) int {
		return int(x.Place) - int(y.Place)
	})
	n := min(len(sorted), a.cfg.LeaderboardSize)
	ret := make([]model.LeaderboardEntry, 0, n)
	for i := range n {
		v := &sorted[i]
		e := model.LeaderboardEntry{
			Position:   int(v.Place),
			CarNumber:  strconv.Itoa(int(v.ID)),
			DriverName: adapter.CString(v.DriverName[:]),
			Gap:        gap(v),
			BestLap:    positiveTime(v.BestLapTime),
		}
		if v.BestSector1 > 0 && v.BestSector2 > 0 && v.BestLapTime > 0 {
			e.Sector1 = null.From(v.BestSector1)
			e.Sector2 = null.From(v.BestSector2 - v.BestSector1)
			e.Sector3 = null.From(v.BestLapTime - v.BestSector2)
		}
		ret = append(ret, e)
	}
	return ret
}

func gap(v *vehicleScoring) string {
	switch {
	case v.Place == 1:
		return "Leader"
	case v.LapsBehindLeader > 0:
		return fmt.Sprintf("+%d L", v.LapsBehindLeader)
	default:
		return fmt.Sprintf("+%.3f", v.TimeBehindLeader)
	}
}
