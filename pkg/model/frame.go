package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/aarondl/opt/null"
)

// Frame is the simulator independent telemetry record produced once per tick.
//
// Units: speed km/h, temperatures °C, pressures psi, times seconds,
// g-forces in g. Optional values are encoded as JSON null when the source
// cannot supply them.
//
//nolint:lll // readability
type Frame struct {
	Timestamp time.Time `json:"timestamp"`
	Game      Game      `json:"game"`

	Speed    float64 `json:"speed"`
	RPM      int     `json:"rpm"`
	MaxRPM   int     `json:"max_rpm"`
	Gear     int     `json:"gear"` // -1 reverse, 0 neutral
	Throttle float64 `json:"throttle"`
	Brake    float64 `json:"brake"`
	Clutch   float64 `json:"clutch"`
	Steering float64 `json:"steering"`

	GForceLateral      float64 `json:"g_force_lateral"`
	GForceLongitudinal float64 `json:"g_force_longitudinal"`
	GForceVertical     float64 `json:"g_force_vertical"`

	TireTempFL     float64 `json:"tire_temp_fl"`
	TireTempFR     float64 `json:"tire_temp_fr"`
	TireTempRL     float64 `json:"tire_temp_rl"`
	TireTempRR     float64 `json:"tire_temp_rr"`
	TirePressureFL float64 `json:"tire_pressure_fl"`
	TirePressureFR float64 `json:"tire_pressure_fr"`
	TirePressureRL float64 `json:"tire_pressure_rl"`
	TirePressureRR float64 `json:"tire_pressure_rr"`
	BrakeTempFL    float64 `json:"brake_temp_fl"`
	BrakeTempFR    float64 `json:"brake_temp_fr"`
	BrakeTempRL    float64 `json:"brake_temp_rl"`
	BrakeTempRR    float64 `json:"brake_temp_rr"`

	OilTemp   null.Val[float64] `json:"oil_temp"`
	WaterTemp null.Val[float64] `json:"water_temp"`
	FuelLevel float64           `json:"fuel_level"` // fraction of capacity
	Fuel      float64           `json:"fuel"`       // liters
	FuelLaps  int               `json:"fuel_laps"`  // 0 if the source has no estimate

	TC        null.Val[int]     `json:"tc"`
	ABS       null.Val[int]     `json:"abs"`
	BrakeBias null.Val[float64] `json:"brake_bias"`
	EngineMap null.Val[int]     `json:"engine_map"`

	Position             null.Val[int] `json:"position"`
	TotalCars            null.Val[int] `json:"total_cars"`
	SessionType          string        `json:"session_type"`
	SessionTimeRemaining float64       `json:"session_time_remaining"`
	TrackName            string        `json:"track_name"`
	CarName              string        `json:"car_name"`

	LapDistance float64           `json:"lap_distance"` // fraction of the lap
	LapTime     float64           `json:"lap_time"`
	LapNumber   int               `json:"lap_number"`
	LastLapTime null.Val[float64] `json:"last_lap_time"`
	BestLapTime null.Val[float64] `json:"best_lap_time"`

	Sector1Delta null.Val[float64] `json:"sector_1_delta"`
	Sector2Delta null.Val[float64] `json:"sector_2_delta"`
	Sector3Delta null.Val[float64] `json:"sector_3_delta"`

	Leaderboard []LeaderboardEntry `json:"leaderboard"`

	CoachingMessages []string         `json:"coaching_messages"`
	CoachingMessage  null.Val[string] `json:"coaching_message"`
}

type LeaderboardEntry struct {
	Position   int               `json:"position"`
	CarNumber  string            `json:"car_number"`
	DriverName string            `json:"driver_name"`
	Gap        string            `json:"gap"`
	BestLap    null.Val[float64] `json:"best_lap"`
	Sector1    null.Val[float64] `json:"sector_1"`
	Sector2    null.Val[float64] `json:"sector_2"`
	Sector3    null.Val[float64] `json:"sector_3"`
}

var ErrInvalidFrame = errors.New("invalid frame")

// Annotate returns a copy of the frame carrying the given coaching messages.
// The receiver is left untouched.
func (f *Frame) Annotate(msgs []string) *Frame {
	ret := *f
	ret.CoachingMessages = make([]string, len(msgs))
	copy(ret.CoachingMessages, msgs)
	if len(msgs) > 0 {
		ret.CoachingMessage = null.From(msgs[0])
	} else {
		ret.CoachingMessage = null.Val[string]{}
	}
	if f.Leaderboard != nil {
		ret.Leaderboard = make([]LeaderboardEntry, len(f.Leaderboard))
		copy(ret.Leaderboard, f.Leaderboard)
	}
	return &ret
}

// Validate checks the normalized ranges of the frame.
//
//nolint:cyclop // linear list of checks
func (f *Frame) Validate() error {
	check := func(ok bool, format string, args ...any) error {
		if ok {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrInvalidFrame, fmt.Sprintf(format, args...))
	}
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	positive := func(v null.Val[int]) bool {
		n, ok := v.Get()
		return !ok || n >= 1
	}
	return errors.Join(
		check(f.Speed >= 0, "speed %f", f.Speed),
		check(f.RPM >= 0 && f.MaxRPM >= 0, "rpm %d/%d", f.RPM, f.MaxRPM),
		check(f.Gear >= -1, "gear %d", f.Gear),
		check(inUnit(f.Throttle), "throttle %f", f.Throttle),
		check(inUnit(f.Brake), "brake %f", f.Brake),
		check(inUnit(f.Clutch), "clutch %f", f.Clutch),
		check(f.Steering >= -1 && f.Steering <= 1, "steering %f", f.Steering),
		check(inUnit(f.FuelLevel), "fuel_level %f", f.FuelLevel),
		check(f.Fuel >= 0, "fuel %f", f.Fuel),
		check(f.FuelLaps >= 0, "fuel_laps %d", f.FuelLaps),
		check(inUnit(f.LapDistance), "lap_distance %f", f.LapDistance),
		check(f.LapNumber >= 1, "lap_number %d", f.LapNumber),
		check(f.SessionTimeRemaining >= 0, "session_time_remaining %f",
			f.SessionTimeRemaining),
		check(positive(f.Position), "position %v", f.Position),
		check(positive(f.TotalCars), "total_cars %v", f.TotalCars),
	)
}

// TireTemps returns the tire temperatures in FL, FR, RL, RR order.
func (f *Frame) TireTemps() [4]float64 {
	return [4]float64{f.TireTempFL, f.TireTempFR, f.TireTempRL, f.TireTempRR}
}

func (f *Frame) BrakeTemps() [4]float64 {
	return [4]float64{f.BrakeTempFL, f.BrakeTempFR, f.BrakeTempRL, f.BrakeTempRR}
}
