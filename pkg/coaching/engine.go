// Package coaching derives advisory messages from a single telemetry frame.
package coaching

import (
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mpapenbr/simcoach/pkg/model"
)

const (
	tireOverheat       = 105.0
	tireCold           = 70.0
	tireImbalance      = 15.0
	brakeCritical      = 800.0
	brakeElevated      = 650.0
	lowFuelLevel       = 0.15
	lapsPerFullTank    = 50
	pedalOverlap       = 0.2
	shiftFraction      = 0.95
	lateralGInfo       = 2.5
	deltaReportSeconds = 0.5
)

// message templates
const (
	MsgTireOverheat  = "TIRE OVERHEAT: average tire temperature above 105°C"
	MsgTireCold      = "COLD TIRES: push to build temperature (optimal 80-95°C)"
	MsgTireImbalance = "TIRE IMBALANCE: %.1f°C spread between tires"
	MsgBrakeCritical = "CRITICAL: brake fade risk, reduce brake pressure"
	MsgBrakeElevated = "HIGH BRAKE TEMPS: consider a cooling lap"
	MsgLowFuel       = "LOW FUEL: ~%d laps remaining"
	MsgPedalOverlap  = "BRAKE/THROTTLE OVERLAP: check trail braking technique"
	MsgShift         = "RPM LIMIT: shift up"
	MsgLateralG      = "HIGH LATERAL G: %.2fg"
	MsgDelta         = "DELTA: %+.3fs"
)

type rule func(f *model.Frame) []string

// evaluation order defines message order
var rules = []rule{
	tireTemperature,
	tireBalance,
	brakeTemperature,
	fuel,
	pedalInputs,
	shift,
	lateralG,
	lapDelta,
}

// Analyze evaluates all rules against f and returns the messages in rule order.
// The result is never nil.
func Analyze(f *model.Frame) []string {
	msgs := make([]string, 0)
	if f == nil {
		return msgs
	}
	for _, r := range rules {
		msgs = append(msgs, r(f)...)
	}
	return msgs
}

func tireTemperature(f *model.Frame) []string {
	temps := f.TireTemps()
	avg := lo.Sum(temps[:]) / float64(len(temps))
	switch {
	case avg > tireOverheat:
		return []string{MsgTireOverheat}
	case avg < tireCold:
		return []string{MsgTireCold}
	}
	return nil
}

func tireBalance(f *model.Frame) []string {
	temps := f.TireTemps()
	spread := lo.Max(temps[:]) - lo.Min(temps[:])
	if spread > tireImbalance {
		return []string{fmt.Sprintf(MsgTireImbalance, spread)}
	}
	return nil
}

func brakeTemperature(f *model.Frame) []string {
	temps := f.BrakeTemps()
	avg := lo.Sum(temps[:]) / float64(len(temps))
	switch {
	case avg > brakeCritical:
		return []string{MsgBrakeCritical}
	case avg > brakeElevated:
		return []string{MsgBrakeElevated}
	}
	return nil
}

func fuel(f *model.Frame) []string {
	if f.FuelLevel >= lowFuelLevel {
		return nil
	}
	return []string{fmt.Sprintf(MsgLowFuel, EstimatedLaps(f.FuelLevel))}
}

// EstimatedLaps returns floor(level * 50). The multiplication is done in
// decimal so that 0.1 yields 5 and not 4.
func EstimatedLaps(level float64) int {
	laps := decimal.NewFromFloat(level).
		Mul(decimal.NewFromInt(lapsPerFullTank)).
		Floor()
	return int(laps.IntPart())
}

func pedalInputs(f *model.Frame) []string {
	if f.Throttle > pedalOverlap && f.Brake > pedalOverlap {
		return []string{MsgPedalOverlap}
	}
	return nil
}

func shift(f *model.Frame) []string {
	if f.MaxRPM <= 0 {
		return nil
	}
	limit := decimal.NewFromInt(int64(f.MaxRPM)).Mul(decimal.NewFromFloat(shiftFraction))
	if decimal.NewFromInt(int64(f.RPM)).GreaterThan(limit) {
		return []string{MsgShift}
	}
	return nil
}

func lateralG(f *model.Frame) []string {
	if g := math.Abs(f.GForceLateral); g > lateralGInfo {
		return []string{fmt.Sprintf(MsgLateralG, g)}
	}
	return nil
}

func lapDelta(f *model.Frame) []string {
	best, ok := f.BestLapTime.Get()
	if !ok || f.LapTime <= 0 {
		return nil
	}
	delta := f.LapTime - best*f.LapDistance
	if math.Abs(delta) > deltaReportSeconds {
		return []string{fmt.Sprintf(MsgDelta, delta)}
	}
	return nil
}
