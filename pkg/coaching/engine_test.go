package coaching

import (
	"fmt"
	"testing"

	"github.com/aarondl/opt/null"
	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"

	"github.com/mpapenbr/simcoach/pkg/model"
)

// neutral returns a frame that triggers no rule.
func neutral() *model.Frame {
	return &model.Frame{
		Game:        model.GameDemo,
		RPM:         6000,
		MaxRPM:      8000,
		Throttle:    0.8,
		TireTempFL:  85,
		TireTempFR:  86,
		TireTempRL:  84,
		TireTempRR:  85,
		BrakeTempFL: 400,
		BrakeTempFR: 400,
		BrakeTempRL: 350,
		BrakeTempRR: 350,
		FuelLevel:   0.6,
		LapNumber:   2,
	}
}

func withTires(f *model.Frame, temps ...float64) *model.Frame {
	f.TireTempFL, f.TireTempFR, f.TireTempRL, f.TireTempRR = temps[0], temps[1], temps[2], temps[3]
	return f
}

func withBrakes(f *model.Frame, temps ...float64) *model.Frame {
	f.BrakeTempFL, f.BrakeTempFR, f.BrakeTempRL, f.BrakeTempRR = temps[0], temps[1], temps[2], temps[3]
	return f
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name  string
		frame func() *model.Frame
		want  []string
	}{
		{"nothing fires", neutral, []string{}},
		{
			"hot tires without imbalance",
			func() *model.Frame { return withTires(neutral(), 110, 108, 106, 107) },
			[]string{MsgTireOverheat},
		},
		{
			"cold tires",
			func() *model.Frame { return withTires(neutral(), 60, 62, 58, 61) },
			[]string{MsgTireCold},
		},
		{
			"imbalance reports spread",
			func() *model.Frame { return withTires(neutral(), 100, 80, 80, 80) },
			[]string{fmt.Sprintf(MsgTireImbalance, 20.0)},
		},
		{
			"critical brakes take priority",
			func() *model.Frame { return withBrakes(neutral(), 900, 850, 800, 790) },
			[]string{MsgBrakeCritical},
		},
		{
			"elevated brakes",
			func() *model.Frame { return withBrakes(neutral(), 700, 700, 660, 660) },
			[]string{MsgBrakeElevated},
		},
		{
			"low fuel",
			func() *model.Frame { f := neutral(); f.FuelLevel = 0.10; return f },
			[]string{"LOW FUEL: ~5 laps remaining"},
		},
		{
			"pedal overlap",
			func() *model.Frame { f := neutral(); f.Throttle, f.Brake = 0.5, 0.3; return f },
			[]string{MsgPedalOverlap},
		},
		{
			"pedal overlap boundary",
			func() *model.Frame { f := neutral(); f.Throttle, f.Brake = 0.2, 0.2; return f },
			[]string{},
		},
		{
			"shift boundary not exceeded",
			func() *model.Frame { f := neutral(); f.RPM, f.MaxRPM = 9500, 10000; return f },
			[]string{},
		},
		{
			"shift above boundary",
			func() *model.Frame { f := neutral(); f.RPM, f.MaxRPM = 9501, 10000; return f },
			[]string{MsgShift},
		},
		{
			"lateral g",
			func() *model.Frame { f := neutral(); f.GForceLateral = -2.756; return f },
			[]string{"HIGH LATERAL G: 2.76g"},
		},
		{
			"delta ahead",
			func() *model.Frame {
				f := neutral()
				f.BestLapTime = null.From(100.0)
				f.LapDistance = 0.5
				f.LapTime = 49.0
				return f
			},
			[]string{"DELTA: -1.000s"},
		},
		{
			"delta behind",
			func() *model.Frame {
				f := neutral()
				f.BestLapTime = null.From(100.0)
				f.LapDistance = 0.5
				f.LapTime = 50.75
				return f
			},
			[]string{"DELTA: +0.750s"},
		},
		{
			"delta within tolerance",
			func() *model.Frame {
				f := neutral()
				f.BestLapTime = null.From(100.0)
				f.LapDistance = 0.5
				f.LapTime = 50.2
				return f
			},
			[]string{},
		},
		{
			"delta without best lap",
			func() *model.Frame { f := neutral(); f.LapDistance = 0.5; f.LapTime = 80; return f },
			[]string{},
		},
		{
			"rule order",
			func() *model.Frame {
				f := withBrakes(withTires(neutral(), 120, 100, 105, 110), 900, 900, 900, 900)
				f.FuelLevel = 0.02
				f.Throttle, f.Brake = 0.9, 0.9
				f.RPM = 7999
				f.GForceLateral = 3
				return f
			},
			[]string{
				MsgTireOverheat,
				fmt.Sprintf(MsgTireImbalance, 20.0),
				MsgBrakeCritical,
				"LOW FUEL: ~1 laps remaining",
				MsgPedalOverlap,
				MsgShift,
				"HIGH LATERAL G: 3.00g",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.frame())
			assert.DeepEqual(t, tt.want, got)
		})
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	f := withBrakes(withTires(neutral(), 112, 90, 110, 111), 700, 700, 700, 700)
	f.FuelLevel = 0.05
	first := Analyze(f)
	second := Analyze(f)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Analyze() not idempotent (-first +second):\n%s", diff)
	}
}

func TestTireRulesExclusive(t *testing.T) {
	for temp := 40.0; temp <= 140; temp += 2.5 {
		got := Analyze(withTires(neutral(), temp, temp, temp, temp))
		hot, cold := contains(got, MsgTireOverheat), contains(got, MsgTireCold)
		assert.Assert(t, !(hot && cold), "temp %v", temp)
		assert.Equal(t, temp > 105, hot, "temp %v", temp)
		assert.Equal(t, temp < 70, cold, "temp %v", temp)
	}
}

func TestBrakePriority(t *testing.T) {
	for temp := 600.0; temp <= 1000; temp += 25 {
		got := Analyze(withBrakes(neutral(), temp, temp, temp, temp))
		if temp > 800 {
			assert.Assert(t, contains(got, MsgBrakeCritical))
			assert.Assert(t, !contains(got, MsgBrakeElevated))
		}
	}
}

func TestEstimatedLaps(t *testing.T) {
	tests := []struct {
		level float64
		want  int
	}{
		{0.10, 5},
		{0.14, 7},
		{0.019, 0},
		{0.02, 1},
		{0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, EstimatedLaps(tt.level))
		})
	}
}

func TestAnalyzeNil(t *testing.T) {
	assert.DeepEqual(t, []string{}, Analyze(nil))
}

func contains(msgs []string, m string) bool {
	for _, s := range msgs {
		if s == m {
			return true
		}
	}
	return false
}
