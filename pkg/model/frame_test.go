package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aarondl/opt/null"
	"github.com/stretchr/testify/assert"
)

func sampleFrame() *Frame {
	return &Frame{
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Game:        GameACC,
		Speed:       212.5,
		RPM:         7200,
		MaxRPM:      8000,
		Gear:        4,
		Throttle:    1,
		Steering:    -0.1,
		TireTempFL:  85,
		TireTempFR:  86,
		TireTempRL:  84,
		TireTempRR:  83,
		FuelLevel:   0.5,
		Fuel:        60,
		FuelLaps:    21,
		TC:          null.From(2),
		ABS:         null.From(3),
		Position:    null.From(4),
		TotalCars:   null.From(20),
		SessionType: "Race",
		TrackName:   "spa",
		CarName:     "mercedes_amg_gt3_evo",
		LapDistance: 0.42,
		LapTime:     55.321,
		LapNumber:   3,
		BestLapTime: null.From(138.2),
	}
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msgs []string
	}{
		{"no messages", nil},
		{"with messages", []string{"first", "second"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			annotated := sampleFrame().Annotate(tt.msgs)
			data, err := json.Marshal(annotated)
			assert.NoError(t, err)

			var got Frame
			assert.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, *annotated, got)
			assert.True(t, got.OilTemp.IsNull(), "oil temp stays absent")
			assert.True(t, got.Sector1Delta.IsNull(), "sector delta stays absent")
			assert.Nil(t, got.Leaderboard)
		})
	}
}

func TestFrameStableKeys(t *testing.T) {
	keys := func(f *Frame) map[string]bool {
		data, err := json.Marshal(f)
		assert.NoError(t, err)
		var m map[string]any
		assert.NoError(t, json.Unmarshal(data, &m))
		ret := map[string]bool{}
		for k := range m {
			ret[k] = true
		}
		return ret
	}
	full := sampleFrame()
	full.OilTemp = null.From(110.0)
	full.Leaderboard = []LeaderboardEntry{{Position: 1, DriverName: "A"}}
	sparse := &Frame{Game: GameAMS2, LapNumber: 1}
	assert.Equal(t, keys(full.Annotate(nil)), keys(sparse.Annotate(nil)))
}

func TestAnnotateDoesNotModifyOriginal(t *testing.T) {
	f := sampleFrame()
	f.Leaderboard = []LeaderboardEntry{{Position: 1, DriverName: "A"}}
	a := f.Annotate([]string{"msg"})
	a.Leaderboard[0].DriverName = "B"

	assert.Nil(t, f.CoachingMessages)
	assert.True(t, f.CoachingMessage.IsNull())
	assert.Equal(t, "A", f.Leaderboard[0].DriverName)
	assert.Equal(t, null.From("msg"), a.CoachingMessage)
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		mod     func(f *Frame)
		wantErr bool
	}{
		{"valid", func(f *Frame) {}, false},
		{"negative speed", func(f *Frame) { f.Speed = -1 }, true},
		{"throttle above one", func(f *Frame) { f.Throttle = 1.01 }, true},
		{"steering below minus one", func(f *Frame) { f.Steering = -1.5 }, true},
		{"gear below reverse", func(f *Frame) { f.Gear = -2 }, true},
		{"lap number zero", func(f *Frame) { f.LapNumber = 0 }, true},
		{"position zero", func(f *Frame) { f.Position = null.From(0) }, true},
		{"position absent", func(f *Frame) { f.Position = null.Val[int]{} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sampleFrame()
			tt.mod(f)
			err := f.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidFrame)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionStateText(t *testing.T) {
	for _, s := range []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateFailed} {
		text, err := s.MarshalText()
		assert.NoError(t, err)
		var got ConnectionState
		assert.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}
	var s ConnectionState
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
