package ams2

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/aarondl/opt/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/model"
)

func testConfig() Config {
	return Config{
		Addr:         "127.0.0.1:0",
		ProbeTimeout: 200 * time.Millisecond,
		ReadBudget:   100 * time.Millisecond,
		MaxPackets:   16,
	}
}

func encode(t *testing.T, p any) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, p))
	return buf.Bytes()
}

func header(packetType uint8) packetHeader {
	return packetHeader{PacketType: packetType, PacketVersion: 2}
}

func sampleTelemetry() *telemetryPacket {
	return &telemetryPacket{
		Header:                 header(packetCarPhysics),
		ViewedParticipantIndex: 2,
		OilTempCelsius:         104,
		WaterTempCelsius:       91,
		FuelCapacity:           100,
		Brake:                  51,
		Throttle:               255,
		Clutch:                 0,
		FuelLevel:              0.25,
		Speed:                  50,
		RPM:                    7800,
		MaxRPM:                 8200,
		Steering:               -64,
		GearNumGears:           0x63,
		LocalAcceleration:      [3]float32{-9.80665, 9.80665, 19.6133},
		TyreTemp:               [4]uint8{88, 90, 84, 85},
		BrakeTempCelsius:       [4]int16{510, 505, 380, 377},
		AirPressure:            [4]uint16{186, 186, 180, 180},
		BrakeBias:              143,
	}
}

func sendAll(t *testing.T, to net.Addr, datagrams ...[]byte) {
	t.Helper()
	conn, err := net.Dial("udp", to.String())
	require.NoError(t, err)
	defer conn.Close()
	for _, d := range datagrams {
		_, err := conn.Write(d)
		require.NoError(t, err)
	}
}

func sessionPackets(t *testing.T) [][]byte {
	race := raceDefinitionPacket{Header: header(packetRaceDefinition), TrackLength: 4000}
	copy(race.TranslatedTrackLocation[:], "Interlagos")
	copy(race.TranslatedTrackVariation[:], "GP")

	timings := timingsPacket{
		Header:             header(packetTimings),
		NumParticipants:    18,
		EventTimeRemaining: 900.5,
	}
	timings.Participants[2] = participantInfo{
		CurrentLapDistance: 1000,
		RacePosition:       0x80 | 5,
		CurrentLap:         3,
		CurrentTime:        31.25,
	}

	gs := gameStatePacket{Header: header(packetGameState), GameState: 5<<3 | 2}

	stats := timeStatsPacket{Header: header(packetTimeStats)}
	stats.Stats[2] = participantStats{FastestLapTime: 88.123, LastLapTime: 89.5}

	return [][]byte{encode(t, race), encode(t, timings), encode(t, gs), encode(t, stats)}
}

func connected(t *testing.T) *Adapter {
	t.Helper()
	a := New(WithConfig(testConfig()))
	err := a.Connect(t.Context())
	require.ErrorIs(t, err, adapter.ErrTransportUnavailable, "no traffic yet")
	require.NotNil(t, a.LocalAddr(), "socket stays bound")

	gs := gameStatePacket{Header: header(packetGameState)}
	sendAll(t, a.LocalAddr(), encode(t, gs))
	require.NoError(t, a.Connect(t.Context()))
	require.NoError(t, a.Connect(t.Context()), "idempotent")
	t.Cleanup(func() { a.Disconnect() })
	return a
}

func TestGear(t *testing.T) {
	tests := []struct {
		in   uint8
		want int
	}{
		{0x60, 0},
		{0x61, 1},
		{0x66, 6},
		{0x6f, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gear(tt.in))
	}
}

func TestBrakeBias(t *testing.T) {
	tests := []struct {
		raw  uint8
		want null.Val[float64]
	}{
		{0, null.Val[float64]{}},
		{255, null.From(1.0)},
		{153, null.From(0.6)},
	}
	for _, tt := range tests {
		got := brakeBias(tt.raw)
		assert.Equal(t, tt.want.IsNull(), got.IsNull(), "raw %d", tt.raw)
		assert.InDelta(t, tt.want.GetOrZero(), got.GetOrZero(), 1e-9, "raw %d", tt.raw)
	}
}

func TestPacketSizes(t *testing.T) {
	assert.Equal(t, 12, headerSize)
	assert.Equal(t, 559, telemetrySize)
	assert.Equal(t, 1063, timingsSize)
	assert.Equal(t, 1040, timeStatsSize)
}

func TestPollMapping(t *testing.T) {
	a := connected(t)
	datagrams := append(sessionPackets(t), encode(t, sampleTelemetry()))
	sendAll(t, a.LocalAddr(), datagrams...)

	r := a.Poll(t.Context())
	require.Equal(t, adapter.StatusFrame, r.Status, "err: %v", r.Err)
	f := r.Frame
	assert.NoError(t, f.Validate())

	assert.Equal(t, model.GameAMS2, f.Game)
	assert.InDelta(t, 180, f.Speed, 1e-4)
	assert.Equal(t, 7800, f.RPM)
	assert.Equal(t, 8200, f.MaxRPM)
	assert.Equal(t, 3, f.Gear)
	assert.InDelta(t, 1, f.Throttle, 1e-9)
	assert.InDelta(t, 0.2, f.Brake, 1e-9)
	assert.InDelta(t, -64.0/127, f.Steering, 1e-9)
	assert.InDelta(t, -1, f.GForceLateral, 1e-5)
	assert.InDelta(t, -2, f.GForceLongitudinal, 1e-5)
	assert.InDelta(t, 1, f.GForceVertical, 1e-5)
	assert.InDelta(t, 90, f.TireTempFR, 1e-9)
	assert.InDelta(t, 26.977, f.TirePressureFL, 1e-3)
	assert.InDelta(t, 377, f.BrakeTempRR, 1e-9)
	assert.Equal(t, null.From(104.0), f.OilTemp)
	assert.Equal(t, null.From(91.0), f.WaterTemp)
	assert.InDelta(t, 0.25, f.FuelLevel, 1e-9)
	assert.InDelta(t, 25, f.Fuel, 1e-9)
	assert.Zero(t, f.FuelLaps)
	assert.InDelta(t, 143.0/255, f.BrakeBias.GetOrZero(), 1e-9)
	assert.True(t, f.TC.IsNull())
	assert.Equal(t, "Race", f.SessionType)
	assert.Equal(t, "Interlagos GP", f.TrackName)
	assert.Equal(t, null.From(5), f.Position)
	assert.Equal(t, null.From(18), f.TotalCars)
	assert.Equal(t, 3, f.LapNumber)
	assert.InDelta(t, 31.25, f.LapTime, 1e-9)
	assert.InDelta(t, 0.25, f.LapDistance, 1e-9)
	assert.InDelta(t, 900.5, f.SessionTimeRemaining, 1e-9)
	assert.InDelta(t, 88.123, f.BestLapTime.GetOrZero(), 1e-4)
	assert.InDelta(t, 89.5, f.LastLapTime.GetOrZero(), 1e-9)
}

func TestPollWithoutSessionPackets(t *testing.T) {
	a := connected(t)
	sendAll(t, a.LocalAddr(), encode(t, sampleTelemetry()))

	r := a.Poll(t.Context())
	require.Equal(t, adapter.StatusFrame, r.Status)
	assert.Equal(t, model.SessionUnknown, r.Frame.SessionType)
	assert.Equal(t, 1, r.Frame.LapNumber)
	assert.True(t, r.Frame.Position.IsNull())
	assert.True(t, r.Frame.BestLapTime.IsNull())
}

func TestPollResults(t *testing.T) {
	unknown := encode(t, header(9))
	shortTelemetry := encode(t, sampleTelemetry())[:100]

	tests := []struct {
		name      string
		datagrams func() [][]byte
		want      adapter.Status
	}{
		{"nothing queued", func() [][]byte { return nil }, adapter.StatusNoData},
		{"unknown packet type", func() [][]byte { return [][]byte{unknown} }, adapter.StatusNoData},
		{"session packets only", func() [][]byte { return sessionPackets(t) }, adapter.StatusNoData},
		{"datagram below header size", func() [][]byte { return [][]byte{{1, 2, 3}} }, adapter.StatusError},
		{"undersized telemetry", func() [][]byte { return [][]byte{shortTelemetry} }, adapter.StatusError},
		{
			"malformed followed by telemetry",
			func() [][]byte { return [][]byte{shortTelemetry, encode(t, sampleTelemetry())} },
			adapter.StatusFrame,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := connected(t)
			if d := tt.datagrams(); len(d) > 0 {
				sendAll(t, a.LocalAddr(), d...)
			}
			r := a.Poll(t.Context())
			assert.Equal(t, tt.want, r.Status, "err: %v", r.Err)
			if tt.want == adapter.StatusError {
				assert.ErrorIs(t, r.Err, adapter.ErrMalformedData)
			}
			// the adapter keeps working after any result
			sendAll(t, a.LocalAddr(), encode(t, sampleTelemetry()))
			assert.Equal(t, adapter.StatusFrame, a.Poll(t.Context()).Status)
		})
	}
}

func TestDisconnect(t *testing.T) {
	a := connected(t)
	assert.NoError(t, a.Disconnect())
	assert.NoError(t, a.Disconnect())
	assert.Nil(t, a.LocalAddr())
	r := a.Poll(t.Context())
	assert.ErrorIs(t, r.Err, adapter.ErrNotConnected)
}
