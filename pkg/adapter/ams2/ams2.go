// Package ams2 receives Automobilista 2 telemetry sent in the Project CARS 2
// UDP format.
package ams2

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/aarondl/opt/null"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter"
	"github.com/mpapenbr/simcoach/pkg/model"
)

type Config struct {
	Addr         string        // listen address, e.g. ":9998"
	ProbeTimeout time.Duration // how long Connect waits for the first packet
	ReadBudget   time.Duration // max time a single Poll waits for packets
	MaxPackets   int           // max datagrams consumed per Poll
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":9998",
		ProbeTimeout: 5 * time.Millisecond,
		ReadBudget:   4 * time.Millisecond,
		MaxPackets:   64,
	}
}

var sessionTypes = adapter.SessionTable{
	1: "Practice",
	2: "Test",
	3: "Qualifying",
	4: "Formation Lap",
	5: "Race",
	6: "Time Attack",
}

var (
	headerSize         = binary.Size(packetHeader{})
	telemetrySize      = binary.Size(telemetryPacket{})
	raceDefinitionSize = binary.Size(raceDefinitionPacket{})
	timingsSize        = binary.Size(timingsPacket{})
	gameStateSize      = binary.Size(gameStatePacket{})
	timeStatsSize      = binary.Size(timeStatsPacket{})
)

// session collects the state carried by packets other than car physics.
type session struct {
	race      *raceDefinitionPacket
	timings   *timingsPacket
	gameState *gameStatePacket
	stats     *timeStatsPacket
}

type Adapter struct {
	cfg  Config
	l    *log.Logger
	now  func() time.Time
	conn *net.UDPConn
	live bool
	buf  []byte
	sess session
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
		l:   log.Default().Named("ams2"),
		now: time.Now,
		buf: make([]byte, 2048),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (a *Adapter) Name() string     { return "ams2" }
func (a *Adapter) Game() model.Game { return model.GameAMS2 }

// LocalAddr returns the bound address, nil if not bound.
func (a *Adapter) LocalAddr() net.Addr {
	if a.conn == nil {
		return nil
	}
	return a.conn.LocalAddr()
}

// Connect binds the UDP port and succeeds once the simulator sends data.
// The socket stays bound between unsuccessful attempts so that datagrams
// arriving in between are not lost.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.live {
		return nil
	}
	if a.conn == nil {
		addr, err := net.ResolveUDPAddr("udp", a.cfg.Addr)
		if err != nil {
			return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
		}
		if a.conn, err = net.ListenUDP("udp", addr); err != nil {
			return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
		}
		a.l.Debug("udp port bound", log.String("addr", a.conn.LocalAddr().String()))
	}
	if err := a.conn.SetReadDeadline(a.now().Add(a.cfg.ProbeTimeout)); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	n, _, err := a.conn.ReadFromUDP(a.buf)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: no telemetry on %s",
				adapter.ErrTransportUnavailable, a.conn.LocalAddr())
		}
		return fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	if _, err := a.handle(a.buf[:n]); err != nil {
		a.l.Debug("ignoring first datagram", log.ErrorField(err))
	}
	a.live = true
	a.l.Info("receiving telemetry", log.String("addr", a.conn.LocalAddr().String()))
	return nil
}

// Poll drains the queued datagrams. A frame is returned if at least one car
// physics packet was received.
func (a *Adapter) Poll(ctx context.Context) adapter.Result {
	if a.conn == nil || !a.live {
		return adapter.ErrorResult(adapter.ErrNotConnected)
	}
	deadline := a.now().Add(a.cfg.ReadBudget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return adapter.ErrorResult(err)
	}
	var (
		frame   *model.Frame
		lastErr error
	)
	for range a.cfg.MaxPackets {
		n, _, err := a.conn.ReadFromUDP(a.buf)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return adapter.ErrorResult(err)
		}
		f, err := a.handle(a.buf[:n])
		if err != nil {
			lastErr = err
			continue
		}
		if f != nil {
			frame = f
		}
	}
	switch {
	case frame != nil:
		return adapter.FrameResult(frame)
	case lastErr != nil:
		return adapter.ErrorResult(lastErr)
	}
	return adapter.NoData()
}

func (a *Adapter) Disconnect() error {
	a.live = false
	a.sess = session{}
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.l.Info("udp port released")
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

// handle parses one datagram. It returns a frame only for car physics packets.
func (a *Adapter) handle(data []byte) (*model.Frame, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: datagram of %d bytes", adapter.ErrMalformedData, len(data))
	}
	packetType := data[10]
	switch packetType {
	case packetCarPhysics:
		var p telemetryPacket
		if err := decode(data, telemetrySize, &p); err != nil {
			return nil, err
		}
		return a.toFrame(&p), nil
	case packetRaceDefinition:
		var p raceDefinitionPacket
		if err := decode(data, raceDefinitionSize, &p); err != nil {
			return nil, err
		}
		a.sess.race = &p
	case packetTimings:
		var p timingsPacket
		if err := decode(data, timingsSize, &p); err != nil {
			return nil, err
		}
		a.sess.timings = &p
	case packetGameState:
		var p gameStatePacket
		if err := decode(data, gameStateSize, &p); err != nil {
			return nil, err
		}
		a.sess.gameState = &p
	case packetTimeStats:
		var p timeStatsPacket
		if err := decode(data, timeStatsSize, &p); err != nil {
			return nil, err
		}
		a.sess.stats = &p
	}
	return nil, nil
}

func decode(data []byte, size int, target any) error {
	if len(data) < size {
		return fmt.Errorf("%w: packet type %d has %d bytes, need %d",
			adapter.ErrMalformedData, data[10], len(data), size)
	}
	if err := binary.Read(bytes.NewReader(data[:size]), binary.LittleEndian, target); err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrMalformedData, err)
	}
	return nil
}

func gear(gearNumGears uint8) int {
	g := int(gearNumGears & 0x0f)
	if g == gearReverse {
		return -1
	}
	return g
}

func positiveTime(v float32) null.Val[float64] {
	if v <= 0 {
		return null.Val[float64]{}
	}
	return null.From(float64(v))
}

func trackName(r *raceDefinitionPacket) string {
	location := adapter.CString(r.TranslatedTrackLocation[:])
	if location == "" {
		location = adapter.CString(r.TrackLocation[:])
	}
	variation := adapter.CString(r.TranslatedTrackVariation[:])
	if variation == "" {
		variation = adapter.CString(r.TrackVariation[:])
	}
	return strings.TrimSpace(location + " " + variation)
}

// brakeBias maps the quantized front share. 0 is sent when the car does not
// report a bias.
func brakeBias(raw uint8) null.Val[float64] {
	if raw == 0 {
		return null.Val[float64]{}
	}
	return null.From(float64(raw) / 255)
}

//nolint:funlen // field mapping
func (a *Adapter) toFrame(p *telemetryPacket) *model.Frame {
	capacity := float64(p.FuelCapacity)
	level := adapter.Unit(float64(p.FuelLevel))
	f := &model.Frame{
		Timestamp: a.now(),
		Game:      model.GameAMS2,

		Speed:    adapter.MpsToKmh(max(0, float64(p.Speed))),
		RPM:      int(p.RPM),
		MaxRPM:   int(p.MaxRPM),
		Gear:     gear(p.GearNumGears),
		Throttle: float64(p.Throttle) / 255,
		Brake:    float64(p.Brake) / 255,
		Clutch:   float64(p.Clutch) / 255,
		Steering: adapter.Clamp(float64(p.Steering)/127, -1, 1),

		// local frame: +x lateral, +y up, +z rear
		GForceLateral:      adapter.MpsSqToG(float64(p.LocalAcceleration[0])),
		GForceLongitudinal: adapter.MpsSqToG(-float64(p.LocalAcceleration[2])),
		GForceVertical:     adapter.MpsSqToG(float64(p.LocalAcceleration[1])),

		TireTempFL:     float64(p.TyreTemp[0]),
		TireTempFR:     float64(p.TyreTemp[1]),
		TireTempRL:     float64(p.TyreTemp[2]),
		TireTempRR:     float64(p.TyreTemp[3]),
		TirePressureFL: adapter.KPaToPsi(float64(p.AirPressure[0])),
		TirePressureFR: adapter.KPaToPsi(float64(p.AirPressure[1])),
		TirePressureRL: adapter.KPaToPsi(float64(p.AirPressure[2])),
		TirePressureRR: adapter.KPaToPsi(float64(p.AirPressure[3])),
		BrakeTempFL:    float64(p.BrakeTempCelsius[0]),
		BrakeTempFR:    float64(p.BrakeTempCelsius[1]),
		BrakeTempRL:    float64(p.BrakeTempCelsius[2]),
		BrakeTempRR:    float64(p.BrakeTempCelsius[3]),

		OilTemp:   null.From(float64(p.OilTempCelsius)),
		WaterTemp: null.From(float64(p.WaterTempCelsius)),
		FuelLevel: level,
		Fuel:      level * capacity,
		BrakeBias: brakeBias(p.BrakeBias),

		SessionType: model.SessionUnknown,
		LapNumber:   1,
	}
	if gs := a.sess.gameState; gs != nil {
		f.SessionType = sessionTypes.Lookup(int32(gs.GameState>>3) & 0x07)
	}
	idx := int(p.ViewedParticipantIndex)
	a.applyTimings(f, idx)
	if r := a.sess.race; r != nil {
		f.TrackName = trackName(r)
	}
	if s := a.sess.stats; s != nil && idx >= 0 && idx < maxParticipants {
		f.LastLapTime = positiveTime(s.Stats[idx].LastLapTime)
		f.BestLapTime = positiveTime(s.Stats[idx].FastestLapTime)
	}
	return f
}

func (a *Adapter) applyTimings(f *model.Frame, idx int) {
	t := a.sess.timings
	if t == nil {
		return
	}
	if idx < 0 || idx >= maxParticipants {
		idx = int(t.LocalParticipantIndex)
	}
	if idx < 0 || idx >= maxParticipants {
		return
	}
	part := &t.Participants[idx]
	f.SessionTimeRemaining = max(0, float64(t.EventTimeRemaining))
	if n := int(t.NumParticipants); n > 0 {
		f.TotalCars = null.From(n)
	}
	if pos := int(part.RacePosition & 0x7f); pos > 0 {
		f.Position = null.From(pos)
	}
	f.LapNumber = max(1, int(part.CurrentLap))
	f.LapTime = max(0, float64(part.CurrentTime))
	if r := a.sess.race; r != nil && r.TrackLength > 0 {
		f.LapDistance = adapter.Unit(float64(part.CurrentLapDistance) / float64(r.TrackLength))
	}
}
