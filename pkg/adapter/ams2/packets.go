package ams2

// Project CARS 2 UDP protocol (version 2) as sent by Automobilista 2.
// Packets are packed without padding and little endian.

const (
	packetCarPhysics     uint8 = 0
	packetRaceDefinition uint8 = 1
	packetTimings        uint8 = 3
	packetGameState      uint8 = 4
	packetTimeStats      uint8 = 7
)

const (
	maxParticipants = 32
	gearReverse     = 15
)

type packetHeader struct {
	PacketNumber         uint32
	CategoryPacketNumber uint32
	PartialPacketIndex   uint8
	PartialPacketNumber  uint8
	PacketType           uint8
	PacketVersion        uint8
}

type telemetryPacket struct {
	Header                 packetHeader
	ViewedParticipantIndex int8
	UnfilteredThrottle     uint8
	UnfilteredBrake        uint8
	UnfilteredSteering     int8
	UnfilteredClutch       uint8
	CarFlags               uint8
	OilTempCelsius         int16
	OilPressureKPa         uint16
	WaterTempCelsius       int16
	WaterPressureKPa       uint16
	FuelPressureKPa        uint16
	FuelCapacity           uint8
	Brake                  uint8
	Throttle               uint8
	Clutch                 uint8
	FuelLevel              float32
	Speed                  float32
	RPM                    uint16
	MaxRPM                 uint16
	Steering               int8
	GearNumGears           uint8
	BoostAmount            uint8
	CrashState             uint8
	OdometerKM             float32
	Orientation            [3]float32
	LocalVelocity          [3]float32
	WorldVelocity          [3]float32
	AngularVelocity        [3]float32
	LocalAcceleration      [3]float32
	WorldAcceleration      [3]float32
	ExtentsCentre          [3]float32
	TyreFlags              [4]uint8
	Terrain                [4]uint8
	TyreY                  [4]float32
	TyreRPS                [4]float32
	TyreTemp               [4]uint8
	TyreHeightAboveGround  [4]float32
	TyreWear               [4]uint8
	BrakeDamage            [4]uint8
	SuspensionDamage       [4]uint8
	BrakeTempCelsius       [4]int16
	TyreTreadTemp          [4]uint16
	TyreLayerTemp          [4]uint16
	TyreCarcassTemp        [4]uint16
	TyreRimTemp            [4]uint16
	TyreInternalAirTemp    [4]uint16
	TyreTempLeft           [4]uint16
	TyreTempCenter         [4]uint16
	TyreTempRight          [4]uint16
	WheelLocalPositionY    [4]float32
	RideHeight             [4]float32
	SuspensionTravel       [4]float32
	SuspensionVelocity     [4]float32
	SuspensionRideHeight   [4]uint16
	AirPressure            [4]uint16
	EngineSpeed            float32
	EngineTorque           float32
	Wings                  [2]uint8
	HandBrake              uint8
	AeroDamage             uint8
	EngineDamage           uint8
	JoyPad0                uint32
	DPad                   uint8
	TyreCompound           [4][40]byte
	TurboBoostPressure     float32
	FullPosition           [3]float32
	BrakeBias              uint8
	TickCount              uint32
}

type raceDefinitionPacket struct {
	Header                     packetHeader
	WorldFastestLapTime        float32
	PersonalFastestLapTime     float32
	PersonalFastestSector1Time float32
	PersonalFastestSector2Time float32
	PersonalFastestSector3Time float32
	WorldFastestSector1Time    float32
	WorldFastestSector2Time    float32
	WorldFastestSector3Time    float32
	TrackLength                float32
	TrackLocation              [64]byte
	TrackVariation             [64]byte
	TranslatedTrackLocation    [64]byte
	TranslatedTrackVariation   [64]byte
	LapsTimeInEvent            uint16
	EnforcedPitStopLap         int8
}

type participantInfo struct {
	WorldPosition      [3]int16
	Orientation        [3]int16
	CurrentLapDistance uint16
	RacePosition       uint8 // top bit: participant active
	Sector             uint8
	HighestFlag        uint8
	PitModeSchedule    uint8
	CarIndex           uint16
	RaceState          uint8
	CurrentLap         uint8
	CurrentTime        float32
	CurrentSectorTime  float32
	MPParticipantIndex uint16
}

type timingsPacket struct {
	Header                       packetHeader
	NumParticipants              int8
	ParticipantsChangedTimestamp uint32
	EventTimeRemaining           float32
	SplitTimeAhead               float32
	SplitTimeBehind              float32
	SplitTime                    float32
	Participants                 [maxParticipants]participantInfo
	LocalParticipantIndex        uint16
	TickCount                    uint32
}

type gameStatePacket struct {
	Header             packetHeader
	BuildVersionNumber uint16
	GameState          uint8 // bits 0-2 game state, bits 3-5 session state
	AmbientTemperature int8
	TrackTemperature   int8
	RainDensity        uint8
	SnowDensity        uint8
	WindSpeed          int8
	WindDirectionX     int8
	WindDirectionY     int8
}

type participantStats struct {
	FastestLapTime       float32
	LastLapTime          float32
	LastSectorTime       float32
	FastestSector1Time   float32
	FastestSector2Time   float32
	FastestSector3Time   float32
	ParticipantOnlineRep uint32
	MPParticipantIndex   uint16
	_                    [2]byte
}

type timeStatsPacket struct {
	Header                       packetHeader
	ParticipantsChangedTimestamp uint32
	Stats                        [maxParticipants]participantStats
}
