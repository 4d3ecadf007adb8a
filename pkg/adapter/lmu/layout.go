package lmu

// Layouts of the rFactor 2 shared memory map plugin buffers used by Le Mans
// Ultimate. The plugin writes with 4 byte packing, all fields below are
// naturally aligned for that packing so no explicit padding is needed.

const maxMappedVehicles = 128

type vec3 struct {
	X, Y, Z float64
}

type wheelTelemetry struct {
	SuspensionDeflection      float64
	RideHeight                float64
	SuspForce                 float64
	BrakeTemp                 float64 // Celsius
	BrakePressure             float64
	Rotation                  float64
	LateralPatchVel           float64
	LongitudinalPatchVel      float64
	LateralGroundVel          float64
	LongitudinalGroundVel     float64
	Camber                    float64
	LateralForce              float64
	LongitudinalForce         float64
	TireLoad                  float64
	GripFract                 float64
	Pressure                  float64    // kPa
	Temperature               [3]float64 // Kelvin, left/center/right
	Wear                      float64
	TerrainName               [16]byte
	SurfaceType               uint8
	Flat                      uint8
	Detached                  uint8
	StaticUndeflectedRadius   uint8
	VerticalTireDeflection    float64
	WheelYLocation            float64
	Toe                       float64
	TireCarcassTemperature    float64
	TireInnerLayerTemperature [3]float64
	Expansion                 [24]byte
}

type vehicleTelemetry struct {
	ID                         int32
	DeltaTime                  float64
	ElapsedTime                float64
	LapNumber                  int32
	LapStartET                 float64
	VehicleName                [64]byte
	TrackName                  [64]byte
	Pos                        vec3
	LocalVel                   vec3
	LocalAccel                 vec3
	Ori                        [3]vec3
	LocalRot                   vec3
	LocalRotAccel              vec3
	Gear                       int32
	EngineRPM                  float64
	EngineWaterTemp            float64
	EngineOilTemp              float64
	ClutchRPM                  float64
	UnfilteredThrottle         float64
	UnfilteredBrake            float64
	UnfilteredSteering         float64
	UnfilteredClutch           float64
	FilteredThrottle           float64
	FilteredBrake              float64
	FilteredSteering           float64
	FilteredClutch             float64
	SteeringShaftTorque        float64
	Front3rdDeflection         float64
	Rear3rdDeflection          float64
	FrontWingHeight            float64
	FrontRideHeight            float64
	RearRideHeight             float64
	Drag                       float64
	FrontDownforce             float64
	RearDownforce              float64
	Fuel                       float64
	EngineMaxRPM               float64
	ScheduledStops             uint8
	Overheating                uint8
	Detached                   uint8
	Headlights                 uint8
	DentSeverity               [8]uint8
	LastImpactET               float64
	LastImpactMagnitude        float64
	LastImpactPos              vec3
	EngineTorque               float64
	CurrentSector              int32
	SpeedLimiter               uint8
	MaxGears                   uint8
	FrontTireCompoundIndex     uint8
	RearTireCompoundIndex      uint8
	FuelCapacity               float64
	FrontFlapActivated         uint8
	RearFlapActivated          uint8
	RearFlapLegalStatus        uint8
	IgnitionStarter            uint8
	FrontTireCompoundName      [18]byte
	RearTireCompoundName       [18]byte
	SpeedLimiterAvailable      uint8
	AntiStallActivated         uint8
	Unused                     [2]uint8
	VisualSteeringWheelRange   float32
	RearBrakeBias              float64
	TurboBoostPressure         float64
	PhysicsToGraphicsOffset    [3]float32
	PhysicalSteeringWheelRange float32
	Expansion                  [152]byte
	Wheels                     [4]wheelTelemetry
}

// telemetryHeader precedes the vehicle array of $rFactor2SMMP_Telemetry$.
type telemetryHeader struct {
	VersionUpdateBegin uint32
	VersionUpdateEnd   uint32
	BytesUpdatedHint   int32
	NumVehicles        int32
}

type scoringInfo struct {
	TrackName           [64]byte
	Session             int32
	CurrentET           float64
	EndET               float64
	MaxLaps             int32
	LapDist             float64
	Pointer1            [8]byte
	NumVehicles         int32
	GamePhase           uint8
	YellowFlagState     int8
	SectorFlag          [3]int8
	StartLight          uint8
	NumRedLights        uint8
	InRealtime          uint8
	PlayerName          [32]byte
	PlrFileName         [64]byte
	DarkCloud           float64
	Raining             float64
	AmbientTemp         float64
	TrackTemp           float64
	Wind                vec3
	MinPathWetness      float64
	MaxPathWetness      float64
	GameMode            uint8
	IsPasswordProtected uint8
	ServerPort          uint16
	ServerPublicIP      uint32
	MaxPlayers          int32
	ServerName          [32]byte
	StartET             float32
	AvgPathWetness      float64
	Expansion           [200]byte
	Pointer2            [8]byte
}

// scoringHeader precedes the vehicle array of $rFactor2SMMP_Scoring$.
type scoringHeader struct {
	VersionUpdateBegin uint32
	VersionUpdateEnd   uint32
	BytesUpdatedHint   int32
	Info               scoringInfo
}

type vehicleScoring struct {
	ID               int32
	DriverName       [32]byte
	VehicleName      [64]byte
	TotalLaps        int16
	Sector           int8
	FinishStatus     int8
	LapDist          float64
	PathLateral      float64
	TrackEdge        float64
	BestSector1      float64
	BestSector2      float64
	BestLapTime      float64
	LastSector1      float64
	LastSector2      float64
	LastLapTime      float64
	CurSector1       float64
	CurSector2       float64
	NumPitstops      int16
	NumPenalties     int16
	IsPlayer         uint8
	Control          int8
	InPits           uint8
	Place            uint8
	VehicleClass     [32]byte
	TimeBehindNext   float64
	LapsBehindNext   int32
	TimeBehindLeader float64
	LapsBehindLeader int32
	LapStartET       float64
	Pos              vec3
	LocalVel         vec3
	LocalAccel       vec3
	Ori              [3]vec3
	LocalRot         vec3
	LocalRotAccel    vec3
	Headlights       uint8
	PitState         uint8
	ServerScored     uint8
	IndividualPhase  uint8
	Qualification    int32
	TimeIntoLap      float64
	EstimatedLapTime float64
	PitGroup         [24]byte
	Flag             uint8
	UnderYellow      uint8
	CountLapFlag     uint8
	InGarageStall    uint8
	UpgradePack      [16]uint8
	PitLapDist       float32
	BestLapSector1   float32
	BestLapSector2   float32
	Expansion        [48]byte
}
