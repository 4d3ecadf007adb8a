package acc

// Layouts of the ACC shared memory pages (SPageFilePhysics,
// SPageFileGraphic, SPageFileStatic). The pages are written with 4 byte
// packing; explicit padding keeps the Go structs byte compatible when decoded
// with encoding/binary. Only the leading part of each page is decoded.

type physicsPage struct {
	PacketID            int32
	Gas                 float32
	Brake               float32
	Fuel                float32
	Gear                int32
	RPM                 int32
	SteerAngle          float32
	SpeedKmh            float32
	Velocity            [3]float32
	AccG                [3]float32
	WheelSlip           [4]float32
	WheelLoad           [4]float32
	WheelsPressure      [4]float32
	WheelAngularSpeed   [4]float32
	TyreWear            [4]float32
	TyreDirtyLevel      [4]float32
	TyreCoreTemperature [4]float32
	CamberRad           [4]float32
	SuspensionTravel    [4]float32
	DRS                 float32
	TC                  float32
	Heading             float32
	Pitch               float32
	Roll                float32
	CGHeight            float32
	CarDamage           [5]float32
	NumberOfTyresOut    int32
	PitLimiterOn        int32
	ABS                 float32
	KersCharge          float32
	KersInput           float32
	AutoShifterOn       int32
	RideHeight          [2]float32
	TurboBoost          float32
	Ballast             float32
	AirDensity          float32
	AirTemp             float32
	RoadTemp            float32
	LocalAngularVel     [3]float32
	FinalFF             float32
	PerformanceMeter    float32
	EngineBrake         int32
	ErsRecoveryLevel    int32
	ErsPowerLevel       int32
	ErsHeatCharging     int32
	ErsIsCharging       int32
	KersCurrentKJ       float32
	DRSAvailable        int32
	DRSEnabled          int32
	BrakeTemp           [4]float32
	Clutch              float32
	TyreTempI           [4]float32
	TyreTempM           [4]float32
	TyreTempO           [4]float32
	IsAIControlled      int32
	TyreContactPoint    [4][3]float32
	TyreContactNormal   [4][3]float32
	TyreContactHeading  [4][3]float32
	BrakeBias           float32
	LocalVelocity       [3]float32
	P2PActivations      int32
	P2PStatus           int32
	CurrentMaxRPM       int32
	Mz                  [4]float32
	Fx                  [4]float32
	Fy                  [4]float32
	SlipRatio           [4]float32
	SlipAngle           [4]float32
	TCInAction          int32
	ABSInAction         int32
	SuspensionDamage    [4]float32
	TyreTemp            [4]float32
	WaterTemp           float32
}

type graphicsPage struct {
	PacketID              int32
	Status                int32
	Session               int32
	CurrentTime           [15]uint16
	LastTime              [15]uint16
	BestTime              [15]uint16
	Split                 [15]uint16
	CompletedLaps         int32
	Position              int32
	ICurrentTime          int32
	ILastTime             int32
	IBestTime             int32
	SessionTimeLeft       float32
	DistanceTraveled      float32
	IsInPit               int32
	CurrentSectorIndex    int32
	LastSectorTime        int32
	NumberOfLaps          int32
	TyreCompound          [33]uint16
	_                     [2]byte
	ReplayTimeMultiplier  float32
	NormalizedCarPosition float32
	ActiveCars            int32
	CarCoordinates        [60][3]float32
	CarID                 [60]int32
	PlayerCarID           int32
	PenaltyTime           float32
	Flag                  int32
	Penalty               int32
	IdealLineOn           int32
	IsInPitLane           int32
	SurfaceGrip           float32
	MandatoryPitDone      int32
	WindSpeed             float32
	WindDirection         float32
	IsSetupMenuVisible    int32
	MainDisplayIndex      int32
	SecondaryDisplayIndex int32
	TC                    int32
	TCCut                 int32
	EngineMap             int32
	ABS                   int32
	FuelXLap              float32
}

type staticPage struct {
	SMVersion        [15]uint16
	ACVersion        [15]uint16
	NumberOfSessions int32
	NumCars          int32
	CarModel         [33]uint16
	Track            [33]uint16
	PlayerName       [33]uint16
	PlayerSurname    [33]uint16
	PlayerNick       [33]uint16
	_                [2]byte
	SectorCount      int32
	MaxTorque        float32
	MaxPower         float32
	MaxRPM           int32
	MaxFuel          float32
}

// graphics status values (replay and pause are not emitted)
const (
	statusOff  int32 = 0
	statusLive int32 = 2
)

// unsetLapTime is reported for laps not yet driven.
const unsetLapTime int32 = 2147483647
