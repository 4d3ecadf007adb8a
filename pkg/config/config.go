package config

import (
	"time"

	"github.com/mpapenbr/simcoach/log"
)

// this holds the resolved configuration values from CLI
//
//nolint:lll // readablity
var (
	LogLevel          string // sets the log level (zap log level values)
	SQLLogLevel       string // sets the log level for sql subsystem
	LogFormat         string // text vs json
	LogFilter         string // zapfilter rules, e.g. "info+:* debug+:supervisor*"
	WaitForServices   string // duration to wait for other services to be ready
	EnableTelemetry   bool   // enable telemetry
	TelemetryEndpoint string // endpoint for telemetry, "stdout" for console exporters
	ProfilingPort     int    // port for profiling

	Addr          string // listen addr for the http server
	TLSAddr       string // listen addr for the https server
	TLSCertFile   string // path to TLS certificate
	TLSKeyFile    string // path to TLS key
	TraefikCerts  string // path to traefik certs file
	TraefikDomain string // the domain to lookup within the traefik certs
	AllowOrigins  []string
	MinClientVer  string // minimal version of live clients announcing one
	AutoStart     bool   // start the pipeline on startup

	Sources             []string      // real sources in order of preference
	TickPeriod          time.Duration // supervisor period
	ConnectTimeoutTicks int           // ticks without real source before synthetic takes over
	ErrorThreshold      int           // consecutive poll errors before a source is torn down
	StaleTicks          int           // consecutive ticks without data before a source is torn down
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	SyntheticSeed       uint64

	ACCDir       string // directory of shared memory files on non windows platforms
	ACCPhysics   string
	ACCGraphics  string
	ACCStatic    string
	LMUDir       string
	LMUTelemetry string
	LMUScoring   string
	AMS2Addr     string // udp listen addr

	SendTimeout time.Duration // per subscriber push timeout
	MaxFailures int           // consecutive failed pushes before eviction
	SinkQueue   int
	SinkTimeout time.Duration

	Sink         string // none, influx, postgres, nats
	DB           string // connection string for the database
	AutoMigrate  bool   // apply schema migrations before writing
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	NatsURL      string
	NatsPrefix   string // subject prefix
	NatsRelay    bool   // also publish every live frame on <prefix>.live
)

// ServiceTimeout parses WaitForServices, falling back to 60s.
func ServiceTimeout() time.Duration {
	timeout, err := time.ParseDuration(WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		return 60 * time.Second
	}
	return timeout
}
