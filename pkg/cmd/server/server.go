package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // by design
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/adapter/acc"
	"github.com/mpapenbr/simcoach/pkg/adapter/ams2"
	"github.com/mpapenbr/simcoach/pkg/adapter/factory"
	"github.com/mpapenbr/simcoach/pkg/adapter/lmu"
	"github.com/mpapenbr/simcoach/pkg/adapter/synthetic"
	"github.com/mpapenbr/simcoach/pkg/config"
	"github.com/mpapenbr/simcoach/pkg/hub"
	"github.com/mpapenbr/simcoach/pkg/service"
	"github.com/mpapenbr/simcoach/pkg/supervisor"
	"github.com/mpapenbr/simcoach/pkg/utils/certs"
)

//nolint:funlen // flag definitions
func NewServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "starts the telemetry pipeline and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd.Context())
		},
	}
	accDefaults := acc.DefaultConfig()
	lmuDefaults := lmu.DefaultConfig()
	supDefaults := supervisor.DefaultConfig()
	hubDefaults := hub.DefaultConfig()

	cmd.Flags().StringVarP(&config.Addr,
		"addr",
		"a",
		"localhost:8000",
		"HTTP listen address")
	cmd.Flags().StringVar(&config.TLSAddr,
		"tls-addr",
		"",
		"HTTPS listen address (requires a certificate)")
	cmd.Flags().StringVar(&config.TLSCertFile,
		"tls-cert",
		"",
		"path to TLS certificate")
	cmd.Flags().StringVar(&config.TLSKeyFile,
		"tls-key",
		"",
		"path to TLS key")
	cmd.Flags().StringVar(&config.TraefikCerts,
		"traefik-certs",
		"",
		"path to a traefik acme store to take the certificate from")
	cmd.Flags().StringVar(&config.TraefikDomain,
		"traefik-domain",
		"",
		"domain to lookup within the traefik acme store")
	cmd.Flags().StringSliceVar(&config.AllowOrigins,
		"allow-origins",
		nil,
		"allowed CORS and websocket origins (default: all)")
	cmd.Flags().StringVar(&config.MinClientVer,
		"min-client-version",
		"",
		"minimal version for live clients announcing one")
	cmd.Flags().BoolVar(&config.AutoStart,
		"auto-start",
		true,
		"start the pipeline on startup")

	cmd.Flags().StringSliceVar(&config.Sources,
		"sources",
		factory.KnownSources(),
		"simulator sources in order of preference")
	cmd.Flags().DurationVar(&config.TickPeriod,
		"tick-period",
		supDefaults.Period,
		"supervisor tick period")
	cmd.Flags().IntVar(&config.ConnectTimeoutTicks,
		"connect-timeout-ticks",
		supDefaults.ConnectTimeoutTicks,
		"ticks without a simulator before the synthetic source takes over")
	cmd.Flags().IntVar(&config.ErrorThreshold,
		"error-threshold",
		supDefaults.ErrorThreshold,
		"consecutive poll errors before a source is dropped")
	cmd.Flags().IntVar(&config.StaleTicks,
		"stale-ticks",
		supDefaults.StaleTicks,
		"consecutive ticks without data before a source is dropped (0 disables)")
	cmd.Flags().DurationVar(&config.BackoffInitial,
		"backoff-initial",
		supDefaults.BackoffInitial,
		"initial reconnect backoff")
	cmd.Flags().DurationVar(&config.BackoffMax,
		"backoff-max",
		supDefaults.BackoffMax,
		"max reconnect backoff")
	cmd.Flags().Uint64Var(&config.SyntheticSeed,
		"synthetic-seed",
		synthetic.DefaultConfig().Seed,
		"seed of the synthetic source")

	cmd.Flags().StringVar(&config.ACCDir,
		"acc-dir",
		accDefaults.Dir,
		"directory of the ACC shared memory files (non windows)")
	cmd.Flags().StringVar(&config.ACCPhysics,
		"acc-physics",
		accDefaults.PhysicsName,
		"ACC physics page name")
	cmd.Flags().StringVar(&config.ACCGraphics,
		"acc-graphics",
		accDefaults.GraphicsName,
		"ACC graphics page name")
	cmd.Flags().StringVar(&config.ACCStatic,
		"acc-static",
		accDefaults.StaticName,
		"ACC static page name")
	cmd.Flags().StringVar(&config.LMUDir,
		"lmu-dir",
		lmuDefaults.Dir,
		"directory of the rFactor2 shared memory files (non windows)")
	cmd.Flags().StringVar(&config.LMUTelemetry,
		"lmu-telemetry",
		lmuDefaults.TelemetryName,
		"rFactor2 telemetry buffer name")
	cmd.Flags().StringVar(&config.LMUScoring,
		"lmu-scoring",
		lmuDefaults.ScoringName,
		"rFactor2 scoring buffer name")
	cmd.Flags().StringVar(&config.AMS2Addr,
		"ams2-addr",
		ams2.DefaultConfig().Addr,
		"UDP listen address for AMS2 telemetry")

	cmd.Flags().DurationVar(&config.SendTimeout,
		"send-timeout",
		hubDefaults.SendTimeout,
		"timeout for a single push to a subscriber")
	cmd.Flags().IntVar(&config.MaxFailures,
		"max-failures",
		hubDefaults.MaxFailures,
		"consecutive failed pushes before a subscriber is dropped")
	cmd.Flags().IntVar(&config.SinkQueue,
		"sink-queue",
		hubDefaults.SinkQueue,
		"number of points buffered for the sink")
	cmd.Flags().DurationVar(&config.SinkTimeout,
		"sink-timeout",
		hubDefaults.SinkTimeout,
		"timeout for a single sink write")

	cmd.Flags().StringVar(&config.Sink,
		"sink",
		"none",
		"persistence sink (none, influx, postgres, nats)")
	cmd.Flags().BoolVar(&config.AutoMigrate,
		"auto-migrate",
		true,
		"apply schema migrations when using the postgres sink")
	cmd.Flags().StringVar(&config.SQLLogLevel,
		"sql-log-level",
		"debug",
		"controls the log level for sql methods")
	cmd.Flags().StringVar(&config.InfluxURL,
		"influx-url",
		"http://localhost:8086",
		"InfluxDB url")
	cmd.Flags().StringVar(&config.InfluxToken,
		"influx-token",
		"",
		"InfluxDB token")
	cmd.Flags().StringVar(&config.InfluxOrg,
		"influx-org",
		"simcoach",
		"InfluxDB organization")
	cmd.Flags().StringVar(&config.InfluxBucket,
		"influx-bucket",
		"telemetry",
		"InfluxDB bucket")
	cmd.Flags().StringVar(&config.NatsURL,
		"nats-url",
		"nats://localhost:4222",
		"NATS server url")
	cmd.Flags().StringVar(&config.NatsPrefix,
		"nats-prefix",
		"simcoach",
		"NATS subject prefix")
	cmd.Flags().BoolVar(&config.NatsRelay,
		"nats-relay",
		false,
		"also publish every coached frame on <prefix>.live")

	cmd.Flags().BoolVar(&config.EnableTelemetry,
		"enable-telemetry",
		false,
		"enables telemetry")
	cmd.Flags().StringVar(&config.TelemetryEndpoint,
		"telemetry-endpoint",
		"localhost:4317",
		"Endpoint that receives open telemetry data (stdout for console output)")
	cmd.Flags().IntVar(&config.ProfilingPort,
		"profiling-port",
		0,
		"port to use for providing profiling data")
	return cmd
}

//nolint:funlen,cyclop // by design
func startServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := log.Default()
	ctx = log.AddToContext(ctx, logger)

	log.Debug("Config:",
		log.String("addr", config.Addr),
		log.Strings("sources", config.Sources),
		log.String("sink", config.Sink),
		log.Duration("period", config.TickPeriod),
	)

	if config.ProfilingPort > 0 {
		log.Info("Starting profiling server on port", log.Int("port", config.ProfilingPort))
		go func() {
			//nolint:gosec // by design
			err := http.ListenAndServe(
				fmt.Sprintf("localhost:%d", config.ProfilingPort),
				nil)
			if err != nil {
				log.Error("Profiling server stopped", log.ErrorField(err))
			}
		}()
	}

	var telemetry *config.Telemetry
	if config.EnableTelemetry {
		log.Info("Enabling telemetry")
		var err error
		if telemetry, err = config.SetupTelemetry(ctx); err != nil {
			log.Warn("Could not setup telemetry", log.ErrorField(err))
		}
		err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
		if err != nil {
			log.Warn("Could not start runtime metrics", log.ErrorField(err))
		}
	}
	if telemetry != nil {
		defer telemetry.Shutdown()
	}

	if err := waitForRequiredServices(ctx); err != nil {
		log.Error("required services not ready", log.ErrorField(err))
		return err
	}

	sinkSetup, err := newSink(ctx, telemetry != nil)
	if err != nil {
		log.Error("sink could not be created", log.ErrorField(err))
		return err
	}

	adapters, err := factory.Build(factoryConfig())
	if err != nil {
		return err
	}
	synthCfg := synthetic.DefaultConfig()
	synthCfg.Seed = config.SyntheticSeed

	h := hub.New(
		hub.WithConfig(hub.Config{
			SendTimeout: config.SendTimeout,
			MaxFailures: config.MaxFailures,
			SinkQueue:   config.SinkQueue,
			SinkTimeout: config.SinkTimeout,
		}),
		hub.WithSink(sinkSetup.sink, string(sinkSetup.kind)),
	)
	if sinkSetup.relay != nil {
		if err := h.Register(sinkSetup.relay); err != nil {
			log.Warn("could not register nats relay", log.ErrorField(err))
		}
	}
	pipeline := service.NewPipeline(ctx, h,
		synthetic.New(synthetic.WithConfig(synthCfg)),
		adapters,
		[]supervisor.Option{supervisor.WithConfig(supervisor.Config{
			Period:              config.TickPeriod,
			ConnectTimeoutTicks: config.ConnectTimeoutTicks,
			ErrorThreshold:      config.ErrorThreshold,
			StaleTicks:          config.StaleTicks,
			BackoffInitial:      config.BackoffInitial,
			BackoffMax:          config.BackoffMax,
		})},
	)
	defer pipeline.Close()

	mux, health := newMux(pipeline)
	servers := []*http.Server{{
		Addr:              config.Addr,
		Handler:           newHandler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}}
	errCh := make(chan error, 2)
	go serve(servers[0], errCh, func(srv *http.Server) error {
		log.Info("Starting HTTP server", log.String("addr", srv.Addr))
		return srv.ListenAndServe()
	})

	src := certs.Source{
		CertFile:      config.TLSCertFile,
		KeyFile:       config.TLSKeyFile,
		TraefikFile:   config.TraefikCerts,
		TraefikDomain: config.TraefikDomain,
	}
	if config.TLSAddr != "" && src.Configured() {
		reloader, err := certs.NewReloader(ctx, src)
		if err != nil {
			log.Error("could not load certificate", log.ErrorField(err))
			return err
		}
		tlsServer := &http.Server{
			Addr:              config.TLSAddr,
			Handler:           newHandler(mux),
			TLSConfig:         reloader.TLSConfig(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, tlsServer)
		go serve(tlsServer, errCh, func(srv *http.Server) error {
			log.Info("Starting HTTPS server", log.String("addr", srv.Addr))
			return srv.ListenAndServeTLS("", "")
		})
	}

	if config.AutoStart {
		pipeline.Start()
	}
	log.Info("Server started")
	setupGoRoutinesDump()

	select {
	case <-ctx.Done():
		log.Debug("Got signal")
	case err = <-errCh:
		log.Error("server stopped", log.ErrorField(err))
	}
	health.SetStatus("", notServing)
	health.SetStatus(healthService, notServing)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warn("http shutdown", log.ErrorField(shutdownErr))
		}
	}
	pipeline.Close()
	log.Info("Server terminated")
	return err
}

func serve(srv *http.Server, errCh chan<- error, start func(*http.Server) error) {
	if err := start(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- err
	}
}

func factoryConfig() factory.Config {
	cfg := factory.DefaultConfig()
	cfg.Sources = config.Sources
	cfg.ACC.Dir = config.ACCDir
	cfg.ACC.PhysicsName = config.ACCPhysics
	cfg.ACC.GraphicsName = config.ACCGraphics
	cfg.ACC.StaticName = config.ACCStatic
	cfg.LMU.Dir = config.LMUDir
	cfg.LMU.TelemetryName = config.LMUTelemetry
	cfg.LMU.ScoringName = config.LMUScoring
	cfg.AMS2.Addr = config.AMS2Addr
	return cfg
}

func setupGoRoutinesDump() {
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		buf := make([]byte, 1<<20)
		for {
			<-sigs
			stacklen := runtime.Stack(buf, true)
			fmt.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n",
				buf[:stacklen])
		}
	}()
}
