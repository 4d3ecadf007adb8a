package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"connectrpc.com/otelconnect"
	"github.com/jackc/pgx/v5"
	"github.com/pgx-contrib/pgxtrace"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/config"
	"github.com/mpapenbr/simcoach/pkg/db/migrate"
	"github.com/mpapenbr/simcoach/pkg/db/postgres"
	"github.com/mpapenbr/simcoach/pkg/endpoints/control"
	"github.com/mpapenbr/simcoach/pkg/endpoints/live"
	"github.com/mpapenbr/simcoach/pkg/hub"
	"github.com/mpapenbr/simcoach/pkg/service"
	"github.com/mpapenbr/simcoach/pkg/sink"
	"github.com/mpapenbr/simcoach/pkg/sink/influx"
	"github.com/mpapenbr/simcoach/pkg/sink/natssink"
	"github.com/mpapenbr/simcoach/pkg/sink/pgsink"
	"github.com/mpapenbr/simcoach/pkg/utils"
)

const (
	healthService = grpchealth.HealthV1ServiceName
	notServing    = grpchealth.StatusNotServing
)

// waitForRequiredServices blocks until the backend of the configured sink
// accepts connections.
func waitForRequiredServices(ctx context.Context) error {
	kind, err := sink.ParseKind(config.Sink)
	if err != nil {
		return err
	}
	timeout := config.ServiceTimeout()
	g, gCtx := errgroup.WithContext(ctx)
	switch kind {
	case sink.KindPostgres:
		if addr := utils.ExtractFromDBURL(config.DB); addr != "" {
			g.Go(func() error { return utils.WaitForTCP(gCtx, addr, timeout) })
		}
	case sink.KindInflux:
		g.Go(func() error {
			return utils.WaitForHTTPResponse(gCtx, config.InfluxURL+"/health", timeout)
		})
	case sink.KindNATS:
		if addr := utils.ExtractFromNatsURL(config.NatsURL); addr != "" {
			g.Go(func() error { return utils.WaitForTCP(gCtx, addr, timeout) })
		}
	case sink.KindNone:
	}
	log.Debug("Waiting for connection checks to return")
	if err := g.Wait(); err != nil {
		return err
	}
	log.Debug("Required services are available")
	return nil
}

type sinkSetup struct {
	sink  sink.Sink
	kind  sink.Kind
	relay hub.Subscriber // forwards live frames, nil unless requested
}

//nolint:funlen // one branch per backend
func newSink(ctx context.Context, withTelemetry bool) (*sinkSetup, error) {
	kind, err := sink.ParseKind(config.Sink)
	if err != nil {
		return nil, err
	}
	ret := &sinkSetup{kind: kind}
	switch kind {
	case sink.KindNone:
		ret.sink = sink.Discard{}

	case sink.KindInflux:
		s, err := influx.New(influx.Config{
			URL:    config.InfluxURL,
			Token:  config.InfluxToken,
			Org:    config.InfluxOrg,
			Bucket: config.InfluxBucket,
		})
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			log.Warn("influx not ready, points may be lost", log.ErrorField(err))
		}
		ret.sink = s

	case sink.KindPostgres:
		if config.AutoMigrate {
			if err := migrate.MigrateDB(config.DB); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.InitWithURL(ctx, config.DB,
			postgres.WithTracer(newQueryTracer(withTelemetry)))
		if err != nil {
			return nil, err
		}
		s, err := pgsink.New(pool, pgsink.WithOwnedPool())
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("writing telemetry to postgres", log.String("run", s.RunID().String()))
		ret.sink = s

	case sink.KindNATS:
		s, err := natssink.Connect(config.NatsURL, config.NatsPrefix,
			log.Default().Named("nats"))
		if err != nil {
			return nil, err
		}
		if config.NatsRelay {
			ret.relay = natssink.NewRelay(s.Conn(), config.NatsPrefix+".live")
		}
		ret.sink = s
	}
	return ret, nil
}

func newQueryTracer(withTelemetry bool) pgx.QueryTracer {
	sqlLogger := log.Default().Named("sql")
	tracers := pgxtrace.CompositeQueryTracer{
		postgres.NewMyTracer(sqlLogger, parseLogLevel(config.SQLLogLevel, log.DebugLevel)),
	}
	if withTelemetry {
		tracers = append(tracers, postgres.NewOtlpTracer())
	}
	return tracers
}

func parseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

func newMux(p *service.Pipeline) (*http.ServeMux, *grpchealth.StaticChecker) {
	mux := http.NewServeMux()

	mux.Handle(control.NewHandler(p))
	origins := config.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Handle(live.NewHandler(p.Hub(),
		live.WithOriginPatterns(origins...),
		live.WithMinClientVersion(config.MinClientVer)))

	var opts []connect.HandlerOption
	if otelInterceptor, err := otelconnect.NewInterceptor(); err == nil {
		opts = append(opts, connect.WithInterceptors(otelInterceptor))
	} else {
		log.Warn("could not create otel interceptor", log.ErrorField(err))
	}
	checker := grpchealth.NewStaticChecker(healthService)
	mux.Handle(grpchealth.NewHandler(checker, opts...))
	reflector := grpcreflect.NewStaticReflector(healthService)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))
	return mux, checker
}

func newHandler(mux http.Handler) http.Handler {
	return h2c.NewHandler(newCORS().Handler(mux), &http2.Server{})
}

func newCORS() *cors.Cors {
	allowAll := len(config.AllowOrigins) == 0 || slices.Contains(config.AllowOrigins, "*")
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
		},
		AllowOriginFunc: func(origin string) bool {
			return allowAll || slices.Contains(config.AllowOrigins, origin)
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			// Content-Type is in the default safelist.
			"Accept",
			"Accept-Encoding",
			"Accept-Post",
			"Connect-Accept-Encoding",
			"Connect-Content-Encoding",
			"Content-Encoding",
			"Grpc-Accept-Encoding",
			"Grpc-Encoding",
			"Grpc-Message",
			"Grpc-Status",
			"Grpc-Status-Details-Bin",
		},
		// Let browsers cache CORS information for longer, which reduces the number
		// of preflight requests.
		MaxAge: int(2 * time.Hour / time.Second),
	})
}
