package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/simcoach/pkg/adapter/synthetic"
	"github.com/mpapenbr/simcoach/pkg/config"
	"github.com/mpapenbr/simcoach/pkg/hub"
	"github.com/mpapenbr/simcoach/pkg/service"
	"github.com/mpapenbr/simcoach/pkg/sink"
	"github.com/mpapenbr/simcoach/pkg/supervisor"
)

func setConfig(t *testing.T, target *string, value string) {
	t.Helper()
	old := *target
	*target = value
	t.Cleanup(func() { *target = old })
}

func testPipeline(t *testing.T) *service.Pipeline {
	t.Helper()
	cfg := supervisor.DefaultConfig()
	cfg.Period = 5 * time.Millisecond
	p := service.NewPipeline(context.Background(), hub.New(), synthetic.New(), nil,
		[]supervisor.Option{supervisor.WithConfig(cfg)})
	t.Cleanup(p.Close)
	return p
}

func TestNewSinkNone(t *testing.T) {
	setConfig(t, &config.Sink, "")
	s, err := newSink(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, sink.KindNone, s.kind)
	assert.IsType(t, sink.Discard{}, s.sink)
	assert.Nil(t, s.relay)
}

func TestNewSinkUnknown(t *testing.T) {
	setConfig(t, &config.Sink, "kafka")
	_, err := newSink(context.Background(), false)
	assert.ErrorIs(t, err, sink.ErrUnknownKind)
	assert.ErrorIs(t, waitForRequiredServices(context.Background()), sink.ErrUnknownKind)
}

func TestNewSinkInfluxNeedsBucket(t *testing.T) {
	setConfig(t, &config.Sink, "influx")
	setConfig(t, &config.InfluxBucket, "")
	_, err := newSink(context.Background(), false)
	assert.Error(t, err)
}

func TestWaitForNothing(t *testing.T) {
	setConfig(t, &config.Sink, "none")
	assert.NoError(t, waitForRequiredServices(context.Background()))
}

func TestFactoryConfig(t *testing.T) {
	old := config.Sources
	config.Sources = []string{"ams2"}
	t.Cleanup(func() { config.Sources = old })
	setConfig(t, &config.AMS2Addr, ":9999")
	setConfig(t, &config.ACCDir, "/tmp/acc")

	cfg := factoryConfig()
	assert.Equal(t, []string{"ams2"}, cfg.Sources)
	assert.Equal(t, ":9999", cfg.AMS2.Addr)
	assert.Equal(t, "/tmp/acc", cfg.ACC.Dir)
}

func TestMuxRoutes(t *testing.T) {
	mux, _ := newMux(testPipeline(t))
	srv := httptest.NewServer(newHandler(mux))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/pipeline/start", "application/json", http.NoBody)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	mux, checker := newMux(testPipeline(t))
	srv := httptest.NewServer(newHandler(mux))
	t.Cleanup(srv.Close)

	check := func() (int, string) {
		resp, err := http.Post(srv.URL+"/grpc.health.v1.Health/Check",
			"application/json", strings.NewReader(`{"service":"`+healthService+`"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}
	code, body := check()
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"SERVING_STATUS_SERVING"}`, body)

	checker.SetStatus(healthService, notServing)
	_, body = check()
	assert.JSONEq(t, `{"status":"SERVING_STATUS_NOT_SERVING"}`, body)
}

func TestCORS(t *testing.T) {
	old := config.AllowOrigins
	config.AllowOrigins = []string{"http://dash.local"}
	t.Cleanup(func() { config.AllowOrigins = old })

	mux, _ := newMux(testPipeline(t))
	h := newHandler(mux)

	preflight := func(origin string) string {
		req := httptest.NewRequest(http.MethodOptions, "/api/pipeline/start", http.NoBody)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Header().Get("Access-Control-Allow-Origin")
	}
	assert.Equal(t, "http://dash.local", preflight("http://dash.local"))
	assert.Empty(t, preflight("http://evil.local"))
}
