package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/irfndi/celebrum-quant/internal/api"
	"github.com/irfndi/celebrum-quant/internal/cache"
	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/database"
	"github.com/irfndi/celebrum-quant/internal/logging"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Server:      config.ServerConfig{Port: 8083},
		Telemetry: config.TelemetryConfig{
			ServiceName:    "celebrum-quant",
			ServiceVersion: "test",
		},
		Security: config.SecurityConfig{
			JWTSecret:   "test-secret",
			JWTExpiry:   "1h",
			BcryptCost:  bcrypt.MinCost,
			AdminAPIKey: "admin-key",
		},
		Cointegration: config.CointegrationConfig{
			DefaultLags:       1,
			DefaultModel:      "model1",
			SignificanceLevel: "95",
			WindowSize:        100,
			MaxSeries:         6,
			CacheTTL:          "1m",
			PersistReports:    true,
		},
		HedgeRatio: config.HedgeRatioConfig{
			ProcessNoise:     1e-5,
			ObservationNoise: 1e-3,
			ZScoreWindow:     30,
			EntryZScore:      2,
			ExitZScore:       0.5,
			ReplayLimit:      100,
			PersistState:     true,
		},
	}
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(8083, http.NotFoundHandler())
	assert.Equal(t, ":8083", srv.Addr)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Greater(t, srv.WriteTimeout, srv.ReadTimeout)
}

func TestNewLogger_WithoutOTLP(t *testing.T) {
	logger, shutdown := newLogger(testConfig())
	require.NotNil(t, logger)
	shutdown()
}

func TestBuildDependencies_ServesRequests(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	cfg := testConfig()
	logger := logging.NewStandardLoggerWithWriter(io.Discard, "error")
	deps, reportCache, err := buildDependencies(cfg, mockPool, client,
		&database.PostgresDB{}, database.NewRedisClientFrom(client),
		logger, logging.NewLogrusLogger("error"))
	require.NoError(t, err)
	require.NotNil(t, reportCache)

	router := api.NewRouter(deps)

	// The Postgres wrapper has no pool, so health is degraded while Redis is fine.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"healthy"`)

	// Hedge state is loaded from and saved to Postgres.
	mockPool.ExpectQuery("FROM hedge_filter_states").
		WithArgs("btc-eth").
		WillReturnRows(pgxmock.NewRows([]string{"pair_id", "symbols", "state", "spreads", "last_zscore", "position", "updated_at"}))
	mockPool.ExpectExec("INSERT INTO hedge_filter_states").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	token, err := deps.Auth.GenerateToken("trader-1", "hedge:write", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hedge/btc-eth/update", strings.NewReader(`{"target":2,"features":[1]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestBuildDependencies_InvalidBcryptCost(t *testing.T) {
	cfg := testConfig()
	cfg.Security.BcryptCost = bcrypt.MaxCost + 1

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	_, _, err := buildDependencies(cfg, nil, client, nil, nil,
		logging.NewStandardLoggerWithWriter(io.Discard, "error"), logging.NewLogrusLogger("error"))
	assert.ErrorContains(t, err, "admin auth")
}

func TestReportCacheStats_StopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	reportCache := cache.NewRedisAnalysisCache(client, time.Minute, logging.NewLogrusLogger("error"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reportCacheStats(ctx, reportCache, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reportCacheStats did not stop")
	}
}
