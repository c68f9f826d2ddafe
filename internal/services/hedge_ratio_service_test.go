package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/database"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

type memStates struct {
	mu      sync.Mutex
	records map[string]*database.FilterStateRecord
	saves   int
	saveErr error
	loadErr error
}

func newMemStates() *memStates {
	return &memStates{records: map[string]*database.FilterStateRecord{}}
}

func (m *memStates) SaveState(_ context.Context, record *database.FilterStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records[record.PairID] = record
	return nil
}

func (m *memStates) LoadState(_ context.Context, pairID string) (*database.FilterStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	record, ok := m.records[pairID]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", pairID, utils.ErrNotFound)
	}
	return record, nil
}

func (m *memStates) DeleteState(_ context.Context, pairID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pairID]
	delete(m.records, pairID)
	return ok, nil
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifySpreadSignal(ctx context.Context, alert SpreadAlert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func testHedgeConfig() config.HedgeRatioConfig {
	return config.HedgeRatioConfig{
		ProcessNoise:     1e-5,
		ObservationNoise: 1e-3,
		MinVariance:      1e-10,
		ZScoreWindow:     10,
		EntryZScore:      2,
		ExitZScore:       0.5,
		ReplayLimit:      500,
		PersistState:     true,
	}
}

func newTestHedgeService(prices PriceProvider, states FilterStateStore, notifier SignalNotifier, cfg config.HedgeRatioConfig) (*HedgeRatioService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	svc := NewHedgeRatioService(prices, states, notifier, cfg,
		telemetry.NewBusinessTracerWithTracer(tp.Tracer("test")), quietLogger())
	svc.now = func() time.Time { return testStart }
	return svc, recorder
}

// frozenFilterConfig makes the filter ignore observations so the spread equals
// the target when the feature is 1.
func frozenFilterConfig() config.HedgeRatioConfig {
	cfg := testHedgeConfig()
	cfg.ProcessNoise = 1e-12
	cfg.ObservationNoise = 1e9
	return cfg
}

func TestHedgeRatioService_UpdateConverges(t *testing.T) {
	svc, recorder := newTestHedgeService(nil, nil, nil, testHedgeConfig())
	ctx := context.Background()

	rng := rand.New(rand.NewSource(5))
	x := 100.0
	var snapshot *models.HedgeRatioSnapshot
	for i := 0; i < 300; i++ {
		x += rng.NormFloat64()
		y := 2*x + 0.01*rng.NormFloat64()
		var err error
		snapshot, err = svc.Update(ctx, "btc-eth", UpdateRequest{
			Target:   y,
			Features: []float64{x},
			Symbols:  []string{"BTC/USDT", "ETH/USDT"},
		})
		require.NoError(t, err)
	}

	assert.Equal(t, "btc-eth", snapshot.PairID)
	assert.Equal(t, int64(300), snapshot.Updates)
	require.Len(t, snapshot.Betas, 1)
	assert.InDelta(t, 2.0, snapshot.Betas[0], 0.02)
	assert.Greater(t, snapshot.BetaVariances[0], 0.0)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, snapshot.Symbols)
	assert.Equal(t, testStart, snapshot.UpdatedAt)

	ended := recorder.Ended()
	require.Len(t, ended, 300)
	assert.Equal(t, "hedge_filter_update", ended[0].Name())
}

func TestHedgeRatioService_UpdateInvalid(t *testing.T) {
	svc, _ := newTestHedgeService(nil, nil, nil, testHedgeConfig())
	ctx := context.Background()

	_, err := svc.Update(ctx, "bad id!", UpdateRequest{Target: 1, Features: []float64{1}})
	assert.True(t, utils.IsInvalidInput(err))

	_, err = svc.Update(ctx, "btc-eth", UpdateRequest{Target: 1})
	assert.True(t, utils.IsInvalidInput(err))

	_, err = svc.Update(ctx, "btc-eth", UpdateRequest{Target: 1, Features: []float64{1}})
	require.NoError(t, err)
	_, err = svc.Update(ctx, "btc-eth", UpdateRequest{Target: 1, Features: []float64{1, 2}})
	assert.True(t, utils.IsInvalidInput(err))
}

func TestHedgeRatioService_SignalsAndAlerts(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("NotifySpreadSignal", mock.Anything, mock.MatchedBy(func(a SpreadAlert) bool {
		return a.Signal == models.SignalShortSpread && a.PairID == "btc-eth"
	})).Return(nil).Once()
	notifier.On("NotifySpreadSignal", mock.Anything, mock.MatchedBy(func(a SpreadAlert) bool {
		return a.Signal == models.SignalExit
	})).Return(errors.New("telegram down")).Once()

	svc, _ := newTestHedgeService(nil, nil, notifier, frozenFilterConfig())
	ctx := context.Background()

	update := func(target float64) *models.HedgeRatioSnapshot {
		snapshot, err := svc.Update(ctx, "btc-eth", UpdateRequest{Target: target, Features: []float64{1}})
		require.NoError(t, err)
		return snapshot
	}

	first := update(0.1)
	assert.Equal(t, models.SignalNone, first.Signal)
	assert.Equal(t, 0.0, first.ZScore)

	for i := 1; i < 9; i++ {
		target := 0.1
		if i%2 == 1 {
			target = -0.1
		}
		s := update(target)
		assert.Equal(t, models.SignalHold, s.Signal, "update %d", i)
		assert.Equal(t, models.SignalNone, s.Position)
	}

	entry := update(5)
	assert.InDelta(t, 5.0, entry.Spread, 1e-6)
	assert.InDelta(t, 2.99, entry.ZScore, 0.01)
	assert.Equal(t, models.SignalShortSpread, entry.Signal)
	assert.Equal(t, models.SignalShortSpread, entry.Position)

	closing := update(0.55)
	assert.Equal(t, models.SignalExit, closing.Signal)
	assert.Equal(t, models.SignalNone, closing.Position)

	// A second exit with no open position stays quiet.
	again := update(0.56)
	assert.Equal(t, models.SignalNone, again.Position)

	notifier.AssertExpectations(t)
	notifier.AssertNumberOfCalls(t, "NotifySpreadSignal", 2)
}

func TestHedgeRatioService_ObserveTransitions(t *testing.T) {
	svc, _ := newTestHedgeService(nil, nil, nil, testHedgeConfig())
	p := &trackedPair{signal: models.SignalNone, position: models.SignalNone}

	for i := 0; i < 9; i++ {
		v := 0.1
		if i%2 == 1 {
			v = -0.1
		}
		assert.Equal(t, models.SignalNone, svc.observe(p, v, testStart))
	}
	assert.Equal(t, models.SignalLongSpread, svc.observe(p, -5, testStart))
	assert.Equal(t, models.SignalLongSpread, p.position)

	// Holding the same side is not a new transition.
	assert.Equal(t, models.SignalNone, svc.observe(p, -6, testStart))
	assert.Len(t, p.spreads, 10)
}

func TestHedgeRatioService_PersistAndRestore(t *testing.T) {
	states := newMemStates()
	ctx := context.Background()

	first, _ := newTestHedgeService(nil, states, nil, testHedgeConfig())
	var last *models.HedgeRatioSnapshot
	for i := 1; i <= 25; i++ {
		var err error
		last, err = first.Update(ctx, "sol-avax", UpdateRequest{Target: 1.5 * float64(i), Features: []float64{float64(i)}, Symbols: []string{"SOL/USDT", "AVAX/USDT"}})
		require.NoError(t, err)
	}
	assert.Equal(t, 25, states.saves)
	require.Contains(t, states.records, "sol-avax")
	assert.Len(t, states.records["sol-avax"].Spreads, 10)

	second, _ := newTestHedgeService(nil, states, nil, testHedgeConfig())
	restored, err := second.Snapshot(ctx, "sol-avax")
	require.NoError(t, err)
	assert.Equal(t, last.Updates, restored.Updates)
	assert.InDeltaSlice(t, last.Betas, restored.Betas, 1e-12)
	assert.Equal(t, last.ZScore, restored.ZScore)
	assert.Equal(t, []string{"SOL/USDT", "AVAX/USDT"}, restored.Symbols)

	next, err := second.Update(ctx, "sol-avax", UpdateRequest{Target: 39, Features: []float64{26}})
	require.NoError(t, err)
	assert.Equal(t, int64(26), next.Updates)
}

func TestHedgeRatioService_SaveFailureIsNotFatal(t *testing.T) {
	states := newMemStates()
	states.saveErr = errors.New("db down")
	svc, _ := newTestHedgeService(nil, states, nil, testHedgeConfig())

	snapshot, err := svc.Update(context.Background(), "btc-eth", UpdateRequest{Target: 2, Features: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Updates)
}

func TestHedgeRatioService_LoadFailure(t *testing.T) {
	states := newMemStates()
	states.loadErr = errors.New("db down")
	svc, _ := newTestHedgeService(nil, states, nil, testHedgeConfig())

	_, err := svc.Update(context.Background(), "btc-eth", UpdateRequest{Target: 2, Features: []float64{1}})
	assert.Error(t, err)
}

func TestHedgeRatioService_SnapshotAndReset(t *testing.T) {
	states := newMemStates()
	svc, _ := newTestHedgeService(nil, states, nil, testHedgeConfig())
	ctx := context.Background()

	_, err := svc.Snapshot(ctx, "btc-eth")
	assert.True(t, utils.IsNotFound(err))
	assert.Empty(t, svc.Pairs())

	_, err = svc.Update(ctx, "btc-eth", UpdateRequest{Target: 2, Features: []float64{1}})
	require.NoError(t, err)
	_, err = svc.Update(ctx, "eth-sol", UpdateRequest{Target: 2, Features: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"btc-eth", "eth-sol"}, svc.Pairs())

	require.NoError(t, svc.Reset(ctx, "btc-eth"))
	assert.NotContains(t, states.records, "btc-eth")
	_, err = svc.Snapshot(ctx, "btc-eth")
	assert.True(t, utils.IsNotFound(err))
	assert.True(t, utils.IsNotFound(svc.Reset(ctx, "btc-eth")))
	assert.Equal(t, []string{"eth-sol"}, svc.Pairs())

	// A reset pair starts over with a fresh filter.
	snapshot, err := svc.Update(ctx, "btc-eth", UpdateRequest{Target: 2, Features: []float64{1, 1}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Updates)
}

func TestHedgeRatioService_ConcurrentUpdates(t *testing.T) {
	svc, _ := newTestHedgeService(nil, newMemStates(), nil, testHedgeConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			pair := "pair-a"
			if g%2 == 1 {
				pair = "pair-b"
			}
			for i := 0; i < 50; i++ {
				x := float64(i + 1)
				_, err := svc.Update(ctx, pair, UpdateRequest{Target: 1.2 * x, Features: []float64{x}})
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	for _, pair := range []string{"pair-a", "pair-b"} {
		snapshot, err := svc.Snapshot(ctx, pair)
		require.NoError(t, err)
		assert.Equal(t, int64(200), snapshot.Updates)
	}
}

func TestHedgeRatioService_Replay(t *testing.T) {
	prices := &fakePrices{matrix: proportionalPrices(1, 200)}
	states := newMemStates()
	notifier := new(MockNotifier)
	svc, recorder := newTestHedgeService(prices, states, notifier, testHedgeConfig())
	ctx := context.Background()

	_, err := svc.Update(ctx, "x-y", UpdateRequest{Target: 9, Features: []float64{1, 2}})
	require.NoError(t, err)

	result, err := svc.Replay(ctx, "x-y", ReplayRequest{Exchange: "binance", Symbols: []string{"X", "Y"}})
	require.NoError(t, err)

	assert.Equal(t, 200, result.Observations)
	assert.Len(t, result.Spreads, 200)
	assert.Len(t, result.Timestamps, 200)
	require.Len(t, result.Snapshot.Betas, 1)
	assert.InDelta(t, 1.0/3.0, result.Snapshot.Betas[0], 1e-2)
	assert.Equal(t, int64(200), result.Snapshot.Updates)
	assert.Equal(t, testStart.Add(199*time.Minute), result.Snapshot.UpdatedAt)
	assert.Equal(t, []string{"X", "Y"}, result.Snapshot.Symbols)

	require.Contains(t, states.records, "x-y")
	assert.Equal(t, 1, states.records["x-y"].State.Dimension)
	notifier.AssertNotCalled(t, "NotifySpreadSignal", mock.Anything, mock.Anything)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "hedge_filter_replay")

	// Live updates continue from the replayed filter.
	notifier.On("NotifySpreadSignal", mock.Anything, mock.Anything).Return(nil).Maybe()
	snapshot, err := svc.Update(ctx, "x-y", UpdateRequest{Target: 1, Features: []float64{3}})
	require.NoError(t, err)
	assert.Equal(t, int64(201), snapshot.Updates)
}

func TestHedgeRatioService_ReplayInvalid(t *testing.T) {
	prices := &fakePrices{err: errors.New("no rows")}
	svc, _ := newTestHedgeService(prices, nil, nil, testHedgeConfig())
	ctx := context.Background()

	_, err := svc.Replay(ctx, "x-y", ReplayRequest{Exchange: "binance", Symbols: []string{"X"}})
	assert.True(t, utils.IsInvalidInput(err))

	_, err = svc.Replay(ctx, "x-y", ReplayRequest{Symbols: []string{"X", "Y"}})
	assert.True(t, utils.IsInvalidInput(err))

	_, err = svc.Replay(ctx, "x-y", ReplayRequest{Exchange: "binance", Symbols: []string{"X", "Y"}})
	assert.ErrorContains(t, err, "failed to load prices")

	noPrices, _ := newTestHedgeService(nil, nil, nil, testHedgeConfig())
	_, err = noPrices.Replay(ctx, "x-y", ReplayRequest{Exchange: "binance", Symbols: []string{"X", "Y"}})
	assert.Error(t, err)
}

func TestHedgeRatioService_WithFilterStateRepository(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	columns := []string{"pair_id", "symbols", "state", "spreads", "last_zscore", "position", "updated_at"}
	mockPool.ExpectQuery("FROM hedge_filter_states").
		WithArgs("btc-eth").
		WillReturnRows(pgxmock.NewRows(columns))
	mockPool.ExpectExec("INSERT INTO hedge_filter_states").
		WithArgs("btc-eth", []string{"BTC/USDT", "ETH/USDT"}, pgxmock.AnyArg(), []float64{-0.5}, 0.0, "none", testStart).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	svc, _ := newTestHedgeService(nil, database.NewFilterStateRepository(mockPool), nil, testHedgeConfig())
	snapshot, err := svc.Update(context.Background(), "btc-eth", UpdateRequest{
		Target:   -0.5,
		Features: []float64{2},
		Symbols:  []string{"BTC/USDT", "ETH/USDT"},
	})
	require.NoError(t, err)
	assert.Equal(t, -0.5, snapshot.Spread)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
