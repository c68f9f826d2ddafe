package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/database"
	"github.com/irfndi/celebrum-quant/internal/kalman"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

var pairIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// FilterStateStore persists filter state between restarts.
type FilterStateStore interface {
	SaveState(ctx context.Context, record *database.FilterStateRecord) error
	LoadState(ctx context.Context, pairID string) (*database.FilterStateRecord, error)
	DeleteState(ctx context.Context, pairID string) (bool, error)
}

// SignalNotifier delivers spread alerts.
type SignalNotifier interface {
	NotifySpreadSignal(ctx context.Context, alert SpreadAlert) error
}

// UpdateRequest is one observation for a tracked pair. The noise overrides
// only apply when the filter is created.
type UpdateRequest struct {
	Target           float64   `json:"target"`
	Features         []float64 `json:"features"`
	Symbols          []string  `json:"symbols,omitempty"`
	ProcessNoise     float64   `json:"process_noise,omitempty"`
	ObservationNoise float64   `json:"observation_noise,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
}

// ReplayRequest runs a fresh filter over stored prices. The first symbol is
// the target and the rest are features.
type ReplayRequest struct {
	Exchange         string   `json:"exchange"`
	Symbols          []string `json:"symbols"`
	Limit            int      `json:"limit,omitempty"`
	LogPrices        *bool    `json:"log_prices,omitempty"`
	ProcessNoise     float64  `json:"process_noise,omitempty"`
	ObservationNoise float64  `json:"observation_noise,omitempty"`
}

type trackedPair struct {
	mu        sync.Mutex
	loaded    bool
	removed   bool
	filter    *kalman.Regression
	symbols   []string
	spreads   []float64
	spread    float64
	zScore    float64
	signal    models.SpreadSignal
	position  models.SpreadSignal
	updatedAt time.Time
}

// HedgeRatioService keeps one adaptive hedge-ratio filter per pair. Updates
// to the same pair are serialized; different pairs proceed in parallel.
type HedgeRatioService struct {
	mu    sync.Mutex
	pairs map[string]*trackedPair

	prices   PriceProvider
	states   FilterStateStore
	notifier SignalNotifier
	cfg      config.HedgeRatioConfig
	tracer   *telemetry.BusinessTracer
	logger   logging.Logger
	now      func() time.Time
}

// NewHedgeRatioService creates a new hedge-ratio service. prices, states and
// notifier may be nil.
func NewHedgeRatioService(prices PriceProvider, states FilterStateStore, notifier SignalNotifier, cfg config.HedgeRatioConfig, tracer *telemetry.BusinessTracer, logger logging.Logger) *HedgeRatioService {
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	if logger == nil {
		logger = logging.NewStandardLogger("info")
	}
	if cfg.ZScoreWindow < 2 {
		cfg.ZScoreWindow = 30
	}
	return &HedgeRatioService{
		pairs:    make(map[string]*trackedPair),
		prices:   prices,
		states:   states,
		notifier: notifier,
		cfg:      cfg,
		tracer:   tracer,
		logger:   logger,
		now:      time.Now,
	}
}

func validatePairID(pairID string) error {
	if !pairIDPattern.MatchString(pairID) {
		return utils.NewInvalidInputErrorf("invalid pair id %q", pairID)
	}
	return nil
}

func (s *HedgeRatioService) persistenceEnabled() bool {
	return s.cfg.PersistState && s.states != nil
}

// acquire returns the pair locked, restoring persisted state on first use.
// The caller must unlock it.
func (s *HedgeRatioService) acquire(ctx context.Context, pairID string) (*trackedPair, error) {
	for {
		s.mu.Lock()
		p, ok := s.pairs[pairID]
		if !ok {
			p = &trackedPair{signal: models.SignalNone, position: models.SignalNone}
			s.pairs[pairID] = p
		}
		s.mu.Unlock()

		p.mu.Lock()
		if p.removed {
			p.mu.Unlock()
			continue
		}
		if !p.loaded {
			if err := s.restore(ctx, pairID, p); err != nil {
				p.mu.Unlock()
				return nil, err
			}
			p.loaded = true
		}
		return p, nil
	}
}

func (s *HedgeRatioService) restore(ctx context.Context, pairID string, p *trackedPair) error {
	if !s.persistenceEnabled() {
		return nil
	}
	record, err := s.states.LoadState(ctx, pairID)
	if err != nil {
		if utils.IsNotFound(err) {
			return nil
		}
		return err
	}
	if record.State == nil {
		return fmt.Errorf("stored filter for %s has no state", pairID)
	}
	filter, err := kalman.NewRegressionFromState(*record.State, s.filterOptions()...)
	if err != nil {
		return fmt.Errorf("stored filter for %s is unusable: %w", pairID, err)
	}
	p.filter = filter
	p.symbols = record.Symbols
	p.spreads = record.Spreads
	p.zScore = record.LastZScore
	p.position = record.Position
	p.updatedAt = record.UpdatedAt
	if n := len(p.spreads); n > 0 {
		p.spread = p.spreads[n-1]
	}
	s.logger.WithComponent("hedge_ratio").Info("restored filter state", "pair_id", pairID, "updates", filter.Updates())
	return nil
}

func (s *HedgeRatioService) filterOptions() []kalman.Option {
	if s.cfg.MinVariance > 0 {
		return []kalman.Option{kalman.WithMinVariance(s.cfg.MinVariance)}
	}
	return nil
}

func (s *HedgeRatioService) newFilter(dimension int, processNoise, observationNoise float64) (*kalman.Regression, error) {
	q, r := s.cfg.ProcessNoise, s.cfg.ObservationNoise
	if q <= 0 {
		q = kalman.DefaultProcessNoise
	}
	if r <= 0 {
		r = kalman.DefaultObservationNoise
	}
	if processNoise > 0 {
		q = processNoise
	}
	if observationNoise > 0 {
		r = observationNoise
	}
	return kalman.NewRegression(dimension, q, r, s.filterOptions()...)
}

// Update folds one observation into the pair's filter, creating the filter on
// first use, and returns the resulting snapshot.
func (s *HedgeRatioService) Update(ctx context.Context, pairID string, req UpdateRequest) (*models.HedgeRatioSnapshot, error) {
	if err := validatePairID(pairID); err != nil {
		return nil, err
	}
	if len(req.Features) == 0 {
		return nil, utils.NewInvalidInputError("at least one feature is required")
	}

	ctx, span := s.tracer.TraceFilterUpdate(ctx, pairID, len(req.Features))
	defer span.End()

	p, err := s.acquire(ctx, pairID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer p.mu.Unlock()

	if p.filter == nil {
		filter, err := s.newFilter(len(req.Features), req.ProcessNoise, req.ObservationNoise)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		p.filter = filter
	}
	if len(req.Symbols) > 0 {
		p.symbols = append([]string(nil), req.Symbols...)
	}

	spread, err := p.filter.Update(req.Target, req.Features)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	at := req.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	transition := s.observe(p, spread, at)

	snapshot := s.snapshot(pairID, p)
	s.tracer.RecordFilterUpdate(span, telemetry.FilterMetrics{
		Betas:   snapshot.Betas,
		Spread:  snapshot.Spread,
		ZScore:  snapshot.ZScore,
		Signal:  string(snapshot.Signal),
		Updates: snapshot.Updates,
	})

	if s.persistenceEnabled() {
		if err := s.states.SaveState(ctx, s.record(pairID, p)); err != nil {
			s.logger.WithError(err).Warn("failed to persist filter state", "pair_id", pairID)
		}
	}
	if transition != models.SignalNone {
		s.alert(ctx, snapshot, transition)
	}

	telemetry.RecordError(span, nil)
	return snapshot, nil
}

// observe records a spread, rescores the pair and returns the signal that
// opened or closed a position, or SignalNone.
func (s *HedgeRatioService) observe(p *trackedPair, spread float64, at time.Time) models.SpreadSignal {
	p.spreads = append(p.spreads, spread)
	if over := len(p.spreads) - s.cfg.ZScoreWindow; over > 0 {
		p.spreads = append(p.spreads[:0:0], p.spreads[over:]...)
	}
	p.spread = spread
	p.updatedAt = at

	if len(p.spreads) < 2 {
		p.zScore = 0
		p.signal = models.SignalNone
		return models.SignalNone
	}
	p.zScore = SpreadZScore(p.spreads, s.cfg.ZScoreWindow).ZScore
	p.signal = ClassifySignal(p.zScore, s.cfg.EntryZScore, s.cfg.ExitZScore)

	switch p.signal {
	case models.SignalLongSpread, models.SignalShortSpread:
		if p.position != p.signal {
			p.position = p.signal
			return p.signal
		}
	case models.SignalExit:
		if p.position == models.SignalLongSpread || p.position == models.SignalShortSpread {
			p.position = models.SignalNone
			return models.SignalExit
		}
	}
	return models.SignalNone
}

func (s *HedgeRatioService) alert(ctx context.Context, snapshot *models.HedgeRatioSnapshot, signal models.SpreadSignal) {
	s.logger.LogSignal(snapshot.PairID, string(signal), snapshot.ZScore)
	if s.notifier == nil {
		return
	}
	err := s.notifier.NotifySpreadSignal(ctx, SpreadAlert{
		PairID:    snapshot.PairID,
		Symbols:   snapshot.Symbols,
		Signal:    signal,
		ZScore:    snapshot.ZScore,
		Spread:    snapshot.Spread,
		Betas:     snapshot.Betas,
		Timestamp: snapshot.UpdatedAt,
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to deliver spread alert", "pair_id", snapshot.PairID)
	}
}

func (s *HedgeRatioService) snapshot(pairID string, p *trackedPair) *models.HedgeRatioSnapshot {
	return &models.HedgeRatioSnapshot{
		PairID:        pairID,
		Symbols:       append([]string(nil), p.symbols...),
		Betas:         p.filter.Betas(),
		BetaVariances: p.filter.BetaVariances(),
		Spread:        p.spread,
		ZScore:        p.zScore,
		Signal:        p.signal,
		Position:      p.position,
		Updates:       p.filter.Updates(),
		UpdatedAt:     p.updatedAt,
	}
}

func (s *HedgeRatioService) record(pairID string, p *trackedPair) *database.FilterStateRecord {
	state := p.filter.State()
	return &database.FilterStateRecord{
		PairID:     pairID,
		Symbols:    append([]string(nil), p.symbols...),
		State:      &state,
		Spreads:    append([]float64(nil), p.spreads...),
		LastZScore: p.zScore,
		Position:   p.position,
		UpdatedAt:  p.updatedAt,
	}
}

// Snapshot returns the current state of a pair. An unknown pair wraps utils.ErrNotFound.
func (s *HedgeRatioService) Snapshot(ctx context.Context, pairID string) (*models.HedgeRatioSnapshot, error) {
	if err := validatePairID(pairID); err != nil {
		return nil, err
	}
	p, err := s.acquire(ctx, pairID)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()

	if p.filter == nil {
		s.forget(pairID, p)
		return nil, fmt.Errorf("pair %s: %w", pairID, utils.ErrNotFound)
	}
	return s.snapshot(pairID, p), nil
}

// Replay discards the pair's filter and rebuilds it from stored prices. No
// alerts are sent for historical signals.
func (s *HedgeRatioService) Replay(ctx context.Context, pairID string, req ReplayRequest) (*models.ReplayResult, error) {
	if err := validatePairID(pairID); err != nil {
		return nil, err
	}
	if len(req.Symbols) < 2 {
		return nil, utils.NewInvalidInputErrorf("replay needs a target and at least one feature symbol, got %d symbols", len(req.Symbols))
	}
	if req.Exchange == "" {
		return nil, utils.NewInvalidInputError("exchange is required")
	}
	if s.prices == nil {
		return nil, errors.New("price history is not available")
	}
	limit := req.Limit
	if limit <= 0 || (s.cfg.ReplayLimit > 0 && limit > s.cfg.ReplayLimit) {
		limit = s.cfg.ReplayLimit
	}
	if limit <= 0 {
		limit = 1000
	}
	logPrices := s.cfg.UseLogPrices
	if req.LogPrices != nil {
		logPrices = *req.LogPrices
	}

	ctx, span := s.tracer.TraceReplay(ctx, pairID, req.Symbols, limit)
	defer span.End()

	matrix, err := s.prices.GetAlignedMatrix(ctx, req.Symbols, req.Exchange, limit)
	if err != nil {
		err = fmt.Errorf("failed to load prices: %w", err)
		telemetry.RecordError(span, err)
		return nil, err
	}
	data := matrix
	if logPrices {
		data = matrix.Log()
	}

	filter, err := s.newFilter(len(req.Symbols)-1, req.ProcessNoise, req.ObservationNoise)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	p, err := s.acquire(ctx, pairID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer p.mu.Unlock()

	fresh := &trackedPair{
		filter:   filter,
		symbols:  append([]string(nil), req.Symbols...),
		signal:   models.SignalNone,
		position: models.SignalNone,
	}
	spreads := make([]float64, 0, data.Len())
	for i, row := range data.Rows {
		spread, err := filter.Update(row[0], row[1:])
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		s.observe(fresh, spread, matrix.Timestamps[i])
		spreads = append(spreads, spread)
	}

	p.filter = fresh.filter
	p.symbols = fresh.symbols
	p.spreads = fresh.spreads
	p.spread = fresh.spread
	p.zScore = fresh.zScore
	p.signal = fresh.signal
	p.position = fresh.position
	p.updatedAt = fresh.updatedAt

	if s.persistenceEnabled() {
		if err := s.states.SaveState(ctx, s.record(pairID, p)); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	snapshot := s.snapshot(pairID, p)
	telemetry.RecordError(span, nil)
	s.logger.WithSymbols(req.Symbols).Info("replayed hedge ratio filter",
		"pair_id", pairID, "observations", len(spreads), "signal", string(snapshot.Signal))
	return &models.ReplayResult{
		Snapshot:     snapshot,
		Observations: len(spreads),
		Spreads:      spreads,
		Timestamps:   append([]time.Time(nil), matrix.Timestamps...),
	}, nil
}

// Reset forgets a pair in memory and in storage. An unknown pair wraps utils.ErrNotFound.
func (s *HedgeRatioService) Reset(ctx context.Context, pairID string) error {
	if err := validatePairID(pairID); err != nil {
		return err
	}
	p, err := s.acquire(ctx, pairID)
	if err != nil {
		return err
	}
	defer p.mu.Unlock()

	existed := p.filter != nil
	if s.persistenceEnabled() {
		deleted, err := s.states.DeleteState(ctx, pairID)
		if err != nil {
			return err
		}
		existed = existed || deleted
	}

	s.forget(pairID, p)
	if !existed {
		return fmt.Errorf("pair %s: %w", pairID, utils.ErrNotFound)
	}
	s.logger.WithOperation("reset").Info("reset pair", "pair_id", pairID)
	return nil
}

// forget drops a locked pair from the registry. Goroutines already waiting on
// it retry with a fresh entry.
func (s *HedgeRatioService) forget(pairID string, p *trackedPair) {
	p.removed = true
	s.mu.Lock()
	if s.pairs[pairID] == p {
		delete(s.pairs, pairID)
	}
	s.mu.Unlock()
}

// Pairs returns the sorted ids of the pairs held in memory.
func (s *HedgeRatioService) Pairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pairs))
	for id := range s.pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
