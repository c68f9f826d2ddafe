package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/irfndi/celebrum-quant/internal/cache"
	"github.com/irfndi/celebrum-quant/internal/config"
	"github.com/irfndi/celebrum-quant/internal/johansen"
	"github.com/irfndi/celebrum-quant/internal/logging"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/telemetry"
	"github.com/irfndi/celebrum-quant/internal/utils"
)

// PriceProvider loads aligned price histories.
type PriceProvider interface {
	GetAlignedMatrix(ctx context.Context, symbols []string, exchange string, limit int) (*models.PriceMatrix, error)
}

// ReportStore persists cointegration reports.
type ReportStore interface {
	SaveReport(ctx context.Context, report *models.CointegrationReport) error
	GetReport(ctx context.Context, id string) (*models.CointegrationReport, error)
	ListReports(ctx context.Context, symbols []string, limit int) ([]*models.CointegrationReport, error)
}

// ReportCache caches reports by request fingerprint.
type ReportCache interface {
	Get(ctx context.Context, key cache.AnalysisKey) (*models.CointegrationReport, bool)
	Set(ctx context.Context, key cache.AnalysisKey, report *models.CointegrationReport) error
}

// AnalyzeRequest describes one cointegration analysis. Zero values select the
// configured defaults.
type AnalyzeRequest struct {
	Exchange  string      `json:"exchange"`
	Symbols   []string    `json:"symbols"`
	Series    [][]float64 `json:"series,omitempty"`
	Window    int         `json:"window,omitempty"`
	Lags      int         `json:"lags,omitempty"`
	Model     string      `json:"model,omitempty"`
	Level     string      `json:"significance_level,omitempty"`
	LogPrices *bool       `json:"log_prices,omitempty"`
}

type analysisParams struct {
	lags      int
	window    int
	model     johansen.DeterministicModel
	level     johansen.SignificanceLevel
	logPrices bool
}

// CointegrationService runs Johansen analyses over stored or supplied prices.
type CointegrationService struct {
	prices  PriceProvider
	reports ReportStore
	cache   ReportCache
	cfg     config.CointegrationConfig
	tracer  *telemetry.BusinessTracer
	logger  logging.Logger
	now     func() time.Time
}

// NewCointegrationService creates a new cointegration service. reports and
// reportCache may be nil.
//
// Parameters:
//   - prices: Source of aligned price histories.
//   - reports: Report persistence.
//   - reportCache: Report cache.
//   - cfg: Cointegration defaults.
//   - tracer: Business tracer for analysis spans.
//   - logger: Structured logger.
//
// Returns:
//   - A pointer to the initialized CointegrationService.
func NewCointegrationService(prices PriceProvider, reports ReportStore, reportCache ReportCache, cfg config.CointegrationConfig, tracer *telemetry.BusinessTracer, logger logging.Logger) *CointegrationService {
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	if logger == nil {
		logger = logging.NewStandardLogger("info")
	}
	return &CointegrationService{
		prices:  prices,
		reports: reports,
		cache:   reportCache,
		cfg:     cfg,
		tracer:  tracer,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *CointegrationService) resolve(req AnalyzeRequest) (analysisParams, error) {
	p := analysisParams{
		lags:      s.cfg.DefaultLags,
		window:    s.cfg.WindowSize,
		model:     s.cfg.Model(),
		level:     s.cfg.Level(),
		logPrices: s.cfg.UseLogPrices,
	}
	if req.Lags != 0 {
		p.lags = req.Lags
	}
	if req.Window != 0 {
		p.window = req.Window
	}
	if req.Model != "" {
		m, err := johansen.ParseModel(req.Model)
		if err != nil {
			return p, err
		}
		p.model = m
	}
	if req.Level != "" {
		l, err := johansen.ParseSignificanceLevel(req.Level)
		if err != nil {
			return p, err
		}
		p.level = l
	}
	if req.LogPrices != nil {
		p.logPrices = *req.LogPrices
	}
	if p.lags < 1 {
		return p, utils.NewInvalidInputErrorf("lags must be at least 1, got %d", p.lags)
	}
	if p.window < 2 {
		return p, utils.NewInvalidInputErrorf("window must be at least 2, got %d", p.window)
	}
	return p, nil
}

// AnalyzeSymbols analyzes the stored price history of symbols on an exchange.
// Results are cached by request fingerprint and persisted when configured.
func (s *CointegrationService) AnalyzeSymbols(ctx context.Context, req AnalyzeRequest) (*models.CointegrationReport, error) {
	if req.Exchange == "" {
		return nil, utils.NewInvalidInputError("exchange is required")
	}
	if len(req.Symbols) < 2 {
		return nil, utils.NewInvalidInputErrorf("at least 2 symbols are required, got %d", len(req.Symbols))
	}
	if s.cfg.MaxSeries > 0 && len(req.Symbols) > s.cfg.MaxSeries {
		return nil, utils.NewInvalidInputErrorf("at most %d symbols may be analyzed together, got %d", s.cfg.MaxSeries, len(req.Symbols))
	}
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	started := s.now()
	ctx, span := s.tracer.TraceCointegrationAnalysis(ctx, req.Symbols, p.lags, p.model.String())
	defer span.End()

	key := cache.AnalysisKey{
		Exchange:  req.Exchange,
		Symbols:   req.Symbols,
		Window:    p.window,
		Lags:      p.lags,
		Model:     p.model.String(),
		Level:     p.level.String(),
		LogPrices: p.logPrices,
	}
	if s.cache != nil {
		lookup := s.now()
		report, ok := s.cache.Get(ctx, key)
		s.logger.LogCacheOperation("get", key.String(), ok, s.now().Sub(lookup).Milliseconds())
		if ok {
			s.finish(span, report, started, true, nil)
			return report, nil
		}
	}

	matrix, err := s.prices.GetAlignedMatrix(ctx, req.Symbols, req.Exchange, p.window)
	if err != nil {
		err = fmt.Errorf("failed to load prices: %w", err)
		s.finish(span, nil, started, false, err)
		return nil, err
	}
	data := matrix
	if p.logPrices {
		data = matrix.Log()
	}

	report, err := s.buildReport(data.Rows, req.Symbols, p)
	if err != nil {
		s.finish(span, nil, started, false, err)
		return nil, err
	}
	report.Exchange = req.Exchange
	if n := len(matrix.Timestamps); n > 0 {
		first, last := matrix.Timestamps[0], matrix.Timestamps[n-1]
		report.WindowStart = &first
		report.WindowEnd = &last
	}

	if s.cfg.PersistReports && s.reports != nil {
		saveStarted := s.now()
		if err := s.reports.SaveReport(ctx, report); err != nil {
			s.finish(span, nil, started, false, err)
			return nil, err
		}
		s.logger.LogDatabaseOperation("insert", "cointegration_reports", s.now().Sub(saveStarted).Milliseconds(), 1)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, report); err != nil {
			s.logger.WithError(err).Warn("failed to cache cointegration report", "report_id", report.ID)
		}
	}

	s.finish(span, report, started, false, nil)
	return report, nil
}

// AnalyzeMatrix analyzes caller-supplied observations (rows are time, columns
// are series). The report is neither cached nor persisted.
func (s *CointegrationService) AnalyzeMatrix(ctx context.Context, req AnalyzeRequest) (*models.CointegrationReport, error) {
	if len(req.Series) == 0 {
		return nil, utils.NewInvalidInputError("series are required")
	}
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	cols := len(req.Series[0])
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = make([]string, cols)
		for j := range symbols {
			symbols[j] = fmt.Sprintf("series_%d", j)
		}
	} else if len(symbols) != cols {
		return nil, utils.NewInvalidInputErrorf("%d symbols given for %d series", len(symbols), cols)
	}

	started := s.now()
	_, span := s.tracer.TraceCointegrationAnalysis(ctx, symbols, p.lags, p.model.String())
	defer span.End()

	rows := req.Series
	if p.logPrices {
		rows = (&models.PriceMatrix{Rows: req.Series}).Log().Rows
	}
	report, err := s.buildReport(rows, symbols, p)
	s.finish(span, report, started, false, err)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// GetReport loads a persisted report by ID.
func (s *CointegrationService) GetReport(ctx context.Context, id string) (*models.CointegrationReport, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, utils.NewInvalidInputErrorf("invalid report id %q", id)
	}
	if s.reports == nil {
		return nil, fmt.Errorf("report %s: %w", id, utils.ErrNotFound)
	}
	return s.reports.GetReport(ctx, id)
}

// ListReports returns recent persisted reports for a symbol set.
func (s *CointegrationService) ListReports(ctx context.Context, symbols []string, limit int) ([]*models.CointegrationReport, error) {
	if len(symbols) < 2 {
		return nil, utils.NewInvalidInputErrorf("at least 2 symbols are required, got %d", len(symbols))
	}
	if s.reports == nil {
		return []*models.CointegrationReport{}, nil
	}
	return s.reports.ListReports(ctx, symbols, limit)
}

func (s *CointegrationService) buildReport(rows [][]float64, symbols []string, p analysisParams) (*models.CointegrationReport, error) {
	series, err := johansen.NewSeriesMatrix(rows)
	if err != nil {
		return nil, err
	}
	result, err := johansen.Analyze(series, p.lags, p.model)
	if err != nil {
		return nil, err
	}
	rank, err := johansen.SelectRank(result, p.model, p.level)
	if err != nil {
		return nil, err
	}
	critical, err := johansen.CriticalValues(p.model, result.Series(), p.level)
	if err != nil {
		return nil, err
	}

	n := result.Series()
	vectors := make([][]float64, n)
	for i := range vectors {
		vectors[i] = mat.Col(nil, i, result.Eigenvectors)
	}

	report := &models.CointegrationReport{
		ID:                uuid.NewString(),
		Symbols:           append([]string(nil), symbols...),
		Lags:              p.lags,
		Model:             p.model.String(),
		SignificanceLevel: p.level.String(),
		Observations:      result.Observations,
		Eigenvalues:       append([]float64(nil), result.Eigenvalues...),
		Eigenvectors:      vectors,
		TraceStatistics:   append([]float64(nil), result.TraceStatistics...),
		CriticalValues:    critical,
		Rank:              rank,
		Cointegrated:      rank > 0,
		LogPrices:         p.logPrices,
		GeneratedAt:       s.now().UTC(),
	}

	if rank > 0 {
		hedge, err := result.CointegratingVector(0)
		if err != nil {
			return nil, err
		}
		report.HedgeVector = hedge
		report.HalfLife, report.MeanReverting = HalfLife(SpreadSeries(rows, hedge))
	}
	return report, nil
}

func (s *CointegrationService) finish(span trace.Span, report *models.CointegrationReport, started time.Time, cacheHit bool, err error) {
	telemetry.RecordError(span, err)
	if err != nil {
		s.logger.WithError(err).Warn("cointegration analysis failed")
		return
	}
	duration := s.now().Sub(started)
	s.tracer.RecordCointegrationResult(span, telemetry.CointegrationMetrics{
		Observations: report.Observations,
		Rank:         report.Rank,
		Eigenvalues:  report.Eigenvalues,
		CacheHit:     cacheHit,
		Duration:     duration,
	})
	s.logger.LogAnalysis(logging.AnalysisEvent{
		ReportID:     report.ID,
		Symbols:      report.Symbols,
		Model:        report.Model,
		Lags:         report.Lags,
		Observations: report.Observations,
		Rank:         report.Rank,
		DurationMS:   duration.Milliseconds(),
		CacheHit:     cacheHit,
	})
}

// SpreadSeries projects each observation row onto vector.
func SpreadSeries(rows [][]float64, vector []float64) []float64 {
	out := make([]float64, len(rows))
	for i, row := range rows {
		var v float64
		for j, w := range vector {
			v += w * row[j]
		}
		out[i] = v
	}
	return out
}

// HalfLife estimates the mean-reversion half-life of a spread, in observations,
// from the OLS fit of Δs_t on s_{t-1}. A non-negative slope means the spread
// does not revert and yields (0, false).
func HalfLife(spread []float64) (float64, bool) {
	if len(spread) < 3 {
		return 0, false
	}
	lagged := spread[:len(spread)-1]
	delta := make([]float64, len(lagged))
	for i := range delta {
		delta[i] = spread[i+1] - spread[i]
	}
	_, beta := stat.LinearRegression(lagged, delta, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) || beta >= 0 {
		return 0, false
	}
	return -math.Ln2 / beta, true
}
