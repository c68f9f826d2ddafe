package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/utils"
	"github.com/jackc/pgx/v5"
)

const reportColumns = `id, exchange, symbols, lags, model, significance_level, observations,
		eigenvalues, eigenvectors, trace_statistics, critical_values, rank, cointegrated,
		hedge_vector, half_life, mean_reverting, log_prices, window_start, window_end, generated_at`

// ReportRepository persists cointegration reports.
type ReportRepository struct {
	pool DatabasePool
}

// NewReportRepository creates a new report repository.
func NewReportRepository(pool DatabasePool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// SymbolsKey is the lookup key used to list reports for a symbol set.
func SymbolsKey(symbols []string) string {
	return strings.Join(symbols, ",")
}

// SaveReport inserts a report. The report ID must already be set.
//
// Parameters:
//
//	ctx: Context.
//	report: The report to store.
//
// Returns:
//
//	error: Error if the insert fails.
func (r *ReportRepository) SaveReport(ctx context.Context, report *models.CointegrationReport) error {
	if report == nil || report.ID == "" {
		return utils.NewInvalidInputError("report id is required")
	}

	vectors, err := json.Marshal(report.Eigenvectors)
	if err != nil {
		return fmt.Errorf("failed to encode eigenvectors: %w", err)
	}
	critical, err := json.Marshal(report.CriticalValues)
	if err != nil {
		return fmt.Errorf("failed to encode critical values: %w", err)
	}

	query := `
		INSERT INTO cointegration_reports (` + reportColumns + `, symbols_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`
	_, err = r.pool.Exec(ctx, query,
		report.ID, report.Exchange, report.Symbols, report.Lags, report.Model,
		report.SignificanceLevel, report.Observations, report.Eigenvalues, vectors,
		report.TraceStatistics, critical, report.Rank, report.Cointegrated,
		report.HedgeVector, report.HalfLife, report.MeanReverting, report.LogPrices,
		report.WindowStart, report.WindowEnd, report.GeneratedAt, SymbolsKey(report.Symbols),
	)
	if err != nil {
		return fmt.Errorf("failed to save cointegration report: %w", err)
	}
	return nil
}

// GetReport loads a report by ID. A missing report wraps utils.ErrNotFound.
func (r *ReportRepository) GetReport(ctx context.Context, id string) (*models.CointegrationReport, error) {
	query := `SELECT ` + reportColumns + ` FROM cointegration_reports WHERE id = $1`

	report, err := scanReport(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cointegration report %s: %w", id, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cointegration report: %w", err)
	}
	return report, nil
}

// ListReports returns the most recent reports for a symbol set, newest first.
func (r *ReportRepository) ListReports(ctx context.Context, symbols []string, limit int) ([]*models.CointegrationReport, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT ` + reportColumns + `
		FROM cointegration_reports
		WHERE symbols_key = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, SymbolsKey(symbols), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cointegration reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.CointegrationReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cointegration report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cointegration reports: %w", err)
	}
	return reports, nil
}

func scanReport(row pgx.Row) (*models.CointegrationReport, error) {
	var (
		report   models.CointegrationReport
		vectors  []byte
		critical []byte
		start    *time.Time
		end      *time.Time
	)
	err := row.Scan(
		&report.ID, &report.Exchange, &report.Symbols, &report.Lags, &report.Model,
		&report.SignificanceLevel, &report.Observations, &report.Eigenvalues, &vectors,
		&report.TraceStatistics, &critical, &report.Rank, &report.Cointegrated,
		&report.HedgeVector, &report.HalfLife, &report.MeanReverting, &report.LogPrices,
		&start, &end, &report.GeneratedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(vectors, &report.Eigenvectors); err != nil {
		return nil, fmt.Errorf("failed to decode eigenvectors: %w", err)
	}
	if err := json.Unmarshal(critical, &report.CriticalValues); err != nil {
		return nil, fmt.Errorf("failed to decode critical values: %w", err)
	}
	report.WindowStart = start
	report.WindowEnd = end
	return &report, nil
}
