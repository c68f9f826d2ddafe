package database

import (
	"context"
	"fmt"
)

// schemaStatements creates the tables owned by this service. Price history
// lives in the shared market_data, trading_pairs and exchanges tables.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS cointegration_reports (
		id UUID PRIMARY KEY,
		exchange VARCHAR(64) NOT NULL DEFAULT '',
		symbols TEXT[] NOT NULL,
		symbols_key TEXT NOT NULL,
		lags INTEGER NOT NULL,
		model VARCHAR(16) NOT NULL,
		significance_level VARCHAR(8) NOT NULL,
		observations INTEGER NOT NULL,
		eigenvalues DOUBLE PRECISION[] NOT NULL,
		eigenvectors JSONB NOT NULL,
		trace_statistics DOUBLE PRECISION[] NOT NULL,
		critical_values JSONB NOT NULL,
		rank INTEGER NOT NULL,
		cointegrated BOOLEAN NOT NULL,
		hedge_vector DOUBLE PRECISION[],
		half_life DOUBLE PRECISION NOT NULL DEFAULT 0,
		mean_reverting BOOLEAN NOT NULL DEFAULT false,
		log_prices BOOLEAN NOT NULL DEFAULT false,
		window_start TIMESTAMPTZ,
		window_end TIMESTAMPTZ,
		generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cointegration_reports_symbols
		ON cointegration_reports (symbols_key, generated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS hedge_filter_states (
		pair_id VARCHAR(128) PRIMARY KEY,
		symbols TEXT[] NOT NULL DEFAULT '{}',
		state JSONB NOT NULL,
		spreads DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
		last_zscore DOUBLE PRECISION NOT NULL DEFAULT 0,
		position VARCHAR(16) NOT NULL DEFAULT 'none',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the report and filter-state tables if they are missing.
func EnsureSchema(ctx context.Context, pool DatabasePool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
