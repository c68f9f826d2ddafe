package models

import "time"

// CointegrationReport is the persisted outcome of a Johansen analysis.
type CointegrationReport struct {
	ID                string      `json:"id" db:"id"`
	Exchange          string      `json:"exchange,omitempty" db:"exchange"`
	Symbols           []string    `json:"symbols" db:"symbols"`
	Lags              int         `json:"lags" db:"lags"`
	Model             string      `json:"model" db:"model"`
	SignificanceLevel string      `json:"significance_level" db:"significance_level"`
	Observations      int         `json:"observations" db:"observations"`
	Eigenvalues       []float64   `json:"eigenvalues" db:"eigenvalues"`
	Eigenvectors      [][]float64 `json:"eigenvectors" db:"eigenvectors"` // column-major: Eigenvectors[i] is vector i
	TraceStatistics   []float64   `json:"trace_statistics" db:"trace_statistics"`
	CriticalValues    []float64   `json:"critical_values" db:"critical_values"`
	Rank              int         `json:"rank" db:"rank"`
	Cointegrated      bool        `json:"cointegrated" db:"cointegrated"`
	HedgeVector       []float64   `json:"hedge_vector,omitempty" db:"hedge_vector"`
	HalfLife          float64     `json:"half_life" db:"half_life"`
	MeanReverting     bool        `json:"mean_reverting" db:"mean_reverting"`
	LogPrices         bool        `json:"log_prices" db:"log_prices"`
	WindowStart       *time.Time  `json:"window_start,omitempty" db:"window_start"`
	WindowEnd         *time.Time  `json:"window_end,omitempty" db:"window_end"`
	GeneratedAt       time.Time   `json:"generated_at" db:"generated_at"`
}

// CriticalValueEntry is one row of the trace critical-value table.
type CriticalValueEntry struct {
	Model             string  `json:"model"`
	Series            int     `json:"series"`
	SignificanceLevel string  `json:"significance_level"`
	Value             float64 `json:"value"`
}
