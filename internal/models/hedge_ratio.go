package models

import "time"

// SpreadSignal classifies the current spread z-score of a tracked pair.
type SpreadSignal string

const (
	SignalNone        SpreadSignal = "none"
	SignalHold        SpreadSignal = "hold"
	SignalLongSpread  SpreadSignal = "long_spread"
	SignalShortSpread SpreadSignal = "short_spread"
	SignalExit        SpreadSignal = "exit"
)

// IsActionable reports whether the signal warrants a notification.
func (s SpreadSignal) IsActionable() bool {
	return s == SignalLongSpread || s == SignalShortSpread || s == SignalExit
}

// HedgeRatioSnapshot is the state of a tracked pair after its latest update.
type HedgeRatioSnapshot struct {
	PairID        string       `json:"pair_id"`
	Symbols       []string     `json:"symbols,omitempty"`
	Betas         []float64    `json:"betas"`
	BetaVariances []float64    `json:"beta_variances"`
	Spread        float64      `json:"spread"`
	ZScore        float64      `json:"zscore"`
	Signal        SpreadSignal `json:"signal"`
	Position      SpreadSignal `json:"position"`
	Updates       int64        `json:"updates"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ReplayResult summarizes a run of the filter over historical prices.
type ReplayResult struct {
	Snapshot     *HedgeRatioSnapshot `json:"snapshot"`
	Observations int                 `json:"observations"`
	Spreads      []float64           `json:"spreads"`
	Timestamps   []time.Time         `json:"timestamps"`
}
