package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one observed last price for a symbol on an exchange.
type PricePoint struct {
	Price     decimal.Decimal `json:"price" db:"last_price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// PriceSeries is a chronologically ordered price history for one symbol.
type PriceSeries struct {
	Symbol   string       `json:"symbol"`
	Exchange string       `json:"exchange"`
	Points   []PricePoint `json:"points"`
}

// PriceMatrix holds prices for several symbols aligned on shared timestamps.
// Rows[i][j] is the price of Symbols[j] at Timestamps[i].
type PriceMatrix struct {
	Exchange   string      `json:"exchange"`
	Symbols    []string    `json:"symbols"`
	Timestamps []time.Time `json:"timestamps"`
	Rows       [][]float64 `json:"rows"`
}

// Len returns the number of aligned observations.
func (m *PriceMatrix) Len() int {
	return len(m.Rows)
}

// Log returns a copy of the matrix with every price replaced by its natural log.
// Non-positive prices yield NaN, which the analysis layer rejects.
func (m *PriceMatrix) Log() *PriceMatrix {
	rows := make([][]float64, len(m.Rows))
	for i, row := range m.Rows {
		out := make([]float64, len(row))
		for j, v := range row {
			if v > 0 {
				out[j] = math.Log(v)
			} else {
				out[j] = math.NaN()
			}
		}
		rows[i] = out
	}
	return &PriceMatrix{
		Exchange:   m.Exchange,
		Symbols:    append([]string(nil), m.Symbols...),
		Timestamps: append([]time.Time(nil), m.Timestamps...),
		Rows:       rows,
	}
}

// Column returns the prices of symbol index j in time order.
func (m *PriceMatrix) Column(j int) []float64 {
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[j]
	}
	return out
}
