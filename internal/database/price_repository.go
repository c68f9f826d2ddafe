package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/utils"
	"github.com/shopspring/decimal"
)

// DefaultAlignmentResolution is the bucket width used to match timestamps
// across symbols when building an aligned price matrix.
const DefaultAlignmentResolution = time.Minute

const priceSeriesQuery = `
		SELECT md.last_price, md.timestamp
		FROM market_data md
		JOIN trading_pairs tp ON md.trading_pair_id = tp.id
		JOIN exchanges e ON md.exchange_id = e.id
		WHERE tp.symbol = $1 AND e.name = $2 AND md.last_price > 0
		ORDER BY md.timestamp DESC
		LIMIT $3
	`

// PriceRepository reads last-price history from the market data tables.
type PriceRepository struct {
	pool       DatabasePool
	resolution time.Duration
}

// NewPriceRepository creates a new price repository.
//
// Parameters:
//
//	pool: The database connection pool.
//	resolution: Timestamp bucket width for alignment; zero selects DefaultAlignmentResolution.
//
// Returns:
//
//	*PriceRepository: The initialized repository.
func NewPriceRepository(pool DatabasePool, resolution time.Duration) *PriceRepository {
	if resolution <= 0 {
		resolution = DefaultAlignmentResolution
	}
	return &PriceRepository{pool: pool, resolution: resolution}
}

// GetPriceSeries returns the latest limit prices of a symbol in chronological order.
func (r *PriceRepository) GetPriceSeries(ctx context.Context, symbol, exchange string, limit int) (*models.PriceSeries, error) {
	if symbol == "" || exchange == "" {
		return nil, utils.NewInvalidInputError("symbol and exchange are required")
	}
	if limit < 1 {
		return nil, utils.NewInvalidInputErrorf("limit must be positive, got %d", limit)
	}

	rows, err := r.pool.Query(ctx, priceSeriesQuery, symbol, exchange, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	points := make([]models.PricePoint, 0, limit)
	for rows.Next() {
		var price decimal.Decimal
		var ts time.Time
		if err := rows.Scan(&price, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		points = append(points, models.PricePoint{Price: price, Timestamp: ts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price rows: %w", err)
	}

	// Reverse to ascending time order
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}

	return &models.PriceSeries{Symbol: symbol, Exchange: exchange, Points: points}, nil
}

// GetAlignedMatrix loads each symbol's history and keeps only the timestamp
// buckets present for every symbol. Within a bucket the latest price wins.
// Fewer than two aligned rows is an invalid input.
func (r *PriceRepository) GetAlignedMatrix(ctx context.Context, symbols []string, exchange string, limit int) (*models.PriceMatrix, error) {
	if len(symbols) < 2 {
		return nil, utils.NewInvalidInputErrorf("at least 2 symbols are required, got %d", len(symbols))
	}
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if _, dup := seen[s]; dup {
			return nil, utils.NewInvalidInputErrorf("duplicate symbol %q", s)
		}
		seen[s] = struct{}{}
	}

	buckets := make([]map[time.Time]float64, len(symbols))
	for j, symbol := range symbols {
		series, err := r.GetPriceSeries(ctx, symbol, exchange, limit)
		if err != nil {
			return nil, err
		}
		bucket := make(map[time.Time]float64, len(series.Points))
		for _, p := range series.Points {
			// Points are ascending so later writes keep the latest price.
			bucket[p.Timestamp.UTC().Truncate(r.resolution)] = p.Price.InexactFloat64()
		}
		buckets[j] = bucket
	}

	var shared []time.Time
	for ts := range buckets[0] {
		inAll := true
		for _, b := range buckets[1:] {
			if _, ok := b[ts]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			shared = append(shared, ts)
		}
	}
	sort.Slice(shared, func(a, b int) bool { return shared[a].Before(shared[b]) })

	if len(shared) < 2 {
		return nil, utils.NewInvalidInputErrorf("only %d aligned observations for %v on %s", len(shared), symbols, exchange)
	}

	rows := make([][]float64, len(shared))
	for i, ts := range shared {
		row := make([]float64, len(symbols))
		for j := range symbols {
			row[j] = buckets[j][ts]
		}
		rows[i] = row
	}

	return &models.PriceMatrix{
		Exchange:   exchange,
		Symbols:    append([]string(nil), symbols...),
		Timestamps: shared,
		Rows:       rows,
	}, nil
}
