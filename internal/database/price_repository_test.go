package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/irfndi/celebrum-quant/internal/utils"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool
}

func TestPriceRepository_GetPriceSeries(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewPriceRepository(mockPool, 0)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Rows arrive newest first.
	mockPool.ExpectQuery("SELECT md.last_price, md.timestamp").
		WithArgs("BTC/USDT", "binance", 3).
		WillReturnRows(pgxmock.NewRows([]string{"last_price", "timestamp"}).
			AddRow("102.5", base.Add(2*time.Minute)).
			AddRow("101.25", base.Add(time.Minute)).
			AddRow("100", base))

	series, err := repo.GetPriceSeries(context.Background(), "BTC/USDT", "binance", 3)
	require.NoError(t, err)
	require.Len(t, series.Points, 3)
	assert.Equal(t, "BTC/USDT", series.Symbol)
	assert.True(t, series.Points[0].Timestamp.Equal(base))
	assert.Equal(t, "100", series.Points[0].Price.String())
	assert.Equal(t, "102.5", series.Points[2].Price.String())
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPriceRepository_GetPriceSeries_InvalidArguments(t *testing.T) {
	repo := NewPriceRepository(newMockPool(t), time.Minute)

	_, err := repo.GetPriceSeries(context.Background(), "", "binance", 10)
	assert.True(t, utils.IsInvalidInput(err))

	_, err = repo.GetPriceSeries(context.Background(), "BTC/USDT", "binance", 0)
	assert.True(t, utils.IsInvalidInput(err))
}

func TestPriceRepository_GetPriceSeries_QueryError(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewPriceRepository(mockPool, 0)

	mockPool.ExpectQuery("SELECT md.last_price").
		WithArgs("BTC/USDT", "binance", 5).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetPriceSeries(context.Background(), "BTC/USDT", "binance", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, utils.IsInvalidInput(err))
}

func TestPriceRepository_GetAlignedMatrix(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewPriceRepository(mockPool, time.Minute)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockPool.ExpectQuery("SELECT md.last_price").
		WithArgs("BTC/USDT", "binance", 10).
		WillReturnRows(pgxmock.NewRows([]string{"last_price", "timestamp"}).
			AddRow("103", base.Add(3*time.Minute)).
			AddRow("102", base.Add(2*time.Minute+40*time.Second)).
			AddRow("101", base.Add(2*time.Minute+10*time.Second)).
			AddRow("100", base))
	mockPool.ExpectQuery("SELECT md.last_price").
		WithArgs("ETH/USDT", "binance", 10).
		WillReturnRows(pgxmock.NewRows([]string{"last_price", "timestamp"}).
			AddRow("22", base.Add(2*time.Minute+5*time.Second)).
			AddRow("21", base.Add(time.Minute)).
			AddRow("20", base.Add(5*time.Second)))

	matrix, err := repo.GetAlignedMatrix(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, "binance", 10)
	require.NoError(t, err)

	require.Equal(t, 2, matrix.Len())
	assert.Equal(t, []time.Time{base, base.Add(2 * time.Minute)}, matrix.Timestamps)
	assert.Equal(t, []float64{100, 20}, matrix.Rows[0])
	// The later tick inside the 12:02 bucket wins.
	assert.Equal(t, []float64{102, 22}, matrix.Rows[1])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPriceRepository_GetAlignedMatrix_TooFewRows(t *testing.T) {
	mockPool := newMockPool(t)
	repo := NewPriceRepository(mockPool, time.Minute)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockPool.ExpectQuery("SELECT md.last_price").
		WithArgs("A", "kraken", 5).
		WillReturnRows(pgxmock.NewRows([]string{"last_price", "timestamp"}).
			AddRow("1", base.Add(time.Minute)).
			AddRow("1", base))
	mockPool.ExpectQuery("SELECT md.last_price").
		WithArgs("B", "kraken", 5).
		WillReturnRows(pgxmock.NewRows([]string{"last_price", "timestamp"}).
			AddRow("2", base.Add(time.Hour)).
			AddRow("2", base))

	_, err := repo.GetAlignedMatrix(context.Background(), []string{"A", "B"}, "kraken", 5)
	assert.True(t, utils.IsInvalidInput(err))
}

func TestPriceRepository_GetAlignedMatrix_RejectsSymbolSets(t *testing.T) {
	repo := NewPriceRepository(newMockPool(t), time.Minute)

	_, err := repo.GetAlignedMatrix(context.Background(), []string{"A"}, "kraken", 5)
	assert.True(t, utils.IsInvalidInput(err))

	_, err = repo.GetAlignedMatrix(context.Background(), []string{"A", "A"}, "kraken", 5)
	assert.True(t, utils.IsInvalidInput(err))
}
