package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/irfndi/celebrum-quant/internal/kalman"
	"github.com/irfndi/celebrum-quant/internal/models"
	"github.com/irfndi/celebrum-quant/internal/utils"
	"github.com/jackc/pgx/v5"
)

// FilterStateRecord is the persisted form of a tracked pair's hedge-ratio filter.
type FilterStateRecord struct {
	PairID     string
	Symbols    []string
	State      *kalman.State
	Spreads    []float64
	LastZScore float64
	// Position is the entry signal still open, or SignalNone when flat.
	Position  models.SpreadSignal
	UpdatedAt time.Time
}

// FilterStateRepository stores hedge-ratio filter state between restarts.
type FilterStateRepository struct {
	pool DatabasePool
}

// NewFilterStateRepository creates a new filter state repository.
func NewFilterStateRepository(pool DatabasePool) *FilterStateRepository {
	return &FilterStateRepository{pool: pool}
}

// SaveState upserts the record for its pair.
func (r *FilterStateRepository) SaveState(ctx context.Context, record *FilterStateRecord) error {
	if record == nil || record.PairID == "" || record.State == nil {
		return utils.NewInvalidInputError("pair id and state are required")
	}
	payload, err := json.Marshal(record.State)
	if err != nil {
		return fmt.Errorf("failed to encode filter state: %w", err)
	}
	symbols := record.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	spreads := record.Spreads
	if spreads == nil {
		spreads = []float64{}
	}

	query := `
		INSERT INTO hedge_filter_states (pair_id, symbols, state, spreads, last_zscore, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair_id)
		DO UPDATE SET
			symbols = EXCLUDED.symbols,
			state = EXCLUDED.state,
			spreads = EXCLUDED.spreads,
			last_zscore = EXCLUDED.last_zscore,
			position = EXCLUDED.position,
			updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		record.PairID, symbols, payload, spreads, record.LastZScore,
		string(record.Position), record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save filter state for %s: %w", record.PairID, err)
	}
	return nil
}

// LoadState returns the stored record for a pair. A missing pair wraps utils.ErrNotFound.
func (r *FilterStateRepository) LoadState(ctx context.Context, pairID string) (*FilterStateRecord, error) {
	query := `
		SELECT pair_id, symbols, state, spreads, last_zscore, position, updated_at
		FROM hedge_filter_states
		WHERE pair_id = $1
	`
	var (
		record  FilterStateRecord
		payload []byte
		signal  string
	)
	err := r.pool.QueryRow(ctx, query, pairID).Scan(
		&record.PairID, &record.Symbols, &payload, &record.Spreads,
		&record.LastZScore, &signal, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("filter state %s: %w", pairID, utils.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load filter state for %s: %w", pairID, err)
	}

	var state kalman.State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to decode filter state for %s: %w", pairID, err)
	}
	record.State = &state
	record.Position = models.SpreadSignal(signal)
	return &record, nil
}

// DeleteState removes a pair's record. It reports whether a row was deleted.
func (r *FilterStateRepository) DeleteState(ctx context.Context, pairID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM hedge_filter_states WHERE pair_id = $1`, pairID)
	if err != nil {
		return false, fmt.Errorf("failed to delete filter state for %s: %w", pairID, err)
	}
	return tag.RowsAffected() > 0, nil
}
