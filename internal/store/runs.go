package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"perpsim/internal/sim"
	apperrors "perpsim/pkg/errors"
)

// RunRecorder persists one backtest run: its row in runs, its fills in
// trades_fills with a monotonic sequence, and its equity curve. It
// implements sim.RunSink.
type RunRecorder struct {
	store *Store
	runID string

	mu  sync.Mutex
	seq int64
}

// OpenRun registers a new run and returns its recorder. Params are
// stored as a JSON blob next to the strategy label.
func (s *Store) OpenRun(ctx context.Context, strategy string, params map[string]string) (*RunRecorder, error) {
	if s.opts.ReadOnly {
		return nil, fmt.Errorf("%w: store is read-only", apperrors.ErrConfigConflict)
	}

	runID := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run params: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, created_at, strategy, params_json) VALUES (?, ?, ?, ?)`,
			runID, time.Now().UnixMilli(), strategy, string(paramsJSON))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	s.log.Info("run registered", "run_id", runID, "strategy", strategy)
	return &RunRecorder{store: s, runID: runID}, nil
}

// RunID returns the UUID assigned at OpenRun.
func (r *RunRecorder) RunID() string { return r.runID }

// RecordFill appends one fill row. Failures after retries surface as
// ErrSinkWrite so the engine can count and tolerate them.
func (r *RunRecorder) RecordFill(f sim.FillRecord) error {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	err := r.store.withRetry(context.Background(), func() error {
		_, err := r.store.db.Exec(`INSERT INTO trades_fills
			(run_id, seq, ts, symbol, side, price, qty, realized_pnl, fee, is_maker)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.runID, seq, f.TsMS, f.Symbol, string(f.Side), f.Price, f.Qty, f.RealizedPnL, f.Fee, boolInt(f.IsMaker))
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: fill seq %d: %v", apperrors.ErrSinkWrite, seq, err)
	}
	return nil
}

// RecordEquity appends one equity sample; a resample of the same bar
// close replaces the earlier row.
func (r *RunRecorder) RecordEquity(e sim.EquitySample) error {
	err := r.store.withRetry(context.Background(), func() error {
		_, err := r.store.db.Exec(
			`INSERT OR REPLACE INTO equity_curve (run_id, ts, equity) VALUES (?, ?, ?)`,
			r.runID, e.TsMS, e.Equity)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: equity at %d: %v", apperrors.ErrSinkWrite, e.TsMS, err)
	}
	return nil
}

// SaveSummary attaches the final report JSON to the run row.
func (r *RunRecorder) SaveSummary(ctx context.Context, summaryJSON []byte) error {
	err := r.store.withRetry(ctx, func() error {
		_, err := r.store.db.ExecContext(ctx,
			`UPDATE runs SET summary_json = ? WHERE run_id = ?`, string(summaryJSON), r.runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save run summary: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
