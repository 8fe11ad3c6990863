package store

import (
	"context"
	"fmt"
	"strings"

	"perpsim/internal/sim"
)

// UpsertKlines writes bars for one symbol and interval in a single
// transaction, replacing rows that share an open time.
func (s *Store) UpsertKlines(ctx context.Context, symbol, interval string, bars []sim.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO ohlc
			(symbol, interval, open_time, open, high, low, close, volume, close_time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare kline insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			if _, err := stmt.ExecContext(ctx, symbol, interval, b.OpenTime, b.Open, b.High, b.Low, b.Close, b.Volume, b.CloseTime); err != nil {
				return fmt.Errorf("failed to write kline %d: %w", b.OpenTime, err)
			}
		}
		return tx.Commit()
	})
}

// UpsertFunding writes funding events for one symbol, replacing rows
// that share a funding time.
func (s *Store) UpsertFunding(ctx context.Context, symbol string, events []sim.FundingEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO funding
			(symbol, funding_time, funding_rate) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare funding insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx, symbol, ev.TimeMS, ev.Rate); err != nil {
				return fmt.Errorf("failed to write funding %d: %w", ev.TimeMS, err)
			}
		}
		return tx.Commit()
	})
}

// GetKlines reads bars back sorted ascending, inclusive on both ends.
func (s *Store) GetKlines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]sim.Bar, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT open_time, open, high, low, close, volume, close_time
		FROM ohlc WHERE symbol = ? AND interval = ?`)
	args := []any{symbol, interval}

	if startMS > 0 {
		sb.WriteString(" AND open_time >= ?")
		args = append(args, startMS)
	}
	if endMS > 0 {
		sb.WriteString(" AND open_time <= ?")
		args = append(args, endMS)
	}
	sb.WriteString(" ORDER BY open_time ASC")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read klines: %w", err)
	}
	defer rows.Close()

	var bars []sim.Bar
	for rows.Next() {
		b := sim.Bar{Symbol: symbol}
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.CloseTime); err != nil {
			return nil, fmt.Errorf("failed to scan kline: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Symbols lists the distinct symbols with OHLC data, sorted. The
// gateway's exchangeInfo endpoint advertises these.
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT symbol FROM ohlc ORDER BY symbol ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// GetFundingRates reads funding events sorted ascending, inclusive on
// both ends.
func (s *Store) GetFundingRates(ctx context.Context, symbol string, startMS, endMS int64) ([]sim.FundingEvent, error) {
	var sb strings.Builder
	sb.WriteString("SELECT funding_time, funding_rate FROM funding WHERE symbol = ?")
	args := []any{symbol}

	if startMS > 0 {
		sb.WriteString(" AND funding_time >= ?")
		args = append(args, startMS)
	}
	if endMS > 0 {
		sb.WriteString(" AND funding_time <= ?")
		args = append(args, endMS)
	}
	sb.WriteString(" ORDER BY funding_time ASC")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read funding rates: %w", err)
	}
	defer rows.Close()

	var events []sim.FundingEvent
	for rows.Next() {
		var ev sim.FundingEvent
		if err := rows.Scan(&ev.TimeMS, &ev.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan funding rate: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
