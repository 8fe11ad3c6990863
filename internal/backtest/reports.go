package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// WriteReports materializes a run into dir: trades.csv with one row
// per fill, equity.csv with one row per bar, and summary.json.
func WriteReports(dir string, res *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := writeCSV(filepath.Join(dir, "trades.csv"),
		[]string{"timestamp", "symbol", "side", "price", "quantity", "realized_pnl", "fee", "is_maker"},
		len(res.Fills),
		func(i int) []string {
			f := res.Fills[i]
			return []string{
				strconv.FormatInt(f.TsMS, 10),
				f.Symbol,
				string(f.Side),
				formatFloat(f.Price),
				formatFloat(f.Qty),
				formatFloat(f.RealizedPnL),
				formatFloat(f.Fee),
				strconv.FormatBool(f.IsMaker),
			}
		}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(dir, "equity.csv"),
		[]string{"timestamp", "equity"},
		len(res.Equity),
		func(i int) []string {
			s := res.Equity[i]
			return []string{strconv.FormatInt(s.TsMS, 10), formatFloat(s.Equity)}
		}); err != nil {
		return err
	}

	data, err := json.MarshalIndent(res.Summary, "", "    ")
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func writeCSV(path string, header []string, rows int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		if err := w.Write(row(i)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
