package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"perpsim/internal/sim"
)

// FileSource reads klines and funding rates from a local CSV tree.
// Accepted layouts, tried in order (when several files match a glob the
// newest by mtime wins):
//
//	<dir>/klines/{SYMBOL}_{interval}.csv
//	<dir>/klines/{SYMBOL}/{interval}.csv
//	<dir>/klines/{SYMBOL}/{interval}_*.csv
//	<dir>/funding/{SYMBOL}.csv
//	<dir>/funding/{SYMBOL}_*.csv
//
// Kline rows are open_time,open,high,low,close,volume[,close_time]; a
// missing close_time is synthesized as open_time + interval - 1 so the
// bars pass engine validation. Funding columns are located by their
// fundingTime/fundingRate header names, or positions 0 and 1 without a
// header. A header row is detected by the first field not parsing as a
// number. A missing file yields an empty result, not an error.
type FileSource struct {
	klinesDir  string
	fundingDir string
}

// NewFileSource roots a FileSource at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{
		klinesDir:  filepath.Join(dir, "klines"),
		fundingDir: filepath.Join(dir, "funding"),
	}
}

func (s *FileSource) GetKlines(_ context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]sim.Bar, error) {
	step, err := IntervalMS(interval)
	if err != nil {
		return nil, err
	}

	sym := strings.ToUpper(symbol)
	path := firstExisting([]string{
		filepath.Join(s.klinesDir, sym+"_"+interval+".csv"),
		filepath.Join(s.klinesDir, sym, interval+".csv"),
		filepath.Join(s.klinesDir, sym, interval+"_*.csv"),
	})
	if path == "" {
		return nil, nil
	}

	rows, err := readCSVRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// First field of an integer open_time marks a data row; anything
	// else is a header.
	if _, err := strconv.ParseInt(rows[0][0], 10, 64); err != nil {
		rows = rows[1:]
	}

	var bars []sim.Bar
	for i, row := range rows {
		if len(row) < 6 {
			continue
		}
		bar, err := parseCSVKline(row, sym, step)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		bars = append(bars, bar)
	}

	if startMS > 0 || endMS > 0 {
		kept := bars[:0]
		for _, b := range bars {
			if startMS > 0 && b.OpenTime < startMS {
				continue
			}
			if endMS > 0 && b.OpenTime > endMS {
				continue
			}
			kept = append(kept, b)
		}
		bars = kept
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[:limit]
	}
	return bars, nil
}

func (s *FileSource) GetFundingRates(_ context.Context, symbol string, startMS, endMS int64) ([]sim.FundingEvent, error) {
	sym := strings.ToUpper(symbol)
	path := firstExisting([]string{
		filepath.Join(s.fundingDir, sym+".csv"),
		filepath.Join(s.fundingDir, sym+"_*.csv"),
	})
	if path == "" {
		return nil, nil
	}

	rows, err := readCSVRows(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	colTime, colRate := 0, 1
	if _, err := strconv.ParseFloat(rows[0][0], 64); err != nil {
		for i, name := range rows[0] {
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "fundingtime":
				colTime = i
			case "fundingrate":
				colRate = i
			}
		}
		rows = rows[1:]
	}

	var events []sim.FundingEvent
	for i, row := range rows {
		if len(row) <= colTime || len(row) <= colRate {
			continue
		}
		t, err := strconv.ParseFloat(row[colTime], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad funding time %q", path, i+1, row[colTime])
		}
		r, err := strconv.ParseFloat(row[colRate], 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad funding rate %q", path, i+1, row[colRate])
		}
		ev := sim.FundingEvent{TimeMS: int64(t), Rate: r}
		if startMS > 0 && ev.TimeMS < startMS {
			continue
		}
		if endMS > 0 && ev.TimeMS > endMS {
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].TimeMS < events[j].TimeMS })
	return events, nil
}

// firstExisting resolves the first pattern with any match, picking the
// newest file by mtime when the glob hits several.
func firstExisting(patterns []string) string {
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil || len(matches) == 0 {
			continue
		}
		sort.Slice(matches, func(i, j int) bool {
			fi, erri := os.Stat(matches[i])
			fj, errj := os.Stat(matches[j])
			if erri != nil || errj != nil {
				return matches[i] < matches[j]
			}
			return fi.ModTime().Before(fj.ModTime())
		})
		return matches[len(matches)-1]
	}
	return ""
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSVKline(row []string, symbol string, step int64) (sim.Bar, error) {
	openTime, err := strconv.ParseFloat(row[0], 64)
	if err != nil {
		return sim.Bar{}, fmt.Errorf("bad open_time %q", row[0])
	}
	var vals [5]float64
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return sim.Bar{}, fmt.Errorf("bad field %q", row[i+1])
		}
		vals[i] = v
	}
	bar := sim.Bar{
		Symbol:   symbol,
		OpenTime: int64(openTime),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	if len(row) > 6 && strings.TrimSpace(row[6]) != "" {
		ct, err := strconv.ParseFloat(row[6], 64)
		if err != nil {
			return sim.Bar{}, fmt.Errorf("bad close_time %q", row[6])
		}
		bar.CloseTime = int64(ct)
	} else {
		bar.CloseTime = bar.OpenTime + step - 1
	}
	return bar, nil
}
