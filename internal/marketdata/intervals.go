package marketdata

import (
	"fmt"
	"sort"

	apperrors "perpsim/pkg/errors"
)

// intervalMS maps Binance interval strings to their duration in
// milliseconds. 1M is the futures API's nominal 30 days.
var intervalMS = map[string]int64{
	"1m":  60_000,
	"3m":  3 * 60_000,
	"5m":  5 * 60_000,
	"15m": 15 * 60_000,
	"30m": 30 * 60_000,
	"1h":  60 * 60_000,
	"2h":  2 * 60 * 60_000,
	"4h":  4 * 60 * 60_000,
	"6h":  6 * 60 * 60_000,
	"8h":  8 * 60 * 60_000,
	"12h": 12 * 60 * 60_000,
	"1d":  24 * 60 * 60_000,
	"3d":  3 * 24 * 60 * 60_000,
	"1w":  7 * 24 * 60 * 60_000,
	"1M":  30 * 24 * 60 * 60_000,
}

// IntervalMS returns the duration of one bar of the given interval.
func IntervalMS(interval string) (int64, error) {
	ms, ok := intervalMS[interval]
	if !ok {
		return 0, fmt.Errorf("%w: unknown interval %q", apperrors.ErrInvalidParam, interval)
	}
	return ms, nil
}

// Intervals lists the supported interval strings, shortest first.
func Intervals() []string {
	out := make([]string, 0, len(intervalMS))
	for k := range intervalMS {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return intervalMS[out[i]] < intervalMS[out[j]] })
	return out
}
