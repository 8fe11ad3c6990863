package marketdata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "perpsim/pkg/errors"
)

// ToMS parses a user-supplied time into epoch milliseconds. Accepted
// forms, in order: bare digits (treated as seconds and scaled when the
// value is at or below 1e10, otherwise already milliseconds), ISO-8601
// with or without a zone ("2024-07-01T00:00:00Z", "2024-07-01 12:34:56"),
// and a plain date ("2024-07-01", UTC midnight). Naive timestamps are
// read as UTC.
func ToMS(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty time", apperrors.ErrInvalidParam)
	}

	if isDigits(s) {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: time %q out of range", apperrors.ErrInvalidParam, s)
		}
		if v > 10_000_000_000 {
			return v, nil
		}
		return v * 1000, nil
	}

	iso := strings.Replace(s, " ", "T", 1)
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", iso, time.UTC); err == nil {
		return t.UnixMilli(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.UTC); err == nil {
		return t.UnixMilli(), nil
	}
	return 0, fmt.Errorf("%w: unparseable time %q", apperrors.ErrInvalidParam, s)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
