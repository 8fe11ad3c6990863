package strategy

import (
	"fmt"
	"strconv"

	apperrors "perpsim/pkg/errors"
)

// Params carries strategy tuning as loosely typed key/value pairs, the
// shape they arrive in from CLI flags and run records.
type Params map[string]string

// Int returns the parameter as an integer, or def when absent. A value
// that does not parse is an error rather than a silent default.
func (p Params) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: param %s=%q is not an integer", apperrors.ErrInvalidParam, key, raw)
	}
	return v, nil
}

// Float returns the parameter as a float, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: param %s=%q is not a number", apperrors.ErrInvalidParam, key, raw)
	}
	return v, nil
}

// String returns the parameter, or def when absent.
func (p Params) String(key, def string) string {
	if raw, ok := p[key]; ok && raw != "" {
		return raw
	}
	return def
}
