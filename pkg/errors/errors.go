package apperrors

import "errors"

// Standardized simulator errors. Handlers and CLIs match on these with
// errors.Is; wrap call-site context with fmt.Errorf("...: %w", err).
var (
	ErrInvalidParam         = errors.New("invalid parameter")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrNoMarketPrice        = errors.New("no market price available")
	ErrUnknownOrder         = errors.New("unknown order")
	ErrDataUnavailable      = errors.New("data unavailable")
	ErrSinkWrite            = errors.New("sink write failed")
	ErrConfigConflict       = errors.New("configuration conflict")
	ErrReplayRunning        = errors.New("replay already running")
	ErrStreamConsumed       = errors.New("bar stream already consumed")
)
