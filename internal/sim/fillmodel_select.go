package sim

import (
	"fmt"
	"strings"

	apperrors "perpsim/pkg/errors"
)

// FillModelByName maps a configuration name to a fill model. The seed
// feeds the random model, slippage the path models, spread the book
// model; irrelevant knobs are ignored.
func FillModelByName(name string, seed int64, slippageBps, spreadBps float64) (FillModel, error) {
	switch strings.ToLower(name) {
	case "", "ohlc_up":
		return NewOHLCPathFill(true, slippageBps), nil
	case "ohlc_down":
		return NewOHLCPathFill(false, slippageBps), nil
	case "random":
		return NewRandomOHLC(seed, slippageBps), nil
	case "book":
		return NewBookTickerFill(spreadBps), nil
	}
	return nil, fmt.Errorf("%w: fill model %q", apperrors.ErrInvalidParam, name)
}
