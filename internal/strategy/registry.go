package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "perpsim/pkg/errors"
)

// Factory builds a strategy bound to one trading surface and symbol.
type Factory func(trader Trader, symbol, interval string, params Params) (Strategy, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a strategy constructible by name. Registering the same
// name again replaces the previous factory.
func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[name] = f
}

// New instantiates a registered strategy by name.
func New(name string, trader Trader, symbol, interval string, params Params) (Strategy, error) {
	regMu.RLock()
	f, ok := factories[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q (registered: %s)",
			apperrors.ErrInvalidParam, name, strings.Join(Names(), ", "))
	}
	return f(trader, symbol, interval, params)
}

// Names lists the registered strategy names sorted alphabetically.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
