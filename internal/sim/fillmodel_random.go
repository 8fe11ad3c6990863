package sim

import "math/rand"

// RandomOHLC draws the traversal direction once per bar from a seeded
// PRNG and defers to the matching path model. The same seed over the
// same bar sequence reproduces the same fill sequence.
type RandomOHLC struct {
	rng  *rand.Rand
	up   *OHLCPathFill
	down *OHLCPathFill

	haveBar    bool
	barSymbol  string
	barOpenTS  int64
	barUpFirst bool
}

func NewRandomOHLC(seed int64, slippageBps float64) *RandomOHLC {
	return &RandomOHLC{
		rng:  rand.New(rand.NewSource(seed)),
		up:   NewOHLCPathFill(true, slippageBps),
		down: NewOHLCPathFill(false, slippageBps),
	}
}

func (m *RandomOHLC) FillsOnBar(bar *Bar, order *Order) []Fill {
	if !m.haveBar || m.barSymbol != bar.Symbol || m.barOpenTS != bar.OpenTime {
		m.barUpFirst = m.rng.Intn(2) == 1
		m.haveBar = true
		m.barSymbol = bar.Symbol
		m.barOpenTS = bar.OpenTime
	}
	if m.barUpFirst {
		return m.up.FillsOnBar(bar, order)
	}
	return m.down.FillsOnBar(bar, order)
}

// TakerPrice matches the underlying path model's slippage adjustment.
func (m *RandomOHLC) TakerPrice(price float64, side Side) float64 {
	return m.up.TakerPrice(price, side)
}
