package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRandomOHLCDeterministic verifies that a fixed seed reproduces the
// same fill sequence over the same bars.
func TestRandomOHLCDeterministic(t *testing.T) {
	bars := make([]*Bar, 0, 16)
	for i := 0; i < 16; i++ {
		o := 100 + float64(i)
		bars = append(bars, &Bar{
			Symbol:   "TESTUSDT",
			OpenTime: int64(i) * 60_000, CloseTime: int64(i+1) * 60_000,
			Open: o, High: o + 10, Low: o - 10, Close: o + 2,
		})
	}

	run := func() []Fill {
		model := NewRandomOHLC(42, 0)
		var out []Fill
		for _, bar := range bars {
			buy := limitOrder(1, SideBuy, 1, bar.Open-5)
			sell := limitOrder(2, SideSell, 1, bar.Open+5)
			out = append(out, model.FillsOnBar(bar, buy)...)
			out = append(out, model.FillsOnBar(bar, sell)...)
		}
		return out
	}

	first := run()
	second := run()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

// TestRandomOHLCSingleDrawPerBar verifies all orders evaluated on one
// bar see the same traversal direction.
func TestRandomOHLCSingleDrawPerBar(t *testing.T) {
	bar := testBar()
	for seed := int64(0); seed < 8; seed++ {
		model := NewRandomOHLC(seed, 0)

		// An up-first path touches the high before the low, so the sell
		// fills at t1 and the buy at t2; down-first swaps them. A split
		// draw would give both the same timestamp slot.
		sell := limitOrder(1, SideSell, 1, 110)
		buy := limitOrder(2, SideBuy, 1, 90)
		sellFills := model.FillsOnBar(bar, sell)
		buyFills := model.FillsOnBar(bar, buy)
		require.Len(t, sellFills, 1)
		require.Len(t, buyFills, 1)

		ts := map[int64]bool{sellFills[0].TsMS: true, buyFills[0].TsMS: true}
		assert.Equal(t, map[int64]bool{20_000: true, 40_000: true}, ts,
			"seed %d: one fill per extreme segment", seed)
	}
}

// TestRandomOHLCRedrawsAcrossBars verifies the direction is drawn again
// when the bar changes.
func TestRandomOHLCRedrawsAcrossBars(t *testing.T) {
	model := NewRandomOHLC(7, 0)

	sawUp, sawDown := false, false
	for i := 0; i < 64 && !(sawUp && sawDown); i++ {
		bar := &Bar{Symbol: "TESTUSDT",
			OpenTime: int64(i) * 60_000, CloseTime: int64(i+1) * 60_000,
			Open: 100, High: 120, Low: 80, Close: 110}
		sell := limitOrder(1, SideSell, 1, 110)
		fills := model.FillsOnBar(bar, sell)
		require.Len(t, fills, 1)
		switch fills[0].TsMS - bar.OpenTime {
		case 20_000:
			sawUp = true
		case 40_000:
			sawDown = true
		}
	}
	assert.True(t, sawUp, "no up-first bar in 64 draws")
	assert.True(t, sawDown, "no down-first bar in 64 draws")
}
