// Package replay turns a marketdata source into a paced bar stream.
// The producer feeds a bounded channel; the consumer (offline runner or
// gateway replay task) drains it synchronously, so backpressure falls
// out of the channel.
package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"perpsim/internal/core"
	"perpsim/internal/marketdata"
	"perpsim/internal/sim"
	apperrors "perpsim/pkg/errors"
)

// Params configures one replay window.
type Params struct {
	Symbol   string
	Interval string
	StartTS  int64
	EndTS    int64

	// BarsPerSec throttles the stream for the online gateway. Zero or
	// negative means no pacing (offline).
	BarsPerSec float64
}

// Replayer holds a finite bar buffer and hands it out exactly once.
// The stream is lazy (the buffer loads on first use), finite, and
// non-restartable: after it has been consumed or stopped, a new stream
// requires SetParams first.
type Replayer struct {
	source marketdata.DataSource
	log    core.ILogger

	mu       sync.Mutex
	params   Params
	bars     []sim.Bar
	loaded   bool
	consumed bool
	running  bool
	stopped  bool
	stopCh   chan struct{}
}

func NewReplayer(source marketdata.DataSource, params Params, logger core.ILogger) *Replayer {
	return &Replayer{
		source: source,
		params: params,
		log:    core.OrDefault(logger).WithField("component", "replayer"),
	}
}

// SetParams replaces the configuration and invalidates the buffer. It
// refuses to reconfigure under a live stream; stop it first.
func (r *Replayer) SetParams(p Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return apperrors.ErrReplayRunning
	}
	r.params = p
	r.loaded = false
	r.consumed = false
	r.bars = nil
	return nil
}

// Params returns the current configuration.
func (r *Replayer) Params() Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.params
}

// BarsCount reports the size of the loaded buffer.
func (r *Replayer) BarsCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

// Bars returns a copy of the loaded buffer. The gateway serves its
// klines endpoint from this snapshot.
func (r *Replayer) Bars() []sim.Bar {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sim.Bar, len(r.bars))
	copy(out, r.bars)
	return out
}

// Running reports whether a stream is live.
func (r *Replayer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Load fetches the bar buffer now instead of at first stream use.
func (r *Replayer) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return apperrors.ErrReplayRunning
	}
	return r.loadLocked(ctx)
}

func (r *Replayer) loadLocked(ctx context.Context) error {
	p := r.params
	bars, err := r.source.GetKlines(ctx, p.Symbol, p.Interval, p.StartTS, p.EndTS, 0)
	if err != nil {
		return fmt.Errorf("%w: load %s %s: %v", apperrors.ErrDataUnavailable, p.Symbol, p.Interval, err)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].OpenTime < bars[j].OpenTime })
	r.bars = bars
	r.loaded = true
	r.log.Info("bars loaded", "symbol", p.Symbol, "interval", p.Interval, "count", len(bars))
	return nil
}

// Stream starts the producer and returns its channel. The channel
// closes when the buffer is exhausted, the context ends, or Stop is
// called; the bar being delivered at that moment still goes out.
func (r *Replayer) Stream(ctx context.Context) (<-chan sim.Bar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil, apperrors.ErrReplayRunning
	}
	if r.consumed {
		return nil, apperrors.ErrStreamConsumed
	}
	if !r.loaded {
		if err := r.loadLocked(ctx); err != nil {
			return nil, err
		}
	}

	r.consumed = true
	r.running = true
	r.stopped = false
	r.stopCh = make(chan struct{})

	var limiter *rate.Limiter
	if r.params.BarsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.params.BarsPerSec), 1)
	}

	out := make(chan sim.Bar, 1)
	bars := r.bars
	stop := r.stopCh
	go func() {
		defer func() {
			close(out)
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		for _, bar := range bars {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case out <- bar:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Stop ends the live stream after the bar currently being consumed.
// It is safe to call when nothing is running.
func (r *Replayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopped {
		return
	}
	r.stopped = true
	close(r.stopCh)
}
