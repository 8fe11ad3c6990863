package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal   = "exchange_sim_orders_placed_total"
	MetricOrdersCanceledTotal = "exchange_sim_orders_canceled_total"
	MetricFillsTotal          = "exchange_sim_fills_total"
	MetricBarsReplayedTotal   = "exchange_sim_bars_replayed_total"
	MetricOrdersOpen          = "exchange_sim_orders_open"
	MetricEquity              = "exchange_sim_equity"
	MetricWSClients           = "exchange_sim_ws_clients"
	MetricSinkErrorsTotal     = "exchange_sim_sink_errors_total"
	MetricBarProcessSeconds   = "exchange_sim_bar_process_seconds"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersPlacedTotal   metric.Int64Counter
	OrdersCanceledTotal metric.Int64Counter
	FillsTotal          metric.Int64Counter
	BarsReplayedTotal   metric.Int64Counter
	SinkErrorsTotal     metric.Int64Counter
	OrdersOpen          metric.Int64ObservableGauge
	Equity              metric.Float64ObservableGauge
	WSClients           metric.Int64ObservableGauge
	BarProcessSeconds   metric.Float64Histogram

	// State for observable gauges
	mu            sync.RWMutex
	openOrdersMap map[string]int64
	equityMap     map[string]float64
	wsClients     int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			openOrdersMap: make(map[string]int64),
			equityMap:     make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders accepted by the engine"))
	if err != nil {
		return err
	}

	m.OrdersCanceledTotal, err = meter.Int64Counter(MetricOrdersCanceledTotal, metric.WithDescription("Total orders canceled"))
	if err != nil {
		return err
	}

	m.FillsTotal, err = meter.Int64Counter(MetricFillsTotal, metric.WithDescription("Total fills produced, labeled by liquidity side"))
	if err != nil {
		return err
	}

	m.BarsReplayedTotal, err = meter.Int64Counter(MetricBarsReplayedTotal, metric.WithDescription("Total bars fed through the engine"))
	if err != nil {
		return err
	}

	m.SinkErrorsTotal, err = meter.Int64Counter(MetricSinkErrorsTotal, metric.WithDescription("Total sink writes dropped or failed"))
	if err != nil {
		return err
	}

	m.BarProcessSeconds, err = meter.Float64Histogram(MetricBarProcessSeconds, metric.WithDescription("Wall time spent processing one bar"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen, metric.WithDescription("Number of currently open orders"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.Equity, err = meter.Float64ObservableGauge(MetricEquity, metric.WithDescription("Account equity marked at the last price"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.equityMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.WSClients, err = meter.Int64ObservableGauge(MetricWSClients, metric.WithDescription("Connected WebSocket clients"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.wsClients)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetEquity(symbol string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityMap[symbol] = value
}

func (m *MetricsHolder) SetWSClients(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsClients = count
}

func (m *MetricsHolder) GetOpenOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.openOrdersMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetEquity() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.equityMap {
		res[k] = v
	}
	return res
}
