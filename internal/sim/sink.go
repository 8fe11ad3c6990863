package sim

// EquitySample is one end-of-bar equity observation. Equity is cash
// balance plus unrealized pnl marked at the bar close.
type EquitySample struct {
	TsMS    int64   `json:"timestamp"`
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

// RunSink receives fills and equity samples as a run progresses. The
// exchange calls it from its single processing goroutine; a sink error
// is logged and counted but never interrupts the run.
type RunSink interface {
	RecordFill(rec FillRecord) error
	RecordEquity(s EquitySample) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) RecordFill(FillRecord) error     { return nil }
func (NopSink) RecordEquity(EquitySample) error { return nil }

// MemorySink buffers records in memory, in arrival order.
type MemorySink struct {
	Fills  []FillRecord
	Equity []EquitySample
}

func (s *MemorySink) RecordFill(rec FillRecord) error {
	s.Fills = append(s.Fills, rec)
	return nil
}

func (s *MemorySink) RecordEquity(sample EquitySample) error {
	s.Equity = append(s.Equity, sample)
	return nil
}

// MultiSink fans out every record to all child sinks and returns the
// first error encountered, after attempting every child.
type MultiSink []RunSink

func (m MultiSink) RecordFill(rec FillRecord) error {
	var first error
	for _, s := range m {
		if err := s.RecordFill(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) RecordEquity(sample EquitySample) error {
	var first error
	for _, s := range m {
		if err := s.RecordEquity(sample); err != nil && first == nil {
			first = err
		}
	}
	return first
}
