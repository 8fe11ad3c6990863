// Package core defines the interfaces shared across the simulator.
package core

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// NopLogger discards everything. Used by pure-engine tests and as the
// fallback when a component is constructed without a logger.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{})             {}
func (NopLogger) Info(string, ...interface{})              {}
func (NopLogger) Warn(string, ...interface{})              {}
func (NopLogger) Error(string, ...interface{})             {}
func (NopLogger) Fatal(string, ...interface{})             {}
func (n NopLogger) WithField(string, interface{}) ILogger  { return n }
func (n NopLogger) WithFields(map[string]interface{}) ILogger { return n }

// OrDefault returns l, or a NopLogger when l is nil.
func OrDefault(l ILogger) ILogger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
