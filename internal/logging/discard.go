package logging

// DiscardLogger is a no-op Logger, used by tests that don't want LOG
// output cluttering test runs.
type DiscardLogger struct{}

// Discard is the singleton discard logger.
var Discard Logger = DiscardLogger{}

func (DiscardLogger) Debug(format string, args ...any) {}
func (DiscardLogger) Info(format string, args ...any)  {}
func (DiscardLogger) Warn(format string, args ...any)  {}
func (DiscardLogger) Error(format string, args ...any) {}
func (DiscardLogger) Fatal(format string, args ...any) {}
