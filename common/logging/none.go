package logging

// noneLogger discards everything. Used as the zero value in tests and as
// the fallback returned by FromContext when nothing was attached.
type noneLogger struct{}

var singleton Logger = noneLogger{}

// None returns the shared no-op Logger.
func None() Logger { return singleton }

func (noneLogger) Debug(string, ...any)  {}
func (noneLogger) Info(string, ...any)   {}
func (noneLogger) Warn(string, ...any)   {}
func (noneLogger) Error(string, ...any)  {}
func (noneLogger) With(...any) Logger    { return singleton }
func (noneLogger) Sync() error           { return nil }
