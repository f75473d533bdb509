package types

// Logger is a structured, leveled logging sink. Every component in this
// module accepts one and falls back to a no-op implementation when none is
// given, so call sites never need a nil check.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Fatal(msg string, kv ...any)
}
