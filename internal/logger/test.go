package logger

import (
	"fmt"
	"testing"

	"github.com/rbx/ODC/types"
)

// TestLogger implements types.Logger by writing through testing.T, so log
// output appears alongside the test that produced it.
type TestLogger struct {
	t *testing.T
}

var _ types.Logger = (*TestLogger)(nil)

// NewTest returns a logger that writes through t.Logf/t.Fatalf.
func NewTest(t *testing.T) *TestLogger {
	return &TestLogger{t: t}
}

func (l *TestLogger) Debug(msg string, kv ...any) { l.t.Logf("DEBUG: %s %s", msg, formatKV(kv)) }
func (l *TestLogger) Info(msg string, kv ...any)  { l.t.Logf("INFO: %s %s", msg, formatKV(kv)) }
func (l *TestLogger) Warn(msg string, kv ...any)  { l.t.Logf("WARN: %s %s", msg, formatKV(kv)) }
func (l *TestLogger) Error(msg string, kv ...any) { l.t.Logf("ERROR: %s %s", msg, formatKV(kv)) }
func (l *TestLogger) Fatal(msg string, kv ...any) { l.t.Fatalf("FATAL: %s %s", msg, formatKV(kv)) }

func formatKV(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	out := ""
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			out += fmt.Sprintf("%v=%v ", kv[i], kv[i+1])
		} else {
			out += fmt.Sprintf("%v=<missing> ", kv[i])
		}
	}
	return out
}
