// Package logger provides no-op and test logging implementations of types.Logger.
package logger

import "github.com/rbx/ODC/types"

// NopLogger discards every message. It is the default when no Logger is
// configured, so call sites never need a nil check.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop returns a logger that discards all messages.
func NewNop() *NopLogger { return &NopLogger{} }

func (n *NopLogger) Debug(string, ...any) {}
func (n *NopLogger) Info(string, ...any)  {}
func (n *NopLogger) Warn(string, ...any)  {}
func (n *NopLogger) Error(string, ...any) {}
func (n *NopLogger) Fatal(string, ...any) {}
