// Package metrics provides no-op and Prometheus-backed implementations of
// types.MetricsCollector.
package metrics

import (
	"time"

	"github.com/rbx/ODC/types"
)

// NopMetrics discards every observation. It is the default when no
// MetricsCollector is configured.
type NopMetrics struct{}

var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop returns a metrics collector that discards all observations.
func NewNop() *NopMetrics { return &NopMetrics{} }

func (n *NopMetrics) OperationStarted(string, string)                                    {}
func (n *NopMetrics) OperationCompleted(string, string, time.Duration, types.Status)      {}
func (n *NopMetrics) FanOutStarted(string, types.Transition, int)                         {}
func (n *NopMetrics) FanOutCompleted(string, types.Transition, time.Duration, int)        {}
func (n *NopMetrics) PartitionCreated(string)                                             {}
func (n *NopMetrics) PartitionRemoved(string)                                             {}
func (n *NopMetrics) RestoreCompleted(int, int)                                           {}
