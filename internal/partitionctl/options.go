package partitionctl

// Option configures optional Controller behavior at construction time.
// Grounded on teacher options.go's Option func(*Manager) shape.
type Option func(*Controller)

// WithRecoveryEnabled turns on nMin-based recovery (spec §4.4) for
// Configure failures. Per spec §9(a) the source's recovery path is
// partially disabled, so this defaults to false; callers opt in
// explicitly once they trust the deployment backend's ListWorkers/
// ShutdownWorker behavior under partial failure.
func WithRecoveryEnabled(enabled bool) Option {
	return func(c *Controller) {
		c.recoveryEnabled = enabled
	}
}
