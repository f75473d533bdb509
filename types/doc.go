// Package types holds the public data model and collaborator interfaces
// shared across the odc packages: device/aggregated state, topology
// requirements, request/reply envelopes, and the Logger, MetricsCollector,
// Hooks, DeploymentService, DeviceTransport and PluginInvoker contracts.
//
// It has no dependency on any other package in this module, so that
// internal packages can depend on it without creating import cycles.
package types
