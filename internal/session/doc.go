// Package session implements the session adapter (spec §4.3): a thin
// wrapper over a types.DeploymentService that claims a session id as this
// partition's own, waits submission/activation calls out to completion, and
// caches the resulting task/collection placement in a types.SessionHandle.
package session
