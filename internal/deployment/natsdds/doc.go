// Package natsdds is a reference types.DeploymentService backed by a NATS
// JetStream KV bucket. The real deployment substrate (DDS) is explicitly
// out of scope; this package exists to exercise the DeploymentService
// contract end to end in tests and in cmd/odc-agent's default wiring,
// tracking sessions and worker slots as KV entries instead of talking to a
// real resource manager.
package natsdds
