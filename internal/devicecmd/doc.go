// Package devicecmd implements the device-command transport (spec §2
// component #1): a types.DeviceTransport backed by NATS core publish/
// subscribe. Commands fan out one message per task; replies come back on a
// per-partition wildcard subject and are sharded by task id across a fixed
// pool of worker goroutines so replies for different tasks process in
// parallel while replies for the same task stay ordered.
package devicecmd
