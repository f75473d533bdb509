// Package partitionctl implements the partition controller (spec §4.2):
// the per-partition lifecycle operations (Initialize, Submit, Activate,
// Run, Update, Configure, Start, Stop, Reset, Terminate, SetProperties,
// GetState, Shutdown), each serialized under the partition's own mutex,
// deadline propagation across their inner steps, and nMin-based recovery
// (spec §4.4).
package partitionctl
