package types

import "context"

// Hooks are optional callbacks the registry invokes at well-defined points.
// The registry skips any field left nil, so a zero or partially filled
// Hooks value is usable.
type Hooks struct {
	// OnRestoreFailure is called when Restore fails to re-Initialize a
	// partition from the restore file (spec §9 "restore-on-failure
	// semantics... best-effort continue").
	OnRestoreFailure func(ctx context.Context, partitionID, sessionID string, err error)

	// OnPartitionShutdown is called after a partition is fully torn down
	// and removed from the registry.
	OnPartitionShutdown func(ctx context.Context, partitionID string)
}

// NewNopHooks returns a Hooks value whose fields are all no-ops, so callers
// never need to nil-check before invoking a hook.
func NewNopHooks() Hooks {
	return Hooks{
		OnRestoreFailure:    func(context.Context, string, string, error) {},
		OnPartitionShutdown: func(context.Context, string) {},
	}
}
