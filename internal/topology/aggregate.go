package topology

import "github.com/rbx/ODC/types"

// Aggregate implements spec §4.1's aggregation algorithm over a selection of
// device statuses: Undefined for an empty selection or a selection with no
// non-ignored devices, the single state when every non-ignored device
// agrees, Mixed when they don't.
func Aggregate(devices []types.DeviceStatus) types.AggregatedState {
	seen := make(map[types.DeviceState]struct{})
	for _, d := range devices {
		if d.Ignored {
			continue
		}
		seen[d.State] = struct{}{}
	}

	switch len(seen) {
	case 0:
		return types.Undefined
	case 1:
		for s := range seen {
			return types.AggregatedFromDevice(s)
		}
	}

	return types.Mixed
}
