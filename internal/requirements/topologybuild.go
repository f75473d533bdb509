package requirements

import (
	"fmt"

	"github.com/rbx/ODC/types"
)

// BuildTopology parses a topology description and returns both its
// Requirements summary (spec §4.5) and a populated types.TopologyHandle:
// one device per task instance, replicated NOriginal times per collection,
// with a slash-separated path used for spec §4.1 "Path resolution".
//
// The reference deployment service (internal/deployment/natsdds) does not
// itself place tasks on physical workers, so this is where task identity
// and topology structure originate for the rest of the control plane.
func BuildTopology(data []byte) (types.Requirements, *types.TopologyHandle, error) {
	tree, err := ParseTopology(data)
	if err != nil {
		return types.Requirements{}, nil, fmt.Errorf("parse topology: %w", err)
	}

	req := Extract(tree)
	handle := types.NewTopologyHandle()

	var walk func(n nodeXML, path string, groupN int, haveGroup bool)
	walk = func(n nodeXML, path string, groupN int, haveGroup bool) {
		for _, g := range n.Groups {
			walk(g, joinPath(path, g.AgentGroup), orOne(g.N), true)
		}

		for _, c := range n.Collections {
			instances := 1
			if haveGroup {
				instances = groupN
			}
			for i := 0; i < instances; i++ {
				collectionID := fmt.Sprintf("%s_%d", c.Name, i)
				collectionPath := joinPath(path, collectionID)
				for ti, t := range c.Tasks {
					taskID := fmt.Sprintf("%s_%d", collectionID, ti)
					taskPath := joinPath(collectionPath, t.Name)
					handle.AddDevice(taskID, collectionID, taskPath, c.Expendable || t.Expendable)
				}
			}
		}

		for _, t := range n.Tasks {
			taskID := joinPath(path, t.Name)
			handle.AddDevice(taskID, "", taskID, t.Expendable)
		}
	}
	walk(tree.Main, "", 1, false)

	return req, handle, nil
}

func joinPath(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}
