package requirements

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rbx/ODC/types"
)

// Extract implements the pure function from a parsed topology tree to a
// Requirements value (spec §4.5).
func Extract(tree *topologyXML) types.Requirements {
	req := types.NewRequirements()

	nmin := nMinVars(tree.Declarations.Vars)

	var walk func(n nodeXML, zone, agentGroup string, groupN, groupCores int, haveGroup bool)
	walk = func(n nodeXML, zone, agentGroup string, groupN, groupCores int, haveGroup bool) {
		for _, g := range n.Groups {
			gZone := g.Zone
			if gZone == "" {
				gZone = g.AgentGroup
			}

			z := req.Zones[gZone]
			z.Name = gZone
			z.Groups = append(z.Groups, types.ZoneGroup{
				N:          orOne(g.N),
				NCores:     g.NCores,
				AgentGroup: g.AgentGroup,
			})
			req.Zones[gZone] = z

			walk(g, gZone, g.AgentGroup, orOne(g.N), g.NCores, true)
		}

		for _, c := range n.Collections {
			nOriginal := 1
			if haveGroup {
				nOriginal = groupN
			}

			numTasks := len(c.Tasks)
			nm := -1
			if r, ok := nmin[c.Name]; ok {
				nm = r.NMin
			}

			cores := groupCores

			req.Collections[c.Name] = types.CollectionInfo{
				Name:       c.Name,
				Zone:       zone,
				AgentGroup: agentGroup,
				NOriginal:  nOriginal,
				NMin:       nm,
				NCores:     cores,
				NumTasks:   numTasks,
				TotalTasks: nOriginal * numTasks,
			}

			if nm >= 0 {
				req.NMin[c.Name] = types.NMinRule{
					Collection: c.Name,
					NOriginal:  nOriginal,
					NMin:       nm,
					AgentGroup: agentGroup,
				}
			}
		}

		for _, t := range n.Tasks {
			req.StandaloneTasks = append(req.StandaloneTasks, t.Name)
		}
	}

	walk(tree.Main, "", "", 1, 0, false)

	aggregateAgentGroups(&req)

	return req
}

// nMinVars parses "odc_nmin_<collection>" declarations into a lookup keyed
// by collection name.
func nMinVars(vars []varXML) map[string]struct{ NMin int } {
	out := make(map[string]struct{ NMin int })
	const prefix = "odc_nmin_"
	for _, v := range vars {
		if !strings.HasPrefix(v.Name, prefix) {
			continue
		}
		collection := strings.TrimPrefix(v.Name, prefix)
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			continue
		}
		out[collection] = struct{ NMin int }{NMin: n}
	}
	return out
}

func orOne(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// aggregateAgentGroups implements spec §4.5's last bullet: numAgents is the
// sum of nOriginal across contributing collections, numSlots is the max
// numTasks among them, numCores comes from the zone group, and minAgents is
// the maximum nMin across contributing collections (or -1 if none set nMin).
func aggregateAgentGroups(req *types.Requirements) {
	type agg struct {
		zone      string
		numAgents int
		numSlots  int
		numCores  int
		minAgents int
	}

	byGroup := make(map[string]*agg)

	for _, c := range req.Collections {
		a, ok := byGroup[c.AgentGroup]
		if !ok {
			a = &agg{zone: c.Zone, minAgents: -1}
			byGroup[c.AgentGroup] = a
		}
		a.numAgents += c.NOriginal
		if c.NumTasks > a.numSlots {
			a.numSlots = c.NumTasks
		}
		if c.NCores > a.numCores {
			a.numCores = c.NCores
		}
		if c.NMin > a.minAgents {
			a.minAgents = c.NMin
		}
	}

	for name, a := range byGroup {
		req.AgentGroups[name] = types.AgentGroup{
			Name:      name,
			Zone:      a.zone,
			NumAgents: a.numAgents,
			MinAgents: a.minAgents,
			NumSlots:  a.numSlots,
			NumCores:  a.numCores,
		}
	}
}

// ExtractFromXML is a convenience wrapper combining ParseTopology and
// Extract, returning a wrapped error identifying the failing stage.
func ExtractFromXML(data []byte) (types.Requirements, error) {
	tree, err := ParseTopology(data)
	if err != nil {
		return types.Requirements{}, fmt.Errorf("parse topology: %w", err)
	}
	return Extract(tree), nil
}
