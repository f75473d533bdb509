// Package requirements parses a topology description into the summary view
// (zones, agent groups, collections, nMin rules) the partition controller
// needs, without understanding the full deployment-service topology format.
//
// The third-party retrieval pack contains no XML library of any kind, so
// this package uses the standard library's encoding/xml — there is no
// ecosystem alternative to prefer over it here.
package requirements

import "encoding/xml"

// topologyXML mirrors the subset of the topology-description tree the
// extractor needs: <main> holding nested <group>/<collection>/<task> nodes,
// and <declarations> holding <var> entries (used for odc_nmin_<collection>).
type topologyXML struct {
	XMLName      xml.Name       `xml:"topology"`
	Declarations declarationsXML `xml:"declarations"`
	Main         nodeXML         `xml:"main"`
}

type declarationsXML struct {
	Vars []varXML `xml:"var"`
}

type varXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// nodeXML is a single tree node (<main>, <group>, <collection> or <task>);
// XMLName records which element it was decoded from, and Groups,
// Collections and Tasks hold its child nodes of each kind.
type nodeXML struct {
	XMLName    xml.Name
	Name       string    `xml:"name,attr"`
	Zone       string    `xml:"zone,attr"`
	AgentGroup string    `xml:"agentGroup,attr"`
	N          int       `xml:"n,attr"`
	NCores     int       `xml:"ncores,attr"`
	NumTasks   int       `xml:"ntasks,attr"`
	Expendable bool      `xml:"expendable,attr"`
	Groups     []nodeXML `xml:"group"`
	Collections []nodeXML `xml:"collection"`
	Tasks      []nodeXML `xml:"task"`
}

// ParseTopology decodes raw topology-description XML into its tree form.
func ParseTopology(data []byte) (*topologyXML, error) {
	var t topologyXML
	if err := xml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SynthesizeReducedTopology rewrites the n attribute of every <group> node
// whose agentGroup matches a key in reducedN, leaving everything else —
// including the odc_nmin_<collection> declarations — untouched, and
// re-serializes the tree. Used by nMin recovery (spec §4.4) to produce an
// updated topology description with each affected group's n replaced by
// its surviving instance count.
func SynthesizeReducedTopology(original []byte, reducedN map[string]int) ([]byte, error) {
	tree, err := ParseTopology(original)
	if err != nil {
		return nil, err
	}

	var rewrite func(n *nodeXML)
	rewrite = func(n *nodeXML) {
		for i := range n.Groups {
			g := &n.Groups[i]
			if n, ok := reducedN[g.AgentGroup]; ok {
				g.N = n
			}
			rewrite(g)
		}
	}
	rewrite(&tree.Main)

	out, err := xml.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
