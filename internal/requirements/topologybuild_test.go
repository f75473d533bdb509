package requirements

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTopology_ReplicatesInstancesAndTasks(t *testing.T) {
	xml := `<topology><declarations/><main>
		<group n="3" agentGroup="online">
			<collection name="Processors">` + tasksXML(2) + `</collection>
		</group>
	</main></topology>`

	req, handle, err := BuildTopology([]byte(xml))
	require.NoError(t, err)

	assert.Equal(t, 3, req.Collections["Processors"].NOriginal)
	assert.Equal(t, 6, len(handle.AllTaskIDs())) // 3 instances * 2 tasks each

	got, ok := handle.Get("Processors_0_0")
	require.True(t, ok)
	assert.Equal(t, "Processors_0", got.CollectionID)
	assert.Equal(t, "online/Processors_0/t", handle.TaskPaths["Processors_0_0"])
}

func TestBuildTopology_StandaloneTaskHasNoCollection(t *testing.T) {
	xml := `<topology><declarations/><main>
		<task name="lonely"/>
	</main></topology>`

	_, handle, err := BuildTopology([]byte(xml))
	require.NoError(t, err)

	got, ok := handle.Get("lonely")
	require.True(t, ok)
	assert.Equal(t, "", got.CollectionID)
}

func TestBuildTopology_ExpendableCollectionPropagates(t *testing.T) {
	xml := `<topology><declarations/><main>
		<collection name="Optional" expendable="true">` + tasksXML(1) + `</collection>
	</main></topology>`

	_, handle, err := BuildTopology([]byte(xml))
	require.NoError(t, err)

	got, ok := handle.Get("Optional_0_0")
	require.True(t, ok)
	assert.True(t, got.Expendable)
}

func TestSynthesizeReducedTopology_RewritesGroupN(t *testing.T) {
	xml := `<topology><declarations><var name="odc_nmin_Processors" value="2"/></declarations><main>
		<group n="4" agentGroup="online">
			<collection name="Processors">` + tasksXML(1) + `</collection>
		</group>
	</main></topology>`

	out, err := SynthesizeReducedTopology([]byte(xml), map[string]int{"online": 3})
	require.NoError(t, err)

	req, err := ExtractFromXML(out)
	require.NoError(t, err)
	assert.Equal(t, 3, req.Collections["Processors"].NOriginal)
	assert.Equal(t, 2, req.Collections["Processors"].NMin)
	assert.True(t, strings.Contains(string(out), "odc_nmin_Processors"))
}

func TestSynthesizeReducedTopology_LeavesUnaffectedGroupsAlone(t *testing.T) {
	xml := `<topology><declarations/><main>
		<group n="2" agentGroup="calib">
			<collection name="Samplers">` + tasksXML(1) + `</collection>
		</group>
		<group n="4" agentGroup="online">
			<collection name="Processors">` + tasksXML(1) + `</collection>
		</group>
	</main></topology>`

	out, err := SynthesizeReducedTopology([]byte(xml), map[string]int{"online": 1})
	require.NoError(t, err)

	req, err := ExtractFromXML(out)
	require.NoError(t, err)
	assert.Equal(t, 2, req.Collections["Samplers"].NOriginal)
	assert.Equal(t, 1, req.Collections["Processors"].NOriginal)
}
