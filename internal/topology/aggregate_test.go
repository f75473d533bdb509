package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rbx/ODC/types"
)

func TestAggregate_Empty(t *testing.T) {
	assert.Equal(t, types.Undefined, Aggregate(nil))
	assert.Equal(t, types.Undefined, Aggregate([]types.DeviceStatus{}))
}

func TestAggregate_SingleState(t *testing.T) {
	devices := []types.DeviceStatus{
		{TaskID: "a", State: types.DeviceRunning},
		{TaskID: "b", State: types.DeviceRunning},
	}
	assert.Equal(t, types.Running, Aggregate(devices))
}

func TestAggregate_Mixed(t *testing.T) {
	devices := []types.DeviceStatus{
		{TaskID: "a", State: types.DeviceRunning},
		{TaskID: "b", State: types.DeviceReady},
	}
	assert.Equal(t, types.Mixed, Aggregate(devices))
}

func TestAggregate_IgnoredDevicesExcluded(t *testing.T) {
	devices := []types.DeviceStatus{
		{TaskID: "a", State: types.DeviceRunning},
		{TaskID: "b", State: types.DeviceReady, Ignored: true},
	}
	assert.Equal(t, types.Running, Aggregate(devices))
}

func TestAggregate_AllIgnoredIsUndefined(t *testing.T) {
	devices := []types.DeviceStatus{
		{TaskID: "a", State: types.DeviceRunning, Ignored: true},
	}
	assert.Equal(t, types.Undefined, Aggregate(devices))
}
