package interactive

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbx/ODC/internal/partitionctl"
	"github.com/rbx/ODC/internal/registry"
	"github.com/rbx/ODC/internal/session"
	"github.com/rbx/ODC/types"
)

type fakeDeploymentService struct {
	sessions map[string]bool
}

func (f *fakeDeploymentService) CreateSession(ctx context.Context) (string, error) {
	id := "session-1"
	f.sessions[id] = true
	return id, nil
}
func (f *fakeDeploymentService) AttachSession(ctx context.Context, sessionID string) error {
	if !f.sessions[sessionID] {
		return types.NewError(types.CodeDDSAttachToSessionFailed, "no such session")
	}
	return nil
}
func (f *fakeDeploymentService) ShutdownSession(ctx context.Context, sessionID string) error {
	delete(f.sessions, sessionID)
	return nil
}
func (f *fakeDeploymentService) SubmitWorkers(ctx context.Context, sessionID string, batch types.WorkerBatchDescriptor, onProgress func(types.SubmitProgress)) error {
	return nil
}
func (f *fakeDeploymentService) WaitForWorkers(ctx context.Context, sessionID string, count int) error {
	return nil
}
func (f *fakeDeploymentService) ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode types.ActivateMode, onMessage func(string)) error {
	return nil
}
func (f *fakeDeploymentService) CommanderInfo(ctx context.Context, sessionID string) (types.CommanderInfo, error) {
	return types.CommanderInfo{}, nil
}
func (f *fakeDeploymentService) ListWorkers(ctx context.Context, sessionID string) ([]types.WorkerInfo, error) {
	return nil, nil
}
func (f *fakeDeploymentService) ShutdownWorker(ctx context.Context, sessionID, workerID string) error {
	return nil
}

type nopTransport struct{}

func (nopTransport) ChangeState(ctx context.Context, taskIDs []string, transition types.Transition) error {
	return nil
}
func (nopTransport) GetProperties(ctx context.Context, taskIDs []string, keys []string) error {
	return nil
}
func (nopTransport) SetProperties(ctx context.Context, taskIDs []string, kv []types.PropertyKV) error {
	return nil
}
func (nopTransport) SubscribeReplies(onDeviceReply func(types.DeviceReply), onPropertyReply func(types.PropertyReply)) {
}
func (nopTransport) SubscribeStateChanges(onChange func(types.DeviceReply)) func() { return func() {} }
func (nopTransport) Close() error                                                  { return nil }

type nopInvoker struct{}

func (nopInvoker) Invoke(ctx context.Context, plugin, resources string) ([]types.WorkerBatchDescriptor, error) {
	return nil, nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	factory := func(partitionID string) *partitionctl.Controller {
		svc := &fakeDeploymentService{sessions: make(map[string]bool)}
		adapter := session.New(svc, nil, nil)
		return partitionctl.New(partitionID, adapter, nopTransport{}, nopInvoker{}, t.TempDir(), nil, nil)
	}
	r, err := registry.New(context.Background(), registry.TestConfig(), factory)
	require.NoError(t, err)
	return r
}

func TestShell_Init_ReportsSuccess(t *testing.T) {
	var out bytes.Buffer
	sh := New(newTestRegistry(t), &out)

	err := sh.Run(context.Background(), strings.NewReader(".init P1\n.quit\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[SUCCESS]")
	assert.Contains(t, out.String(), "partition=P1")
}

func TestShell_Status_ListsInitializedPartitions(t *testing.T) {
	var out bytes.Buffer
	sh := New(newTestRegistry(t), &out)

	err := sh.Run(context.Background(), strings.NewReader(".init P1\n.status\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "P1")
	assert.Contains(t, out.String(), "session=session-1")
}

func TestShell_UnknownPartition_ReportsError(t *testing.T) {
	var out bytes.Buffer
	sh := New(newTestRegistry(t), &out)

	err := sh.Run(context.Background(), strings.NewReader(".submit P1 plugin=x resources=y\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "not initialized")
}

func TestShell_Down_RemovesPartitionFromStatus(t *testing.T) {
	var out bytes.Buffer
	sh := New(newTestRegistry(t), &out)

	err := sh.Run(context.Background(), strings.NewReader(".init P1\n.down P1\n.status\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "no partitions")
}

func TestShell_UnknownCommand_PrintsHint(t *testing.T) {
	var out bytes.Buffer
	sh := New(newTestRegistry(t), &out)

	err := sh.Run(context.Background(), strings.NewReader(".bogus\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), ".help")
}
