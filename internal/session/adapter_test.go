package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbx/ODC/internal/testutil"
	"github.com/rbx/ODC/types"
)

type fakeDeploymentService struct {
	createdSessionID string
	attachErr        error
	shutdownErr      error
	submitErr        error
	workers          []types.WorkerInfo
}

func (f *fakeDeploymentService) CreateSession(ctx context.Context) (string, error) {
	return f.createdSessionID, nil
}
func (f *fakeDeploymentService) AttachSession(ctx context.Context, sessionID string) error {
	return f.attachErr
}
func (f *fakeDeploymentService) ShutdownSession(ctx context.Context, sessionID string) error {
	return f.shutdownErr
}
func (f *fakeDeploymentService) SubmitWorkers(ctx context.Context, sessionID string, batch types.WorkerBatchDescriptor, onProgress func(types.SubmitProgress)) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	onProgress(types.SubmitProgress{Completed: batch.Slots, Total: batch.Slots})
	return nil
}
func (f *fakeDeploymentService) WaitForWorkers(ctx context.Context, sessionID string, count int) error {
	return nil
}
func (f *fakeDeploymentService) ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode types.ActivateMode, onMessage func(string)) error {
	return nil
}
func (f *fakeDeploymentService) CommanderInfo(ctx context.Context, sessionID string) (types.CommanderInfo, error) {
	return types.CommanderInfo{ActiveTopologyFile: topologyFileFor(sessionID)}, nil
}
func (f *fakeDeploymentService) ListWorkers(ctx context.Context, sessionID string) ([]types.WorkerInfo, error) {
	return f.workers, nil
}
func (f *fakeDeploymentService) ShutdownWorker(ctx context.Context, sessionID, workerID string) error {
	return nil
}

func topologyFileFor(sessionID string) string { return "/tmp/" + sessionID + ".xml" }

func TestAdapter_CreateSession(t *testing.T) {
	svc := &fakeDeploymentService{createdSessionID: "sess-1"}
	a := New(svc, nil, nil)

	id, err := a.CreateOrAttach(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", id)
	require.NotNil(t, a.Cache())
	assert.Equal(t, "sess-1", a.Cache().SessionID())
}

func TestAdapter_SubmitWorkersReportsProgress(t *testing.T) {
	svc := &fakeDeploymentService{createdSessionID: "sess-1"}
	a := New(svc, nil, nil)
	id, err := a.CreateOrAttach(context.Background(), "")
	require.NoError(t, err)

	var got types.SubmitProgress
	err = a.SubmitWorkers(context.Background(), id, types.WorkerBatchDescriptor{Host: "host1", Slots: 4}, func(p types.SubmitProgress) {
		got = p
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Completed)
	assert.Equal(t, 4, got.Total)
}

func TestAdapter_ShutdownClearsCache(t *testing.T) {
	svc := &fakeDeploymentService{createdSessionID: "sess-1"}
	a := New(svc, nil, nil)
	id, err := a.CreateOrAttach(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background(), id))
	assert.Nil(t, a.Cache())
}

func TestAdapter_ClaimPreventsDoubleOwnership(t *testing.T) {
	_, nc := testutil.StartEmbeddedNATS(t)
	kv := testutil.CreateJetStreamKV(t, nc, "sessions")

	svc1 := &fakeDeploymentService{createdSessionID: "shared-session"}
	svc2 := &fakeDeploymentService{createdSessionID: "shared-session"}

	c1 := NewClaimer(kv, "partition-1")
	c2 := NewClaimer(kv, "partition-2")

	a1 := New(svc1, c1, nil)
	a2 := New(svc2, c2, nil)

	_, err := a1.CreateOrAttach(context.Background(), "")
	require.NoError(t, err)

	_, err = a2.CreateOrAttach(context.Background(), "")
	require.Error(t, err)
}

func TestCache_TaskAndCollectionTracking(t *testing.T) {
	c := NewCache("sess-1")
	c.AddTask(types.TaskInfo{TaskID: "t1", CollectionID: "Processors_0"})
	c.AddTask(types.TaskInfo{TaskID: "t2", CollectionID: "Processors_1"})
	c.AddCollectionInstance(types.CollectionInstanceInfo{CollectionID: "Processors_0"})

	assert.Equal(t, 2, c.TaskCount())
	ids := c.TaskIDsForCollectionName("Processors")
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

	tasks, collections := c.Snapshot()
	assert.Len(t, tasks, 2)
	assert.Len(t, collections, 1)
}
