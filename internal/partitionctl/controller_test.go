package partitionctl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbx/ODC/internal/session"
	"github.com/rbx/ODC/types"
)

// fakeDeploymentService is an in-memory types.DeploymentService for
// exercising the partition controller without a real deployment backend.
type fakeDeploymentService struct {
	mu             sync.Mutex
	nextSessionID  int
	sessions       map[string]bool
	workers        map[string][]types.WorkerInfo
	activeTopology map[string]string
	activateErr    error
	nextWorkerID   int
}

func newFakeDeploymentService() *fakeDeploymentService {
	return &fakeDeploymentService{
		sessions:       make(map[string]bool),
		workers:        make(map[string][]types.WorkerInfo),
		activeTopology: make(map[string]string),
	}
}

func (f *fakeDeploymentService) CreateSession(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSessionID++
	id := "session-" + itoa(f.nextSessionID)
	f.sessions[id] = true
	return id, nil
}

func (f *fakeDeploymentService) AttachSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sessions[sessionID] {
		return types.NewError(types.CodeDDSAttachToSessionFailed, "no such session")
	}
	return nil
}

func (f *fakeDeploymentService) ShutdownSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	delete(f.workers, sessionID)
	delete(f.activeTopology, sessionID)
	return nil
}

func (f *fakeDeploymentService) SubmitWorkers(ctx context.Context, sessionID string, batch types.WorkerBatchDescriptor, onProgress func(types.SubmitProgress)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < batch.Slots; i++ {
		f.nextWorkerID++
		f.workers[sessionID] = append(f.workers[sessionID], types.WorkerInfo{
			ID:   "worker-" + itoa(f.nextWorkerID),
			Host: batch.Host,
			Slot: i,
		})
	}
	if onProgress != nil {
		onProgress(types.SubmitProgress{Completed: batch.Slots, Total: batch.Slots})
	}
	return nil
}

func (f *fakeDeploymentService) WaitForWorkers(ctx context.Context, sessionID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.workers[sessionID]) < count {
		return types.NewError(types.CodeRequestTimeout, "not enough workers")
	}
	return nil
}

func (f *fakeDeploymentService) ActivateTopology(ctx context.Context, sessionID, topologyFile string, mode types.ActivateMode, onMessage func(string)) error {
	if f.activateErr != nil {
		return f.activateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeTopology[sessionID] = topologyFile
	if onMessage != nil {
		onMessage("activated")
	}
	return nil
}

func (f *fakeDeploymentService) CommanderInfo(ctx context.Context, sessionID string) (types.CommanderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return types.CommanderInfo{ActiveTopologyFile: f.activeTopology[sessionID]}, nil
}

func (f *fakeDeploymentService) ListWorkers(ctx context.Context, sessionID string) ([]types.WorkerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.WorkerInfo(nil), f.workers[sessionID]...), nil
}

func (f *fakeDeploymentService) ShutdownWorker(ctx context.Context, sessionID, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws := f.workers[sessionID]
	for i, w := range ws {
		if w.ID == workerID {
			f.workers[sessionID] = append(ws[:i], ws[i+1:]...)
			return nil
		}
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := ""
	for n > 0 {
		digits = string(rune('0'+n%10)) + digits
		n /= 10
	}
	return digits
}

// fakeTransport answers every ChangeState broadcast synchronously with the
// expected post-state for every requested task, unless overridden.
type fakeTransport struct {
	mu         sync.Mutex
	onReply    func(types.DeviceReply)
	failTaskID map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failTaskID: make(map[string]bool)}
}

func (f *fakeTransport) ChangeState(ctx context.Context, taskIDs []string, transition types.Transition) error {
	expected, _ := types.ExpectedPostState(transition)
	for _, id := range taskIDs {
		ok := !f.failTaskID[id]
		state := expected
		if !ok {
			state = types.DeviceUndefined
		}
		f.onReply(types.DeviceReply{TaskID: id, OK: ok, Transition: transition, State: state})
	}
	return nil
}

func (f *fakeTransport) GetProperties(ctx context.Context, taskIDs []string, keys []string) error {
	return nil
}

func (f *fakeTransport) SetProperties(ctx context.Context, taskIDs []string, kv []types.PropertyKV) error {
	for _, id := range taskIDs {
		f.onReply(types.DeviceReply{TaskID: id, OK: true})
	}
	return nil
}

func (f *fakeTransport) SubscribeReplies(onDeviceReply func(types.DeviceReply), onPropertyReply func(types.PropertyReply)) {
	f.onReply = onDeviceReply
}

func (f *fakeTransport) SubscribeStateChanges(onChange func(types.DeviceReply)) func() { return func() {} }

func (f *fakeTransport) Close() error { return nil }

type fakeInvoker struct {
	batches []types.WorkerBatchDescriptor
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, plugin, resources string) ([]types.WorkerBatchDescriptor, error) {
	return f.batches, f.err
}

func newTestController(t *testing.T) (*Controller, *fakeDeploymentService, *fakeTransport) {
	t.Helper()
	svc := newFakeDeploymentService()
	adapter := session.New(svc, nil, nil)
	transport := newFakeTransport()
	invoker := &fakeInvoker{batches: []types.WorkerBatchDescriptor{{Host: "host-a", Slots: 2}}}
	c := New("PARTITION1", adapter, transport, invoker, t.TempDir(), nil, nil)
	return c, svc, transport
}

func newTestControllerWithRecovery(t *testing.T) (*Controller, *fakeDeploymentService, *fakeTransport) {
	t.Helper()
	svc := newFakeDeploymentService()
	adapter := session.New(svc, nil, nil)
	transport := newFakeTransport()
	invoker := &fakeInvoker{batches: []types.WorkerBatchDescriptor{{Host: "host-a", Slots: 2}}}
	c := New("PARTITION1", adapter, transport, invoker, t.TempDir(), nil, nil, WithRecoveryEnabled(true))
	return c, svc, transport
}

func header() types.Header {
	return types.Header{PartitionID: "PARTITION1", TimeoutS: 5}
}

const oneTaskTopology = `<topology><declarations/><main>
	<task name="lonely"/>
</main></topology>`

const twoInstanceTopology = `<topology><declarations><var name="odc_nmin_Processors" value="1"/></declarations><main>
	<group n="2" agentGroup="online">
		<collection name="Processors"><task name="t"/></collection>
	</group>
</main></topology>`

func TestController_Initialize_CreatesSession(t *testing.T) {
	c, _, _ := newTestController(t)
	reply := c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	assert.Equal(t, types.StatusSuccess, reply.Status)
	assert.NotEmpty(t, reply.SessionID)
	assert.Equal(t, reply.SessionID, c.SessionID())
}

func TestController_Initialize_AttachRestoresTopology(t *testing.T) {
	c, _, _ := newTestController(t)
	reply := c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	require.Equal(t, types.StatusSuccess, reply.Status)

	activate := c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: oneTaskTopology},
	})
	require.Equal(t, types.StatusSuccess, activate.Status)

	c2, _, _ := newTestController(t)
	c2.adapter = c.adapter
	attachReply := c2.Initialize(context.Background(), types.InitializeRequest{Header: header(), SessionID: reply.SessionID})
	assert.Equal(t, types.StatusSuccess, attachReply.Status)
}

func TestController_Submit_WaitsForWorkers(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})

	reply := c.Submit(context.Background(), types.SubmitRequest{Header: header(), Plugin: "static", Resources: "n=2"})
	assert.Equal(t, types.StatusSuccess, reply.Status)
	assert.Len(t, reply.Hosts, 2)
}

func TestController_Submit_WithoutSessionFails(t *testing.T) {
	c, _, _ := newTestController(t)
	reply := c.Submit(context.Background(), types.SubmitRequest{Header: header()})
	assert.Equal(t, types.StatusError, reply.Status)
}

func TestController_Activate_BuildsTopologyHandle(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})

	reply := c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: oneTaskTopology},
	})
	require.Equal(t, types.StatusSuccess, reply.Status)
	require.Len(t, reply.Devices, 1)
	assert.Equal(t, "lonely", reply.Devices[0].TaskID)
}

func TestController_Activate_RejectsMultipleSources(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})

	reply := c.Activate(context.Background(), types.ActivateRequest{
		Header: header(),
		TopologySource: types.TopologySource{
			Content:      oneTaskTopology,
			TopologyFile: "/dev/null",
		},
	})
	assert.Equal(t, types.StatusError, reply.Status)
}

func TestController_Run_ChainsInitializeSubmitActivate(t *testing.T) {
	c, _, _ := newTestController(t)
	reply := c.Run(context.Background(), types.RunRequest{
		Header:        header(),
		SubmitRequest: types.SubmitRequest{Plugin: "static", Resources: "n=2"},
		ActivateRequest: types.ActivateRequest{
			TopologySource: types.TopologySource{Content: oneTaskTopology},
		},
	})
	require.Equal(t, types.StatusSuccess, reply.Status)
	assert.NotEmpty(t, reply.SessionID)
}

func TestController_Run_RejectsNonEmptySessionID(t *testing.T) {
	c, _, _ := newTestController(t)
	reply := c.Run(context.Background(), types.RunRequest{
		Header:        header(),
		SessionID:     "some-existing-session",
		SubmitRequest: types.SubmitRequest{Plugin: "static", Resources: "n=2"},
		ActivateRequest: types.ActivateRequest{
			TopologySource: types.TopologySource{Content: oneTaskTopology},
		},
	})
	require.Equal(t, types.StatusError, reply.Status)
	require.NotNil(t, reply.Error)
	assert.Equal(t, types.CodeRequestNotSupported, reply.Error.Code)
	assert.Empty(t, reply.SessionID)
}

func TestController_Configure_DrivesFullChain(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: oneTaskTopology},
	})

	reply := c.Configure(context.Background(), types.PathRequest{Header: header(), Detailed: true})
	require.Equal(t, types.StatusSuccess, reply.Status)
	assert.Equal(t, types.DeviceInitializedTask, reply.Devices[0].State)
}

func TestController_Configure_RecoveryDisabledByDefault(t *testing.T) {
	c, _, transport := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	c.Submit(context.Background(), types.SubmitRequest{Header: header(), Plugin: "static", Resources: "n=2"})
	activate := c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: twoInstanceTopology},
	})
	require.Equal(t, types.StatusSuccess, activate.Status)

	transport.failTaskID["Processors_1_0"] = true

	reply := c.Configure(context.Background(), types.PathRequest{Header: header(), Detailed: true})
	assert.Equal(t, types.StatusError, reply.Status)
}

func TestController_Configure_NMinRecoverySucceeds(t *testing.T) {
	c, _, transport := newTestControllerWithRecovery(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	c.Submit(context.Background(), types.SubmitRequest{Header: header(), Plugin: "static", Resources: "n=2"})
	activate := c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: twoInstanceTopology},
	})
	require.Equal(t, types.StatusSuccess, activate.Status)

	transport.failTaskID["Processors_1_0"] = true

	reply := c.Configure(context.Background(), types.PathRequest{Header: header(), Detailed: true})
	assert.Equal(t, types.StatusSuccess, reply.Status)
}

func TestController_Configure_NMinRecoveryInsufficientFails(t *testing.T) {
	c, _, transport := newTestControllerWithRecovery(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	c.Submit(context.Background(), types.SubmitRequest{Header: header(), Plugin: "static", Resources: "n=2"})
	activate := c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: twoInstanceTopology},
	})
	require.Equal(t, types.StatusSuccess, activate.Status)

	transport.failTaskID["Processors_0_0"] = true
	transport.failTaskID["Processors_1_0"] = true

	reply := c.Configure(context.Background(), types.PathRequest{Header: header(), Detailed: true})
	assert.Equal(t, types.StatusError, reply.Status)
	require.NotNil(t, reply.Error)
	assert.Equal(t, types.CodeDeviceChangeStateFailed, reply.Error.Code)
}

func TestController_Configure_WithoutTopologyFails(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})

	reply := c.Configure(context.Background(), types.PathRequest{Header: header()})
	assert.Equal(t, types.StatusError, reply.Status)
}

func TestController_Reset_ClearsIgnoredBit(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	c.Activate(context.Background(), types.ActivateRequest{
		Header:        header(),
		TopologySource: types.TopologySource{Content: oneTaskTopology},
	})

	c.handle.SetIgnored("lonely", true)
	dev, ok := c.handle.Get("lonely")
	require.True(t, ok)
	require.True(t, dev.Ignored)

	reply := c.Reset(context.Background(), types.PathRequest{Header: header()})
	require.Equal(t, types.StatusSuccess, reply.Status)

	dev, ok = c.handle.Get("lonely")
	require.True(t, ok)
	assert.False(t, dev.Ignored, "Reset must clear the Ignored bit per spec invariant 4")
}

func TestController_Shutdown_ClearsSession(t *testing.T) {
	c, _, _ := newTestController(t)
	c.Initialize(context.Background(), types.InitializeRequest{Header: header()})
	require.NotEmpty(t, c.SessionID())

	reply := c.Shutdown(context.Background(), header())
	assert.Equal(t, types.StatusSuccess, reply.Status)
	assert.Empty(t, c.SessionID())
}

func TestController_AggregatedState_UndefinedWithoutTopology(t *testing.T) {
	c, _, _ := newTestController(t)
	assert.Equal(t, types.Undefined, c.AggregatedState())
}

func TestBudget_RemainingExpires(t *testing.T) {
	b := NewBudget(types.Header{TimeoutS: 0.01})
	time.Sleep(20 * time.Millisecond)
	_, err := b.Remaining()
	require.Error(t, err)
	assert.Equal(t, types.CodeRequestTimeout, types.AsError(err).Code)
}
