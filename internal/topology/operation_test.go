package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbx/ODC/types"
)

func TestOperation_AllSucceed(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a", "b"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.update("a", true, nil)
	op.update("b", true, nil)

	select {
	case r := <-resultCh:
		assert.True(t, r.OK)
		assert.Empty(t, r.Failed)
	case <-time.After(time.Second):
		t.Fatal("operation did not complete")
	}
}

func TestOperation_OneFails(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a", "b"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.update("a", true, nil)
	op.update("b", false, nil)

	r := <-resultCh
	assert.False(t, r.OK)
	assert.Equal(t, types.CodeDeviceChangeStateFailed, r.Code)
	assert.ElementsMatch(t, []string{"b"}, r.Failed)
}

func TestOperation_LateReplyDiscardedSilently(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.update("a", true, nil)
	<-resultCh

	// Should not panic, block, or invoke onComplete a second time.
	op.update("a", false, nil)
	op.ignore("a")

	select {
	case <-resultCh:
		t.Fatal("completion callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOperation_UnknownTaskDiscarded(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.update("nonexistent", true, nil)

	select {
	case <-resultCh:
		t.Fatal("operation completed on an unrelated task id")
	case <-time.After(50 * time.Millisecond):
	}

	op.update("a", true, nil)
	r := <-resultCh
	assert.True(t, r.OK)
}

func TestOperation_Timeout(t *testing.T) {
	resultCh := make(chan Result, 1)
	newOperation("op1", []string{"a", "b"}, 20*time.Millisecond, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	select {
	case r := <-resultCh:
		assert.False(t, r.OK)
		assert.Equal(t, types.CodeRequestTimeout, r.Code)
		assert.ElementsMatch(t, []string{"a", "b"}, r.Failed)
	case <-time.After(time.Second):
		t.Fatal("operation did not time out")
	}
}

func TestOperation_IgnoreDoesNotCountAsFailure(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a", "b"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.ignore("a")
	op.update("b", true, nil)

	r := <-resultCh
	require.True(t, r.OK)
	assert.Empty(t, r.Failed)
}

func TestOperation_PropertiesCollected(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a"}, time.Second, types.CodeDeviceGetPropertiesFailed, func(r Result) {
		resultCh <- r
	})

	op.update("a", true, map[string]string{"key": "value"})

	r := <-resultCh
	require.True(t, r.OK)
	require.Contains(t, r.Properties, "a")
	assert.Equal(t, "value", r.Properties["a"]["key"])
}

func TestOperation_AbortFailsAllPending(t *testing.T) {
	resultCh := make(chan Result, 1)
	op := newOperation("op1", []string{"a", "b"}, time.Second, types.CodeDeviceChangeStateFailed, func(r Result) {
		resultCh <- r
	})

	op.abort(types.CodeRuntimeError, "transport unavailable")

	r := <-resultCh
	assert.False(t, r.OK)
	assert.Equal(t, types.CodeRuntimeError, r.Code)
	assert.ElementsMatch(t, []string{"a", "b"}, r.Failed)
}
