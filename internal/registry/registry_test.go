package registry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-framework/genesis/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func capabilityEnvelope(t *testing.T, functionID, name string) *wire.Envelope {
	t.Helper()
	cap := wire.FunctionCapability{FunctionID: functionID, Name: name, Alive: true}
	env, err := wire.Pack("FunctionCapability", cap, map[string]string{"instance_key": functionID})
	require.NoError(t, err)
	return env
}

func TestRegistry_AddUpdateRemove(t *testing.T) {
	r := New(discardLogger())

	r.OnEnvelope(capabilityEnvelope(t, "fn-1", "add"))
	all := r.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, "add", all[0].Name)

	byName := r.GetByName("add")
	require.Len(t, byName, 1)

	cap, ok := r.GetByFunctionID("fn-1")
	require.True(t, ok)
	assert.Equal(t, "fn-1", cap.FunctionID)

	// Republishing the same function_id updates, not duplicates.
	r.OnEnvelope(capabilityEnvelope(t, "fn-1", "add"))
	assert.Len(t, r.GetAll(), 1)

	// A not-alive sample removes it.
	dispose := wire.PackDispose("FunctionCapability", map[string]string{"instance_key": "fn-1"})
	r.OnEnvelope(dispose)
	assert.Empty(t, r.GetAll())

	_, ok = r.GetByFunctionID("fn-1")
	assert.False(t, ok)
}

func TestRegistry_SkipsMalformedSamples(t *testing.T) {
	r := New(discardLogger())

	// Payload that won't unmarshal into FunctionCapability at all.
	env := &wire.Envelope{Topic: "FunctionCapability", PayloadRaw: "not json", Alive: true}
	r.OnEnvelope(env)
	assert.Empty(t, r.GetAll())

	// A nil envelope must not panic.
	assert.NotPanics(t, func() { r.OnEnvelope(nil) })

	// A well-formed envelope but empty function_id is skipped.
	cap := wire.FunctionCapability{Name: "add", Alive: true}
	env2, err := wire.Pack("FunctionCapability", cap, nil)
	require.NoError(t, err)
	r.OnEnvelope(env2)
	assert.Empty(t, r.GetAll())
}

func TestRegistry_SubscribeNotifiesAddedAndRemoved(t *testing.T) {
	r := New(discardLogger())
	ch, unsubscribe := r.Subscribe()
	defer unsubscribe()

	r.OnEnvelope(capabilityEnvelope(t, "fn-1", "add"))
	select {
	case change := <-ch:
		assert.Equal(t, Added, change.Kind)
		assert.Equal(t, "fn-1", change.Capability.FunctionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Added notification")
	}

	dispose := wire.PackDispose("FunctionCapability", map[string]string{"instance_key": "fn-1"})
	r.OnEnvelope(dispose)
	select {
	case change := <-ch:
		assert.Equal(t, Removed, change.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Removed notification")
	}
}

func TestRegistry_GetAllReturnsCopyNotLiveView(t *testing.T) {
	r := New(discardLogger())
	r.OnEnvelope(capabilityEnvelope(t, "fn-1", "add"))

	snapshot := r.GetAll()
	snapshot[0].Name = "mutated"

	fresh := r.GetAll()
	assert.Equal(t, "add", fresh[0].Name, "mutating a snapshot must not affect the registry's own state")
}
