package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cap := FunctionCapability{
		FunctionID:  "fn-1",
		Name:        "add",
		Description: "adds two numbers",
		Alive:       true,
	}

	const topic = "genesis.function_capability"
	env, err := Pack(topic, cap, map[string]string{"instance_key": "fn-1"})
	require.NoError(t, err)
	assert.Equal(t, topic, env.Topic)
	assert.True(t, env.Alive)

	var got FunctionCapability
	require.NoError(t, env.Unpack(&got))
	assert.Equal(t, cap.FunctionID, got.FunctionID)
	assert.Equal(t, cap.Name, got.Name)
}

func TestEnvelopeStructRoundTrip(t *testing.T) {
	env, err := Pack("genesis.test.topic", map[string]string{"hello": "world"}, map[string]string{
		"instance_key": "abc",
		"durability":   "transient_local",
	})
	require.NoError(t, err)

	s, err := env.ToStruct()
	require.NoError(t, err)

	back, err := EnvelopeFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, env.Topic, back.Topic)
	assert.Equal(t, env.Alive, back.Alive)
	assert.Equal(t, env.PayloadRaw, back.PayloadRaw)
	assert.Equal(t, env.Attributes, back.Attributes)
}

func TestPackDisposeCarriesNoPayload(t *testing.T) {
	env := PackDispose("genesis.test.topic", map[string]string{"instance_key": "abc"})
	assert.False(t, env.Alive)
	assert.Empty(t, env.PayloadRaw)

	var v map[string]string
	assert.Error(t, env.Unpack(&v))
}

func TestEnvelopeFromStructRequiresTopic(t *testing.T) {
	s, err := (&Envelope{Topic: "", Alive: true}).ToStruct()
	require.NoError(t, err)
	_, err = EnvelopeFromStruct(s)
	assert.Error(t, err)
}
