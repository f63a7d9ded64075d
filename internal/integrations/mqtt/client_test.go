package mqtt

import (
	"testing"

	"facebooth-go/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "booth"})
	assert.Equal(t, "booth/state", c.Topic("state"))
	assert.Equal(t, "booth/status", c.AvailabilityTopic())
}

func TestDispatchToRegisteredHandlers(t *testing.T) {
	c := NewClient(config.MQTTConfig{TopicPrefix: "booth"})
	var got []string
	c.RegisterHandler("reset", MessageHandlerFunc(func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))

	c.dispatch("booth/reset", []byte("manual"))
	c.dispatch("booth/other", []byte("ignored"))
	assert.Equal(t, []string{"booth/reset=manual"}, got)
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(config.MQTTConfig{Enabled: false})
	require.NoError(t, c.Start())
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Publish("x", "y"))
	c.Stop()
}

func TestEncodePayload(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"online", "online"},
		{[]byte("raw"), "raw"},
		{42, "42"},
		{true, "true"},
		{map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		got, err := encodePayload(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}

	_, err := encodePayload(func() {})
	assert.Error(t, err)
}
