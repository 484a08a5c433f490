package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTClient_Topics(t *testing.T) {
	c := &MQTTClient{cfg: MQTTConfig{TopicPrefix: "fleet"}, subs: make(map[string]bool)}

	assert.Equal(t, "fleet/m/vehicle.v1", c.filter(kindMessage, "vehicle.v1"))
	assert.Equal(t, "fleet/s/+", c.filter(kindSignal, "vehicle.*"))
	assert.Equal(t, "fleet/w", c.topic(willTopic, ""))

	ch, ok := c.channelOf(kindSignal, "fleet/s/vehicle.v1")
	require.True(t, ok)
	assert.Equal(t, "vehicle.v1", ch)
	_, ok = c.channelOf(kindMessage, "fleet/s/vehicle.v1")
	assert.False(t, ok)
}

func TestMQTTClient_Wants(t *testing.T) {
	c := &MQTTClient{subs: map[string]bool{"vehicle.*": true, "sim_1": false}}

	assert.True(t, c.wants("vehicle.v1", false))
	assert.True(t, c.wants("vehicle.v1", true))
	assert.True(t, c.wants("sim_1", false))
	assert.False(t, c.wants("sim_1", true))
	assert.False(t, c.wants("sim_2", false))
}

func TestMQTTClient_FetchHistoryWithoutStore(t *testing.T) {
	c := &MQTTClient{}
	_, err := c.FetchHistory(context.Background(), "vehicle.v", 100)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestMQTTClient_Integration(t *testing.T) {
	brokerURL := os.Getenv("MQTT_BROKER_URL")
	if brokerURL == "" {
		t.Skip("MQTT_BROKER_URL not set, skipping MQTT integration test")
	}
	ctx := context.Background()
	cfg := MQTTConfig{BrokerURL: brokerURL, TopicPrefix: "fleet-test-" + uuid.NewString()[:8]}

	viewer, err := DialMQTT(ctx, cfg, "viewer-"+uuid.NewString())
	require.NoError(t, err)
	defer viewer.Close()
	rec := &recorder{}
	viewer.AddListener(rec.listener())
	require.NoError(t, viewer.Subscribe(ctx, []string{"vehicle.*"}, true))

	sim, err := DialMQTT(ctx, cfg, "sim-"+uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, sim.Subscribe(ctx, []string{"vehicle.v"}, false))
	_, err = sim.Publish(ctx, "vehicle.v", []byte(`{"state":"END_LEG"}`))
	require.NoError(t, err)
	require.NoError(t, sim.Signal(ctx, "vehicle.v", []byte(`{"t":"sig","v":1}`)))
	require.NoError(t, sim.Close())

	require.Eventually(t, func() bool {
		m, _, p := rec.counts()
		return m == 1 && p >= 2
	}, 5*time.Second, 20*time.Millisecond)
}
