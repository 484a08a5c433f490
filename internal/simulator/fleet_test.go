package simulator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

func TestFleet_SpawnAndExit(t *testing.T) {
	b := transport.NewBroker()
	fleet := NewFleet(context.Background(), b.Dial)
	defer fleet.StopAll()

	var mu sync.Mutex
	var exited []string
	fleet.OnExit(func(id string) {
		mu.Lock()
		exited = append(exited, id)
		mu.Unlock()
	})

	_, err := fleet.Spawn(context.Background(), Config{
		ID: "sim_a", SharedChannel: "vehicle.v", Route: twoLegRoute(), TickInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, fleet.Has("sim_a"))

	_, err = fleet.Spawn(context.Background(), Config{ID: "sim_a", Route: twoLegRoute()})
	assert.ErrorIs(t, err, ErrDuplicateVehicle)

	_, err = fleet.Spawn(context.Background(), Config{ID: "sim_b"})
	assert.ErrorIs(t, err, ErrNoRoute)

	require.Eventually(t, func() bool { return fleet.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	fleet.Wait()
	mu.Lock()
	assert.Equal(t, []string{"sim_a"}, exited)
	mu.Unlock()
	assert.Equal(t, 0, b.Clients(), "client is closed when the vehicle exits")
}

func TestFleet_StopAll(t *testing.T) {
	b := transport.NewBroker()
	fleet := NewFleet(context.Background(), b.Dial)

	for _, id := range []string{"sim_2", "sim_1", "sim_3"} {
		_, err := fleet.Spawn(context.Background(), Config{
			ID: id, SharedChannel: "vehicle.v", Route: buildLeg(1000, 1), TickInterval: 10 * time.Millisecond,
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"sim_1", "sim_2", "sim_3"}, fleet.Active())

	done := make(chan struct{})
	go func() {
		fleet.StopAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopAll did not return")
	}
	assert.Zero(t, fleet.Len())
}

func TestFleet_DialFailure(t *testing.T) {
	dial := func(context.Context, string) (transport.PubSub, error) {
		return nil, errors.New("broker unreachable")
	}
	fleet := NewFleet(context.Background(), dial)
	_, err := fleet.Spawn(context.Background(), Config{ID: "sim_x", Route: twoLegRoute()})
	require.Error(t, err)
	assert.False(t, fleet.Has("sim_x"))
}
