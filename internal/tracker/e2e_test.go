package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/simulator"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

func startDashboard(t *testing.T, b *transport.Broker, opts Options) *Synchronizer {
	t.Helper()
	client, err := b.Dial(context.Background(), "viewer")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s, _ := newTestSync(opts)
	s.opts.Now = time.Now
	runSync(t, s)
	require.NoError(t, s.Start(context.Background(), client))
	return s
}

func TestEndToEnd_LiveDelivery(t *testing.T) {
	b := transport.NewBroker()
	ctrl := &recordingController{}
	s := startDashboard(t, b, Options{Controller: ctrl, StaleAfter: -1})

	fleet := simulator.NewFleet(context.Background(), b.Dial)
	defer fleet.StopAll()
	route := append(testLeg(30, 37.7), testLeg(20, 37.8)...)
	_, err := fleet.Spawn(context.Background(), simulator.Config{
		ID: "sim_1", Name: "Van 1", SharedChannel: viewer, Route: route, TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, ok := snapshot(t, s).Vehicle("sim_1")
		return ok && v.RouteInfo != nil && v.RouteInfo.Progress > 0
	}, 2*time.Second, 2*time.Millisecond)

	v, _ := snapshot(t, s).Vehicle("sim_1")
	assert.Equal(t, "Van 1", v.Name)
	assert.True(t, v.LocallyOriginated)
	assert.Equal(t, models.SensorUnits, v.Sensor.Units)

	require.Eventually(t, func() bool {
		_, ok := snapshot(t, s).Vehicle("sim_1")
		return !ok
	}, 3*time.Second, 5*time.Millisecond, "finished route removes the vehicle")
	require.Eventually(t, func() bool { return len(ctrl.Stopped()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEndToEnd_LateJoinerRecoversDelivery(t *testing.T) {
	b := transport.NewBroker()
	fleet := simulator.NewFleet(context.Background(), b.Dial)
	defer fleet.StopAll()

	sim, err := fleet.Spawn(context.Background(), simulator.Config{
		ID: "sim_1", Name: "Van 1", SharedChannel: viewer, Route: testLeg(300, 37.7), TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	reader, err := b.Dial(context.Background(), "reader")
	require.NoError(t, err)
	defer reader.Close()
	require.Eventually(t, func() bool {
		h, err := reader.FetchHistory(context.Background(), viewer, 10)
		return err == nil && len(h) > 0
	}, time.Second, 2*time.Millisecond, "start of leg reaches history")

	s := startDashboard(t, b, Options{StaleAfter: -1})

	require.Eventually(t, func() bool {
		v, ok := snapshot(t, s).Vehicle("sim_1")
		return ok && v.RouteInfo != nil && v.RouteInfo.Progress > 0
	}, 2*time.Second, 5*time.Millisecond)

	snap := snapshot(t, s)
	assert.Empty(t, snap.InFlight)
	require.Len(t, snap.Vehicles, 1)
	v := snap.Vehicles[0]
	assert.Equal(t, sim.LegID(), v.RouteInfo.LegID)
	assert.Len(t, v.RouteInfo.Route, 300)
	assert.True(t, v.LocallyOriginated)
}
