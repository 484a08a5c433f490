package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/models"
)

func sampleLeg() models.Route {
	return models.Route{
		{Coordinate: models.Coordinate{Lat: 1, Lng: 2}, Meta: models.StartOfLeg(2)},
		{Coordinate: models.Coordinate{Lat: 1.5, Lng: 2.5}},
		{Coordinate: models.Coordinate{Lat: 2, Lng: 3}, Meta: models.EndOfLeg()},
	}
}

func TestEncode_WireShapes(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"end leg", EndLeg{RouteFinished: true, LegID: "sim_a37.7"}, `{"state":"END_LEG","routeFinished":true,"legId":"sim_a37.7"}`},
		{"info window", AddInfoWindow{Data: "Running late"}, `{"state":"ADD_INFO_WINDOW","data":"Running late"}`},
		{"position", Position{Lat: 1.25, Lng: -3.5, Tick: 4}, `{"t":"l","lat":1.25,"lng":-3.5,"tick":4}`},
		{"sensor", Sensor{Value: -4.16}, `{"t":"sig","v":-4.16}`},
		{"unrecognized", Unrecognized{Tag: "X", Raw: json.RawMessage(`{"state":"X"}`)}, `{"state":"X"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.event)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestStartLeg_RoundTrip(t *testing.T) {
	in := StartLeg{
		Lat: 1, Lng: 2, RemainingDeliveries: 3, Route: sampleLeg(),
		LegID: "sim_x1", VehicleName: "Van 1", SensorName: 2, SensorType: 1,
	}
	b, err := Encode(in)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, StateStartLeg, raw["state"])
	route := raw["route"].([]any)
	assert.Equal(t, map[string]any{"NEW_LEG": float64(2)}, route[0].(map[string]any)["meta"])
	assert.Equal(t, "END_LEG", route[2].(map[string]any)["meta"])

	out, err := DecodeMessage(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeMessage(t *testing.T) {
	ev, err := DecodeMessage([]byte(`{"state":"END_LEG","routeFinished":false,"legId":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, EndLeg{LegID: "a"}, ev)

	ev, err = DecodeMessage([]byte(`{"state":"ADD_INFO_WINDOW","data":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, AddInfoWindow{Data: "hi"}, ev)

	ev, err = DecodeMessage([]byte(`{"state":"TELEPORT","x":1}`))
	require.NoError(t, err)
	u, ok := ev.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "TELEPORT", u.Tag)

	ev, err = DecodeMessage([]byte(`{"hello":"world"}`))
	require.NoError(t, err)
	assert.IsType(t, Unrecognized{}, ev)

	_, err = DecodeMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = DecodeMessage([]byte(`{"state":"START_LEG","route":[{"lat":1,"lng":2,"meta":"SIDEWAYS"}]}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDecodeSignal(t *testing.T) {
	ev, err := DecodeSignal([]byte(`{"t":"l","lat":37.1,"lng":-122.2,"tick":7}`))
	require.NoError(t, err)
	assert.Equal(t, Position{Lat: 37.1, Lng: -122.2, Tick: 7}, ev)

	ev, err = DecodeSignal([]byte(`{"t":"sig","v":-17.42}`))
	require.NoError(t, err)
	assert.Equal(t, Sensor{Value: -17.42}, ev)

	ev, err = DecodeSignal([]byte(`{"t":"zz"}`))
	require.NoError(t, err)
	assert.Equal(t, "zz", ev.(Unrecognized).Tag)

	_, err = DecodeSignal([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"reboot", Reboot{}, `{"action":"reboot"}`},
		{"stop", Stop{}, `{"action":"stop"}`},
		{"push", PushMessage{Text: "Traffic ahead"}, `{"action":"pushMessage","text":"Traffic ahead"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))

			back, err := DecodeCommand(b)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, back)
		})
	}

	b, err := EncodeCommand(Reroute{Route: sampleLeg()})
	require.NoError(t, err)
	back, err := DecodeCommand(b)
	require.NoError(t, err)
	assert.Equal(t, Reroute{Route: sampleLeg()}, back)

	back, err = DecodeCommand([]byte(`{"action":"selfDestruct"}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownCommand{Action: "selfDestruct"}, back)

	_, err = DecodeCommand([]byte(`{`))
	assert.Error(t, err)
}
