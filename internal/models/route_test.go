package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leg(n int, lat float64) Route {
	r := make(Route, n)
	for i := range r {
		r[i] = Waypoint{Coordinate: Coordinate{Lat: lat + float64(i)*0.001, Lng: -122.4}}
	}
	r[0].Meta = StartOfLeg(n - 1)
	r[n-1].Meta = EndOfLeg()
	return r
}

func TestLegBoundary_WireFormat(t *testing.T) {
	r := Route{
		{Coordinate: Coordinate{Lat: 1, Lng: 2}, Meta: StartOfLeg(2)},
		{Coordinate: Coordinate{Lat: 1.5, Lng: 2.5}},
		{Coordinate: Coordinate{Lat: 2, Lng: 3}, Meta: EndOfLeg()},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"lat":1,"lng":2,"meta":{"NEW_LEG":2}},
		{"lat":1.5,"lng":2.5},
		{"lat":2,"lng":3,"meta":"END_LEG"}
	]`, string(data))

	var back Route
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back[0].IsStartOfLeg())
	assert.Equal(t, 2, back[0].Meta.StepCount)
	assert.Nil(t, back[1].Meta)
	assert.True(t, back[2].IsEndOfLeg())
}

func TestLegBoundary_UnknownMarker(t *testing.T) {
	var w Waypoint
	err := json.Unmarshal([]byte(`{"lat":1,"lng":2,"meta":"SOMETHING"}`), &w)
	assert.ErrorIs(t, err, ErrUnknownBoundary)

	err = json.Unmarshal([]byte(`{"lat":1,"lng":2,"meta":{"OTHER":3}}`), &w)
	assert.ErrorIs(t, err, ErrUnknownBoundary)
}

func TestRoute_LegAtAndRemaining(t *testing.T) {
	r := append(leg(5, 10), leg(4, 20)...)

	first := r.LegAt(0)
	assert.Len(t, first, 5)
	assert.True(t, first[len(first)-1].IsEndOfLeg())

	second := r.LegAt(5)
	assert.Len(t, second, 4)
	assert.Equal(t, 20.0, second[0].Lat)

	assert.Nil(t, r.LegAt(1), "interior waypoint does not start a leg")
	assert.Nil(t, r.LegAt(42))

	assert.Equal(t, 2, r.RemainingLegs(0))
	assert.Equal(t, 1, r.RemainingLegs(1))
	assert.Equal(t, 1, r.RemainingLegs(5))
	assert.Equal(t, 0, r.RemainingLegs(6))
}

func TestRoute_Validate(t *testing.T) {
	good := append(leg(5, 10), leg(4, 20)...)
	assert.NoError(t, good.Validate())

	tests := []struct {
		name  string
		route Route
	}{
		{"empty", Route{}},
		{"no start", Route{{Coordinate: Coordinate{Lat: 1}}}},
		{"step count overruns", func() Route { r := leg(3, 1); r[0].Meta = StartOfLeg(7); return r }()},
		{"missing end", func() Route { r := leg(3, 1); r[2].Meta = nil; return r }()},
		{"marker inside leg", func() Route { r := leg(4, 1); r[1].Meta = EndOfLeg(); return r }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.route.Validate())
		})
	}
}

func TestRoute_Destination(t *testing.T) {
	_, ok := Route{}.Destination()
	assert.False(t, ok)

	dest, ok := leg(3, 5).Destination()
	require.True(t, ok)
	assert.InDelta(t, 5.002, dest.Lat, 1e-9)
}

func TestLookupName(t *testing.T) {
	assert.Equal(t, SensorTypes[1], LookupName(SensorTypes, 1))
	assert.Equal(t, "Unknown", LookupName(SensorTypes, -1))
	assert.Equal(t, "Unknown", LookupName(SensorTypes, len(SensorTypes)))
}
