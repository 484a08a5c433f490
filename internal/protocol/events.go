// Package protocol defines the delivery events exchanged between simulators
// and dashboards, and decodes them once at the transport boundary.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// Wire tags. Messages are tagged by "state", signals by "t".
const (
	StateStartLeg      = "START_LEG"
	StateEndLeg        = "END_LEG"
	StateAddInfoWindow = "ADD_INFO_WINDOW"

	SignalPosition = "l"
	SignalSensor   = "sig"
)

var ErrMalformedEvent = errors.New("malformed event")

// Event is a marker for every decoded delivery event.
type Event interface{ isEvent() }

// StartLeg opens a leg. Route holds exactly the waypoints of that leg.
type StartLeg struct {
	Lat                 float64      `json:"lat"`
	Lng                 float64      `json:"lng"`
	RemainingDeliveries int          `json:"remainingDeliveries"`
	Route               models.Route `json:"route"`
	LegID               string       `json:"legId"`
	VehicleName         string       `json:"vehicleName"`
	SensorName          int          `json:"sensorName"`
	SensorType          int          `json:"sensorType"`
}

func (StartLeg) isEvent() {}

// EndLeg closes a leg; RouteFinished is set on the last leg of the route.
type EndLeg struct {
	RouteFinished bool   `json:"routeFinished"`
	LegID         string `json:"legId"`
}

func (EndLeg) isEvent() {}

// AddInfoWindow is a transient text notice for display only.
type AddInfoWindow struct {
	Data string `json:"data"`
}

func (AddInfoWindow) isEvent() {}

// Position is the per-tick location signal. Tick is the step within the leg.
type Position struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Tick int     `json:"tick"`
}

func (Position) isEvent() {}

// Sensor is the per-tick sensor reading signal.
type Sensor struct {
	Value float64 `json:"v"`
}

func (Sensor) isEvent() {}

// Unrecognized carries any payload whose tag is unknown.
type Unrecognized struct {
	Tag string
	Raw json.RawMessage
}

func (Unrecognized) isEvent() {}

// Coordinate returns the position carried by a StartLeg.
func (e StartLeg) Coordinate() models.Coordinate {
	return models.Coordinate{Lat: e.Lat, Lng: e.Lng}
}

// Coordinate returns the position carried by a Position signal.
func (e Position) Coordinate() models.Coordinate {
	return models.Coordinate{Lat: e.Lat, Lng: e.Lng}
}

func (e StartLeg) MarshalJSON() ([]byte, error) {
	type alias StartLeg
	return json.Marshal(struct {
		State string `json:"state"`
		alias
	}{StateStartLeg, alias(e)})
}

func (e EndLeg) MarshalJSON() ([]byte, error) {
	type alias EndLeg
	return json.Marshal(struct {
		State string `json:"state"`
		alias
	}{StateEndLeg, alias(e)})
}

func (e AddInfoWindow) MarshalJSON() ([]byte, error) {
	type alias AddInfoWindow
	return json.Marshal(struct {
		State string `json:"state"`
		alias
	}{StateAddInfoWindow, alias(e)})
}

func (e Position) MarshalJSON() ([]byte, error) {
	type alias Position
	return json.Marshal(struct {
		T string `json:"t"`
		alias
	}{SignalPosition, alias(e)})
}

func (e Sensor) MarshalJSON() ([]byte, error) {
	type alias Sensor
	return json.Marshal(struct {
		T string `json:"t"`
		alias
	}{SignalSensor, alias(e)})
}

// Encode marshals an event to its wire form. Unrecognized events are
// re-emitted verbatim.
func Encode(e Event) ([]byte, error) {
	if u, ok := e.(Unrecognized); ok {
		return u.Raw, nil
	}
	return json.Marshal(e)
}

// DecodeMessage decodes a durable message by its "state" tag.
func DecodeMessage(raw []byte) (Event, error) {
	var head struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch head.State {
	case StateStartLeg:
		var e StartLeg
		if err := decodeAs(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case StateEndLeg:
		var e EndLeg
		if err := decodeAs(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case StateAddInfoWindow:
		var e AddInfoWindow
		if err := decodeAs(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return Unrecognized{Tag: head.State, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// DecodeSignal decodes a lightweight signal by its "t" tag.
func DecodeSignal(raw []byte) (Event, error) {
	var head struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch head.T {
	case SignalPosition:
		var e Position
		if err := decodeAs(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	case SignalSensor:
		var e Sensor
		if err := decodeAs(raw, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return Unrecognized{Tag: head.T, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeAs(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Every viewer publishes and listens on its own channel under this prefix;
// dashboards subscribe to all of them with AllViewerChannels.
const (
	ViewerChannelPrefix = "vehicle."
	AllViewerChannels   = ViewerChannelPrefix + "*"
)

// ViewerChannel returns the shared channel for viewer id.
func ViewerChannel(id string) string {
	return ViewerChannelPrefix + id
}
