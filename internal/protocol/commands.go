package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// Control actions sent to a vehicle's private channel.
const (
	ActionReboot      = "reboot"
	ActionStop        = "stop"
	ActionReroute     = "reroute"
	ActionPushMessage = "pushMessage"
)

// Command is a marker for every decoded control command.
type Command interface{ isCommand() }

// Reboot asks the vehicle to drop off the shared channel for a while.
type Reboot struct{}

// Stop terminates the vehicle.
type Stop struct{}

// Reroute replaces the vehicle's route and restarts it from tick 0.
type Reroute struct {
	Route models.Route
}

// PushMessage asks the vehicle to relay Text to the shared channel.
type PushMessage struct {
	Text string
}

// UnknownCommand is any action the vehicle does not understand.
type UnknownCommand struct {
	Action string
}

func (Reboot) isCommand()         {}
func (Stop) isCommand()           {}
func (Reroute) isCommand()        {}
func (PushMessage) isCommand()    {}
func (UnknownCommand) isCommand() {}

type commandWire struct {
	Action string       `json:"action"`
	Route  models.Route `json:"route,omitempty"`
	Text   string       `json:"text,omitempty"`
}

// EncodeCommand marshals a command to its wire form.
func EncodeCommand(c Command) ([]byte, error) {
	var w commandWire
	switch c := c.(type) {
	case Reboot:
		w.Action = ActionReboot
	case Stop:
		w.Action = ActionStop
	case Reroute:
		w.Action = ActionReroute
		w.Route = c.Route
	case PushMessage:
		w.Action = ActionPushMessage
		w.Text = c.Text
	case UnknownCommand:
		w.Action = c.Action
	default:
		return nil, fmt.Errorf("unsupported command %T", c)
	}
	return json.Marshal(w)
}

// DecodeCommand decodes a control payload by its "action" field.
func DecodeCommand(raw []byte) (Command, error) {
	var w commandWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch w.Action {
	case ActionReboot:
		return Reboot{}, nil
	case ActionStop:
		return Stop{}, nil
	case ActionReroute:
		return Reroute{Route: w.Route}, nil
	case ActionPushMessage:
		return PushMessage{Text: w.Text}, nil
	default:
		return UnknownCommand{Action: w.Action}, nil
	}
}
