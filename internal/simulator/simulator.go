// Package simulator drives simulated delivery vehicles along their routes and
// publishes the leg lifecycle and telemetry over the transport.
package simulator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/deferred"
	"github.com/ukydev/fleet-delivery/internal/geo"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

const (
	DefaultTickInterval = 500 * time.Millisecond
	DefaultRebootDelay  = 5 * time.Second
)

var (
	ErrNoRoute        = errors.New("simulator has no route")
	ErrAlreadyRunning = errors.New("simulator already started")
)

// State is the simulator lifecycle.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config describes one simulated vehicle.
type Config struct {
	ID            string
	Name          string
	SharedChannel string
	SensorName    int
	SensorType    int
	Route         models.Route
	TickInterval  time.Duration
	RebootDelay   time.Duration
}

// Simulator owns one vehicle's route and tick counter. Everything except the
// command listener runs on the goroutine that calls Run.
type Simulator struct {
	cfg       Config
	client    transport.PubSub
	sensor    SensorModel
	scheduler *deferred.Scheduler

	route models.Route
	tick  int
	step  int

	commands    chan protocol.Command
	resubscribe chan struct{}
	done        chan struct{}

	mu    sync.Mutex
	state State
}

// New creates an idle simulator publishing through client.
func New(cfg Config, client transport.PubSub) *Simulator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.RebootDelay <= 0 {
		cfg.RebootDelay = DefaultRebootDelay
	}
	return &Simulator{
		cfg:         cfg,
		client:      client,
		sensor:      ModelFor(cfg.SensorType),
		scheduler:   deferred.NewScheduler(),
		route:       cfg.Route,
		commands:    make(chan protocol.Command, 16),
		resubscribe: make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func (s *Simulator) ID() string { return s.cfg.ID }

// State returns the current lifecycle state.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulator) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Done is closed once Run has returned.
func (s *Simulator) Done() <-chan struct{} { return s.done }

func (s *Simulator) logger() *log.Entry {
	return log.WithFields(log.Fields{"vehicle_id": s.cfg.ID, "vehicle": s.cfg.Name})
}

// LegID identifies the leg sequence currently being driven: the vehicle id
// followed by the latitude of the route's first waypoint.
func (s *Simulator) LegID() string {
	if len(s.route) == 0 {
		return s.cfg.ID
	}
	return s.cfg.ID + strconv.FormatFloat(s.route[0].Lat, 'f', -1, 64)
}

// Run subscribes to the private and shared channels and ticks until the route
// is exhausted, a stop command arrives or ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = Running
	s.mu.Unlock()
	defer func() {
		s.scheduler.CancelAll()
		s.setState(Stopped)
		close(s.done)
	}()

	if len(s.route) == 0 {
		return ErrNoRoute
	}

	s.client.AddListener(transport.Listener{Message: s.onMessage})
	if err := s.client.Subscribe(ctx, []string{s.cfg.ID, s.cfg.SharedChannel}, false); err != nil {
		return err
	}
	s.logger().WithField("waypoints", len(s.route)).Info("Vehicle started")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	if !s.Step(ctx) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-s.commands:
			stop, restart := s.handle(ctx, cmd)
			if stop {
				s.logger().Info("Vehicle stopped")
				return nil
			}
			if restart {
				ticker.Reset(s.cfg.TickInterval)
				if !s.Step(ctx) {
					return nil
				}
			}
		case <-s.resubscribe:
			if err := s.client.Subscribe(ctx, []string{s.cfg.SharedChannel}, false); err != nil {
				s.logger().WithError(err).Warn("Resubscribe after reboot failed")
			}
		case <-ticker.C:
			if !s.Step(ctx) {
				return nil
			}
		}
	}
}

// onMessage runs on the transport's delivery goroutine. Only commands sent by
// someone else on the private channel are forwarded.
func (s *Simulator) onMessage(env transport.Envelope) {
	if env.Channel != s.cfg.ID || env.Publisher == s.cfg.ID {
		return
	}
	cmd, err := protocol.DecodeCommand(env.Payload)
	if err != nil {
		s.logger().WithError(err).Debug("Ignoring malformed command")
		return
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
	}
}

// Step runs one tick. It returns false once the tick index has run past the
// end of the route, at which point the simulator must terminate.
func (s *Simulator) Step(ctx context.Context) bool {
	if s.tick >= len(s.route) {
		s.logger().WithField("tick", s.tick).Debug("Route exhausted, terminating")
		return false
	}
	wp := s.route[s.tick]
	pos := geo.RoundCoordinate(wp.Coordinate)
	value := s.sensor.Value(s.tick)

	switch {
	case wp.IsEndOfLeg():
		s.publish(ctx, protocol.EndLeg{
			RouteFinished: s.tick >= len(s.route)-1,
			LegID:         s.LegID(),
		})
	case wp.IsStartOfLeg():
		s.step = 0
		s.publish(ctx, protocol.StartLeg{
			Lat:                 pos.Lat,
			Lng:                 pos.Lng,
			RemainingDeliveries: s.route.RemainingLegs(s.tick),
			Route:               s.route.LegAt(s.tick),
			LegID:               s.LegID(),
			VehicleName:         s.cfg.Name,
			SensorName:          s.cfg.SensorName,
			SensorType:          s.cfg.SensorType,
		})
	default:
		s.step++
		s.signal(ctx, protocol.Position{Lat: pos.Lat, Lng: pos.Lng, Tick: s.step})
		s.signal(ctx, protocol.Sensor{Value: value})
	}
	s.tick++
	return true
}

// handle applies a control command. stop ends Run; restart restarts the tick
// loop from the (new) tick 0.
func (s *Simulator) handle(ctx context.Context, cmd protocol.Command) (stop, restart bool) {
	switch c := cmd.(type) {
	case protocol.Stop:
		return true, false
	case protocol.Reboot:
		s.logger().Info("Rebooting")
		if err := s.client.Unsubscribe(ctx, []string{s.cfg.SharedChannel}); err != nil {
			s.logger().WithError(err).Warn("Unsubscribe for reboot failed")
		}
		s.scheduler.After(s.cfg.RebootDelay, func() {
			select {
			case s.resubscribe <- struct{}{}:
			default:
			}
		})
	case protocol.Reroute:
		if err := c.Route.Validate(); err != nil {
			s.logger().WithError(err).Warn("Ignoring reroute with invalid route")
			return false, false
		}
		s.publish(ctx, protocol.EndLeg{RouteFinished: false, LegID: s.LegID()})
		s.route = c.Route
		s.tick = 0
		s.logger().WithField("waypoints", len(c.Route)).Info("Rerouted")
		return false, true
	case protocol.PushMessage:
		if c.Text != "" {
			s.publish(ctx, protocol.AddInfoWindow{Data: c.Text})
		}
	case protocol.UnknownCommand:
		s.logger().WithField("action", c.Action).Debug("Ignoring unknown command")
	}
	return false, false
}

func (s *Simulator) publish(ctx context.Context, ev protocol.Event) {
	b, err := protocol.Encode(ev)
	if err != nil {
		s.logger().WithError(err).Error("Failed to encode event")
		return
	}
	if _, err := s.client.Publish(ctx, s.cfg.SharedChannel, b); err != nil {
		s.logger().WithError(err).WithField("event", ev).Warn("Publish failed")
	}
}

func (s *Simulator) signal(ctx context.Context, ev protocol.Event) {
	b, err := protocol.Encode(ev)
	if err != nil {
		s.logger().WithError(err).Error("Failed to encode signal")
		return
	}
	if err := s.client.Signal(ctx, s.cfg.SharedChannel, b); err != nil {
		s.logger().WithError(err).Debug("Signal failed")
	}
}
