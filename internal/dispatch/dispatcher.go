// Package dispatch spawns simulated vehicles on generated routes and sends
// them control commands on their private channels.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/deferred"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/routegen"
	"github.com/ukydev/fleet-delivery/internal/simulator"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

const (
	DefaultLegs     = 4
	DefaultCooldown = 2 * time.Second
	// VehicleIDPrefix marks ids of simulated vehicles.
	VehicleIDPrefix = "sim_"
)

var (
	ErrTooManyVehicles = errors.New("too many active vehicles")
	ErrCoolingDown     = errors.New("dispatch is cooling down")
	ErrNoRoute         = errors.New("could not find a sensible route")
	ErrEmptyMessage    = errors.New("message text is empty")
	ErrUnknownVehicle  = errors.New("unknown vehicle")
)

// RouteGenerator builds legs from a starting point.
type RouteGenerator interface {
	GenerateLeg(ctx context.Context, from models.Coordinate) models.Route
	GenerateRoute(ctx context.Context, from models.Coordinate, legCount int) models.Route
}

// Options configures a Dispatcher.
type Options struct {
	// Channel is the shared channel dispatched vehicles publish on.
	Channel string
	Legs    int
	// MaxActive caps running vehicles. Zero means no cap.
	MaxActive int
	// Cooldown is the minimum time between dispatches. Negative disables it.
	Cooldown     time.Duration
	TickInterval time.Duration
	Seed         int64
}

// Dispatched describes a vehicle that has just been started.
type Dispatched struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	SensorName  string `json:"sensor_name"`
	SensorType  string `json:"sensor_type"`
	Waypoints   int    `json:"waypoints"`
	Legs        int    `json:"legs"`
	UsedDefault bool   `json:"used_default_route"`
}

// Dispatcher starts vehicles in a fleet and controls them through client.
type Dispatcher struct {
	gen       RouteGenerator
	fleet     *simulator.Fleet
	client    transport.PubSub
	opts      Options
	scheduler *deferred.Scheduler

	mu          sync.Mutex
	coolingDown bool
	rng         *rand.Rand
}

// New creates a Dispatcher. client publishes commands and is typically the
// dashboard's own transport client.
func New(gen RouteGenerator, fleet *simulator.Fleet, client transport.PubSub, opts Options) *Dispatcher {
	if opts.Legs <= 0 {
		opts.Legs = DefaultLegs
	}
	if opts.Cooldown == 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Dispatcher{
		gen:       gen,
		fleet:     fleet,
		client:    client,
		opts:      opts,
		scheduler: deferred.NewScheduler(),
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}
}

// NewVehicleID returns a fresh simulated vehicle id.
func NewVehicleID() string {
	return VehicleIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Dispatch generates a route from origin and starts a vehicle on it. When no
// leg can be generated the default route is used instead.
func (d *Dispatcher) Dispatch(ctx context.Context, origin models.Coordinate) (Dispatched, error) {
	if err := d.reserve(); err != nil {
		return Dispatched{}, err
	}

	route := d.gen.GenerateRoute(ctx, origin, d.opts.Legs)
	usedDefault := false
	if len(route) == 0 {
		if err := ctx.Err(); err != nil {
			return Dispatched{}, err
		}
		log.WithField("origin", origin).Warn("Could not find sensible route, using default route instead")
		route = routegen.DefaultRoute()
		usedDefault = true
	}

	cfg := d.vehicleConfig(route)
	if _, err := d.fleet.Spawn(ctx, cfg); err != nil {
		return Dispatched{}, err
	}

	out := Dispatched{
		ID:          cfg.ID,
		Name:        cfg.Name,
		SensorName:  models.LookupName(models.SensorNames, cfg.SensorName),
		SensorType:  models.LookupName(models.SensorTypes, cfg.SensorType),
		Waypoints:   len(route),
		Legs:        route.RemainingLegs(0),
		UsedDefault: usedDefault,
	}
	log.WithFields(log.Fields{
		"vehicle_id": out.ID,
		"vehicle":    out.Name,
		"legs":       out.Legs,
		"waypoints":  out.Waypoints,
	}).Info("Vehicle dispatched")
	return out, nil
}

// reserve enforces the vehicle cap and the cooldown between dispatches.
func (d *Dispatcher) reserve() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opts.MaxActive > 0 && d.fleet.Len() >= d.opts.MaxActive {
		return ErrTooManyVehicles
	}
	if d.coolingDown {
		return ErrCoolingDown
	}
	if d.opts.Cooldown > 0 {
		d.coolingDown = true
		d.scheduler.After(d.opts.Cooldown, func() {
			d.mu.Lock()
			d.coolingDown = false
			d.mu.Unlock()
		})
	}
	return nil
}

func (d *Dispatcher) vehicleConfig(route models.Route) simulator.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return simulator.Config{
		ID:            NewVehicleID(),
		Name:          models.VehicleNames[d.rng.Intn(len(models.VehicleNames))],
		SharedChannel: d.opts.Channel,
		SensorName:    d.rng.Intn(len(models.SensorNames)),
		SensorType:    d.rng.Intn(len(models.SensorTypes)),
		Route:         route,
		TickInterval:  d.opts.TickInterval,
	}
}

// Reroute sends vehicle id a single new leg starting at from.
func (d *Dispatcher) Reroute(ctx context.Context, id string, from models.Coordinate) error {
	leg := d.gen.GenerateLeg(ctx, from)
	if len(leg) == 0 {
		return fmt.Errorf("reroute %s: %w", id, ErrNoRoute)
	}
	return d.send(ctx, id, protocol.Reroute{Route: leg})
}

// Reboot asks vehicle id to drop off the shared channel for a while.
func (d *Dispatcher) Reboot(ctx context.Context, id string) error {
	return d.send(ctx, id, protocol.Reboot{})
}

// PushMessage asks vehicle id to show text on the dashboards.
func (d *Dispatcher) PushMessage(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return d.send(ctx, id, protocol.PushMessage{Text: text})
}

// StopVehicle halts vehicle id.
func (d *Dispatcher) StopVehicle(ctx context.Context, id string) error {
	return d.send(ctx, id, protocol.Stop{})
}

func (d *Dispatcher) send(ctx context.Context, id string, cmd protocol.Command) error {
	if transport.ValidateChannel(id) != nil || transport.IsPattern(id) {
		return fmt.Errorf("%w: %q", ErrUnknownVehicle, id)
	}
	payload, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if _, err := d.client.Publish(ctx, id, payload); err != nil {
		return fmt.Errorf("failed to send command to %s: %w", id, err)
	}
	log.WithFields(log.Fields{"vehicle_id": id, "command": fmt.Sprintf("%T", cmd)}).Debug("Command sent")
	return nil
}

// Close cancels the pending cooldown.
func (d *Dispatcher) Close() {
	d.scheduler.CancelAll()
}
