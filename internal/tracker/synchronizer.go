// Package tracker reconstructs per-vehicle delivery state on a dashboard from
// live transport events and a bounded history replay.
package tracker

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/deferred"
	"github.com/ukydev/fleet-delivery/internal/directions"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

const (
	DefaultTickInterval = 500 * time.Millisecond
	DefaultStaleAfter   = 2 * time.Minute
	DefaultNoticeTTL    = 4 * time.Second
	DefaultHistoryCount = 100

	geocodeTimeout = 10 * time.Second
	stopTimeout    = 5 * time.Second
	eventBuffer    = 1024
)

var (
	ErrUnknownVehicle = errors.New("unknown vehicle")
	ErrStopped        = errors.New("synchronizer stopped")
)

// Controller sends control commands to simulated vehicles.
type Controller interface {
	StopVehicle(ctx context.Context, id string) error
}

// Options configures a Synchronizer.
type Options struct {
	// Channel is this viewer's own shared channel.
	Channel      string
	TickInterval time.Duration
	// StaleAfter evicts vehicles that have been silent this long. Zero uses
	// DefaultStaleAfter; a negative value disables eviction.
	StaleAfter   time.Duration
	NoticeTTL    time.Duration
	HistoryCount int
	Geocoder     directions.Geocoder
	Controller   Controller
	Now          func() time.Time
}

// Synchronizer applies transport events to a State. All mutation happens on
// the goroutine running Run; transport callbacks only enqueue work.
type Synchronizer struct {
	opts      Options
	state     *State
	scheduler *deferred.Scheduler
	events    chan func()
	done      chan struct{}
}

// New creates a synchronizer. Call Run to start processing.
func New(opts Options) *Synchronizer {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.StaleAfter == 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.NoticeTTL <= 0 {
		opts.NoticeTTL = DefaultNoticeTTL
	}
	if opts.HistoryCount <= 0 {
		opts.HistoryCount = DefaultHistoryCount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		opts:      opts,
		state:     newState(),
		scheduler: deferred.NewScheduler(),
		events:    make(chan func(), eventBuffer),
		done:      make(chan struct{}),
	}
}

func (s *Synchronizer) logger() *log.Entry {
	return log.WithField("channel", s.opts.Channel)
}

// Run processes queued events until ctx is cancelled.
func (s *Synchronizer) Run(ctx context.Context) error {
	defer func() {
		s.scheduler.CancelAll()
		close(s.done)
	}()

	var sweep <-chan time.Time
	if s.opts.StaleAfter > 0 {
		t := time.NewTicker(sweepInterval(s.opts.StaleAfter))
		defer t.Stop()
		sweep = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.events:
			fn()
		case <-sweep:
			s.Sweep(s.opts.Now())
		}
	}
}

func sweepInterval(staleAfter time.Duration) time.Duration {
	d := staleAfter / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// enqueue hands fn to the event loop. It reports false once Run has exited.
func (s *Synchronizer) enqueue(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Start loads history for the viewer channel, queues its reconciliation ahead
// of any live event, then subscribes to every viewer channel with presence.
// A history failure is logged and the synchronizer continues live-only.
func (s *Synchronizer) Start(ctx context.Context, client transport.PubSub) error {
	history, err := client.FetchHistory(ctx, s.opts.Channel, s.opts.HistoryCount)
	if err != nil {
		s.logger().WithError(err).Warn("History unavailable, deliveries already in progress will not be shown")
	} else {
		s.enqueue(func() {
			n := s.Reconcile(history)
			s.logger().WithFields(log.Fields{"messages": len(history), "in_flight": n}).Info("History reconciled")
		})
	}

	client.AddListener(transport.Listener{
		Message: func(env transport.Envelope) {
			s.enqueue(func() { s.HandleMessage(env) })
		},
		Signal: func(env transport.Envelope) {
			s.enqueue(func() { s.HandleSignal(env) })
		},
		Presence: func(ev transport.PresenceEvent) {
			s.enqueue(func() { s.HandlePresence(ev) })
		},
	})
	return client.Subscribe(ctx, []string{protocol.AllViewerChannels}, true)
}

// Snapshot returns a copy of the current state, taken on the event loop.
func (s *Synchronizer) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !s.enqueue(func() { reply <- s.state.snapshot() }) {
		return Snapshot{}, ErrStopped
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Select marks id as the selected vehicle and clears the flag on all others.
func (s *Synchronizer) Select(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	ok := s.enqueue(func() {
		if _, found := s.state.vehicles[id]; !found {
			reply <- ErrUnknownVehicle
			return
		}
		for vid, v := range s.state.vehicles {
			v.Selected = vid == id
		}
		s.state.changed()
		reply <- nil
	})
	if !ok {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synchronizer) resolveAddress(id, legID string, dest models.Coordinate) {
	if s.opts.Geocoder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), geocodeTimeout)
		defer cancel()
		addr := directions.AddressOrFallback(ctx, s.opts.Geocoder, dest)
		s.enqueue(func() {
			v, ok := s.state.vehicles[id]
			if !ok || v.RouteInfo == nil || v.RouteInfo.LegID != legID {
				return
			}
			if cur, ok := v.RouteInfo.Route.Destination(); !ok || cur != dest {
				return
			}
			v.Delivery.NextDelivery = addr
			s.state.changed()
		})
	}()
}

func (s *Synchronizer) stopVehicle(id string) {
	if s.opts.Controller == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := s.opts.Controller.StopVehicle(ctx, id); err != nil {
			log.WithError(err).WithField("vehicle_id", id).Warn("Failed to stop finished vehicle")
		}
	}()
}
