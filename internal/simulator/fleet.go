package simulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

var ErrDuplicateVehicle = errors.New("vehicle already running")

// Fleet runs simulators, each on its own goroutine with its own transport client.
type Fleet struct {
	dial   transport.Dialer
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*Simulator
	onExit func(id string)
}

// NewFleet creates a fleet whose simulators live until ctx is cancelled or StopAll is called.
func NewFleet(ctx context.Context, dial transport.Dialer) *Fleet {
	ctx, cancel := context.WithCancel(ctx)
	return &Fleet{
		dial:   dial,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*Simulator),
	}
}

// OnExit registers fn to be called after a simulator has terminated.
func (f *Fleet) OnExit(fn func(id string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExit = fn
}

// Spawn connects a client for cfg.ID and starts its simulator.
func (f *Fleet) Spawn(ctx context.Context, cfg Config) (*Simulator, error) {
	if len(cfg.Route) == 0 {
		return nil, ErrNoRoute
	}
	f.mu.Lock()
	if _, ok := f.active[cfg.ID]; ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVehicle, cfg.ID)
	}
	// reserve the id while dialing
	f.active[cfg.ID] = nil
	f.mu.Unlock()

	client, err := f.dial(ctx, cfg.ID)
	if err != nil {
		f.mu.Lock()
		delete(f.active, cfg.ID)
		f.mu.Unlock()
		return nil, fmt.Errorf("failed to connect vehicle %s: %w", cfg.ID, err)
	}

	sim := New(cfg, client)
	f.mu.Lock()
	f.active[cfg.ID] = sim
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		err := sim.Run(f.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).WithField("vehicle_id", cfg.ID).Warn("Vehicle exited with error")
		}
		client.Close()

		f.mu.Lock()
		delete(f.active, cfg.ID)
		onExit := f.onExit
		f.mu.Unlock()
		if onExit != nil {
			onExit(cfg.ID)
		}
	}()
	return sim, nil
}

// Has reports whether id is running.
func (f *Fleet) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[id]
	return ok
}

// Len returns the number of running simulators.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// Active returns the ids of running simulators, sorted.
func (f *Fleet) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll cancels every simulator and waits for them to exit.
func (f *Fleet) StopAll() {
	f.cancel()
	f.wg.Wait()
}

// Wait blocks until every spawned simulator has exited.
func (f *Fleet) Wait() {
	f.wg.Wait()
}
