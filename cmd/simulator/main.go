package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/auth"
	"github.com/ukydev/fleet-delivery/internal/config"
	"github.com/ukydev/fleet-delivery/internal/db"
	"github.com/ukydev/fleet-delivery/internal/directions"
	"github.com/ukydev/fleet-delivery/internal/dispatch"
	"github.com/ukydev/fleet-delivery/internal/geo"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/routegen"
	"github.com/ukydev/fleet-delivery/internal/simulator"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

// Cities for realistic routes
var cities = []models.Coordinate{
	{Lat: 51.5074, Lng: -0.1278},   // London
	{Lat: 40.7128, Lng: -74.0060},  // New York
	{Lat: 40.4168, Lng: -3.7038},   // Madrid
	{Lat: 35.1856, Lng: 33.3823},   // Nicosia
	{Lat: 4.7110, Lng: -74.0721},   // Bogotá
	{Lat: 48.8566, Lng: 2.3522},    // Paris
	{Lat: 41.0082, Lng: 28.9784},   // Istanbul
	{Lat: 51.4816, Lng: -3.1791},   // Cardiff
	{Lat: 34.0522, Lng: -118.2437}, // Los Angeles
	{Lat: 37.7749, Lng: -122.4194}, // San Francisco
	{Lat: 52.5200, Lng: 13.4050},   // Berlin
	{Lat: 35.6762, Lng: 139.6503},  // Tokyo
	{Lat: -33.8688, Lng: 151.2093}, // Sydney
	{Lat: 1.3521, Lng: 103.8198},   // Singapore
	{Lat: 43.6532, Lng: -79.3832},  // Toronto
}

// jitterMeters keeps start points close to the city centre, and to roads.
const jitterMeters = 500

var errNoVehicles = errors.New("no vehicles started")

type fleetOptions struct {
	ViewerID     string
	FleetSize    int
	Legs         int
	TickInterval time.Duration
	// Origins are the depots vehicles start from. Empty means cities.
	Origins []models.Coordinate
	Seed    int64
}

// startOrigin picks a depot and jitters it.
func startOrigin(rng *rand.Rand, origins []models.Coordinate) models.Coordinate {
	base := origins[rng.Intn(len(origins))]
	return geo.RandomOffset(rng, base, 0, jitterMeters)
}

// runFleet keeps opts.FleetSize vehicles delivering to the viewer's channel
// until ctx is cancelled. Finished vehicles are replaced with new ones.
func runFleet(ctx context.Context, dial transport.Dialer, gen dispatch.RouteGenerator, opts fleetOptions) error {
	if len(opts.Origins) == 0 {
		opts.Origins = cities
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	logger := log.WithField("viewer_id", opts.ViewerID)

	control, err := dial(ctx, "simctl-"+uuid.NewString())
	if err != nil {
		return err
	}
	defer control.Close()

	fleet := simulator.NewFleet(ctx, dial)
	defer fleet.StopAll()
	d := dispatch.New(gen, fleet, control, dispatch.Options{
		Channel:      protocol.ViewerChannel(opts.ViewerID),
		Legs:         opts.Legs,
		Cooldown:     -1,
		TickInterval: opts.TickInterval,
		Seed:         opts.Seed,
	})
	defer d.Close()

	exits := make(chan string, opts.FleetSize)
	fleet.OnExit(func(id string) {
		select {
		case exits <- id:
		case <-ctx.Done():
		}
	})

	spawn := func() {
		out, err := d.Dispatch(ctx, startOrigin(rng, opts.Origins))
		if err != nil {
			logger.WithError(err).Error("Failed to start vehicle")
			return
		}
		logger.WithFields(log.Fields{"vehicle_id": out.ID, "legs": out.Legs}).Info("Vehicle started")
	}

	for i := 0; i < opts.FleetSize; i++ {
		spawn()
	}
	if fleet.Len() == 0 {
		return errNoVehicles
	}
	logger.WithField("vehicles", fleet.Len()).Info("Delivery simulation started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-exits:
			logger.WithField("vehicle_id", id).Info("Vehicle finished, starting a replacement")
			spawn()
		}
	}
}

// newDialer connects vehicles to the configured transport. Messages are
// persisted to history so a dashboard in another process can replay them.
func newDialer(cfg *config.Config, token string, history transport.HistoryStore) transport.Dialer {
	if cfg.Transport == config.TransportMQTT {
		return transport.NewMQTTDialer(transport.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Token:       token,
			History:     history,
		})
	}
	log.Warn("In-memory transport only reaches dashboards in this process")
	var opts []transport.BrokerOption
	if history != nil {
		opts = append(opts, transport.WithHistoryStore(history))
	}
	return transport.NewBroker(opts...).Dial
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogging()

	if cfg.ViewerID == "" {
		log.Fatal("VIEWER_ID must name the dashboard to deliver to")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var history *db.History
	if cfg.MongoURI != "" {
		history, err = db.OpenHistory(ctx, cfg.MongoURI, cfg.MongoDB, cfg.HistoryCollection, cfg.HistoryRetention)
		if err != nil {
			log.WithError(err).Fatal("Failed to open message history")
		}
		defer history.Close()
	} else {
		log.Warn("MONGO_URI not set, dashboards joining later will not see deliveries in progress")
	}

	token := ""
	if cfg.Transport == config.TransportMQTT && cfg.TokenServerURL != "" {
		token = auth.RequestToken(ctx, cfg.TokenServerURL, cfg.ViewerID, cfg.ClientSecret)
	}
	dial := newDialer(cfg, token, history.Store())

	gen := routegen.NewGenerator(directions.NewOSRMClient(cfg.OSRMBaseURL), routegen.Options{
		MinSpawnDistance: cfg.MinSpawnDistance,
		MaxSpawnRange:    cfg.MaxSpawnRange,
	})

	log.WithFields(log.Fields{
		"fleet_size": cfg.FleetSize,
		"viewer_id":  cfg.ViewerID,
		"interval":   cfg.TickInterval,
	}).Info("Starting fleet simulation")

	if err := runFleet(ctx, dial, gen, fleetOptions{
		ViewerID:     cfg.ViewerID,
		FleetSize:    cfg.FleetSize,
		Legs:         cfg.DispatchLegs,
		TickInterval: cfg.TickInterval,
	}); err != nil {
		log.WithError(err).Fatal("Fleet simulation failed")
	}
	log.Info("Fleet simulation stopped")
}
