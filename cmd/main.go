package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
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
	"github.com/ukydev/fleet-delivery/internal/handlers"
	"github.com/ukydev/fleet-delivery/internal/middleware"
	"github.com/ukydev/fleet-delivery/internal/protocol"
	"github.com/ukydev/fleet-delivery/internal/routegen"
	"github.com/ukydev/fleet-delivery/internal/simulator"
	"github.com/ukydev/fleet-delivery/internal/tracker"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

// app is one dashboard: its transport client, its fleet of dispatched
// vehicles and the synchronized view served over HTTP.
type app struct {
	viewerID   string
	handler    http.Handler
	sync       *tracker.Synchronizer
	fleet      *simulator.Fleet
	dispatcher *dispatch.Dispatcher
	client     transport.PubSub
	syncDone   chan struct{}
	closers    []func()
}

func newApp(ctx context.Context, cfg *config.Config, authService *auth.Service) (*app, error) {
	a := &app{viewerID: cfg.ViewerID, syncDone: make(chan struct{})}
	if a.viewerID == "" {
		a.viewerID = uuid.NewString()
	}
	channel := protocol.ViewerChannel(a.viewerID)
	logger := log.WithFields(log.Fields{"viewer_id": a.viewerID, "transport": cfg.Transport})

	history, err := openHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, history.Close)

	dial, err := newDialer(ctx, cfg, authService, a.viewerID, history.Store())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.client, err = dial(ctx, a.viewerID)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect dashboard: %w", err)
	}

	gen := routegen.NewGenerator(directions.NewOSRMClient(cfg.OSRMBaseURL), routegen.Options{
		MinSpawnDistance: cfg.MinSpawnDistance,
		MaxSpawnRange:    cfg.MaxSpawnRange,
	})
	a.fleet = simulator.NewFleet(ctx, dial)
	a.dispatcher = dispatch.New(gen, a.fleet, a.client, dispatch.Options{
		Channel:      channel,
		Legs:         cfg.DispatchLegs,
		MaxActive:    cfg.MaxActiveVehicles,
		TickInterval: cfg.TickInterval,
	})
	a.fleet.OnExit(func(id string) {
		log.WithField("vehicle_id", id).Info("Vehicle finished")
	})

	a.sync = tracker.New(tracker.Options{
		Channel:      channel,
		TickInterval: cfg.TickInterval,
		StaleAfter:   cfg.StaleAfter,
		Geocoder:     directions.NewNominatimClient(cfg.GeocoderBaseURL),
		Controller:   a.dispatcher,
	})
	go func() {
		defer close(a.syncDone)
		a.sync.Run(ctx)
	}()
	if err := a.sync.Start(ctx, a.client); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	fleetHandler := handlers.NewFleetHandler(a.sync, a.dispatcher, cfg.Origin, handlers.StreamOptions{})
	a.handler = handlers.NewRouter(
		handlers.NewAuthHandler(authService),
		fleetHandler,
		middleware.NewAuthMiddleware(authService),
		middleware.NewRateLimitMiddleware(),
	)
	logger.WithField("channel", channel).Info("Dashboard ready")
	return a, nil
}

// Close stops every vehicle and releases the transport and history store.
func (a *app) Close() {
	if a.fleet != nil {
		a.fleet.StopAll()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			log.WithError(err).Warn("Failed to close transport client")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openHistory connects the Mongo history when MONGO_URI is set.
func openHistory(ctx context.Context, cfg *config.Config) (*db.History, error) {
	if cfg.MongoURI == "" {
		return nil, nil
	}
	return db.OpenHistory(ctx, cfg.MongoURI, cfg.MongoDB, cfg.HistoryCollection, cfg.HistoryRetention)
}

// newDialer returns the transport every client of this process connects through.
func newDialer(ctx context.Context, cfg *config.Config, authService *auth.Service, viewerID string, history transport.HistoryStore) (transport.Dialer, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		var opts []transport.BrokerOption
		if history != nil {
			opts = append(opts, transport.WithHistoryStore(history))
		}
		return transport.NewBroker(opts...).Dial, nil
	case config.TransportMQTT:
		token, err := transportToken(ctx, cfg, authService, viewerID)
		if err != nil {
			return nil, err
		}
		return transport.NewMQTTDialer(transport.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Token:       token,
			History:     history,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// transportToken asks TOKEN_SERVER_URL for a credential when one is
// configured and otherwise signs one locally.
func transportToken(ctx context.Context, cfg *config.Config, authService *auth.Service, viewerID string) (string, error) {
	if cfg.TokenServerURL != "" {
		token := auth.RequestToken(ctx, cfg.TokenServerURL, viewerID, cfg.ClientSecret)
		if token == "" {
			log.Warn("Connecting to the broker without a token")
		}
		return token, nil
	}
	token, _, err := authService.GrantToken(viewerID)
	if err != nil {
		return "", fmt.Errorf("failed to sign transport token: %w", err)
	}
	return token, nil
}

// printSecretHash writes the value to use as TOKEN_CLIENT_SECRET_HASH for secret.
func printSecretHash(w io.Writer, authService *auth.Service, secret string) error {
	hash, err := authService.HashSecret(secret)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

func main() {
	hashSecret := flag.String("hash-secret", "", "print the TOKEN_CLIENT_SECRET_HASH for a client secret and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.ConfigureLogging()

	authService, err := auth.NewService()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize auth service")
	}
	if *hashSecret != "" {
		if err := printSecretHash(os.Stdout, authService, *hashSecret); err != nil {
			log.WithError(err).Fatal("Failed to hash client secret")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, authService)
	if err != nil {
		log.WithError(err).Fatal("Failed to start dashboard")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown failed")
	}
	a.Close()
	<-a.syncDone
}
