package db

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/transport"
	"go.mongodb.org/mongo-driver/mongo"
)

// History is an open Mongo-backed message history shared by every process
// publishing to or reading from the same channels.
type History struct {
	client     *mongo.Client
	Collection *MongoCollection
}

// OpenHistory connects to uri and prepares database.collection for message
// history. Messages older than retention expire when retention is positive.
func OpenHistory(ctx context.Context, uri, database, collection string, retention time.Duration) (*History, error) {
	client, err := ConnectMongo(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	coll := &MongoCollection{Collection: client.Database(database).Collection(collection)}
	if err := coll.EnsureIndexes(ctx, retention); err != nil {
		log.WithError(err).Warn("Failed to create history indexes")
	}
	log.WithFields(log.Fields{"db": database, "collection": collection}).Info("Connected to MongoDB")
	return &History{client: client, Collection: coll}, nil
}

// Store returns the transport view of h, or nil when h is nil.
func (h *History) Store() transport.HistoryStore {
	if h == nil {
		return nil
	}
	return &HistoryStore{Collection: h.Collection}
}

// Close disconnects from MongoDB. It is a no-op on a nil History.
func (h *History) Close() {
	if h == nil || h.client == nil {
		return
	}
	if err := h.client.Disconnect(context.Background()); err != nil {
		log.WithError(err).Warn("Failed to disconnect from MongoDB")
	}
}
