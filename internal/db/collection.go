package db

import (
	"context"

	"github.com/ukydev/fleet-delivery/internal/models"
)

// HistoryCollection defines the interface for retained message operations.
type HistoryCollection interface {
	InsertMessage(ctx context.Context, rec models.HistoryRecord) error
	FindRecent(ctx context.Context, channel string, limit int) ([]models.HistoryRecord, error)
}

// HistoryCursor defines the interface for history cursor operations.
type HistoryCursor interface {
	All(ctx context.Context, out interface{}) error
	Close(ctx context.Context) error
}
