package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

// HistoryStore adapts a HistoryCollection to transport.HistoryStore.
type HistoryStore struct {
	Collection HistoryCollection
}

var _ transport.HistoryStore = (*HistoryStore)(nil)

// Append records env.
func (s *HistoryStore) Append(ctx context.Context, env transport.Envelope) error {
	if s.Collection == nil {
		return ErrNilCollection
	}
	return s.Collection.InsertMessage(ctx, models.HistoryRecord{
		Channel:   env.Channel,
		Publisher: env.Publisher,
		Timetoken: env.Timetoken,
		Message:   string(env.Payload),
	})
}

// Recent returns up to count envelopes for channel, oldest first. Records
// whose payload is not valid JSON are skipped.
func (s *HistoryStore) Recent(ctx context.Context, channel string, count int) ([]transport.Envelope, error) {
	if s.Collection == nil {
		return nil, transport.ErrHistoryUnavailable
	}
	recs, err := s.Collection.FindRecent(ctx, channel, count)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrHistoryUnavailable, err)
	}
	out := make([]transport.Envelope, 0, len(recs))
	for _, r := range recs {
		if !json.Valid([]byte(r.Message)) {
			continue
		}
		out = append(out, transport.Envelope{
			Channel:   r.Channel,
			Publisher: r.Publisher,
			Timetoken: r.Timetoken,
			Payload:   json.RawMessage(r.Message),
		})
	}
	return out, nil
}
