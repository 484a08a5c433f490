package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/transport"
)

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo("mongodb://bad:uri")
	if err == nil {
		t.Error("expected error for bad URI, got nil")
	}
	if client != nil {
		t.Error("expected nil client on error")
	}
}

func TestInsertMessage_NilCollection(t *testing.T) {
	coll := &MongoCollection{Collection: nil}
	err := coll.InsertMessage(context.Background(), models.HistoryRecord{})
	if !errors.Is(err, ErrNilCollection) {
		t.Errorf("expected ErrNilCollection, got %v", err)
	}
	_, err = coll.FindRecent(context.Background(), "vehicle.v", 10)
	assert.ErrorIs(t, err, ErrNilCollection)
	assert.ErrorIs(t, coll.EnsureIndexes(context.Background(), time.Hour), ErrNilCollection)
}

// fakeHistory keeps records in insertion order.
type fakeHistory struct {
	recs []models.HistoryRecord
	err  error
}

func (f *fakeHistory) InsertMessage(_ context.Context, rec models.HistoryRecord) error {
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeHistory) FindRecent(_ context.Context, channel string, limit int) ([]models.HistoryRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.HistoryRecord
	for _, r := range f.recs {
		if r.Channel == channel {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func TestHistoryStore_AppendRecent(t *testing.T) {
	ctx := context.Background()
	fake := &fakeHistory{}
	store := &HistoryStore{Collection: fake}

	for i := 1; i <= 3; i++ {
		err := store.Append(ctx, transport.Envelope{
			Channel:   "vehicle.v",
			Publisher: "sim_1",
			Timetoken: int64(i),
			Payload:   []byte(fmt.Sprintf(`{"state":"END_LEG","legId":"%d"}`, i)),
		})
		require.NoError(t, err)
	}
	fake.recs = append(fake.recs, models.HistoryRecord{Channel: "vehicle.v", Timetoken: 4, Message: "{broken"})
	require.NoError(t, store.Append(ctx, transport.Envelope{Channel: "vehicle.other", Payload: []byte(`{}`)}))

	got, err := store.Recent(ctx, "vehicle.v", 3)
	require.NoError(t, err)
	require.Len(t, got, 2, "invalid payloads are skipped")
	assert.Equal(t, int64(2), got[0].Timetoken)
	assert.Equal(t, "sim_1", got[0].Publisher)
	assert.JSONEq(t, `{"state":"END_LEG","legId":"3"}`, string(got[1].Payload))
}

func TestHistoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := (&HistoryStore{}).Recent(ctx, "c", 1)
	assert.ErrorIs(t, err, transport.ErrHistoryUnavailable)
	assert.ErrorIs(t, (&HistoryStore{}).Append(ctx, transport.Envelope{}), ErrNilCollection)

	store := &HistoryStore{Collection: &fakeHistory{err: errors.New("connection refused")}}
	_, err = store.Recent(ctx, "c", 1)
	assert.ErrorIs(t, err, transport.ErrHistoryUnavailable)
}

// Integration test (requires running MongoDB)
func TestMongoCollection_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
		return
	}
	client, err := ConnectMongo(uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
		return
	}
	defer client.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	coll := &MongoCollection{Collection: client.Database("test_fleet").Collection("history")}
	require.NoError(t, coll.DeleteAll(ctx))
	require.NoError(t, coll.EnsureIndexes(ctx, time.Hour))

	for i := 1; i <= 5; i++ {
		require.NoError(t, coll.InsertMessage(ctx, models.HistoryRecord{
			Channel:   "vehicle.v",
			Timetoken: int64(i),
			Message:   `{}`,
		}))
	}
	recs, err := coll.FindRecent(ctx, "vehicle.v", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), recs[0].Timetoken)
	assert.Equal(t, int64(5), recs[2].Timetoken)
}

func TestOpenHistory_BadURI(t *testing.T) {
	h, err := OpenHistory(context.Background(), "mongodb://bad:uri", "fleet_delivery", "history", time.Hour)
	assert.Error(t, err)
	assert.Nil(t, h)
}

func TestHistory_NilIsDisabled(t *testing.T) {
	var h *History
	assert.Nil(t, h.Store())
	assert.NotPanics(t, h.Close)

	h = &History{Collection: &MongoCollection{}}
	store, ok := h.Store().(*HistoryStore)
	require.True(t, ok)
	assert.Same(t, h.Collection, store.Collection)
}
