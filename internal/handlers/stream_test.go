package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-delivery/internal/models"
	"github.com/ukydev/fleet-delivery/internal/tracker"
)

// versionedState serves whatever snapshot was last stored.
type versionedState struct {
	mu   sync.Mutex
	snap tracker.Snapshot
}

func (s *versionedState) Snapshot(context.Context) (tracker.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

func (s *versionedState) Select(context.Context, string) error { return nil }

func (s *versionedState) set(snap tracker.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func TestFleetHandler_Stream(t *testing.T) {
	state := &versionedState{snap: tracker.Snapshot{Version: 1}}
	h := NewFleetHandler(state, new(MockFleetController), depot, StreamOptions{PollInterval: 10 * time.Millisecond})

	srv := httptest.NewServer(http.HandlerFunc(h.Stream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, uint64(1), msg.Snapshot.Version)
	assert.Empty(t, msg.Snapshot.Vehicles)

	// Unchanged versions are not pushed again, so the next frame is version 2.
	state.set(tracker.Snapshot{Version: 2, Vehicles: []models.Vehicle{testVan}})
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, uint64(2), msg.Snapshot.Version)
	require.Len(t, msg.Snapshot.Vehicles, 1)
	assert.Equal(t, "sim_1", msg.Snapshot.Vehicles[0].ID)
}

func TestFleetHandler_StreamRejectsPlainHTTP(t *testing.T) {
	h := NewFleetHandler(&versionedState{}, new(MockFleetController), depot, StreamOptions{})

	w := httptest.NewRecorder()
	h.Stream(w, httptest.NewRequest(http.MethodGet, "/api/stream", nil))
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
}
