package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-delivery/internal/tracker"
)

// StreamOptions tunes the websocket push of fleet snapshots.
type StreamOptions struct {
	PollInterval   time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

func (o StreamOptions) withDefaults() StreamOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// StreamMessage is pushed to websocket clients whenever the fleet changes.
type StreamMessage struct {
	Type     string           `json:"type"`
	Snapshot tracker.Snapshot `json:"snapshot"`
}

// Stream upgrades to a websocket and pushes a snapshot every time the fleet
// state changes. Anything the client sends is discarded.
func (h *FleetHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.stream.OriginPatterns})
	if err != nil {
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	ctx := conn.CloseRead(r.Context())
	logger := log.WithField("client", r.RemoteAddr)
	logger.Debug("Stream client connected")

	poll := time.NewTicker(h.stream.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(h.stream.PingInterval)
	defer ping.Stop()

	var last uint64
	sent := false
	push := func() error {
		snap, err := h.state.Snapshot(ctx)
		if err != nil {
			return err
		}
		if sent && snap.Version == last {
			return nil
		}
		wctx, cancel := context.WithTimeout(ctx, h.stream.WriteTimeout)
		defer cancel()
		if err := wsjson.Write(wctx, conn, StreamMessage{Type: "snapshot", Snapshot: snap}); err != nil {
			return err
		}
		last, sent = snap.Version, true
		return nil
	}

	if err := push(); err != nil {
		logger.WithError(err).Debug("Stream closed")
		return
	}
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Stream client disconnected")
			return
		case <-poll.C:
			if err := push(); err != nil {
				logger.WithError(err).Debug("Stream closed")
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.stream.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				logger.WithError(err).Debug("Stream ping failed")
				return
			}
		}
	}
}
