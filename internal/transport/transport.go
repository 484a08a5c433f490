// Package transport is the publish/subscribe fabric between simulators and
// dashboards: durable messages, best-effort signals, presence and a bounded
// per-channel history.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrClosed             = errors.New("transport closed")
	ErrInvalidChannel     = errors.New("invalid channel name")
	ErrHistoryUnavailable = errors.New("history unavailable")
)

// Presence actions.
const (
	PresenceJoin    = "join"
	PresenceLeave   = "leave"
	PresenceTimeout = "timeout"
)

// Envelope is one message or signal as delivered to a listener.
type Envelope struct {
	Channel   string          `json:"channel" bson:"channel"`
	Publisher string          `json:"publisher" bson:"publisher"`
	Timetoken int64           `json:"timetoken" bson:"timetoken"`
	Payload   json.RawMessage `json:"message" bson:"-"`
}

// PresenceEvent reports a client joining or leaving a channel.
type PresenceEvent struct {
	Channel   string `json:"channel"`
	UUID      string `json:"uuid"`
	Action    string `json:"action"`
	Timetoken int64  `json:"timetoken"`
}

// Online reports whether the action leaves the client connected.
func (p PresenceEvent) Online() bool { return p.Action == PresenceJoin }

// Listener receives events for a client's subscriptions. Nil callbacks are skipped.
// Callbacks for one client are invoked sequentially.
type Listener struct {
	Message  func(Envelope)
	Signal   func(Envelope)
	Presence func(PresenceEvent)
}

// PubSub is one connected transport client.
type PubSub interface {
	UUID() string
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Signal(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels []string, withPresence bool) error
	Unsubscribe(ctx context.Context, channels []string) error
	AddListener(l Listener)
	FetchHistory(ctx context.Context, channel string, count int) ([]Envelope, error)
	Close() error
}

// Dialer connects a new client identified by uuid.
type Dialer func(ctx context.Context, uuid string) (PubSub, error)

// HistoryStore persists published messages so late joiners can catch up.
type HistoryStore interface {
	Append(ctx context.Context, env Envelope) error
	Recent(ctx context.Context, channel string, count int) ([]Envelope, error)
}

// MatchChannel reports whether channel is covered by pattern. A pattern
// ending in ".*" matches every channel sharing its prefix.
func MatchChannel(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasSuffix(prefix, ".") {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// IsPattern reports whether name is a wildcard subscription.
func IsPattern(name string) bool {
	return strings.HasSuffix(name, ".*")
}

// ValidateChannel rejects names that cannot be carried on every backend.
func ValidateChannel(name string) error {
	if name == "" || strings.ContainsAny(name, "/+# ") {
		return ErrInvalidChannel
	}
	if i := strings.Index(name, "*"); i >= 0 && !(IsPattern(name) && i == len(name)-1) {
		return ErrInvalidChannel
	}
	return nil
}
