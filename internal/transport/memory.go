package transport

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultRetention is how many messages the in-memory broker keeps per channel.
const DefaultRetention = 1000

// Broker is an in-process transport. Every client gets its own ordered
// delivery goroutine so a slow listener never blocks publishers.
type Broker struct {
	mu        sync.Mutex
	clients   map[*memClient]struct{}
	history   map[string][]Envelope
	retention int
	lastToken int64
	store     HistoryStore
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithRetention caps the in-memory history kept per channel.
func WithRetention(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.retention = n
		}
	}
}

// WithHistoryStore persists published messages to store and serves history from it.
func WithHistoryStore(store HistoryStore) BrokerOption {
	return func(b *Broker) { b.store = store }
}

func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		clients:   make(map[*memClient]struct{}),
		history:   make(map[string][]Envelope),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dial connects a new in-process client. It satisfies Dialer.
func (b *Broker) Dial(ctx context.Context, uuid string) (PubSub, error) {
	c := &memClient{
		broker: b,
		uuid:   uuid,
		subs:   make(map[string]bool),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	go c.deliverLoop()
	return c, nil
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// nextToken must be called with b.mu held.
func (b *Broker) nextToken() int64 {
	tt := time.Now().UnixNano() / 100
	if tt <= b.lastToken {
		tt = b.lastToken + 1
	}
	b.lastToken = tt
	return tt
}

func (b *Broker) publish(ctx context.Context, env Envelope, durable bool) Envelope {
	b.mu.Lock()
	env.Timetoken = b.nextToken()
	if durable {
		h := append(b.history[env.Channel], env)
		if len(h) > b.retention {
			h = h[len(h)-b.retention:]
		}
		b.history[env.Channel] = h
	}
	for c := range b.clients {
		if c.subscribed(env.Channel) {
			if durable {
				c.enqueue(delivery{message: &env})
			} else {
				c.enqueue(delivery{signal: &env})
			}
		}
	}
	store := b.store
	b.mu.Unlock()

	if durable && store != nil {
		if err := store.Append(ctx, env); err != nil {
			log.WithError(err).WithField("channel", env.Channel).Warn("Failed to persist message history")
		}
	}
	return env
}

// announce must be called with b.mu held.
func (b *Broker) announce(channel, uuid, action string) {
	ev := PresenceEvent{Channel: channel, UUID: uuid, Action: action, Timetoken: b.nextToken()}
	for c := range b.clients {
		if c.wantsPresence(channel) {
			c.enqueue(delivery{presence: &ev})
		}
	}
}

func (b *Broker) recent(ctx context.Context, channel string, count int) ([]Envelope, error) {
	b.mu.Lock()
	store := b.store
	if store == nil {
		h := b.history[channel]
		if count > 0 && len(h) > count {
			h = h[len(h)-count:]
		}
		out := make([]Envelope, len(h))
		copy(out, h)
		b.mu.Unlock()
		return out, nil
	}
	b.mu.Unlock()
	return store.Recent(ctx, channel, count)
}

type delivery struct {
	message  *Envelope
	signal   *Envelope
	presence *PresenceEvent
}

type memClient struct {
	broker *Broker
	uuid   string

	// subs maps channel or pattern to its presence flag. Guarded by broker.mu.
	subs   map[string]bool
	closed bool

	qmu       sync.Mutex
	queue     []delivery
	listeners []Listener
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (c *memClient) UUID() string { return c.uuid }

func (c *memClient) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := c.check(ctx, channel); err != nil {
		return 0, err
	}
	if IsPattern(channel) {
		return 0, ErrInvalidChannel
	}
	env := c.broker.publish(ctx, Envelope{Channel: channel, Publisher: c.uuid, Payload: append([]byte(nil), payload...)}, true)
	return env.Timetoken, nil
}

func (c *memClient) Signal(ctx context.Context, channel string, payload []byte) error {
	if err := c.check(ctx, channel); err != nil {
		return err
	}
	if IsPattern(channel) {
		return ErrInvalidChannel
	}
	c.broker.publish(ctx, Envelope{Channel: channel, Publisher: c.uuid, Payload: append([]byte(nil), payload...)}, false)
	return nil
}

func (c *memClient) Subscribe(ctx context.Context, channels []string, withPresence bool) error {
	for _, ch := range channels {
		if err := c.check(ctx, ch); err != nil {
			return err
		}
	}
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range channels {
		_, already := c.subs[ch]
		c.subs[ch] = c.subs[ch] || withPresence
		if !already && !IsPattern(ch) {
			b.announce(ch, c.uuid, PresenceJoin)
		}
	}
	return nil
}

func (c *memClient) Unsubscribe(ctx context.Context, channels []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, ch := range channels {
		if _, ok := c.subs[ch]; !ok {
			continue
		}
		delete(c.subs, ch)
		if !IsPattern(ch) {
			b.announce(ch, c.uuid, PresenceLeave)
		}
	}
	return nil
}

func (c *memClient) AddListener(l Listener) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *memClient) FetchHistory(ctx context.Context, channel string, count int) ([]Envelope, error) {
	if err := c.check(ctx, channel); err != nil {
		return nil, err
	}
	return c.broker.recent(ctx, channel, count)
}

// Close leaves every subscribed channel and stops delivery.
func (c *memClient) Close() error {
	c.closeOnce.Do(func() {
		b := c.broker
		b.mu.Lock()
		c.closed = true
		delete(b.clients, c)
		for ch := range c.subs {
			if !IsPattern(ch) {
				b.announce(ch, c.uuid, PresenceLeave)
			}
		}
		c.subs = make(map[string]bool)
		b.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *memClient) check(ctx context.Context, channel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.broker.mu.Lock()
	closed := c.closed
	c.broker.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ValidateChannel(channel)
}

// subscribed must be called with broker.mu held.
func (c *memClient) subscribed(channel string) bool {
	for pattern := range c.subs {
		if MatchChannel(pattern, channel) {
			return true
		}
	}
	return false
}

// wantsPresence must be called with broker.mu held.
func (c *memClient) wantsPresence(channel string) bool {
	for pattern, presence := range c.subs {
		if presence && MatchChannel(pattern, channel) {
			return true
		}
	}
	return false
}

func (c *memClient) enqueue(d delivery) {
	c.qmu.Lock()
	c.queue = append(c.queue, d)
	c.qmu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *memClient) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}
		c.qmu.Lock()
		batch := c.queue
		c.queue = nil
		listeners := append([]Listener(nil), c.listeners...)
		c.qmu.Unlock()

		for _, d := range batch {
			for _, l := range listeners {
				switch {
				case d.message != nil && l.Message != nil:
					l.Message(*d.message)
				case d.signal != nil && l.Signal != nil:
					l.Signal(*d.signal)
				case d.presence != nil && l.Presence != nil:
					l.Presence(*d.presence)
				}
			}
		}
	}
}
