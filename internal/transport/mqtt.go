package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Topic layout under the configured prefix:
//
//	{prefix}/m/{channel}   durable messages, QoS 1
//	{prefix}/s/{channel}   signals, QoS 0
//	{prefix}/p/{channel}   presence events
//	{prefix}/w             last-will timeouts
const (
	kindMessage  = "m"
	kindSignal   = "s"
	kindPresence = "p"
	willTopic    = "w"
)

// MQTTConfig configures an MQTT-backed client.
type MQTTConfig struct {
	BrokerURL   string
	TopicPrefix string
	// Token, when set, is sent as the MQTT password.
	Token          string
	ConnectTimeout time.Duration
	History        HistoryStore
}

// frame is the MQTT payload for messages and signals. Publisher and
// timetoken have no native MQTT equivalent.
type frame struct {
	Publisher string          `json:"p"`
	Timetoken int64           `json:"tt"`
	Payload   json.RawMessage `json:"d"`
}

// MQTTClient implements PubSub over an MQTT broker. Wildcard channels map to
// a single-level "+" filter and are narrowed again with MatchChannel.
type MQTTClient struct {
	cfg    MQTTConfig
	uuid   string
	client mqtt.Client

	mu        sync.Mutex
	subs      map[string]bool
	listeners []Listener
	lastToken int64
}

// NewMQTTDialer returns a Dialer that connects MQTT clients with cfg.
func NewMQTTDialer(cfg MQTTConfig) Dialer {
	return func(ctx context.Context, uuid string) (PubSub, error) {
		return DialMQTT(ctx, cfg, uuid)
	}
}

// DialMQTT connects to the broker as uuid.
func DialMQTT(ctx context.Context, cfg MQTTConfig, uuid string) (*MQTTClient, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "fleet"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	c := &MQTTClient{cfg: cfg, uuid: uuid, subs: make(map[string]bool)}

	will, _ := json.Marshal(PresenceEvent{UUID: uuid, Action: PresenceTimeout})
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(uuid).
		SetUsername(uuid).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(true).
		SetWill(c.topic(willTopic, ""), string(will), 1, false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).WithField("uuid", uuid).Warn("MQTT connection lost")
		})
	if cfg.Token != "" {
		opts.SetPassword(cfg.Token)
	}
	c.client = mqtt.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := wait(ctx, c.client.Connect()); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	log.WithFields(log.Fields{"broker": cfg.BrokerURL, "uuid": uuid}).Info("Connected to MQTT broker")
	return c, nil
}

func (c *MQTTClient) UUID() string { return c.uuid }

func (c *MQTTClient) topic(kind, channel string) string {
	if channel == "" {
		return c.cfg.TopicPrefix + "/" + kind
	}
	return c.cfg.TopicPrefix + "/" + kind + "/" + channel
}

// filter converts a channel or pattern to an MQTT topic filter.
func (c *MQTTClient) filter(kind, channel string) string {
	if IsPattern(channel) {
		return c.topic(kind, "+")
	}
	return c.topic(kind, channel)
}

// channelOf extracts the channel name from a received topic.
func (c *MQTTClient) channelOf(kind, topic string) (string, bool) {
	return strings.CutPrefix(topic, c.cfg.TopicPrefix+"/"+kind+"/")
}

func (c *MQTTClient) nextToken() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	tt := time.Now().UnixNano() / 100
	if tt <= c.lastToken {
		tt = c.lastToken + 1
	}
	c.lastToken = tt
	return tt
}

func (c *MQTTClient) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := ValidateChannel(channel); err != nil || IsPattern(channel) {
		return 0, ErrInvalidChannel
	}
	env := Envelope{Channel: channel, Publisher: c.uuid, Timetoken: c.nextToken(), Payload: payload}
	b, err := json.Marshal(frame{Publisher: env.Publisher, Timetoken: env.Timetoken, Payload: payload})
	if err != nil {
		return 0, err
	}
	if err := wait(ctx, c.client.Publish(c.topic(kindMessage, channel), 1, false, b)); err != nil {
		return 0, fmt.Errorf("publish to %s failed: %w", channel, err)
	}
	if c.cfg.History != nil {
		if err := c.cfg.History.Append(ctx, env); err != nil {
			log.WithError(err).WithField("channel", channel).Warn("Failed to persist message history")
		}
	}
	return env.Timetoken, nil
}

func (c *MQTTClient) Signal(ctx context.Context, channel string, payload []byte) error {
	if err := ValidateChannel(channel); err != nil || IsPattern(channel) {
		return ErrInvalidChannel
	}
	b, err := json.Marshal(frame{Publisher: c.uuid, Timetoken: c.nextToken(), Payload: payload})
	if err != nil {
		return err
	}
	// QoS 0 is fire and forget, the token completes once written.
	return wait(ctx, c.client.Publish(c.topic(kindSignal, channel), 0, false, b))
}

func (c *MQTTClient) Subscribe(ctx context.Context, channels []string, withPresence bool) error {
	for _, ch := range channels {
		if err := ValidateChannel(ch); err != nil {
			return err
		}
	}
	c.mu.Lock()
	for _, ch := range channels {
		c.subs[ch] = c.subs[ch] || withPresence
	}
	c.mu.Unlock()

	if err := c.subscribeTopics(ctx, channels, withPresence); err != nil {
		return err
	}
	for _, ch := range channels {
		if !IsPattern(ch) {
			c.announce(ctx, ch, PresenceJoin)
		}
	}
	return nil
}

func (c *MQTTClient) subscribeTopics(ctx context.Context, channels []string, withPresence bool) error {
	filters := make(map[string]byte)
	for _, ch := range channels {
		filters[c.filter(kindMessage, ch)] = 1
		filters[c.filter(kindSignal, ch)] = 0
		if withPresence {
			filters[c.filter(kindPresence, ch)] = 1
			filters[c.topic(willTopic, "")] = 1
		}
	}
	if err := wait(ctx, c.client.SubscribeMultiple(filters, c.route)); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	return nil
}

func (c *MQTTClient) Unsubscribe(ctx context.Context, channels []string) error {
	var topics []string
	c.mu.Lock()
	for _, ch := range channels {
		if _, ok := c.subs[ch]; !ok {
			continue
		}
		delete(c.subs, ch)
		topics = append(topics, c.filter(kindMessage, ch), c.filter(kindSignal, ch), c.filter(kindPresence, ch))
	}
	c.mu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	if err := wait(ctx, c.client.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("unsubscribe failed: %w", err)
	}
	for _, ch := range channels {
		if !IsPattern(ch) {
			c.announce(ctx, ch, PresenceLeave)
		}
	}
	return nil
}

func (c *MQTTClient) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *MQTTClient) FetchHistory(ctx context.Context, channel string, count int) ([]Envelope, error) {
	if c.cfg.History == nil {
		return nil, ErrHistoryUnavailable
	}
	return c.cfg.History.Recent(ctx, channel, count)
}

// Close announces leave on every concrete channel and disconnects.
func (c *MQTTClient) Close() error {
	c.mu.Lock()
	var channels []string
	for ch := range c.subs {
		if !IsPattern(ch) {
			channels = append(channels, ch)
		}
	}
	c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, ch := range channels {
		c.announce(ctx, ch, PresenceLeave)
	}
	c.client.Disconnect(250)
	return nil
}

func (c *MQTTClient) announce(ctx context.Context, channel, action string) {
	b, _ := json.Marshal(PresenceEvent{Channel: channel, UUID: c.uuid, Action: action, Timetoken: c.nextToken()})
	if err := wait(ctx, c.client.Publish(c.topic(kindPresence, channel), 1, false, b)); err != nil {
		log.WithError(err).WithFields(log.Fields{"channel": channel, "action": action}).Warn("Failed to announce presence")
	}
}

// onConnect restores subscriptions after an automatic reconnect.
func (c *MQTTClient) onConnect(mqtt.Client) {
	c.mu.Lock()
	plain, presence := []string{}, []string{}
	for ch, p := range c.subs {
		if p {
			presence = append(presence, ch)
		} else {
			plain = append(plain, ch)
		}
	}
	c.mu.Unlock()
	if len(plain)+len(presence) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()
	for _, set := range []struct {
		channels []string
		presence bool
	}{{plain, false}, {presence, true}} {
		if len(set.channels) == 0 {
			continue
		}
		if err := c.subscribeTopics(ctx, set.channels, set.presence); err != nil {
			log.WithError(err).Warn("Failed to restore MQTT subscriptions")
		}
	}
}

// route decodes an inbound MQTT message and hands it to the listeners.
func (c *MQTTClient) route(_ mqtt.Client, m mqtt.Message) {
	topic := m.Topic()
	if topic == c.topic(willTopic, "") {
		var ev PresenceEvent
		if err := json.Unmarshal(m.Payload(), &ev); err == nil {
			c.dispatchPresence(ev)
		}
		return
	}
	for _, kind := range []string{kindMessage, kindSignal, kindPresence} {
		channel, ok := c.channelOf(kind, topic)
		if !ok {
			continue
		}
		if !c.wants(channel, kind == kindPresence) {
			return
		}
		if kind == kindPresence {
			var ev PresenceEvent
			if err := json.Unmarshal(m.Payload(), &ev); err != nil {
				log.WithError(err).WithField("topic", topic).Debug("Dropping malformed presence event")
				return
			}
			ev.Channel = channel
			c.dispatchPresence(ev)
			return
		}
		var f frame
		if err := json.Unmarshal(m.Payload(), &f); err != nil {
			log.WithError(err).WithField("topic", topic).Debug("Dropping malformed frame")
			return
		}
		env := Envelope{Channel: channel, Publisher: f.Publisher, Timetoken: f.Timetoken, Payload: f.Payload}
		for _, l := range c.snapshotListeners() {
			if kind == kindMessage && l.Message != nil {
				l.Message(env)
			} else if kind == kindSignal && l.Signal != nil {
				l.Signal(env)
			}
		}
		return
	}
}

func (c *MQTTClient) dispatchPresence(ev PresenceEvent) {
	for _, l := range c.snapshotListeners() {
		if l.Presence != nil {
			l.Presence(ev)
		}
	}
}

func (c *MQTTClient) wants(channel string, presence bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pattern, p := range c.subs {
		if MatchChannel(pattern, channel) && (!presence || p) {
			return true
		}
	}
	return false
}

func (c *MQTTClient) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
