package signaling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/util"
)

const mqttQoS = 1

// MQTTConfig configures DialMQTT.
type MQTTConfig struct {
	// Broker is tcp://, ssl://, ws:// or wss://host:port.
	Broker      string
	TopicPrefix string
	Peer        call.PeerIdentity
	Username    string
	Password    string
	Logger      *zerolog.Logger
}

// MQTTChannel is a call.Signaler over an MQTT broker. Each peer subscribes
// to <prefix>/<peer>; Send publishes to <prefix>/<to>. The broker cannot
// report an offline recipient, so undeliverable frames never arrive here and
// the negotiation timeout covers that case.
type MQTTChannel struct {
	client mqtt.Client
	prefix string
	self   call.PeerIdentity
	log    zerolog.Logger

	// subscribed reports the outcome of the first inbox subscription.
	subscribed chan error
	subOnce    sync.Once

	mu     sync.Mutex
	subs   fanout
	closed bool
}

var _ call.Signaler = (*MQTTChannel)(nil)

// InboxTopic is where peer receives frames.
func InboxTopic(prefix string, peer call.PeerIdentity) string {
	return strings.TrimRight(prefix, "/") + "/" + string(peer)
}

// DialMQTT connects, subscribes to the peer's inbox and returns once the
// subscription is acknowledged.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*MQTTChannel, error) {
	if _, err := util.ValidatePeerName(string(cfg.Peer)); err != nil {
		return nil, fmt.Errorf("mqtt peer: %w", err)
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		return nil, errors.New("mqtt topic prefix is required")
	}

	c := &MQTTChannel{
		prefix:     cfg.TopicPrefix,
		self:       cfg.Peer,
		log:        log.With().Str("component", "signaling").Str("transport", "mqtt").Logger(),
		subscribed: make(chan error, 1),
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("peercall-" + string(cfg.Peer))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(util.DefaultConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn().Err(err).Msg("broker connection lost")
	})
	// Clean sessions drop subscriptions on reconnect.
	opts.SetOnConnectHandler(c.onConnect)

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	if err := waitToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	if err := c.waitSubscribed(ctx); err != nil {
		c.client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe %s: %w", c.inbox(), err)
	}
	c.log.Info().Str("broker", cfg.Broker).Str("topic", c.inbox()).Msg("connected to broker")
	return c, nil
}

// onConnect (re)subscribes to the inbox. The first outcome is handed to
// DialMQTT; later ones are only logged.
func (c *MQTTChannel) onConnect(cl mqtt.Client) {
	tok := cl.Subscribe(c.inbox(), mqttQoS, c.onMessage)
	go func() {
		var err error
		if !tok.WaitTimeout(util.DefaultConnectTimeout) {
			err = errors.New("subscribe timed out")
		} else {
			err = tok.Error()
		}
		if err != nil {
			c.log.Error().Err(err).Str("topic", c.inbox()).Msg("subscribe failed")
		}
		c.subOnce.Do(func() { c.subscribed <- err })
	}()
}

func (c *MQTTChannel) waitSubscribed(ctx context.Context) error {
	select {
	case err := <-c.subscribed:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * util.DefaultConnectTimeout):
		return errors.New("no subscription acknowledgement")
	}
}

func (c *MQTTChannel) inbox() string { return InboxTopic(c.prefix, c.self) }

func (c *MQTTChannel) onMessage(_ mqtt.Client, m mqtt.Message) {
	f, err := decode(m.Payload())
	if err != nil {
		c.log.Warn().Err(err).Str("topic", m.Topic()).Msg("dropping malformed frame")
		return
	}
	env, ok := f.Envelope()
	if !ok {
		return
	}
	c.mu.Lock()
	dropped := c.subs.deliver(env)
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Msg("slow subscriber")
	}
}

func (c *MQTTChannel) Send(ctx context.Context, to call.PeerIdentity, msg call.NegotiationMessage) error {
	f, err := FrameFor(to, msg)
	if err != nil {
		return err
	}
	b, err := encode(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return &call.ChannelError{Peer: to, Err: ErrClosed}
	}
	tok := c.client.Publish(InboxTopic(c.prefix, to), mqttQoS, false, b)
	if err := waitToken(ctx, tok); err != nil {
		return &call.ChannelError{Peer: to, Err: err}
	}
	return nil
}

func (c *MQTTChannel) Subscribe() (<-chan call.Envelope, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		ch := make(chan call.Envelope)
		close(ch)
		return ch, func() {}
	}
	ch := c.subs.add(32)
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.subs.remove(ch) {
			close(ch)
		}
	}
}

// Close unsubscribes and disconnects. Safe to call more than once.
func (c *MQTTChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.subs.closeAll()
	c.mu.Unlock()

	if c.client.IsConnected() {
		c.client.Unsubscribe(c.inbox()).WaitTimeout(time.Second)
	}
	c.client.Disconnect(250)
	return nil
}

// waitToken blocks until tok completes or ctx is done.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
