package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/util"
)

// ErrClosed is returned by Send after the channel has been closed or the
// relay connection was lost.
var ErrClosed = errors.New("signaling channel closed")

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
	wsMaxFrame     = 256 << 10
)

// WSConfig configures DialWS.
type WSConfig struct {
	// URL of the relay endpoint, ws:// or wss://.
	URL string
	// Peer registers under this identity. Empty asks the relay to assign one.
	Peer call.PeerIdentity
	// OnAssigned receives the identity from the relay's welcome frame.
	OnAssigned func(call.PeerIdentity)
	Header     http.Header
	Logger     *zerolog.Logger
}

// WSChannel is a call.Signaler over one websocket to a relay.
type WSChannel struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	self   call.PeerIdentity
	subs   fanout
	closed bool

	onAssigned func(call.PeerIdentity)
	done       chan struct{}
	closeOnce  sync.Once
}

var _ call.Signaler = (*WSChannel)(nil)

// DialWS connects to the relay and starts the reader.
func DialWS(ctx context.Context, cfg WSConfig) (*WSChannel, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("signaling url: %w", err)
	}
	if cfg.Peer != "" {
		q := u.Query()
		q.Set("peer", string(cfg.Peer))
		u.RawQuery = q.Encode()
	}

	dctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
	defer cancel()
	conn, resp, err := websocket.DefaultDialer.DialContext(dctx, u.String(), cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", u.Redacted(), err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	lg := log.With().Str("component", "signaling").Str("transport", "ws").Logger()
	if cfg.Logger != nil {
		lg = *cfg.Logger
	}
	c := &WSChannel{
		conn:       conn,
		log:        lg,
		self:       cfg.Peer,
		onAssigned: cfg.OnAssigned,
		done:       make(chan struct{}),
	}
	conn.SetReadLimit(wsMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	go c.readLoop()
	go c.pingLoop()
	c.log.Info().Str("url", u.Redacted()).Str("peer", string(cfg.Peer)).Msg("connected to relay")
	return c, nil
}

// Self returns the identity registered with the relay, empty until the
// welcome frame arrives in assigned mode.
func (c *WSChannel) Self() call.PeerIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *WSChannel) Send(ctx context.Context, to call.PeerIdentity, msg call.NegotiationMessage) error {
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

	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return &call.ChannelError{Peer: to, Err: err}
	}
	return nil
}

func (c *WSChannel) Subscribe() (<-chan call.Envelope, func()) {
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

func (c *WSChannel) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn().Err(err).Msg("relay connection lost")
			}
			return
		}
		f, err := decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.handle(f)
	}
}

func (c *WSChannel) handle(f Frame) {
	switch f.Type {
	case FrameWelcome:
		id := call.PeerIdentity(f.PeerID)
		c.mu.Lock()
		if c.self == "" {
			c.self = id
		}
		c.mu.Unlock()
		c.log.Info().Str("peer", f.PeerID).Msg("relay assigned identity")
		if c.onAssigned != nil && id != "" {
			c.onAssigned(id)
		}
		return
	case FrameError:
		c.log.Warn().Str("error", f.Error).Msg("relay error")
		return
	}

	env, ok := f.Envelope()
	if !ok {
		c.log.Debug().Str("type", string(f.Type)).Msg("ignoring frame")
		return
	}
	c.mu.Lock()
	dropped := c.subs.deliver(env)
	c.mu.Unlock()
	if dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Str("type", string(f.Type)).Msg("slow subscriber")
	}
}

func (c *WSChannel) pingLoop() {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSChannel) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.subs.closeAll()
}

// Close sends a close frame and tears the connection down. Safe to call
// more than once.
func (c *WSChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.shutdown()
		err = c.conn.Close()
	})
	return err
}
