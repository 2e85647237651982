package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/drawctl/internal/protocol"
	"github.com/danmuck/drawctl/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRelayURLRequired = errors.New("agent: relay url required")
	ErrInvalidRelayURL  = errors.New("agent: invalid relay url")
	ErrExecutorRequired = errors.New("agent: executor required")
)

type Config struct {
	URL       string
	Token     string
	SessionID string
	Filename  string
	Session   session.Config
	// MaxAttempts bounds consecutive failed connections; 0 retries forever.
	MaxAttempts int
}

func DefaultConfig() Config {
	return Config{
		URL:      "ws://127.0.0.1:3000/ws",
		Filename: "Untitled",
		Session:  session.DefaultConfig(),
	}
}

// Client keeps one connection to the relay open and serves its commands.
type Client struct {
	cfg      Config
	executor Executor
	dialer   websocket.Dialer

	connectedMu sync.Mutex
	connected   chan struct{}
}

func NewClient(cfg Config, executor Executor) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrRelayURLRequired
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRelayURL, cfg.URL)
	}
	if executor == nil {
		return nil, ErrExecutorRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if u.Scheme == "wss" {
		cfg.Session.TLS.Enabled = true
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.SessionID) == "" {
		cfg.SessionID = "session-" + uuid.NewString()
	}
	tlsCfg, err := cfg.Session.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		executor: executor,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Session.HandshakeTimeout,
			TLSClientConfig:  tlsCfg,
		},
		connected: make(chan struct{}),
	}, nil
}

func (c *Client) SessionID() string {
	return c.cfg.SessionID
}

// Connected is closed after the next successful handshake.
func (c *Client) Connected() <-chan struct{} {
	c.connectedMu.Lock()
	defer c.connectedMu.Unlock()
	return c.connected
}

// Run serves the relay until ctx is done, reconnecting after every drop.
// It returns nil on cancellation, or the last error once MaxAttempts
// consecutive connection attempts have failed.
func (c *Client) Run(ctx context.Context) error {
	b := session.NewBackOff(c.cfg.Session.Backoff)
	failures := 0
	for {
		served, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if served {
			failures = 0
			b.Reset()
		} else {
			failures++
			if c.cfg.MaxAttempts > 0 && failures >= c.cfg.MaxAttempts {
				return err
			}
		}

		delay := b.NextBackOff()
		log.Warn().Err(err).Str("url", c.cfg.URL).Int("failures", failures).Dur("retry_in", delay).Msg("agent.disconnected")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce reports whether a connection was established before it ended.
func (c *Client) runOnce(ctx context.Context) (bool, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	hello, err := protocol.EncodeHello(protocol.Hello{SessionID: c.cfg.SessionID, Filename: c.cfg.Filename})
	if err != nil {
		return true, err
	}
	if err := c.write(conn, hello); err != nil {
		return true, fmt.Errorf("send hello: %w", err)
	}
	log.Info().Str("url", c.cfg.URL).Str("session_id", c.cfg.SessionID).Msg("agent.connected")
	c.markConnected()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	conn.SetReadLimit(c.cfg.Session.MaxMessageBytes)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("agent.command_malformed")
			continue
		}
		res := c.executor.Execute(ctx, cmd)
		reply, err := protocol.EncodeResultEnvelope(cmd.ID, res)
		if err != nil {
			log.Error().Err(err).Str("command_id", cmd.ID).Msg("agent.reply_encode_failed")
			continue
		}
		if err := c.write(conn, reply); err != nil {
			return true, fmt.Errorf("send result: %w", err)
		}
		log.Debug().Str("command_id", cmd.ID).Str("action", cmd.Action).Bool("success", res.Success).Msg("agent.command_done")
	}
}

func (c *Client) markConnected() {
	c.connectedMu.Lock()
	defer c.connectedMu.Unlock()
	close(c.connected)
	c.connected = make(chan struct{})
}

// write sends one data frame. Only the read loop goroutine writes data
// frames; control frames from the ping handler may interleave.
func (c *Client) write(conn *websocket.Conn, payload []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
