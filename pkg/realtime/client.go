package realtime

import (
	"context"
	"log/slog"
	"time"
)

// DefaultWebSocketURL is the default engine endpoint.
const DefaultWebSocketURL = "wss://api.openai.com/v1/realtime"

// Client dials engine sessions.
type Client struct {
	config *clientConfig
}

type clientConfig struct {
	apiKey           string
	organization     string
	project          string
	wsURL            string
	handshakeTimeout time.Duration
	sendQueue        int
	logger           *slog.Logger
}

// Option configures the Client.
type Option func(*clientConfig)

// NewClient creates a client. apiKey must not be empty.
func NewClient(apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		panic("realtime: API key is required")
	}
	cfg := &clientConfig{
		apiKey:           apiKey,
		wsURL:            DefaultWebSocketURL,
		handshakeTimeout: 10 * time.Second,
		sendQueue:        256,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Client{config: cfg}
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(orgID string) Option {
	return func(c *clientConfig) {
		c.organization = orgID
	}
}

// WithProject sets the OpenAI-Project header.
func WithProject(projectID string) Option {
	return func(c *clientConfig) {
		c.project = projectID
	}
}

// WithWebSocketURL overrides the engine endpoint.
func WithWebSocketURL(url string) Option {
	return func(c *clientConfig) {
		c.wsURL = url
	}
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.handshakeTimeout = d
	}
}

// WithSendQueue sets how many outbound frames may be queued per session
// before sends fail with ErrSendQueueFull.
func WithSendQueue(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.sendQueue = n
		}
	}
}

// WithLogger sets the logger for frame tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// Connect opens a session. If config.Session is set, session.update is
// queued before Connect returns.
func (c *Client) Connect(ctx context.Context, config *ConnectConfig) (Session, error) {
	return c.connectWebSocket(ctx, config)
}
