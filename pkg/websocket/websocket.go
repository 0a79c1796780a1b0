package websocketPkg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

const (
	defaultRealtimeURL   = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel = "gpt-realtime"
)

// ErrStreamClosed is returned by Read once the remote side closed the stream
// cleanly or Close was called locally.
var ErrStreamClosed = errors.New("realtime stream closed")

type IRealtimeConn interface {
	Send(event interface{}) error
	Read() ([]byte, error)
	Close() error
}

type IDialer interface {
	Dial(ctx context.Context, credential string) (IRealtimeConn, error)
}

type realtimeDialer struct {
	log              *logrus.Logger
	url              string
	model            string
	handshakeTimeout time.Duration
	pingInterval     time.Duration
	writeTimeout     time.Duration
}

func NewRealtimeDialer(log *logrus.Logger) IDialer {
	endpoint := os.Getenv("OPENAI_REALTIME_URL")
	if endpoint == "" {
		endpoint = defaultRealtimeURL
	}
	model := os.Getenv("OPENAI_REALTIME_MODEL")
	if model == "" {
		model = defaultRealtimeModel
	}

	return &realtimeDialer{
		log:              log,
		url:              endpoint,
		model:            model,
		handshakeTimeout: 10 * time.Second,
		pingInterval:     30 * time.Second,
		writeTimeout:     5 * time.Second,
	}
}

// Dial opens the stream using the ephemeral credential as bearer token.
func (d *realtimeDialer) Dial(ctx context.Context, credential string) (IRealtimeConn, error) {
	target, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url %q: %w", d.url, err)
	}
	q := target.Query()
	if q.Get("model") == "" {
		q.Set("model", d.model)
	}
	target.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.handshakeTimeout,
	}

	d.log.WithFields(logrus.Fields{
		"url":   target.Host + target.Path,
		"model": q.Get("model"),
	}).Info("Connecting to realtime service")

	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime service: %w", err)
	}

	c := &realtimeConn{
		conn:         conn,
		log:          d.log,
		writeTimeout: d.writeTimeout,
		done:         make(chan struct{}),
	}

	conn.SetPingHandler(func(appData string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout)); err != nil {
			c.log.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Warn("Error sending pong")
		}
		return nil
	})

	go c.keepAlive(d.pingInterval)

	return c, nil
}

type realtimeConn struct {
	conn         *websocket.Conn
	log          *logrus.Logger
	mu           sync.Mutex
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
}

// Send marshals event and writes it as one text frame. Writers from
// different goroutines are serialized.
func (c *realtimeConn) Send(event interface{}) error {
	payload, err := jsoniter.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding realtime event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrStreamClosed
	default:
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("error setting write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("error sending realtime event: %w", err)
	}
	return c.conn.SetWriteDeadline(time.Time{})
}

// Read must only be called from a single goroutine.
func (c *realtimeConn) Read() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrStreamClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrStreamClosed
			}
			return nil, fmt.Errorf("error reading realtime event: %w", err)
		}

		if messageType != websocket.TextMessage {
			c.log.WithFields(logrus.Fields{
				"message_type": messageType,
			}).Debug("Skipping non-text realtime frame")
			continue
		}
		return message, nil
	}
}

func (c *realtimeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeTimeout),
		)
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *realtimeConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(c.writeTimeout))
		c.mu.Unlock()

		if err != nil {
			c.log.WithFields(logrus.Fields{
				"error": err.Error(),
			}).Warn("Ping failed for realtime stream, closing connection")
			_ = c.conn.Close()
			return
		}
	}
}
