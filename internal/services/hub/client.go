// Package hub connects to a Hyperion server over its websocket JSON-RPC interface.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
	"github.com/bbernstein/hyperion-link-go/pkg/hyperion"
)

// ErrClosed is returned by Subscription.Err after Close was called.
var ErrClosed = errors.New("subscription closed")

// Client talks to a single Hyperion server.
type Client struct {
	host   string
	port   int
	dialer *websocket.Dialer

	tan atomic.Int64
}

// NewClient creates a client for the server at host:port.
func NewClient(host string, port int) *Client {
	return &Client{
		host: host,
		port: port,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

// URL returns the websocket endpoint of the server.
func (c *Client) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.host, strconv.Itoa(c.port)),
		Path:   "/",
	}
	return u.String()
}

func (c *Client) nextTan() int {
	return int(c.tan.Add(1))
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.URL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hyperion at %s: %w", c.URL(), err)
	}
	return conn, nil
}

// GetServerInfo opens a short-lived connection and asks the server for its info.
// It blocks until the reply arrives or ctx is done.
func (c *Client) GetServerInfo(ctx context.Context) (*hyperion.ServerInfo, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	// Unblock the read below when the context ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	req := hyperion.NewServerInfoRequest(c.nextTan())
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to send serverinfo: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to read serverinfo reply: %w", err)
		}
		resp, err := hyperion.ParseResponse(data)
		if err != nil {
			log.Printf("[hub] %s: skipping message: %v", c.host, err)
			continue
		}
		if resp.Command != hyperion.CommandServerInfo {
			continue
		}
		return resp.ServerInfo()
	}
}

// Subscribe connects to the server, starts the LED stream and calls onFrame for
// every update, one at a time in arrival order, from a single reader goroutine.
// layout gives the LED share of each zone (see SplitZones).
func (c *Client) Subscribe(ctx context.Context, layout zone.Weights, onFrame func(zone.ColorFrame)) (*Subscription, error) {
	if onFrame == nil {
		return nil, errors.New("onFrame callback is required")
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		host:    c.host,
		conn:    conn,
		layout:  layout,
		onFrame: onFrame,
		done:    make(chan struct{}),
	}

	if err := s.write(hyperion.NewLEDStreamRequest(true, c.nextTan())); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to start led stream: %w", err)
	}

	s.stopTan = c.nextTan()
	go s.readLoop()

	log.Printf("[hub] Subscribed to LED stream at %s", c.URL())
	return s, nil
}

// Subscription is an open LED stream.
type Subscription struct {
	host   string
	conn   *websocket.Conn
	layout zone.Weights

	writeMu sync.Mutex

	mu      sync.Mutex
	onFrame func(zone.ColorFrame)
	closed  bool
	err     error
	stopTan int

	done chan struct{}
}

func (s *Subscription) write(req hyperion.Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return s.conn.WriteJSON(req)
}

func (s *Subscription) callback() func(zone.ColorFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onFrame
}

func (s *Subscription) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if s.closed {
				s.err = ErrClosed
			} else {
				s.err = fmt.Errorf("led stream from %s ended: %w", s.host, err)
				log.Printf("[hub] %v", s.err)
			}
			s.mu.Unlock()
			return
		}

		resp, err := hyperion.ParseResponse(data)
		if err != nil {
			log.Printf("[hub] %s: skipping message: %v", s.host, err)
			continue
		}
		if resp.Command != hyperion.CommandLEDStreamUpdate {
			continue
		}
		leds, err := resp.LEDColors()
		if err != nil {
			log.Printf("[hub] %s: bad led frame: %v", s.host, err)
			continue
		}

		frame := SplitZones(leds, s.layout)
		if cb := s.callback(); cb != nil && len(frame) > 0 {
			cb(frame)
		}
	}
}

// Done is closed once the reader goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended. It is nil while the stream is running.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and disconnects. No callback runs after Close returns,
// except one already executing. Close is safe to call more than once.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.onFrame = nil
	s.mu.Unlock()

	// Best effort; the server also stops streaming when the socket goes away.
	_ = s.write(hyperion.NewLEDStreamRequest(false, s.stopTan))

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
