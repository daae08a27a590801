package presence

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteChannel joins a presence channel served by Handler
type RemoteChannel struct {
	URL    string
	Dialer *websocket.Dialer
}

// Subscribe dials the channel and waits for the SUBSCRIBED status
func (c RemoteChannel) Subscribe(ctx context.Context, key string) (Subscription, error) {
	client, err := Dial(ctx, c.URL, key, c.Dialer)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Client is a websocket Subscription
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	mailbox chan Sync
	done    chan struct{}

	closeOnce sync.Once
}

// Dial connects to rawURL as key. It returns once the server has confirmed
// the subscription, or fails if it does not before ctx is done.
func Dial(ctx context.Context, rawURL, key string, dialer *websocket.Dialer) (*Client, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid presence url: %w", err)
	}
	q := u.Query()
	q.Set("key", key)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial presence channel: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var status Message
	if err := conn.ReadJSON(&status); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read subscription status: %w", err)
	}
	if status.Type != MessageStatus || status.Status != StatusSubscribed {
		conn.Close()
		if status.Error != "" {
			return nil, fmt.Errorf("presence subscription refused: %s", status.Error)
		}
		return nil, fmt.Errorf("presence subscription not confirmed: %q", status.Status)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:    conn,
		mailbox: make(chan Sync, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.mailbox)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != MessageSync {
			continue
		}
		s := Sync{State: msg.State}
		// latest wins
		select {
		case c.mailbox <- s:
		default:
			select {
			case <-c.mailbox:
			default:
			}
			c.mailbox <- s
		}
	}
}

// Track publishes p
func (c *Client) Track(ctx context.Context, p Payload) error {
	return c.write(ctx, Message{Type: MessageTrack, Payload: &p})
}

// Leave tells the server to drop this member and closes the connection
func (c *Client) Leave() error {
	err := c.write(context.Background(), Message{Type: MessageLeave})
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return err
}

// Syncs delivers full-state updates, closed when the connection ends
func (c *Client) Syncs() <-chan Sync {
	return c.mailbox
}

func (c *Client) write(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrNotJoined
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}
