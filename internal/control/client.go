package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/jfmyers9/newsreel/internal/frame"
)

// ErrNotRunning is returned by Dial when no player owns the socket
var ErrNotRunning = errors.New("no player is running")

// Client sends requests to a running player
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	return &Client{conn: conn}, nil
}

// Do sends req and waits for its reply. req.ID is assigned when empty.
func (c *Client) Do(ctx context.Context, req Request) (Status, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(replyTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Status{}, fmt.Errorf("failed to set deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Status{}, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := frame.Write(c.conn, opRequest, payload); err != nil {
		return Status{}, fmt.Errorf("failed to send request: %w", err)
	}

	op, data, err := frame.Read(c.conn)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read reply: %w", err)
	}
	if op != opReply {
		return Status{}, fmt.Errorf("unexpected frame op %d", op)
	}

	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Status{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	if reply.ID != req.ID {
		return Status{}, fmt.Errorf("reply %q does not match request %q", reply.ID, req.ID)
	}
	if reply.Error != "" {
		return reply.Status, errors.New(reply.Error)
	}
	return reply.Status, nil
}

// Close tells the server the session is over and closes the connection
func (c *Client) Close() error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = frame.Write(c.conn, opClose, nil)
	return c.conn.Close()
}
