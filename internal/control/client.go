package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"apptrigger/internal/event"
)

// Client sends control requests to a running daemon.
type Client struct {
	nc     *nats.Conn
	prefix string
}

// NewClient creates a client over nc. An empty prefix uses DefaultSubjectPrefix.
func NewClient(nc *nats.Conn, prefix string) *Client {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Client{nc: nc, prefix: prefix}
}

// RemoteError is an error reported by the daemon.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Type, e.Message)
}

// List returns the daemon's triggers.
func (c *Client) List(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.call(ctx, "list", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Fire fires a Button trigger on the daemon and returns its activation.
func (c *Client) Fire(ctx context.Context, name string) (*event.Activation, error) {
	var act event.Activation
	if err := c.call(ctx, "fire", nameRequest{Name: name}, &act); err != nil {
		return nil, err
	}
	return &act, nil
}

// Raise raises a system event on the daemon and returns how many triggers it reached.
func (c *Client) Raise(ctx context.Context, name string) (int, error) {
	var r raiseResponse
	if err := c.call(ctx, "raise", nameRequest{Name: name}, &r); err != nil {
		return 0, err
	}
	return r.Notified, nil
}

func (c *Client) call(ctx context.Context, endpoint string, req, out interface{}) error {
	var data []byte
	if req != nil {
		var err error
		if data, err = json.Marshal(req); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	msg, err := c.nc.RequestWithContext(ctx, c.prefix+"."+endpoint, data)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var e errorResponse
	if err := json.Unmarshal(msg.Data, &e); err == nil && e.Error != "" {
		return &RemoteError{Type: e.ErrorType, Message: e.Error}
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
