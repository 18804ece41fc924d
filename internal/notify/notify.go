// Package notify delivers notification messages to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Message is a single notification.
type Message struct {
	Text string
	// Username is the display name of the post author. Channels that support
	// a per-message sender name use it.
	Username string
}

// Notifier sends a message to one channel.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Named is a Notifier with a channel name used in errors and logs.
type Named struct {
	Name string
	Notifier
}

// Multi sends every message to all channels. A failing channel does not
// stop delivery to the others.
type Multi struct {
	channels []Named
}

// NewMulti creates a fan-out over channels.
func NewMulti(channels ...Named) *Multi {
	return &Multi{channels: channels}
}

// Len returns the number of channels.
func (m *Multi) Len() int {
	return len(m.channels)
}

// Send delivers msg to every channel and joins the errors.
func (m *Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
		}
	}
	return errors.Join(errs...)
}
