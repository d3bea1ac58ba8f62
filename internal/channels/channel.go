// Package channels provides the platform listener abstraction. Channels
// connect social networks (Mastodon streaming, Telegram polling) to the
// dispatch loop via the message bus.
package channels

import (
	"context"

	"github.com/anagora/agora-bridge/internal/bus"
)

// Channel defines the interface that all platform listeners must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g. "mastodon", "telegram").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound reply to the platform.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool
}

// CatchUpChannel is a Channel that can replay recent history after
// downtime. Replayed messages go through the normal pipeline; the ledger
// makes the replay idempotent.
type CatchUpChannel interface {
	Channel
	CatchUp(ctx context.Context) error
}

// FollowBackChannel is a Channel that can reciprocate follows so users can
// reach the bridge by mention.
type FollowBackChannel interface {
	Channel
	FollowBack(ctx context.Context) error
}

// BaseChannel provides shared functionality for channel implementations,
// which should embed this struct.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

// NewBaseChannel creates a new BaseChannel.
func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// HandleMessage stamps the channel name onto an inbound message and
// publishes it to the bus. This is the standard way for channels to forward
// received messages.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) {
	msg.Channel = c.name
	c.bus.PublishInbound(msg)
}

// Truncate shortens a string so it never exceeds maxLen, replacing the
// tail with "..." when it was cut. Platforms reject over-length posts, so
// the result must fit within the limit including the ellipsis.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
