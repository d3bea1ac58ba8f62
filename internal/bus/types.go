package bus

import "time"

// InboundMessage is one message received from a platform channel
// (Mastodon streaming, Telegram polling, catch-up replay).
type InboundMessage struct {
	Channel   string            `json:"channel"`              // originating channel name
	ID        string            `json:"id"`                   // platform-unique, ordered message ID
	Author    string            `json:"author"`               // handle of the sender, without leading @
	Text      string            `json:"text"`                 // raw message body (may be HTML on Mastodon)
	CreatedAt time.Time         `json:"created_at"`
	Mentions  []string          `json:"mentions,omitempty"`   // co-mentioned handles, excluding the author
	IsReshare bool              `json:"is_reshare"`           // boost / retweet / forward
	SourceURL string            `json:"source_url,omitempty"` // canonical permalink
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Ref returns the stable reference used to identify this message in the
// ledger: the permalink when the platform gave us one, the platform ID
// otherwise. Never empty for a message a channel is allowed to publish.
func (m InboundMessage) Ref() string {
	if m.SourceURL != "" {
		return m.SourceURL
	}
	return m.Channel + ":" + m.ID
}

// OutboundMessage is a reply to be delivered by a platform channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	InReplyTo string            `json:"in_reply_to"` // platform ID of the message being answered
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Event is a bridge-side event broadcast to observers (the ops event feed).
type Event struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event names broadcast on the bus.
const (
	EventDispatched = "dispatched" // a message went through the router
	EventReplied    = "replied"    // a reply was posted (or would be, in dry-run)
	EventSkipped    = "skipped"    // dedup / exclusion / reshare suppressed a reply
	EventError      = "error"      // a single-message failure (loop keeps running)
	EventShutdown   = "shutdown"
)

// EventHandler handles a broadcast event. Must not block.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription so the gateway
// and channels do not depend on the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
