// Package mastodon connects the bridge to a Mastodon server: websocket
// streaming for live mentions, REST for replies, catch-up and follow-back.
package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/channels"
	"github.com/anagora/agora-bridge/internal/config"
)

const (
	followerCacheTTL = 5 * time.Minute

	// statusMaxChars is the default Mastodon status length limit.
	statusMaxChars = 500
)

// Channel connects to Mastodon via the streaming websocket API.
type Channel struct {
	*channels.BaseChannel
	client *Client
	config config.MastodonConfig

	account *Account

	streamCancel context.CancelFunc
	streamDone   chan struct{}

	followerMu      sync.Mutex
	followerSet     map[string]struct{}
	followerFetched time.Time
}

// New creates a Mastodon channel from config.
func New(cfg config.MastodonConfig, msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("mastodon", msgBus),
		client:      NewClient(cfg.Server, cfg.AccessToken),
		config:      cfg,
	}
}

// Client exposes the REST client, mainly for the doctor command.
func (c *Channel) Client() *Client { return c.client }

// Start verifies credentials and begins streaming. Non-blocking after the
// initial handshake.
func (c *Channel) Start(ctx context.Context) error {
	acct, err := c.client.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("verify mastodon credentials: %w", err)
	}
	c.account = acct
	slog.Info("mastodon connected", "server", c.client.Server(), "account", acct.Acct)

	streamCtx, cancel := context.WithCancel(ctx)
	c.streamCancel = cancel
	c.streamDone = make(chan struct{})

	subs := []subscription{{stream: "user"}}
	for _, id := range c.config.Lists {
		subs = append(subs, subscription{stream: "list", listID: id})
	}
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub subscription) {
			defer wg.Done()
			c.streamLoop(streamCtx, sub)
		}(sub)
	}
	go func() {
		wg.Wait()
		close(c.streamDone)
	}()

	c.SetRunning(true)
	return nil
}

// Stop shuts down streaming.
func (c *Channel) Stop(ctx context.Context) error {
	if c.streamCancel != nil {
		c.streamCancel()
	}
	if c.streamDone != nil {
		select {
		case <-c.streamDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	return nil
}

// Send posts an outbound reply, truncated to the instance status limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	status, err := c.client.PostStatus(ctx, channels.Truncate(msg.Text, statusMaxChars), msg.InReplyTo)
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}
	slog.Info("posted reply", "channel", c.Name(), "status_id", status.ID, "in_reply_to", msg.InReplyTo)
	return nil
}

// Boost reblogs a status. Satisfies the bridge's booster extension point;
// nothing wires it up by default.
func (c *Channel) Boost(ctx context.Context, msg bus.InboundMessage) error {
	return c.client.Reblog(ctx, msg.ID)
}

// subscription identifies one streaming connection.
type subscription struct {
	stream string
	listID string
}

func (s subscription) String() string {
	if s.listID != "" {
		return s.stream + ":" + s.listID
	}
	return s.stream
}

// streamLoop keeps one streaming connection alive, reconnecting with
// backoff until ctx is cancelled.
func (c *Channel) streamLoop(ctx context.Context, sub subscription) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := c.streamOnce(ctx, sub)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("mastodon stream dropped, reconnecting", "stream", sub.String(), "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

// streamEvent is one frame of the Mastodon streaming API. Payload is a
// JSON-encoded string.
type streamEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

// notification is a streaming notification payload. Mentions embed the
// status that triggered them.
type notification struct {
	Type   string  `json:"type"`
	Status *Status `json:"status"`
}

func (c *Channel) streamOnce(ctx context.Context, sub subscription) error {
	conn, _, err := websocket.Dial(ctx, c.client.StreamingURL(sub.stream, sub.listID), nil)
	if err != nil {
		return fmt.Errorf("dial streaming api: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	slog.Info("mastodon stream open", "stream", sub.String())
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handleFrame(sub, data)
	}
}

// handleFrame decodes one streaming frame and publishes any status it
// carries. Posts by followed accounts and list members arrive as "update";
// mentions from anyone arrive as "notification", which is how authors the
// bridge does not follow reach it.
func (c *Channel) handleFrame(sub subscription, data []byte) {
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Warn("undecodable stream frame", "stream", sub.String(), "error", err)
		return
	}

	switch event.Event {
	case "update":
		var status Status
		if err := json.Unmarshal([]byte(event.Payload), &status); err != nil {
			slog.Warn("undecodable status payload", "stream", sub.String(), "error", err)
			return
		}
		c.HandleMessage(c.toInbound(status))

	case "notification":
		var n notification
		if err := json.Unmarshal([]byte(event.Payload), &n); err != nil {
			slog.Warn("undecodable notification payload", "stream", sub.String(), "error", err)
			return
		}
		if n.Type != "mention" || n.Status == nil {
			return
		}
		c.HandleMessage(c.toInbound(*n.Status))
	}
}

// toInbound converts a status to the bus message shape. Content stays HTML;
// the extractor understands both raw and rendered hashtags.
func (c *Channel) toInbound(status Status) bus.InboundMessage {
	mentions := make([]string, 0, len(status.Mentions))
	for _, m := range status.Mentions {
		mentions = append(mentions, m.Acct)
	}
	return bus.InboundMessage{
		ID:        status.ID,
		Author:    status.Account.Acct,
		Text:      status.Content,
		CreatedAt: status.CreatedAt,
		Mentions:  mentions,
		IsReshare: status.Reblog != nil,
		SourceURL: sourceURL(status),
	}
}

func sourceURL(status Status) string {
	if status.URL != "" {
		return status.URL
	}
	return status.URI
}

// CatchUp republishes recent statuses from every follower onto the bus.
// The ledger already contains whatever was handled before downtime, so the
// replay produces no duplicate replies.
func (c *Channel) CatchUp(ctx context.Context) error {
	if c.account == nil {
		return fmt.Errorf("catch up: not started")
	}
	followers, err := c.client.Followers(ctx, c.account.ID)
	if err != nil {
		return fmt.Errorf("catch up: %w", err)
	}

	replayed := 0
	for _, follower := range followers {
		statuses, err := c.client.AccountStatuses(ctx, follower.ID, 0)
		if err != nil {
			slog.Warn("catch-up fetch failed", "account", follower.Acct, "error", err)
			continue
		}
		for _, status := range statuses {
			c.HandleMessage(c.toInbound(status))
			replayed++
		}
	}
	slog.Info("catch-up replay queued", "accounts", len(followers), "statuses", replayed)
	return nil
}

// FollowBack follows every follower the bridge does not follow yet.
func (c *Channel) FollowBack(ctx context.Context) error {
	if c.account == nil {
		return fmt.Errorf("follow back: not started")
	}
	followers, err := c.client.Followers(ctx, c.account.ID)
	if err != nil {
		return fmt.Errorf("follow back: %w", err)
	}
	following, err := c.client.Following(ctx, c.account.ID)
	if err != nil {
		return fmt.Errorf("follow back: %w", err)
	}

	known := make(map[string]struct{}, len(following))
	for _, acct := range following {
		known[acct.ID] = struct{}{}
	}
	for _, follower := range followers {
		if _, ok := known[follower.ID]; ok {
			continue
		}
		if err := c.client.Follow(ctx, follower.ID); err != nil {
			slog.Warn("follow back failed", "account", follower.Acct, "error", err)
			continue
		}
		slog.Info("followed back", "account", follower.Acct)
	}
	return nil
}

// IsFollower reports whether handle follows the bridge account. Backed by
// a short-lived cache so reply composition does not hit the API per
// co-mention.
func (c *Channel) IsFollower(ctx context.Context, handle string) (bool, error) {
	c.followerMu.Lock()
	defer c.followerMu.Unlock()

	if c.followerSet == nil || time.Since(c.followerFetched) > followerCacheTTL {
		if c.account == nil {
			return false, fmt.Errorf("follower check: not started")
		}
		followers, err := c.client.Followers(ctx, c.account.ID)
		if err != nil {
			return false, err
		}
		set := make(map[string]struct{}, len(followers))
		for _, acct := range followers {
			set[acct.Acct] = struct{}{}
		}
		c.followerSet = set
		c.followerFetched = time.Now()
	}

	_, ok := c.followerSet[handle]
	return ok, nil
}
