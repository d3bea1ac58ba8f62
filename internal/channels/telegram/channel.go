// Package telegram connects the bridge to Telegram via the Bot API using
// long polling. Group members link entities the same way as on Mastodon;
// replies land in the originating chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/anagora/agora-bridge/internal/bus"
	"github.com/anagora/agora-bridge/internal/channels"
	"github.com/anagora/agora-bridge/internal/config"
)

// Channel connects to Telegram using long polling.
type Channel struct {
	*channels.BaseChannel
	bot    *telego.Bot
	config config.TelegramConfig

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bridge (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "edited_message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bridge connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(update)
			}
		}
	}()

	return nil
}

// Stop shuts down long polling.
func (c *Channel) Stop(ctx context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.SetRunning(false)
	return nil
}

// Send posts a reply into the chat the message came from. InReplyTo is
// "chatID/messageID" as produced by toInbound.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, messageID, err := splitRef(msg.InReplyTo)
	if err != nil {
		return err
	}
	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   msg.Text,
	}
	if messageID != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: messageID}
	}
	if _, err := c.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (c *Channel) handleUpdate(update telego.Update) {
	message := update.Message
	if message == nil {
		message = update.EditedMessage
	}
	if message == nil || message.Text == "" {
		return
	}
	c.HandleMessage(c.toInbound(message))
}

// toInbound converts a Telegram message to the bus shape. Telegram has no
// public permalink for most chats, so the ledger ref is the synthesized
// channel:chatID/messageID form.
func (c *Channel) toInbound(message *telego.Message) bus.InboundMessage {
	author := ""
	if message.From != nil {
		author = message.From.Username
		if author == "" {
			author = strconv.FormatInt(message.From.ID, 10)
		}
	}
	return bus.InboundMessage{
		ID:        joinRef(message.Chat.ID, message.MessageID),
		Author:    author,
		Text:      message.Text,
		CreatedAt: time.Unix(message.Date, 0).UTC(),
		IsReshare: message.ForwardOrigin != nil,
	}
}

func joinRef(chatID int64, messageID int) string {
	return strconv.FormatInt(chatID, 10) + "/" + strconv.Itoa(messageID)
}

func splitRef(ref string) (int64, int, error) {
	chatPart, msgPart, found := strings.Cut(ref, "/")
	if !found {
		return 0, 0, fmt.Errorf("malformed reply ref %q", ref)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed reply ref %q: %w", ref, err)
	}
	messageID, err := strconv.Atoi(msgPart)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed reply ref %q: %w", ref, err)
	}
	return chatID, messageID, nil
}
