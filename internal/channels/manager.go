package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/anagora/agora-bridge/internal/bus"
)

// Manager manages all registered channels, handling their lifecycle and
// routing outbound replies to the correct channel. Outbound sends share one
// rate limiter so a catch-up burst cannot flood a platform.
type Manager struct {
	channels     map[string]Channel
	bus          *bus.MessageBus
	limiter      *rate.Limiter
	dispatchTask *asyncTask
	mu           sync.RWMutex
}

type asyncTask struct {
	cancel context.CancelFunc
}

// NewManager creates a channel manager. postsPerMinute caps outbound sends
// across all channels; zero or negative means unlimited.
func NewManager(msgBus *bus.MessageBus, postsPerMinute int) *Manager {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if postsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(postsPerMinute)/60.0), postsPerMinute)
	}
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		limiter:  limiter,
	}
}

// StartAll starts all registered channels and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.dispatchTask = &asyncTask{cancel: cancel}
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	slog.Info("starting all channels")

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels started")
	return nil
}

// StopAll gracefully stops all channels and the outbound dispatch loop.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("stopping all channels")

	if m.dispatchTask != nil {
		m.dispatchTask.cancel()
		m.dispatchTask = nil
	}

	for name, channel := range m.channels {
		slog.Info("stopping channel", "channel", name)
		if err := channel.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}

	slog.Info("all channels stopped")
	return nil
}

// dispatchOutbound consumes outbound replies from the bus and routes them
// to the appropriate channel, honoring the shared rate limit.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	slog.Info("outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			slog.Info("outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			slog.Info("outbound dispatcher stopped", "reason", err)
			return
		}

		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("error sending message to channel",
				"channel", msg.Channel,
				"error", err,
			)
		}
	}
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]interface{})
	for name, channel := range m.channels {
		status[name] = map[string]interface{}{
			"enabled": true,
			"running": channel.IsRunning(),
		}
	}
	return status
}

// RegisterChannel adds a channel to the manager.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

// UnregisterChannel removes a channel from the manager.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// CatchUpAll replays recent history on every channel that supports it.
func (m *Manager) CatchUpAll(ctx context.Context) error {
	var errs []error
	for name, ch := range m.snapshot() {
		cc, ok := ch.(CatchUpChannel)
		if !ok {
			continue
		}
		slog.Info("catching up", "channel", name)
		if err := cc.CatchUp(ctx); err != nil {
			errs = append(errs, fmt.Errorf("catch up %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// FollowBackAll reciprocates follows on every channel that supports it.
func (m *Manager) FollowBackAll(ctx context.Context) error {
	var errs []error
	for name, ch := range m.snapshot() {
		fc, ok := ch.(FollowBackChannel)
		if !ok {
			continue
		}
		if err := fc.FollowBack(ctx); err != nil {
			errs = append(errs, fmt.Errorf("follow back %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (m *Manager) snapshot() map[string]Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch
	}
	return out
}
