// Package reply builds outbound reply text. Output is pure text;
// posting belongs to the platform channel.
package reply

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/anagora/agora-bridge/internal/bus"
)

// DefaultBaseURL is the Agora the bridge resolves links against.
const DefaultBaseURL = "https://anagora.org"

// FollowerChecker is the external collaborator that knows who follows the
// bridge account. Co-mentioned handles are only at-mentioned in replies
// when they follow us, so the bridge never drags strangers into threads.
type FollowerChecker interface {
	IsFollower(ctx context.Context, handle string) (bool, error)
}

// Composer renders deterministic reply text for a set of extracted
// entities.
type Composer struct {
	baseURL   string
	followers FollowerChecker
}

// NewComposer returns a composer linking against baseURL (DefaultBaseURL
// when empty). followers may be nil; co-mentions are then never included.
func NewComposer(baseURL string, followers FollowerChecker) *Composer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Composer{baseURL: strings.TrimSuffix(baseURL, "/"), followers: followers}
}

// Build renders the reply: a mention line addressing the author (plus any
// co-mentioned follower), then one resolvable link per entity, one per
// line. Entities are expected normalized and sorted; the output is fully
// determined by the inputs. No entities still yields the mention line;
// whether to post at all is the caller's ledger-gated decision.
func (c *Composer) Build(ctx context.Context, msg bus.InboundMessage, entities []string) string {
	lines := make([]string, 0, len(entities)+1)

	mentions := "@" + msg.Author + " "
	for _, handle := range msg.Mentions {
		if handle == msg.Author {
			continue
		}
		if c.isFollower(ctx, handle) {
			mentions += "@" + handle + " "
		}
	}
	lines = append(lines, mentions)

	for _, entity := range entities {
		lines = append(lines, c.LinkFor(entity))
	}
	return strings.Join(lines, "\n")
}

// LinkFor returns the canonical resolvable link for one entity.
func (c *Composer) LinkFor(entity string) string {
	return c.baseURL + "/" + url.QueryEscape(entity)
}

func (c *Composer) isFollower(ctx context.Context, handle string) bool {
	if c.followers == nil {
		return false
	}
	ok, err := c.followers.IsFollower(ctx, handle)
	if err != nil {
		// Quota trouble mostly. Failing closed only costs a courtesy
		// mention.
		slog.Info("follower check failed, not mentioning", "handle", handle, "error", err)
		return false
	}
	return ok
}
