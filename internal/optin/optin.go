// Package optin decides whether an author's full message content may be
// republished to the Agora. The signal lives in the graph itself: a user
// opts in by getting `[[their-handle]]` mentioned inside the well-known
// `push` or `opt in` nodes, and out via `no push` / `opt out`.
package optin

import (
	"context"
	"log/slog"

	"github.com/anagora/agora-bridge/internal/ledger"
)

// Well-known control nodes.
const (
	NodePush   = "push"
	NodeNoPush = "no push"
	NodeOptIn  = "opt in"
	NodeOptOut = "opt out"
)

// Resolver computes write preferences on demand. It holds no state of its
// own: the answer is a pure function of the allowlist and the ledger's
// current contents.
type Resolver struct {
	store     ledger.Store
	allowlist func() []string
}

// NewResolver builds a resolver over a ledger store and an allowlist source
// of handles that are always treated as opted in. The source is consulted
// on every call, so a reloaded allowlist takes effect immediately; nil
// means no allowlist.
func NewResolver(store ledger.Store, allowlist func() []string) *Resolver {
	if allowlist == nil {
		allowlist = func() []string { return nil }
	}
	return &Resolver{store: store, allowlist: allowlist}
}

// Wants reports whether author has opted in to full-content archiving.
// Precedence, short-circuiting on the first decisive rule:
//
//  1. static allowlist
//  2. mentioned in `push` and not in `no push`
//  3. mentioned in `opt in` and not in `opt out`
//  4. otherwise no (fail-closed)
//
// A ledger read failure counts as "not mentioned"; on ambiguity we do not
// republish.
func (r *Resolver) Wants(ctx context.Context, author string) bool {
	for _, allowed := range r.allowlist() {
		if allowed == author {
			return true
		}
	}

	mention := ledger.Mention(author)
	if r.mentionedIn(ctx, NodePush, mention) && !r.mentionedIn(ctx, NodeNoPush, mention) {
		return true
	}
	if r.mentionedIn(ctx, NodeOptIn, mention) && !r.mentionedIn(ctx, NodeOptOut, mention) {
		return true
	}
	return false
}

func (r *Resolver) mentionedIn(ctx context.Context, node, mention string) bool {
	if r.store == nil {
		return false
	}
	found, err := r.store.Contains(ctx, node, mention)
	if err != nil {
		slog.Warn("opt-in check failed, treating as not mentioned", "node", node, "error", err)
		return false
	}
	return found
}
