// Package ledger is the durable dedup record store. One record per node
// key, append-only, one `- [[author]] <ref>` line per handled message.
// Presence is tested by substring containment, never structured parsing:
// the record format is shared with the Agora itself, which renders these
// files as nodes.
package ledger

import (
	"context"
	"errors"

	"github.com/anagora/agora-bridge/internal/extract"
)

// ErrUnavailable marks ledger I/O failures. Callers must treat it as
// distinct from "already logged" and fail closed (no reply).
var ErrUnavailable = errors.New("ledger unavailable")

// Store is the key-addressed idempotency store. Node keys are collapsed to
// their leaf path segment before use (extract.NodeKey), so callers may pass
// full hierarchical entities.
type Store interface {
	// LogIfNew durably appends a reference line for (author, ref) to the
	// node's record iff ref is not already a substring of the record.
	// Returns true when the line was appended, false when ref was already
	// present. An error means the record state is unknown; no reply should
	// be posted.
	LogIfNew(ctx context.Context, node, author, ref string) (bool, error)

	// Contains reports whether marker appears anywhere in the node's
	// record. A missing node is an empty record, not an error.
	Contains(ctx context.Context, node, marker string) (bool, error)

	Close() error
}

// EntryLine formats the reference line logged for one handled message.
func EntryLine(author, ref string) string {
	return "- [[" + author + "]] " + ref + "\n"
}

// Mention formats the marker that opt-in nodes are scanned for.
func Mention(author string) string {
	return "[[" + author + "]]"
}

// NodeResult is the per-node outcome of a multi-node log attempt.
type NodeResult struct {
	Node   string
	Logged bool
	Err    error
}

// LogAll attempts LogIfNew against every node independently; a failure on
// one node does not block the others.
func LogAll(ctx context.Context, s Store, nodes []string, author, ref string) []NodeResult {
	results := make([]NodeResult, 0, len(nodes))
	for _, node := range nodes {
		logged, err := s.LogIfNew(ctx, node, author, ref)
		results = append(results, NodeResult{Node: node, Logged: logged, Err: err})
	}
	return results
}

// Gate selects how multi-node log outcomes decide whether to reply.
type Gate string

const (
	GateAll   Gate = "all"   // reply only if every node newly logged (default, strict)
	GateAny   Gate = "any"   // reply if at least one node newly logged
	GateFirst Gate = "first" // reply iff the first node newly logged (legacy behaviour)
)

// ShouldReply applies a gate to multi-node results. Any node error fails
// closed regardless of gate.
func ShouldReply(results []NodeResult, gate Gate) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	switch gate {
	case GateAny:
		for _, r := range results {
			if r.Logged {
				return true
			}
		}
		return false
	case GateFirst:
		return results[0].Logged
	default: // GateAll
		for _, r := range results {
			if !r.Logged {
				return false
			}
		}
		return true
	}
}

// nodeKey collapses a node to the storage key both backends share.
func nodeKey(node string) string {
	return extract.NodeKey(node)
}
