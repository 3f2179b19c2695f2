// Package labels resolves D365 F&O label IDs (the "@SYS12345"-style string
// resource references scattered across metadata) to display text, with a
// cache-first lookup, batch fetch, and whole-entity resolution.
package labels

import "context"

// Cache is the persisted label store consulted before any remote call.
// pkg/metadatacache provides the concrete sqlite-backed implementation;
// this interface exists so pkg/labels has no direct dependency on it.
type Cache interface {
	// Get returns the cached text for (labelID, language) and whether it
	// was present and not expired.
	Get(ctx context.Context, labelID, language string) (text string, found bool, err error)

	// SetBatch writes through newly resolved labels. Values is keyed by
	// labelID; callers only include labels that were actually resolved
	// (missing/404 labels are never written, so they don't poison the
	// cache with a false "known absent" entry).
	SetBatch(ctx context.Context, language string, values map[string]string) error
}

// HotCache is an optional low-latency tier in front of Cache (a Redis
// deployment, typically) consulted before it. A miss here simply falls
// through to Cache; HotCache errors are logged by the caller and treated
// as a miss, never as fatal — losing the hot tier must not break label
// resolution.
type HotCache interface {
	Get(ctx context.Context, labelID, language string) (text string, found bool)
	SetBatch(ctx context.Context, language string, values map[string]string)
}
