package labels

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/transport"
)

const defaultLanguage = "en-US"

// Client resolves labels via the remote /Metadata/Labels endpoint, a
// persisted Cache, and an optional HotCache.
type Client struct {
	session *transport.Session
	baseURL string
	cache   Cache
	hot     HotCache

	// maxConcurrentFetches bounds the errgroup fan-out for batch lookups;
	// zero means unbounded (errgroup.Group with no SetLimit call).
	maxConcurrentFetches int
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables cache-first lookup and write-through.
func WithCache(c Cache) Option { return func(cl *Client) { cl.cache = c } }

// WithHotCache enables an additional low-latency tier consulted before Cache.
func WithHotCache(h HotCache) Option { return func(cl *Client) { cl.hot = h } }

// WithMaxConcurrentFetches bounds how many uncached labels are fetched from
// the remote API concurrently during a batch lookup.
func WithMaxConcurrentFetches(n int) Option {
	return func(cl *Client) { cl.maxConcurrentFetches = n }
}

// NewClient builds a label Client over an already-configured Session.
func NewClient(session *transport.Session, baseURL string, opts ...Option) *Client {
	c := &Client{session: session, baseURL: strings.TrimRight(baseURL, "/")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLabelText resolves one label. Lookup order: hot cache, persisted
// cache, then the remote API; a remote hit is written through both tiers.
// found=false means the label does not exist (404) or was never resolved;
// the text itself may legitimately be an empty string.
func (c *Client) GetLabelText(ctx context.Context, labelID, language string) (text string, found bool, err error) {
	if language == "" {
		language = defaultLanguage
	}

	if c.hot != nil {
		if t, ok := c.hot.Get(ctx, labelID, language); ok {
			return t, true, nil
		}
	}
	if c.cache != nil {
		if t, ok, cacheErr := c.cache.Get(ctx, labelID, language); cacheErr == nil && ok {
			if c.hot != nil {
				c.hot.SetBatch(ctx, language, map[string]string{labelID: t})
			}
			return t, true, nil
		}
	}

	text, found, err = c.fetchRemote(ctx, labelID, language)
	if err != nil || !found {
		return "", false, err
	}

	values := map[string]string{labelID: text}
	if c.cache != nil {
		_ = c.cache.SetBatch(ctx, language, values)
	}
	if c.hot != nil {
		c.hot.SetBatch(ctx, language, values)
	}
	return text, true, nil
}

// GetLabelsBatch partitions labelIDs into cached/uncached, fetches the
// uncached ones (there is no batch endpoint in the remote API, so these are
// fanned out concurrently, bounded by maxConcurrentFetches), and bulk
// writes the newly resolved ones into the cache. Missing labels are simply
// absent from the returned map.
func (c *Client) GetLabelsBatch(ctx context.Context, labelIDs []string, language string) (map[string]string, error) {
	if language == "" {
		language = defaultLanguage
	}

	result := make(map[string]string, len(labelIDs))
	var uncached []string

	for _, id := range labelIDs {
		if id == "" {
			continue
		}
		if c.hot != nil {
			if t, ok := c.hot.Get(ctx, id, language); ok {
				result[id] = t
				continue
			}
		}
		if c.cache != nil {
			if t, ok, err := c.cache.Get(ctx, id, language); err == nil && ok {
				result[id] = t
				continue
			}
		}
		uncached = append(uncached, id)
	}

	if len(uncached) == 0 {
		return result, nil
	}

	fetched := make(map[string]string, len(uncached))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if c.maxConcurrentFetches > 0 {
		g.SetLimit(c.maxConcurrentFetches)
	}

	for _, id := range uncached {
		id := id
		g.Go(func() error {
			text, found, err := c.fetchRemote(gctx, id, language)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			mu.Lock()
			fetched[id] = text
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for id, text := range fetched {
		result[id] = text
	}

	if len(fetched) > 0 {
		if c.cache != nil {
			if err := c.cache.SetBatch(ctx, language, fetched); err != nil {
				return nil, err
			}
		}
		if c.hot != nil {
			c.hot.SetBatch(ctx, language, fetched)
		}
	}

	return result, nil
}

// ResolveEntityLabels collects every label_id referenced by entity and its
// properties, issues one batched lookup, and assigns the resulting text
// back onto the matching LabelText fields in place.
func (c *Client) ResolveEntityLabels(ctx context.Context, entity *metadata.PublicEntity, language string) error {
	if entity == nil {
		return nil
	}

	ids := make(map[string]struct{})
	if entity.LabelID != "" {
		ids[entity.LabelID] = struct{}{}
	}
	for _, p := range entity.Properties {
		if p.LabelID != "" {
			ids[p.LabelID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	texts, err := c.GetLabelsBatch(ctx, idList, language)
	if err != nil {
		return err
	}

	if t, ok := texts[entity.LabelID]; ok {
		entity.LabelText = t
	}
	for i := range entity.Properties {
		if t, ok := texts[entity.Properties[i].LabelID]; ok {
			entity.Properties[i].LabelText = t
		}
	}
	return nil
}

// fetchRemote calls GET /Metadata/Labels(Id='<id>',Language='<language>').
// A 404 is reported as (. , false, nil) — absent, not an error.
func (c *Client) fetchRemote(ctx context.Context, labelID, language string) (string, bool, error) {
	url := fmt.Sprintf("%s/Metadata/Labels(Id='%s',Language='%s')", c.baseURL, escapeKeyLiteral(labelID), escapeKeyLiteral(language))
	resp, err := c.session.Do(ctx, transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode >= 400 {
		return "", false, apperrors.NewLabelError(resp.StatusCode, string(resp.Body))
	}

	var payload struct {
		Value string `json:"Value"`
	}
	if err := unmarshalJSON(resp.Body, &payload); err != nil {
		return "", false, apperrors.Wrap(err, apperrors.ErrorTypeLabel, "failed to decode label response")
	}
	return payload.Value, true, nil
}

func escapeKeyLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
