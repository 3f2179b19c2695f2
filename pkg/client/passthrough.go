package client

import (
	"context"

	"github.com/d365fo/d365fo-client-go/pkg/crud"
	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/odata"
	"github.com/d365fo/d365fo-client-go/pkg/sync"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// GetEntities lists entitySet, consulting the cached schema (if any) for
// cross-company injection.
func (c *Client) GetEntities(ctx context.Context, entitySet string, opts *odata.QueryOptions) (*crud.CollectionResult, error) {
	result, err := c.crud.GetEntities(ctx, entitySet, opts)
	c.metrics.observe("get_entities", err)
	return result, err
}

// GetEntityByKey fetches one record by key.
func (c *Client) GetEntityByKey(ctx context.Context, entitySet string, key odata.Key, opts *odata.QueryOptions) (map[string]any, error) {
	record, err := c.crud.GetEntityByKey(ctx, entitySet, key, opts)
	c.metrics.observe("get_entity_by_key", err)
	return record, err
}

// CreateEntity POSTs data to entitySet's collection URL.
func (c *Client) CreateEntity(ctx context.Context, entitySet string, data map[string]any) (map[string]any, error) {
	record, err := c.crud.CreateEntity(ctx, entitySet, data)
	c.metrics.observe("create_entity", err)
	return record, err
}

// UpdateEntity PATCHes or PUTs data at key, per method.
func (c *Client) UpdateEntity(ctx context.Context, entitySet string, key odata.Key, data map[string]any, method crud.UpdateMethod, ifMatch string) (map[string]any, error) {
	record, err := c.crud.UpdateEntity(ctx, entitySet, key, data, method, ifMatch)
	c.metrics.observe("update_entity", err)
	return record, err
}

// DeleteEntity deletes the record at key.
func (c *Client) DeleteEntity(ctx context.Context, entitySet string, key odata.Key) error {
	err := c.crud.DeleteEntity(ctx, entitySet, key)
	c.metrics.observe("delete_entity", err)
	return err
}

// CallAction invokes an unbound, entity-set-bound, or instance-bound OData
// action, depending on whether entitySet/key are supplied.
func (c *Client) CallAction(ctx context.Context, actionName string, params map[string]any, entitySet string, key odata.Key) (any, error) {
	result, err := c.crud.CallAction(ctx, actionName, params, entitySet, key)
	c.metrics.observe("call_action", err)
	return result, err
}

// GetDataEntities lists data entities with server-side filter pushdown.
func (c *Client) GetDataEntities(ctx context.Context, filter metadata.DataEntityFilter, opts *odata.QueryOptions) ([]metadata.DataEntity, error) {
	entities, err := c.metadata.GetDataEntities(ctx, filter, opts)
	c.metrics.observe("get_data_entities", err)
	return entities, err
}

// GetPublicEntityInfo fetches one public entity's fully expanded schema
// straight from the remote Metadata API (bypassing the local cache).
func (c *Client) GetPublicEntityInfo(ctx context.Context, name string) (*metadata.PublicEntity, error) {
	entity, err := c.metadata.GetPublicEntityInfo(ctx, name)
	c.metrics.observe("get_public_entity_info", err)
	return entity, err
}

// GetCachedSchema resolves a public entity's schema from the local
// metadata cache, the same lookup crud.Client uses for key validation.
func (c *Client) GetCachedSchema(ctx context.Context, entitySet string) (*metadata.PublicEntity, bool) {
	return c.cache.Schema(ctx, entitySet)
}

// GetLabelText resolves one label, cache-first.
func (c *Client) GetLabelText(ctx context.Context, labelID, language string) (string, bool, error) {
	text, found, err := c.labels.GetLabelText(ctx, labelID, language)
	c.metrics.observe("get_label_text", err)
	return text, found, err
}

// GetLabelsBatch resolves many labels in one call, cache-first.
func (c *Client) GetLabelsBatch(ctx context.Context, labelIDs []string, language string) (map[string]string, error) {
	texts, err := c.labels.GetLabelsBatch(ctx, labelIDs, language)
	c.metrics.observe("get_labels_batch", err)
	return texts, err
}

// StartSyncSession starts a sync session directly, for callers that want
// to choose their own strategy rather than go through InitializeMetadata.
func (c *Client) StartSyncSession(ctx context.Context, globalVersionID string, strategy sync.Strategy, initiatedBy string, opts ...sync.StartOption) (string, error) {
	sessionID, err := c.syncMgr.StartSyncSession(ctx, globalVersionID, strategy, initiatedBy, opts...)
	c.metrics.observe("start_sync_session", err)
	if err == nil {
		c.metrics.syncStarted(string(strategy))
	}
	return sessionID, err
}

// GetSyncSession returns a snapshot of one session's current state.
func (c *Client) GetSyncSession(sessionID string) (*sync.SyncSession, bool) {
	return c.syncMgr.GetSyncSession(sessionID)
}

// CancelSyncSession requests cancellation of a Pending or Running session.
func (c *Client) CancelSyncSession(sessionID string) bool {
	return c.syncMgr.CancelSyncSession(sessionID)
}

// GetActiveSyncSessions lists every session that has not yet reached a
// terminal status.
func (c *Client) GetActiveSyncSessions() []sync.SyncSessionSummary {
	return c.syncMgr.GetActiveSessions()
}

// GetSyncSessionHistory returns up to limit archived (terminal) sessions,
// most recent first.
func (c *Client) GetSyncSessionHistory(limit int) []sync.SyncSessionSummary {
	return c.syncMgr.GetSessionHistory(limit)
}

// RecommendStrategy exposes the Sync Session Manager's strategy decision
// directly, for callers that want to inspect it before calling
// StartSyncSession themselves.
func (c *Client) RecommendStrategy(ctx context.Context, targetGlobalVersionID string, modules []version.ModuleVersion) (sync.Strategy, error) {
	return c.syncMgr.RecommendStrategy(ctx, targetGlobalVersionID, modules)
}
