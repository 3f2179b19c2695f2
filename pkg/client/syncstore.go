package client

import (
	"context"

	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/metadatacache"
	"github.com/d365fo/d365fo-client-go/pkg/sync"
)

// syncStoreAdapter satisfies sync.Store by delegating to *metadatacache.Store.
// pkg/sync and pkg/metadatacache each define their own field-identical
// MetadataCounts type to avoid an import cycle (metadatacache's Store
// already has to implement version.Store and labels.Cache; having it
// implement sync.Store directly would pull pkg/sync's types into
// pkg/metadatacache for no reason beyond this one struct). The conversion
// between the two — a plain struct conversion, since the field sets match
// exactly — happens here, at the composition root.
type syncStoreAdapter struct {
	cache *metadatacache.Store
}

func (a *syncStoreAdapter) StoreDataEntities(ctx context.Context, globalVersionID string, entities []metadata.DataEntity) error {
	return a.cache.StoreDataEntities(ctx, globalVersionID, entities)
}

func (a *syncStoreAdapter) StorePublicEntitySchema(ctx context.Context, globalVersionID string, entity *metadata.PublicEntity) error {
	return a.cache.StorePublicEntitySchema(ctx, globalVersionID, entity)
}

func (a *syncStoreAdapter) StoreEnumerations(ctx context.Context, globalVersionID string, enumerations []metadata.Enumeration) error {
	return a.cache.StoreEnumerations(ctx, globalVersionID, enumerations)
}

func (a *syncStoreAdapter) MarkSyncCompleted(ctx context.Context, globalVersionID string, counts sync.MetadataCounts) error {
	return a.cache.MarkSyncCompleted(ctx, globalVersionID, metadatacache.MetadataCounts(counts))
}

func (a *syncStoreAdapter) HasCompleteMetadata(ctx context.Context, globalVersionID string) (bool, error) {
	return a.cache.HasCompleteMetadata(ctx, globalVersionID)
}

func (a *syncStoreAdapter) IndexGlobalVersion(ctx context.Context, globalVersionID string) error {
	return a.cache.IndexGlobalVersion(ctx, globalVersionID)
}

func (a *syncStoreAdapter) CopyMetadataFrom(ctx context.Context, sourceGlobalVersionID, targetGlobalVersionID string) error {
	return a.cache.CopyMetadataFrom(ctx, sourceGlobalVersionID, targetGlobalVersionID)
}

func (a *syncStoreAdapter) GetMetadataCounts(ctx context.Context, globalVersionID string) (sync.MetadataCounts, error) {
	counts, err := a.cache.GetMetadataCounts(ctx, globalVersionID)
	return sync.MetadataCounts(counts), err
}
