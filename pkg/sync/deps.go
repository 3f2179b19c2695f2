package sync

import (
	"context"

	"github.com/d365fo/d365fo-client-go/pkg/metadata"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// EntitySource fetches full metadata from the remote environment, draining
// server-side paging itself. Satisfied by *pkg/metadata.Client.
type EntitySource interface {
	GetAllDataEntities(ctx context.Context) ([]metadata.DataEntity, error)
	GetAllPublicEntitiesWithDetails(ctx context.Context) ([]metadata.PublicEntity, error)
	GetAllPublicEnumerationsWithDetails(ctx context.Context) ([]metadata.Enumeration, error)
}

// Store is the subset of pkg/metadatacache.Store a sync session writes to,
// reads sharing/completeness information from, and reindexes through.
type Store interface {
	StoreDataEntities(ctx context.Context, globalVersionID string, entities []metadata.DataEntity) error
	StorePublicEntitySchema(ctx context.Context, globalVersionID string, entity *metadata.PublicEntity) error
	StoreEnumerations(ctx context.Context, globalVersionID string, enumerations []metadata.Enumeration) error
	MarkSyncCompleted(ctx context.Context, globalVersionID string, counts MetadataCounts) error
	HasCompleteMetadata(ctx context.Context, globalVersionID string) (bool, error)
	IndexGlobalVersion(ctx context.Context, globalVersionID string) error
	CopyMetadataFrom(ctx context.Context, sourceGlobalVersionID, targetGlobalVersionID string) error

	// GetMetadataCounts backs the SharingMode copy phase: after an
	// INSERT...SELECT copy, the session's result counts are read back from
	// the source version's own tally rather than recomputed by walking the
	// copied rows.
	GetMetadataCounts(ctx context.Context, globalVersionID string) (MetadataCounts, error)
}

// LabelSource resolves and write-throughs a batch of label ids. The
// Labels phase uses it purely for its cache-population side effect; it
// discards the returned map.
type LabelSource interface {
	GetLabelsBatch(ctx context.Context, labelIDs []string, language string) (map[string]string, error)
}

// VersionChecker re-confirms the environment's reported version during the
// VersionCheck phase. A nil VersionChecker makes the phase a no-op, since
// the caller typically already resolved the target global_version_id
// through pkg/version before calling StartSession.
type VersionChecker interface {
	Detect(ctx context.Context) (version.DetectedVersion, error)
}

// VersionFinder backs RecommendStrategy's SharingMode lookup.
type VersionFinder interface {
	FindCompatibleVersions(ctx context.Context, modules []version.ModuleVersion, exactMatch bool) ([]version.GlobalVersion, error)
}
