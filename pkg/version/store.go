package version

import "context"

// Store persists GlobalVersion rows and environment→version links. The
// concrete implementation lives in pkg/metadatacache, which owns the
// sqlite/sqlx plumbing; Store keeps pkg/version decoupled from that
// package the same way pkg/labels.Cache decouples from it.
type Store interface {
	// UpsertGlobalVersion inserts a new GlobalVersion row for hash, or
	// (if one already exists) increments its reference_count and bumps
	// last_seen_at. isNew reports which branch was taken.
	UpsertGlobalVersion(ctx context.Context, hash, applicationVersion, platformVersion string, modules []ModuleVersion) (gv GlobalVersion, isNew bool, err error)

	// LinkEnvironment makes globalVersionID the current link for
	// environmentID. If the environment previously pointed at a
	// different global_version, that version's reference_count is
	// decremented as part of the same operation.
	LinkEnvironment(ctx context.Context, environmentID, globalVersionID string) error

	// ListGlobalVersions returns every GlobalVersion with its Modules
	// populated, for in-process module-set comparison by the manager.
	ListGlobalVersions(ctx context.Context) ([]GlobalVersion, error)

	// UpdateSyncStatus writes the environment-version link's
	// last_sync_status and, if provided, last_sync_duration_ms.
	UpdateSyncStatus(ctx context.Context, environmentID, globalVersionID string, status LinkStatus, durationMs *int64) error
}
