// Package version implements the Version Detector and Global Version
// Manager: reading the environment's installed application/platform/module
// versions, and deduplicating environments by their exact module set so
// metadata only needs to be synced once per distinct version.
package version

import "time"

// ModuleVersion identifies one installed module. Identity is (ModuleID,
// Version) — the same module id can appear across different versions.
type ModuleVersion struct {
	ModuleID    string `db:"module_id" json:"moduleId"`
	Name        string `db:"name" json:"name"`
	Version     string `db:"version" json:"version"`
	Publisher   string `db:"publisher" json:"publisher"`
	DisplayName string `db:"display_name" json:"displayName"`
}

// GlobalVersion is the deduplicated record for a distinct module set. Two
// environments with identical sorted module sets resolve to the same row.
type GlobalVersion struct {
	ID               string          `db:"id" json:"id"`
	VersionHash      string          `db:"version_hash" json:"versionHash"`
	ApplicationVersion string        `db:"application_version" json:"applicationVersion"`
	PlatformVersion  string          `db:"platform_version" json:"platformVersion"`
	Modules          []ModuleVersion `json:"modules"`
	ReferenceCount   int             `db:"reference_count" json:"referenceCount"`
	FirstSeenAt      time.Time       `db:"first_seen_at" json:"firstSeenAt"`
	LastSeenAt       time.Time       `db:"last_seen_at" json:"lastSeenAt"`
}

// LinkStatus is an environment-version link's last sync outcome.
type LinkStatus string

const (
	LinkStatusPending   LinkStatus = "pending"
	LinkStatusSyncing   LinkStatus = "syncing"
	LinkStatusCompleted LinkStatus = "completed"
	LinkStatusFailed    LinkStatus = "failed"
)

// EnvironmentVersionLink ties one environment to its current GlobalVersion.
// Only one link per environment is current at a time.
type EnvironmentVersionLink struct {
	EnvironmentID     string     `db:"environment_id" json:"environmentId"`
	GlobalVersionID   string     `db:"global_version_id" json:"globalVersionId"`
	LastSyncStatus    LinkStatus `db:"last_sync_status" json:"lastSyncStatus"`
	LastSyncDurationMs *int64    `db:"last_sync_duration_ms" json:"lastSyncDurationMs,omitempty"`
	LinkedAt          time.Time  `db:"linked_at" json:"linkedAt"`
}

// DetectedVersion is the result of a live version probe against the
// environment. Modules is nil when the module inventory could not be
// retrieved (degraded mode) — callers must not treat a nil slice as "zero
// modules installed".
type DetectedVersion struct {
	ApplicationVersion      string
	PlatformVersion         string
	ApplicationBuildVersion string
	Modules                 []ModuleVersion
	Degraded                bool
}
