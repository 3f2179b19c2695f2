// Package sync runs long-lived metadata catalog refreshes as cancellable
// background sessions with phase- and item-level progress reporting.
package sync

import "time"

// Strategy selects which phases a sync session runs.
type Strategy string

const (
	StrategyFull         Strategy = "Full"
	StrategyIncremental  Strategy = "Incremental"
	StrategyEntitiesOnly Strategy = "EntitiesOnly"
	StrategySharingMode  Strategy = "SharingMode"
)

// Status is a sync session's lifecycle state.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Phase is one stage of a sync session.
type Phase string

const (
	PhaseInitializing Phase = "Initializing"
	PhaseVersionCheck Phase = "VersionCheck"
	PhaseEntities     Phase = "Entities"
	PhaseSchemas      Phase = "Schemas"
	PhaseEnumerations Phase = "Enumerations"
	PhaseLabels       Phase = "Labels"
	PhaseIndexing     Phase = "Indexing"
	PhaseFinalizing   Phase = "Finalizing"
)

// ActivityStatus is one phase's own lifecycle state within a session.
type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "Pending"
	ActivityRunning   ActivityStatus = "Running"
	ActivityCompleted ActivityStatus = "Completed"
	ActivityFailed    ActivityStatus = "Failed"
	ActivitySkipped   ActivityStatus = "Skipped"
)

// Activity is the progress record for one phase.
type Activity struct {
	Name            string
	Status          ActivityStatus
	ItemsProcessed  int
	ItemsTotal      int
	ProgressPercent float64
	CurrentItem     string
	StartTime       *time.Time
	EndTime         *time.Time
	Error           string
}

// MetadataCounts tallies what a sync session cached, mirroring
// metadatacache.MetadataCounts field-for-field so SyncResult can be
// populated directly from a Store.MarkSyncCompleted call's inputs.
type MetadataCounts struct {
	EntityCount      int
	ActionCount      int
	EnumerationCount int
	LabelCount       int
}

// SyncResult is the terminal outcome recorded on a completed or failed
// session.
type SyncResult struct {
	Success    bool
	Error      string
	DurationMs int64
	MetadataCounts
}

// SyncSession is a full snapshot of one session's state. Callers only ever
// receive copies — never a pointer into the manager's internal map — so
// external mutation can't corrupt manager state.
type SyncSession struct {
	SessionID       string
	GlobalVersionID string
	Strategy        Strategy
	Status          Status
	StartTime       time.Time
	EndTime         *time.Time
	ProgressPercent float64
	CurrentPhase    Phase
	CurrentActivity string
	InitiatedBy     string
	Error           string
	Result          *SyncResult
	Phases          map[Phase]Activity
}

// SyncSessionSummary is the lightweight shape returned by
// GetActiveSessions/GetSessionHistory.
type SyncSessionSummary struct {
	SessionID       string
	GlobalVersionID string
	Strategy        Strategy
	Status          Status
	StartTime       time.Time
	EndTime         *time.Time
	ProgressPercent float64
}

func (s SyncSession) summary() SyncSessionSummary {
	return SyncSessionSummary{
		SessionID:       s.SessionID,
		GlobalVersionID: s.GlobalVersionID,
		Strategy:        s.Strategy,
		Status:          s.Status,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		ProgressPercent: s.ProgressPercent,
	}
}

func (s SyncSession) clone() SyncSession {
	phases := make(map[Phase]Activity, len(s.Phases))
	for k, v := range s.Phases {
		phases[k] = v
	}
	clone := s
	clone.Phases = phases
	return clone
}

// ProgressCallback is invoked on every progress update for a session.
// A callback's own failure (panic or returned error, if it returns one via
// a recovering wrapper) is isolated from the session: logged, never
// propagated.
type ProgressCallback func(session SyncSession)
