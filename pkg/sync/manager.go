package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// defaultHistoryLimit caps how many terminal sessions the history ring
// keeps.
const defaultHistoryLimit = 100

// CallbackHandle identifies a registered ProgressCallback for removal.
type CallbackHandle int

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger attaches a structured logger; callbacks, phase failures, and
// session completions are logged through it. Defaults to a discarding
// logger.
func WithLogger(log logr.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithHistoryLimit overrides the archived-session ring buffer size.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historyLimit = n
		}
	}
}

// WithDefaultLanguage sets the label language used by the Labels phase when
// a session's StartOption does not supply one.
func WithDefaultLanguage(language string) Option {
	return func(m *Manager) {
		if language != "" {
			m.defaultLanguage = language
		}
	}
}

// StartOption configures one call to StartSyncSession.
type StartOption func(*startConfig)

type startConfig struct {
	modules  []version.ModuleVersion
	language string
}

// WithModules supplies the target global version's module set, required by
// the SharingMode strategy to locate a compatible, already-complete source
// version to copy from.
func WithModules(modules []version.ModuleVersion) StartOption {
	return func(c *startConfig) { c.modules = modules }
}

// WithLanguage overrides the Manager's default label language for one
// session.
func WithLanguage(language string) StartOption {
	return func(c *startConfig) { c.language = language }
}

// Manager runs metadata sync sessions as background goroutines, tracking
// phase/activity progress and fanning it out to registered callbacks.
// Sessions are held in an active map keyed by session id until they reach
// a terminal state, at which point they move into a fixed-size history
// ring buffer — callers only ever receive copies of session state, never a
// pointer into Manager-owned memory.
type Manager struct {
	store          Store
	entities       EntitySource
	labelSource    LabelSource
	versionChecker VersionChecker
	versionFinder  VersionFinder

	log             logr.Logger
	historyLimit    int
	defaultLanguage string

	mu       stdsync.Mutex
	sessions map[string]*sessionEntry
	history  []SyncSession
}

// NewManager builds a Manager. labelSource and versionChecker may be nil —
// the Labels and VersionCheck phases become no-ops, useful for an
// EntitiesOnly-only caller that never wired label resolution.
func NewManager(store Store, entities EntitySource, labelSource LabelSource, versionChecker VersionChecker, versionFinder VersionFinder, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		entities:        entities,
		labelSource:     labelSource,
		versionChecker:  versionChecker,
		versionFinder:   versionFinder,
		log:             logr.Discard(),
		historyLimit:    defaultHistoryLimit,
		defaultLanguage: "en-US",
		sessions:        make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// sessionEntry is the manager's internal mutable state for one active
// session. Only Manager methods touch it directly; everyone else gets a
// SyncSession snapshot.
type sessionEntry struct {
	mu        stdsync.Mutex
	snapshot  SyncSession
	phases    []Phase
	callbacks map[CallbackHandle]ProgressCallback
	nextCB    CallbackHandle

	stopOnce stdsync.Once
	stopCh   chan struct{}
}

func (e *sessionEntry) requestStop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

func (e *sessionEntry) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// StartSyncSession creates a session in Pending and launches its execution
// as a background goroutine, returning immediately with the new session's
// id. It refuses if a session for globalVersionID is already Running.
func (m *Manager) StartSyncSession(ctx context.Context, globalVersionID string, strategy Strategy, initiatedBy string, opts ...StartOption) (string, error) {
	phases, err := phasesForStrategy(strategy)
	if err != nil {
		return "", err
	}

	cfg := startConfig{language: m.defaultLanguage}
	for _, opt := range opts {
		opt(&cfg)
	}

	phaseMap := make(map[Phase]Activity, len(phases))
	for _, p := range phases {
		phaseMap[p] = Activity{Name: string(p), Status: ActivityPending}
	}

	m.mu.Lock()
	for _, existing := range m.sessions {
		existing.mu.Lock()
		conflict := existing.snapshot.GlobalVersionID == globalVersionID && existing.snapshot.Status == StatusRunning
		existing.mu.Unlock()
		if conflict {
			m.mu.Unlock()
			return "", apperrors.NewSyncAlreadyRunningError(globalVersionID)
		}
	}

	id := uuid.NewString()
	entry := &sessionEntry{
		snapshot: SyncSession{
			SessionID:       id,
			GlobalVersionID: globalVersionID,
			Strategy:        strategy,
			Status:          StatusPending,
			StartTime:       time.Now(),
			InitiatedBy:     initiatedBy,
			Phases:          phaseMap,
		},
		phases:    phases,
		callbacks: make(map[CallbackHandle]ProgressCallback),
		stopCh:    make(chan struct{}),
	}
	m.sessions[id] = entry
	m.mu.Unlock()

	// The background run outlives the caller's request scope, so it gets a
	// detached context (no inherited cancellation) while cooperative stop
	// is signalled separately via entry.stopCh and observed at phase
	// boundaries only.
	bgCtx := context.WithoutCancel(ctx)
	go m.run(bgCtx, entry, cfg)

	return id, nil
}

// GetSyncSession returns a snapshot of session id, searching active
// sessions first and then the archived history ring. The bool is false if
// no session with that id has ever existed (or has aged out of history).
func (m *Manager) GetSyncSession(sessionID string) (*SyncSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.sessions[sessionID]; ok {
		entry.mu.Lock()
		snap := entry.snapshot.clone()
		entry.mu.Unlock()
		return &snap, true
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].SessionID == sessionID {
			snap := m.history[i].clone()
			return &snap, true
		}
	}
	return nil, false
}

// GetActiveSessions lists every session not yet in a terminal state.
func (m *Manager) GetActiveSessions() []SyncSessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SyncSessionSummary, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entry.mu.Lock()
		out = append(out, entry.snapshot.summary())
		entry.mu.Unlock()
	}
	return out
}

// GetSessionHistory returns up to limit archived session summaries,
// most-recently-archived first. limit<=0 returns the full history.
func (m *Manager) GetSessionHistory(limit int) []SyncSessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]SyncSessionSummary, 0, n)
	for i := len(m.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.history[i].summary())
	}
	return out
}

// CancelSyncSession requests cancellation of session id, returning whether
// it was actually cancellable. Both Pending and running (non-terminal)
// sessions may be cancelled; any terminal status returns false.
func (m *Manager) CancelSyncSession(sessionID string) bool {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	status := entry.snapshot.Status
	entry.mu.Unlock()
	if status != StatusPending && status != StatusRunning {
		return false
	}

	entry.requestStop()
	return true
}

// AddProgressCallback registers cb to receive snapshots on every progress
// update for sessionID until removed.
func (m *Manager) AddProgressCallback(sessionID string, cb ProgressCallback) (CallbackHandle, error) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return 0, apperrors.NewNotFoundError(fmt.Sprintf("sync session %s", sessionID))
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	handle := entry.nextCB
	entry.nextCB++
	entry.callbacks[handle] = cb
	return handle, nil
}

// RemoveProgressCallback unregisters a callback added via
// AddProgressCallback. Removing an unknown or already-archived session's
// callback is a silent no-op.
func (m *Manager) RemoveProgressCallback(sessionID string, handle CallbackHandle) {
	m.mu.Lock()
	entry, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.callbacks, handle)
	entry.mu.Unlock()
}

// RecommendStrategy picks the cheapest strategy that can complete:
// Incremental if targetGlobalVersionID already has complete metadata,
// else SharingMode if some other global version with an exact-match module
// set does, else Full.
func (m *Manager) RecommendStrategy(ctx context.Context, targetGlobalVersionID string, modules []version.ModuleVersion) (Strategy, error) {
	complete, err := m.store.HasCompleteMetadata(ctx, targetGlobalVersionID)
	if err != nil {
		return "", err
	}
	if complete {
		return StrategyIncremental, nil
	}

	if m.versionFinder != nil {
		candidates, err := m.versionFinder.FindCompatibleVersions(ctx, modules, true)
		if err != nil {
			return "", err
		}
		for _, candidate := range candidates {
			if candidate.ID == targetGlobalVersionID {
				continue
			}
			ok, err := m.store.HasCompleteMetadata(ctx, candidate.ID)
			if err != nil {
				return "", err
			}
			if ok {
				return StrategySharingMode, nil
			}
		}
	}

	return StrategyFull, nil
}

// run drives one session's phases sequentially to a terminal state, then
// archives it. It is the only goroutine that mutates entry.snapshot other
// than the bookkeeping done in StartSyncSession before the goroutine
// starts.
func (m *Manager) run(ctx context.Context, e *sessionEntry, cfg startConfig) {
	start := time.Now()

	e.mu.Lock()
	e.snapshot.Status = StatusRunning
	e.mu.Unlock()
	m.publish(e)

	acc := MetadataCounts{}
	collected := newCollectedLabels()

	var failErr error
	var failPhase Phase
	cancelled := false

	for _, phase := range e.phases {
		if e.stopped() {
			cancelled = true
			break
		}

		e.mu.Lock()
		act := e.snapshot.Phases[phase]
		act.Status = ActivityRunning
		now := time.Now()
		act.StartTime = &now
		e.snapshot.Phases[phase] = act
		e.snapshot.CurrentPhase = phase
		e.snapshot.CurrentActivity = act.Name
		e.mu.Unlock()
		m.publish(e)

		err := m.executePhase(ctx, e, phase, cfg, &acc, collected)

		e.mu.Lock()
		act = e.snapshot.Phases[phase]
		end := time.Now()
		act.EndTime = &end
		if err != nil {
			act.Status = ActivityFailed
			act.Error = err.Error()
		} else {
			act.Status = ActivityCompleted
			act.ProgressPercent = 100
		}
		e.snapshot.Phases[phase] = act
		e.recomputeProgress()
		e.mu.Unlock()
		m.publish(e)

		if err != nil {
			if isRequiredPhase(phase, e.snapshot.Strategy) {
				failErr = err
				failPhase = phase
				break
			}
			m.log.Error(err, "optional sync phase failed, continuing", "phase", string(phase), "sessionId", e.snapshot.SessionID)
			continue
		}

		if e.stopped() {
			cancelled = true
			break
		}
	}

	end := time.Now()
	duration := end.Sub(start)

	e.mu.Lock()
	e.snapshot.EndTime = &end
	switch {
	case cancelled:
		e.snapshot.Status = StatusCancelled
		e.snapshot.Error = apperrors.NewSyncCancelledError().Error()
	case failErr != nil:
		wrapped := apperrors.NewSyncFailedError(string(failPhase), failErr)
		e.snapshot.Status = StatusFailed
		e.snapshot.Error = wrapped.Error()
		e.snapshot.Result = &SyncResult{Success: false, Error: wrapped.Error(), DurationMs: duration.Milliseconds(), MetadataCounts: acc}
	default:
		e.snapshot.Status = StatusCompleted
		e.snapshot.Result = &SyncResult{Success: true, DurationMs: duration.Milliseconds(), MetadataCounts: acc}
	}
	snapshot := e.snapshot.clone()
	e.mu.Unlock()
	m.publish(e)

	m.log.Info("sync session finished",
		"sessionId", snapshot.SessionID,
		"status", string(snapshot.Status),
		"startedAt", humanize.Time(start),
		"durationMs", duration.Milliseconds())

	m.archive(snapshot)
}

func (e *sessionEntry) recomputeProgress() {
	if len(e.phases) == 0 {
		return
	}
	var total float64
	for _, p := range e.phases {
		total += e.snapshot.Phases[p].ProgressPercent
	}
	e.snapshot.ProgressPercent = total / float64(len(e.phases))
}

func (m *Manager) archive(s SyncSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s.SessionID)
	m.history = append(m.history, s)
	if len(m.history) > m.historyLimit {
		m.history = m.history[len(m.history)-m.historyLimit:]
	}
}

// updateItemProgress records item-level progress for phase and republishes
// the session snapshot to every registered callback.
func (m *Manager) updateItemProgress(e *sessionEntry, phase Phase, processed, total int, currentItem string) {
	e.mu.Lock()
	act := e.snapshot.Phases[phase]
	act.ItemsProcessed = processed
	act.ItemsTotal = total
	act.CurrentItem = currentItem
	if total > 0 {
		act.ProgressPercent = float64(processed) / float64(total) * 100
	}
	e.snapshot.Phases[phase] = act
	e.recomputeProgress()
	e.mu.Unlock()
	m.publish(e)
}

// publish snapshots e and invokes every registered callback with it. Each
// callback is isolated: a panic is recovered and logged, never propagated.
func (m *Manager) publish(e *sessionEntry) {
	e.mu.Lock()
	snap := e.snapshot.clone()
	cbs := make([]ProgressCallback, 0, len(e.callbacks))
	for _, cb := range e.callbacks {
		cbs = append(cbs, cb)
	}
	e.mu.Unlock()

	for _, cb := range cbs {
		m.invokeCallback(cb, snap)
	}
}

func (m *Manager) invokeCallback(cb ProgressCallback, snap SyncSession) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(fmt.Errorf("%v", r), "progress callback panicked", "sessionId", snap.SessionID)
		}
	}()
	cb(snap)
}

// collectedLabels accumulates distinct label ids observed while caching
// entities/schemas/enumerations during a session, for the Labels phase to
// resolve in one batched call.
type collectedLabels struct {
	mu  stdsync.Mutex
	ids map[string]struct{}
}

func newCollectedLabels() *collectedLabels {
	return &collectedLabels{ids: make(map[string]struct{})}
}

func (c *collectedLabels) add(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
}

func (c *collectedLabels) slice() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	return out
}
