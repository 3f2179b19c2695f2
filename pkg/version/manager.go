package version

import (
	"context"
	"fmt"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
)

// GlobalVersionManager deduplicates environments by module-set hash and
// tracks which global_version each environment currently links to.
type GlobalVersionManager struct {
	store Store
}

// NewGlobalVersionManager builds a manager over store.
func NewGlobalVersionManager(store Store) *GlobalVersionManager {
	return &GlobalVersionManager{store: store}
}

// RegisterVersion sorts modules, computes the
// canonical hash, upserts the global_version row, then upserts the
// environment's link (decrementing the previous version's reference_count
// if the environment was pointing elsewhere).
func (m *GlobalVersionManager) RegisterVersion(ctx context.Context, environmentID, applicationVersion, platformVersion string, modules []ModuleVersion) (globalVersionID string, isNew bool, err error) {
	sorted, hash := canonicalHash(modules)

	gv, isNew, err := m.store.UpsertGlobalVersion(ctx, hash, applicationVersion, platformVersion, sorted)
	if err != nil {
		return "", false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to upsert global version")
	}

	if err := m.store.LinkEnvironment(ctx, environmentID, gv.ID); err != nil {
		return "", false, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to link environment to global version")
	}
	return gv.ID, isNew, nil
}

// FindCompatibleVersions returns global_versions whose module set equals
// (exactMatch=true) or is a superset of (exactMatch=false) modules.
func (m *GlobalVersionManager) FindCompatibleVersions(ctx context.Context, modules []ModuleVersion, exactMatch bool) ([]GlobalVersion, error) {
	target, _ := canonicalHash(modules)
	targetSet := moduleSet(target)

	all, err := m.store.ListGlobalVersions(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to list global versions")
	}

	var matches []GlobalVersion
	for _, gv := range all {
		candidate := moduleSet(gv.Modules)
		if exactMatch {
			if setsEqual(candidate, targetSet) {
				matches = append(matches, gv)
			}
		} else if isSuperset(candidate, targetSet) {
			matches = append(matches, gv)
		}
	}
	return matches, nil
}

// UpdateSyncStatus writes the environment-version link's last_sync_status.
func (m *GlobalVersionManager) UpdateSyncStatus(ctx context.Context, environmentID, globalVersionID string, status LinkStatus, durationMs *int64) error {
	if err := m.store.UpdateSyncStatus(ctx, environmentID, globalVersionID, status, durationMs); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to update sync status")
	}
	return nil
}

func moduleSet(modules []ModuleVersion) map[string]struct{} {
	set := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		set[fmt.Sprintf("%s|%s", m.ModuleID, m.Version)] = struct{}{}
	}
	return set
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	return isSuperset(a, b)
}

// isSuperset reports whether every element of sub is present in super.
func isSuperset(super, sub map[string]struct{}) bool {
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}
