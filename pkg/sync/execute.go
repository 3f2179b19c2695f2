package sync

import (
	"context"

	apperrors "github.com/d365fo/d365fo-client-go/internal/errors"
	"github.com/d365fo/d365fo-client-go/pkg/version"
)

// executePhase dispatches to the concrete implementation of one phase.
// Errors are returned unwrapped; run() classifies required-vs-optional and
// wraps with NewSyncFailedError only for the terminal session error.
func (m *Manager) executePhase(ctx context.Context, e *sessionEntry, phase Phase, cfg startConfig, acc *MetadataCounts, collected *collectedLabels) error {
	switch phase {
	case PhaseInitializing:
		return nil

	case PhaseVersionCheck:
		if m.versionChecker == nil {
			return nil
		}
		_, err := m.versionChecker.Detect(ctx)
		return err

	case PhaseEntities:
		return m.runEntitiesPhase(ctx, e, acc, collected)

	case PhaseSchemas:
		if e.snapshot.Strategy == StrategySharingMode {
			return m.runCopyPhase(ctx, e, cfg, acc)
		}
		return m.runSchemasPhase(ctx, e, acc, collected)

	case PhaseEnumerations:
		return m.runEnumerationsPhase(ctx, e, acc, collected)

	case PhaseLabels:
		return m.runLabelsPhase(ctx, e, cfg, acc, collected)

	case PhaseIndexing:
		return m.store.IndexGlobalVersion(ctx, e.snapshot.GlobalVersionID)

	case PhaseFinalizing:
		return m.store.MarkSyncCompleted(ctx, e.snapshot.GlobalVersionID, *acc)

	default:
		return apperrors.Newf(apperrors.ErrorTypeInternal, "sync: unhandled phase %q", phase)
	}
}

// runEntitiesPhase fetches and stores the full data-entity catalog, then
// walks the result to report item progress and collect label ids. Storing
// happens as a single delete-then-bulk-insert transaction, so the per-item
// loop afterward is purely bookkeeping — it cannot partially fail.
func (m *Manager) runEntitiesPhase(ctx context.Context, e *sessionEntry, acc *MetadataCounts, collected *collectedLabels) error {
	entities, err := m.entities.GetAllDataEntities(ctx)
	if err != nil {
		return err
	}
	if err := m.store.StoreDataEntities(ctx, e.snapshot.GlobalVersionID, entities); err != nil {
		return err
	}

	cadence := itemCallbackCadence(PhaseEntities)
	total := len(entities)
	for i, entity := range entities {
		collected.add(entity.LabelID)
		if (i+1)%cadence == 0 || i == total-1 {
			m.updateItemProgress(e, PhaseEntities, i+1, total, entity.Name)
		}
		if e.stopped() {
			break
		}
	}

	acc.EntityCount += total
	return nil
}

// runSchemasPhase fetches full public-entity detail and upserts each one
// individually (schema storage is per-entity), reporting progress every
// five entities.
func (m *Manager) runSchemasPhase(ctx context.Context, e *sessionEntry, acc *MetadataCounts, collected *collectedLabels) error {
	entities, err := m.entities.GetAllPublicEntitiesWithDetails(ctx)
	if err != nil {
		return err
	}

	cadence := itemCallbackCadence(PhaseSchemas)
	total := len(entities)
	for i := range entities {
		entity := &entities[i]
		if err := m.store.StorePublicEntitySchema(ctx, e.snapshot.GlobalVersionID, entity); err != nil {
			return err
		}

		collected.add(entity.LabelID)
		for _, p := range entity.Properties {
			collected.add(p.LabelID)
		}
		acc.ActionCount += len(entity.Actions)

		if (i+1)%cadence == 0 || i == total-1 {
			m.updateItemProgress(e, PhaseSchemas, i+1, total, entity.Name)
		}
		if e.stopped() {
			break
		}
	}

	return nil
}

// runEnumerationsPhase fetches and stores every public enumeration, same
// single-transaction-then-bookkeeping-loop shape as runEntitiesPhase.
func (m *Manager) runEnumerationsPhase(ctx context.Context, e *sessionEntry, acc *MetadataCounts, collected *collectedLabels) error {
	enums, err := m.entities.GetAllPublicEnumerationsWithDetails(ctx)
	if err != nil {
		return err
	}
	if err := m.store.StoreEnumerations(ctx, e.snapshot.GlobalVersionID, enums); err != nil {
		return err
	}

	cadence := itemCallbackCadence(PhaseEnumerations)
	total := len(enums)
	for i, enum := range enums {
		collected.add(enum.LabelID)
		for _, mem := range enum.Members {
			collected.add(mem.LabelID)
		}
		if (i+1)%cadence == 0 || i == total-1 {
			m.updateItemProgress(e, PhaseEnumerations, i+1, total, enum.Name)
		}
		if e.stopped() {
			break
		}
	}

	acc.EnumerationCount += total
	return nil
}

// runLabelsPhase resolves every label id collected by earlier phases in
// one batched call, write-through populating the label cache as a side
// effect; the resolved map itself is discarded. A nil LabelSource (no
// label operations wired) makes this phase a no-op.
func (m *Manager) runLabelsPhase(ctx context.Context, e *sessionEntry, cfg startConfig, acc *MetadataCounts, collected *collectedLabels) error {
	if m.labelSource == nil {
		return nil
	}

	ids := collected.slice()
	if len(ids) == 0 {
		m.updateItemProgress(e, PhaseLabels, 0, 0, "")
		return nil
	}

	resolved, err := m.labelSource.GetLabelsBatch(ctx, ids, cfg.language)
	if err != nil {
		return err
	}

	found := 0
	for _, text := range resolved {
		if text != "" {
			found++
		}
	}
	acc.LabelCount += found
	m.updateItemProgress(e, PhaseLabels, len(ids), len(ids), "")
	return nil
}

// runCopyPhase is the SharingMode strategy's reuse of the Schemas slot as a
// copy phase: it locates another global version with an identical module
// set that already has complete metadata, and copies its rows via
// INSERT...SELECT instead of hitting the remote API.
func (m *Manager) runCopyPhase(ctx context.Context, e *sessionEntry, cfg startConfig, acc *MetadataCounts) error {
	if len(cfg.modules) == 0 {
		return apperrors.New(apperrors.ErrorTypeValidation, "sharing-mode sync requires sync.WithModules to locate a compatible source version")
	}
	if m.versionFinder == nil {
		return apperrors.New(apperrors.ErrorTypeInternal, "sharing-mode sync requires a VersionFinder")
	}

	candidates, err := m.versionFinder.FindCompatibleVersions(ctx, cfg.modules, true)
	if err != nil {
		return err
	}

	target := e.snapshot.GlobalVersionID
	var source *version.GlobalVersion
	for i := range candidates {
		if candidates[i].ID == target {
			continue
		}
		complete, err := m.store.HasCompleteMetadata(ctx, candidates[i].ID)
		if err != nil {
			return err
		}
		if complete {
			source = &candidates[i]
			break
		}
	}
	if source == nil {
		return apperrors.New(apperrors.ErrorTypeSyncFailed, "no compatible global version with complete metadata found for sharing-mode sync")
	}

	if err := m.store.CopyMetadataFrom(ctx, source.ID, target); err != nil {
		return err
	}

	counts, err := m.store.GetMetadataCounts(ctx, source.ID)
	if err != nil {
		return err
	}
	acc.EntityCount += counts.EntityCount
	acc.ActionCount += counts.ActionCount
	acc.EnumerationCount += counts.EnumerationCount
	acc.LabelCount += counts.LabelCount

	m.updateItemProgress(e, PhaseSchemas, 1, 1, source.ID)
	return nil
}
