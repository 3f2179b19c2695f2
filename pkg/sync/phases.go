package sync

import apperrors "github.com/d365fo/d365fo-client-go/internal/errors"

// PhasesFull is Full's phase list, in order.
var PhasesFull = []Phase{
	PhaseInitializing, PhaseVersionCheck, PhaseEntities, PhaseSchemas,
	PhaseEnumerations, PhaseLabels, PhaseIndexing, PhaseFinalizing,
}

// PhasesEntitiesOnly is EntitiesOnly's phase list, in order.
var PhasesEntitiesOnly = []Phase{PhaseInitializing, PhaseVersionCheck, PhaseEntities, PhaseFinalizing}

// PhasesSharingMode is SharingMode's phase list; its Schemas phase is
// reused as the INSERT...SELECT copy phase instead of a remote fetch.
var PhasesSharingMode = []Phase{PhaseInitializing, PhaseVersionCheck, PhaseSchemas, PhaseFinalizing}

// PhasesIncremental is currently identical to PhasesFull: incremental
// phase skipping is not implemented yet, so the strategy name is accepted
// but runs a full refresh.
var PhasesIncremental = PhasesFull

func phasesForStrategy(s Strategy) ([]Phase, error) {
	switch s {
	case StrategyFull:
		return PhasesFull, nil
	case StrategyIncremental:
		return PhasesIncremental, nil
	case StrategyEntitiesOnly:
		return PhasesEntitiesOnly, nil
	case StrategySharingMode:
		return PhasesSharingMode, nil
	default:
		return nil, apperrors.Newf(apperrors.ErrorTypeValidation, "sync: unknown strategy %q", s)
	}
}

// requiredPhases fail the whole session; the rest are optional and only
// logged on failure.
var requiredPhases = map[Phase]bool{
	PhaseInitializing: true,
	PhaseVersionCheck: true,
	PhaseEntities:     true,
}

// isRequiredPhase reports whether a phase's failure is terminal for the
// session. Schemas is normally optional (a remote schema hiccup shouldn't
// sink an otherwise-good sync), but SharingMode repurposes that slot as its
// only substantive phase — PhasesSharingMode has no Entities phase at all —
// so a copy failure there must fail the session, not silently complete it
// with zero counts.
func isRequiredPhase(p Phase, strategy Strategy) bool {
	if requiredPhases[p] {
		return true
	}
	return strategy == StrategySharingMode && p == PhaseSchemas
}

// itemCallbackCadence returns how many processed items must elapse between
// progress callbacks within phase (10 for Entities, 5 for Schemas).
// Phases with no declared cadence report only at
// item-batch granularity of 1, which in practice means every item since
// they typically process few items per sync.
func itemCallbackCadence(p Phase) int {
	switch p {
	case PhaseEntities:
		return 10
	case PhaseSchemas:
		return 5
	default:
		return 1
	}
}
