package session

import "strings"

// The Parse helpers map loosely formatted model output onto the enums.
// The boolean is false when the input was not recognised and the safe
// default was substituted.

func ParseEntityType(s string) (EntityType, bool) {
	switch t := EntityType(strings.ToLower(strings.TrimSpace(s))); t {
	case EntityPerson, EntityOrganization, EntityLocation, EntityEvent, EntityRelationship:
		return t, true
	}
	return EntityPerson, false
}

func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return p, true
	}
	return PriorityMedium, false
}

func ParseEvidenceType(s string) (EvidenceType, bool) {
	switch t := EvidenceType(strings.ToLower(strings.TrimSpace(s))); t {
	case EvidenceTestimony, EvidenceDocument, EvidenceIntelligence,
		EvidenceObservation, EvidenceAnalysis, EvidenceVerification:
		return t, true
	}
	return EvidenceTestimony, false
}

func ParsePhase(s string) (Phase, bool) {
	switch p := Phase(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseImmediate, PhaseDevelopment, PhaseExploitation, PhaseSynthesis:
		return p, true
	}
	return PhaseImmediate, false
}

func ParsePhaseStatus(s string) (PhaseStatus, bool) {
	switch p := PhaseStatus(strings.ToLower(strings.TrimSpace(s))); p {
	case PhaseOnTrack, PhaseNeedsAdjustment, PhasePivotRequired:
		return p, true
	}
	return PhaseOnTrack, false
}

func ParseReadiness(s string) (Readiness, bool) {
	switch r := Readiness(strings.ToLower(strings.TrimSpace(s))); r {
	case ReadinessReady, ReadinessNotReady, ReadinessPartial:
		return r, true
	}
	return ReadinessNotReady, false
}
