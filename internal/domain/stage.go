package domain

// Stage enumerates the shared lifecycle shape of every work item kind.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageValidating Stage = "validating"
	StagePreparing  Stage = "preparing"
	StageGenerating Stage = "generating"
	StageSaving     Stage = "saving"
	StageComplete   Stage = "complete"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further stage transitions may occur.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Flow is an ordered stage list. All item kinds share the same lifecycle
// shape and differ only in which intermediate stages they pass through, so a
// single Flow parameterized per kind replaces one state machine per subtype.
type Flow struct {
	stages []Stage
}

// NewFlow builds a flow from an ordered stage list. The list must start at
// StageQueued and end at StageComplete; StageFailed is reachable from any
// non-terminal stage and never appears in the list.
func NewFlow(stages ...Stage) Flow {
	return Flow{stages: stages}
}

// FlowFor returns the stage flow for the given item kind.
func FlowFor(kind ItemKind) Flow {
	switch kind {
	case ItemKindTextEdit:
		// Text edits have no source-media preparation step.
		return NewFlow(StageQueued, StageValidating, StageGenerating, StageSaving, StageComplete)
	default:
		return NewFlow(StageQueued, StageValidating, StagePreparing, StageGenerating, StageSaving, StageComplete)
	}
}

// First returns the initial stage of the flow.
func (f Flow) First() Stage {
	if len(f.stages) == 0 {
		return StageQueued
	}
	return f.stages[0]
}

// Next returns the stage that follows cur, and false when cur is terminal or
// not part of the flow.
func (f Flow) Next(cur Stage) (Stage, bool) {
	for i, s := range f.stages {
		if s == cur {
			if i+1 >= len(f.stages) {
				return "", false
			}
			return f.stages[i+1], true
		}
	}
	return "", false
}

// Allows reports whether advancing from one stage to another is legal:
// strictly forward along the flow, or a failure from any non-terminal stage.
// A terminal stage is absorbing and never allows another transition.
func (f Flow) Allows(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	fromIdx, toIdx := -1, -1
	for i, s := range f.stages {
		if s == from {
			fromIdx = i
		}
		if s == to {
			toIdx = i
		}
	}
	return fromIdx >= 0 && toIdx > fromIdx
}

// Stages returns a copy of the ordered stage list.
func (f Flow) Stages() []Stage {
	out := make([]Stage, len(f.stages))
	copy(out, f.stages)
	return out
}
