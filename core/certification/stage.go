package certification

import "time"

// Stage is one position in the fixed certification progress sequence.
type Stage string

const (
	StageStarted    Stage = "started"
	StageApplied    Stage = "applied"
	StageInProgress Stage = "in_progress"
	StageApproved   Stage = "approved"
)

// Stages lists every stage in canonical order.
var Stages = []Stage{StageStarted, StageApplied, StageInProgress, StageApproved}

// Index returns the position of s in the canonical order, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

func (s Stage) IsValid() bool { return s.Index() >= 0 }

// Next returns the immediate successor of s.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(Stages) {
		return "", false
	}
	return Stages[i+1], true
}

// Prev returns the predecessor of s; StageStarted is its own predecessor.
func (s Stage) Prev() Stage {
	i := s.Index()
	if i <= 0 {
		return StageStarted
	}
	return Stages[i-1]
}

// DisplayStatus is the read-time projection of a progress record.
type DisplayStatus string

const (
	DisplayStarted    = DisplayStatus(StageStarted)
	DisplayApplied    = DisplayStatus(StageApplied)
	DisplayInProgress = DisplayStatus(StageInProgress)
	DisplayApproved   = DisplayStatus(StageApproved)
	DisplayExpired    DisplayStatus = "expired"
)

// Transition returns the record resulting from checking (advance) or unchecking (revert) the requested stage.
// p is never modified; on error the returned record is p unchanged.
//
// Advancing is only valid towards the immediate successor of the current stage.
// Reverting is only valid on the current stage and moves back to its predecessor,
// clearing the departed stage's timestamp; reverting StageStarted is a no-op.
func Transition(p Progress, requested Stage, checked bool, now time.Time) (Progress, error) {
	if !requested.IsValid() {
		return p, newTransitionError(p.CurrentStage, requested, checked, reasonUnknownStage)
	}

	next := p
	if checked {
		if requested.Index() != p.CurrentStage.Index()+1 {
			return p, newTransitionError(p.CurrentStage, requested, checked, reasonOutOfOrder)
		}
		ts := now.UTC()
		next.CurrentStage = requested
		next.setStageTime(requested, &ts)
	} else {
		if requested != p.CurrentStage {
			return p, newTransitionError(p.CurrentStage, requested, checked, reasonNotCurrent)
		}
		if prev := requested.Prev(); prev != requested {
			next.CurrentStage = prev
			next.setStageTime(requested, nil)
		}
	}
	return next, nil
}

// ComputeDisplayStatus derives what a reader should see for p as of asOf.
// An approved record whose validity period has elapsed shows as expired; the stored stage is never changed.
func ComputeDisplayStatus(p Progress, ct Type, asOf time.Time) DisplayStatus {
	if exp := ExpiresAt(p, ct); exp != nil && exp.Before(asOf) {
		return DisplayExpired
	}
	return DisplayStatus(p.CurrentStage)
}

// ExpiresAt returns when an approved record stops being valid, or nil when it does not expire.
func ExpiresAt(p Progress, ct Type) *time.Time {
	if p.CurrentStage != StageApproved || p.ApprovedAt == nil || ct.ValidityPeriod <= 0 {
		return nil
	}
	return addMonths(*p.ApprovedAt, ct.ValidityPeriod)
}

// addMonths clamps to the last day of the target month: Aug 31 + 6 months is Feb 29 (or 28).
func addMonths(t time.Time, months int) *time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	exp := first.AddDate(0, 0, d-1)
	return &exp
}
