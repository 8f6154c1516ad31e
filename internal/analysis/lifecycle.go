package analysis

import (
	scerrors "github.com/sourcecolon/sourcecolon/internal/errors"
)

// State is the position of an analyzer instance in its lifecycle.
type State int

const (
	StateCreated State = iota
	StateAnalyzed
	StateRendered
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAnalyzed:
		return "analyzed"
	case StateRendered:
		return "rendered"
	default:
		return "unknown"
	}
}

// Lifecycle enforces Created -> Analyzed -> Rendered. Each transition
// happens at most once; a failed analyze or render leaves the state as it was.
type Lifecycle struct {
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State { return l.state }

// CheckAnalyze reports whether Analyze may run.
func (l *Lifecycle) CheckAnalyze() error {
	if l.state != StateCreated {
		return scerrors.ErrAlreadyAnalyzed
	}
	return nil
}

// MarkAnalyzed records a successful Analyze.
func (l *Lifecycle) MarkAnalyzed() { l.state = StateAnalyzed }

// CheckRender reports whether WriteXref may run.
func (l *Lifecycle) CheckRender() error {
	switch l.state {
	case StateCreated:
		return scerrors.ErrNotAnalyzed
	case StateRendered:
		return scerrors.ErrAlreadyRendered
	}
	return nil
}

// MarkRendered records a successful WriteXref.
func (l *Lifecycle) MarkRendered() { l.state = StateRendered }
