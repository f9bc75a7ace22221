package practice

import (
	"errors"
	"fmt"

	"github.com/MrWong99/tartil/pkg/recitation"
)

// Action is a learner command that moves a session between phases.
type Action string

const (
	ActionListen      Action = "listen"
	ActionRecord      Action = "record"
	ActionStopRecord  Action = "stopRecord"
	ActionRetry       Action = "retry"
	ActionComplete    Action = "complete"
	ActionCancel      Action = "cancel"
	ActionPlayAttempt Action = "playAttempt"
)

// ErrInvalidTransition is returned when an action is not allowed in the
// session's current phase.
var ErrInvalidTransition = errors.New("practice: invalid transition")

// ErrUnknownAction is returned by [ParseAction] for unrecognised names.
var ErrUnknownAction = errors.New("practice: unknown action")

// ParseAction validates an action name received from a client.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionListen, ActionRecord, ActionStopRecord, ActionRetry,
		ActionComplete, ActionCancel, ActionPlayAttempt:
		return a, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownAction, s)
}

// Transition returns the phase an action leads to. It is pure: the session
// may still divert the result (record becomes blocked when the microphone
// is unavailable, analyzing always ends in feedback).
//
// Terminal phases accept no action. Cancel is accepted from every other
// phase.
func Transition(current recitation.Phase, action Action) (recitation.Phase, error) {
	switch current {
	case recitation.PhaseIntro, recitation.PhaseListen, recitation.PhaseRecord,
		recitation.PhaseAnalyzing, recitation.PhaseFeedback, recitation.PhaseBlocked:
	case recitation.PhaseComplete, recitation.PhaseCancelled:
		return current, invalidTransition(current, action)
	default:
		return current, fmt.Errorf("practice: unknown phase %q", current)
	}

	if action == ActionCancel {
		return recitation.PhaseCancelled, nil
	}

	switch current {
	case recitation.PhaseIntro, recitation.PhaseListen:
		switch action {
		case ActionListen:
			return recitation.PhaseListen, nil
		case ActionRecord:
			return recitation.PhaseRecord, nil
		}
	case recitation.PhaseRecord:
		switch action {
		case ActionRecord:
			return recitation.PhaseRecord, nil
		case ActionStopRecord:
			return recitation.PhaseAnalyzing, nil
		}
	case recitation.PhaseBlocked:
		if action == ActionRecord {
			return recitation.PhaseRecord, nil
		}
	case recitation.PhaseFeedback:
		switch action {
		case ActionRetry:
			return recitation.PhaseRecord, nil
		case ActionComplete:
			return recitation.PhaseComplete, nil
		case ActionPlayAttempt:
			return recitation.PhaseFeedback, nil
		}
	}
	return current, invalidTransition(current, action)
}

func invalidTransition(phase recitation.Phase, action Action) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, phase, action)
}
