// Package fsm defines the UI lifecycle states and their legal transitions.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle               State = "idle"
	StateAwaitingPermission State = "awaiting_permission"
	StateRecording          State = "recording"
	StateProcessing         State = "processing"
	StateResult             State = "result"
	StateError              State = "error"
)

const (
	EventRequestPermission Event = "request_permission"
	EventGranted           Event = "granted"
	EventDenied            Event = "denied"
	EventStart             Event = "start"
	EventElapsed           Event = "elapsed"
	EventMatched           Event = "matched"
	EventFail              Event = "fail"
	EventFade              Event = "fade"
)

// Transition returns the state reached by applying event to current.
//
// Result and Error are idle-equivalent for EventStart so a new recording may
// begin before the previous message fades.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventRequestPermission:
			return StateAwaitingPermission, nil
		case EventStart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingPermission:
		switch event {
		case EventGranted:
			return StateIdle, nil
		case EventDenied:
			return StateError, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventElapsed:
			return StateProcessing, nil
		case EventFail:
			return StateError, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateProcessing:
		switch event {
		case EventMatched:
			return StateResult, nil
		case EventFail:
			return StateError, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateResult, StateError:
		switch event {
		case EventStart:
			return StateRecording, nil
		case EventFade:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Busy reports whether a capture/upload cycle is in flight.
func Busy(state State) bool {
	return state == StateRecording || state == StateProcessing
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
