package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventRequestPermission)
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPermission, next)

	next, err = Transition(next, EventGranted)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)

	next, err = Transition(next, EventStart)
	require.NoError(t, err)
	require.Equal(t, StateRecording, next)

	next, err = Transition(next, EventElapsed)
	require.NoError(t, err)
	require.Equal(t, StateProcessing, next)

	next, err = Transition(next, EventMatched)
	require.NoError(t, err)
	require.Equal(t, StateResult, next)

	next, err = Transition(next, EventFade)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionDeniedIsError(t *testing.T) {
	next, err := Transition(StateAwaitingPermission, EventDenied)
	require.NoError(t, err)
	require.Equal(t, StateError, next)
}

func TestTransitionRestartFromMessageStates(t *testing.T) {
	for _, state := range []State{StateResult, StateError} {
		next, err := Transition(state, EventStart)
		require.NoError(t, err)
		require.Equal(t, StateRecording, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle elapsed invalid", state: StateIdle, event: EventElapsed, want: StateIdle, wantErr: true},
		{name: "idle matched invalid", state: StateIdle, event: EventMatched, want: StateIdle, wantErr: true},
		{name: "awaiting start invalid", state: StateAwaitingPermission, event: EventStart, want: StateAwaitingPermission, wantErr: true},
		{name: "recording start invalid", state: StateRecording, event: EventStart, want: StateRecording, wantErr: true},
		{name: "recording matched invalid", state: StateRecording, event: EventMatched, want: StateRecording, wantErr: true},
		{name: "processing start invalid", state: StateProcessing, event: EventStart, want: StateProcessing, wantErr: true},
		{name: "processing elapsed invalid", state: StateProcessing, event: EventElapsed, want: StateProcessing, wantErr: true},
		{name: "error granted invalid", state: StateError, event: EventGranted, want: StateError, wantErr: true},
		{name: "processing fail valid", state: StateProcessing, event: EventFail, want: StateError, wantErr: false},
		{name: "error fade valid", state: StateError, event: EventFade, want: StateIdle, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestBusy(t *testing.T) {
	require.True(t, Busy(StateRecording))
	require.True(t, Busy(StateProcessing))
	require.False(t, Busy(StateIdle))
	require.False(t, Busy(StateResult))
	require.False(t, Busy(StateError))
}
