// Package fsm holds helpers shared by looplab/fsm state machines.
package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning action to a looplab callback. The
// error is stored on the event and returned by FSM.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsRejected reports whether err only means the event did not apply in the
// current state, as opposed to a failed action.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}

	var (
		invalid      fsm.InvalidEventError
		noTransition fsm.NoTransitionError
		canceled     fsm.CanceledError
		inTransition fsm.InTransitionError
	)
	return errors.As(err, &invalid) || errors.As(err, &noTransition) ||
		errors.As(err, &canceled) || errors.As(err, &inTransition)
}
