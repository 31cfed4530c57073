package workflow

import "context"

// StateMachine represents a state machine that tracks current state and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger

	// CanTransitionTo returns true if some trigger leads from the current state to the target
	CanTransitionTo(target State) bool

	// TransitionTo moves to the target state through whichever trigger leads there
	TransitionTo(ctx context.Context, target State) (Trigger, error)

	// PermittedStates returns the states reachable in one step, guards not evaluated
	PermittedStates() []State
}
