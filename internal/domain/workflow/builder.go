package workflow

import (
	"context"
	"fmt"
)

// GuardFunc is a function that evaluates whether a transition should be allowed
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder builds a configured state machine
type StateMachineBuilder interface {
	// Configure returns a state configuration for the given state
	Configure(state State) StateConfiguration

	// Build creates a new state machine instance with the given initial state
	Build(initialState State) StateMachine
}

// StateConfiguration configures transitions for a specific state
type StateConfiguration interface {
	// Permit allows a trigger to transition to the target state
	Permit(trigger Trigger, toState State) StateConfiguration

	// PermitIf allows a trigger to transition to the target state if the guard condition passes
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

// transition represents a state transition with optional guard
type transition struct {
	trigger Trigger
	toState State
	guard   GuardFunc
}

// stateConfig implements StateConfiguration
type stateConfig struct {
	builder     *stateMachineBuilder
	fromState   State
	transitions []transition
}

// stateMachineBuilder implements StateMachineBuilder
type stateMachineBuilder struct {
	states         stateSet
	configurations map[State]*stateConfig
}

// stateMachine implements StateMachine
type stateMachine struct {
	currentState   State
	configurations map[State]*stateConfig
}

// NewBuilder creates a builder that accepts only the given states.
// Configuring or building with any other state panics.
func NewBuilder(states ...State) StateMachineBuilder {
	return &stateMachineBuilder{
		states:         newStateSet(states),
		configurations: make(map[State]*stateConfig),
	}
}

// Configure returns a state configuration for the given state
func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !b.states.contains(state) {
		panic(fmt.Sprintf("invalid state: %s", state))
	}

	config, exists := b.configurations[state]
	if !exists {
		config = &stateConfig{
			builder:   b,
			fromState: state,
		}
		b.configurations[state] = config
	}

	return config
}

// Build creates a new state machine instance with the given initial state
func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !b.states.contains(initialState) {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}

	configsCopy := make(map[State]*stateConfig, len(b.configurations))
	for state, config := range b.configurations {
		configsCopy[state] = &stateConfig{
			fromState:   state,
			transitions: append([]transition{}, config.transitions...),
		}
	}

	return &stateMachine{
		currentState:   initialState,
		configurations: configsCopy,
	}
}

// Permit allows a trigger to transition to the target state
func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

// PermitIf allows a trigger to transition to the target state if the guard condition passes
func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !c.builder.states.contains(toState) {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}

	c.transitions = append(c.transitions, transition{
		trigger: trigger,
		toState: toState,
		guard:   guard,
	})

	return c
}

// State returns the current state
func (m *stateMachine) State() State {
	return m.currentState
}

// CanFire returns true if the trigger is permitted in the current state.
// Guards are not evaluated.
func (m *stateMachine) CanFire(trigger Trigger) bool {
	for _, t := range m.current() {
		if t.trigger == trigger {
			return true
		}
	}
	return false
}

// Fire attempts to execute the trigger, transitioning to the new state if allowed
func (m *stateMachine) Fire(ctx context.Context, trigger Trigger) error {
	candidates := make([]transition, 0, 1)
	for _, t := range m.current() {
		if t.trigger == trigger {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.currentState)
	}

	// First passing guard wins
	for _, t := range candidates {
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return nil
		}
	}

	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.currentState)
}

// PermittedTriggers returns all triggers that can be fired in the current state
func (m *stateMachine) PermittedTriggers() []Trigger {
	seen := make(map[Trigger]bool)
	triggers := make([]Trigger, 0)
	for _, t := range m.current() {
		if !seen[t.trigger] {
			seen[t.trigger] = true
			triggers = append(triggers, t.trigger)
		}
	}
	return triggers
}

// CanTransitionTo returns true if some trigger leads from the current state to the target
func (m *stateMachine) CanTransitionTo(target State) bool {
	for _, t := range m.current() {
		if t.toState == target {
			return true
		}
	}
	return false
}

// TransitionTo moves to the target state and reports the trigger that was used
func (m *stateMachine) TransitionTo(ctx context.Context, target State) (Trigger, error) {
	matched := false
	for _, t := range m.current() {
		if t.toState != target {
			continue
		}
		matched = true
		if t.guard == nil || t.guard(ctx) {
			m.currentState = t.toState
			return t.trigger, nil
		}
	}

	if !matched {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.currentState, target)
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrGuardFailed, m.currentState, target)
}

// PermittedStates returns the states reachable in one step, guards not evaluated
func (m *stateMachine) PermittedStates() []State {
	seen := make(map[State]bool)
	states := make([]State, 0)
	for _, t := range m.current() {
		if !seen[t.toState] {
			seen[t.toState] = true
			states = append(states, t.toState)
		}
	}
	return states
}

func (m *stateMachine) current() []transition {
	config, exists := m.configurations[m.currentState]
	if !exists {
		return nil
	}
	return config.transitions
}
