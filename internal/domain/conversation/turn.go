package conversation

import "fmt"

// TurnState is the lifecycle state of a single turn.
type TurnState string

const (
	TurnAwaitingModel  TurnState = "awaiting_model"
	TurnExecutingTools TurnState = "executing_tools"
	TurnDone           TurnState = "done"
	TurnFailed         TurnState = "failed"
)

// validTransitions lists the states reachable from each state.
var validTransitions = map[TurnState][]TurnState{
	TurnAwaitingModel:  {TurnExecutingTools, TurnDone, TurnFailed},
	TurnExecutingTools: {TurnAwaitingModel, TurnFailed},
}

// IsTerminal reports whether no further transitions are possible.
func (s TurnState) IsTerminal() bool {
	return s == TurnDone || s == TurnFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s TurnState) CanTransition(next TurnState) bool {
	for _, t := range validTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Transition returns next or an error if the move is not allowed.
func (s TurnState) Transition(next TurnState) (TurnState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid turn transition %s -> %s", s, next)
	}
	return next, nil
}

// TurnResult is the outcome of processing one user message.
type TurnResult struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	State          TurnState `json:"state"`
	Reply          string    `json:"reply"`
	Iterations     int       `json:"iterations"`
	ToolCalls      int       `json:"tool_calls"`
	Err            error     `json:"-"`
}

// Failed reports whether the turn ended without a model-produced answer.
func (r *TurnResult) Failed() bool { return r.State == TurnFailed }

// TurnEvent is broadcast on every state change of a turn.
type TurnEvent struct {
	TurnID         string    `json:"turn_id"`
	ConversationID string    `json:"conversation_id"`
	State          TurnState `json:"state"`
	Iteration      int       `json:"iteration"`
	Tools          []string  `json:"tools,omitempty"`
}

// EventTurnState is the broadcast event type for TurnEvent.
const EventTurnState = "turn.state"

// Conversation returns the conversation the event belongs to.
func (e TurnEvent) Conversation() string { return e.ConversationID }
