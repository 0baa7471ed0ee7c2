package orchestrator

import (
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/halim/warden/pkg/conversation"
)

// ErrTurnLimitExceeded is returned when a conversation has already used its
// full turn budget.
var ErrTurnLimitExceeded = errors.New("turn limit exceeded")

// ErrQueueSaturated is returned when the orchestrator backlog is full. The
// turn was not started; the caller may retry it later.
var ErrQueueSaturated = errors.New("turn queue saturated")

// ErrUnknownConversation is returned for a conversation ID the orchestrator
// does not track.
var ErrUnknownConversation = errors.New("unknown conversation")

// Turn outcome statuses. Guardrail and shield rejections are outcomes, not
// errors: the turn ran to a decision and the decision was no.
const (
	StatusCompleted         = "completed"
	StatusGuardrailRejected = "guardrail_rejected"
	StatusShieldBlocked     = "shield_blocked"
)

// TurnResult is the outcome of one turn.
type TurnResult struct {
	TurnID         string
	ConversationID string
	Status         string

	// Answer and Reasoning are set only on completed turns.
	Answer       string
	Reasoning    string
	HasReasoning bool

	// Reason and Validator are set only on rejected or blocked turns.
	Reason    string
	Validator string

	CacheHit bool
	Usage    conversation.Usage
	Duration time.Duration
}

// Completed reports whether the turn produced an answer.
func (r TurnResult) Completed() bool {
	return r.Status == StatusCompleted
}

func newTurnID() string {
	return "turn_" + gonanoid.Must(16)
}
