// Package conversation holds the per-session state the orchestrator drives:
// the ordered message history, the turn counter, and the termination flag.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrTerminated is returned when a turn is begun on a conversation that has
// already ended.
var ErrTerminated = errors.New("conversation is terminated")

// Message is a single entry in the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is one completed user-input/agent-output exchange.
type Turn struct {
	ID        string    `json:"id"`
	UserInput string    `json:"user_input"`
	Answer    string    `json:"answer"`
	Reasoning string    `json:"reasoning,omitempty"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Usage accumulates token accounting across a conversation.
type Usage struct {
	Requests     int `json:"requests"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add merges another usage sample into this one.
func (u *Usage) Add(other Usage) {
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// State is the mutable record of one conversation. A State is owned by
// exactly one orchestrator invocation at a time; the internal mutex enforces
// single-writer access rather than providing general concurrent use.
type State struct {
	id         string
	systemHint string

	mu         sync.Mutex
	history    []Message
	turns      []Turn
	turnCount  int
	terminated bool
	usage      Usage
}

// New creates an empty conversation.
func New() *State {
	return NewWithSystemHint("")
}

// NewWithSystemHint creates an empty conversation whose history starts with
// a system message.
func NewWithSystemHint(systemHint string) *State {
	s := &State{
		id:         uuid.New().String(),
		systemHint: systemHint,
	}
	if systemHint != "" {
		s.history = append(s.history, Message{
			Role:      "system",
			Content:   systemHint,
			Timestamp: time.Now(),
		})
	}
	return s
}

// ID returns the conversation identifier.
func (s *State) ID() string {
	return s.id
}

// TurnCount returns the number of completed turns.
func (s *State) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnCount
}

// Terminated reports whether the conversation has ended.
func (s *State) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// Terminate marks the conversation as ended. Further turns fail.
func (s *State) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
}

// History returns a snapshot copy of the message history.
func (s *State) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Turns returns a snapshot copy of completed turns.
func (s *State) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Usage returns the accumulated usage for the conversation.
func (s *State) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// AddUsage merges a usage sample into the conversation total.
func (s *State) AddUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
}

// AppendTurn records a completed turn: the user message and the agent answer
// join the history, and the turn counter advances. Turns are appended
// strictly in completion order for one conversation.
func (s *State) AppendTurn(turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated {
		return ErrTerminated
	}

	s.history = append(s.history,
		Message{Role: "user", Content: turn.UserInput, Timestamp: turn.StartedAt},
		Message{Role: "assistant", Content: turn.Answer, Timestamp: turn.EndedAt},
	)
	s.turns = append(s.turns, turn)
	s.turnCount++
	return nil
}
