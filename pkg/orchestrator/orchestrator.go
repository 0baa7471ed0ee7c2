// Package orchestrator drives the turn loop: it owns conversation state,
// enforces the turn and backlog limits, and routes every turn through the
// guardrail stage, the response cache, the model client, the reasoning
// splitter, and the shield stage, in that order.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halim/warden/internal/config"
	"github.com/halim/warden/internal/observability"
	"github.com/halim/warden/internal/tracing"
	"github.com/halim/warden/pkg/conversation"
	"github.com/halim/warden/pkg/modelclient"
	"github.com/halim/warden/pkg/pipeline"
	"github.com/halim/warden/pkg/reasoning"
	"github.com/halim/warden/pkg/respcache"
)

// Options selects the validators each stage runs. Empty slices are valid;
// a stage with no validators approves everything.
type Options struct {
	GuardrailValidators []pipeline.Validator
	ShieldValidators    []pipeline.Validator
}

// Runner executes turns. One Runner serves many conversations concurrently;
// turns for the same conversation are strictly sequenced, turns for
// different conversations proceed in parallel up to the backlog bound.
type Runner struct {
	cfg       *config.Config
	completer modelclient.Completer
	guardrail *pipeline.Stage
	shield    *pipeline.Stage
	cache     *respcache.Cache
	splitter  *reasoning.Splitter
	logger    zerolog.Logger

	// backlog bounds turns admitted but not yet finished, across all
	// conversations. Admission is non-blocking.
	backlog chan struct{}

	mu            sync.Mutex
	conversations map[string]*conversation.State
	lanes         map[string]chan struct{}
}

// New builds a runner from configuration, a model completer, and the stage
// validators.
func New(cfg *config.Config, completer modelclient.Completer, opts Options, logger zerolog.Logger) *Runner {
	observability.EnsureRegistered()

	log := logger.With().Str("component", "orchestrator").Logger()
	return &Runner{
		cfg:       cfg,
		completer: completer,
		guardrail: pipeline.NewStage("guardrail", cfg.Limits.MaxGuardrailQueueSize, opts.GuardrailValidators, log),
		shield:    pipeline.NewStage("shield", cfg.Limits.MaxShieldQueueSize, opts.ShieldValidators, log),
		cache:     respcache.New(cfg.Limits.LRUCacheSize),
		splitter:  reasoning.NewSplitter(cfg.ThinkTags.Start, cfg.ThinkTags.End),
		logger:    log,

		backlog:       make(chan struct{}, cfg.Limits.MaxQueueSize),
		conversations: make(map[string]*conversation.State),
		lanes:         make(map[string]chan struct{}),
	}
}

// StartConversation registers a new conversation and returns its state.
func (r *Runner) StartConversation(systemHint string) *conversation.State {
	state := conversation.NewWithSystemHint(systemHint)

	r.mu.Lock()
	r.conversations[state.ID()] = state
	r.lanes[state.ID()] = make(chan struct{}, 1)
	count := len(r.conversations)
	r.mu.Unlock()

	observability.SetActiveConversations(count)
	r.logger.Info().Str("conversation_id", state.ID()).Msg("Conversation started")
	return state
}

// Conversation returns a tracked conversation by ID.
func (r *Runner) Conversation(id string) (*conversation.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conversations[id]
	return state, ok
}

// EndConversation terminates a conversation and stops tracking it.
func (r *Runner) EndConversation(id string) {
	r.mu.Lock()
	state, ok := r.conversations[id]
	if ok {
		delete(r.conversations, id)
		delete(r.lanes, id)
	}
	count := len(r.conversations)
	r.mu.Unlock()

	if !ok {
		return
	}
	state.Terminate()
	observability.SetActiveConversations(count)
	r.logger.Info().Str("conversation_id", id).Msg("Conversation ended")
}

// Backlog returns the number of turns currently admitted.
func (r *Runner) Backlog() int {
	return len(r.backlog)
}

// Cache exposes the response cache, mainly for inspection.
func (r *Runner) Cache() *respcache.Cache {
	return r.cache
}

// RunTurn executes one turn for a conversation. It fails fast with
// ErrQueueSaturated when the backlog is full and with ErrTurnLimitExceeded
// when the conversation has used its turn budget. Guardrail rejections and
// shield blocks are not errors; they come back as the result status.
func (r *Runner) RunTurn(ctx context.Context, conversationID, userInput string) (TurnResult, error) {
	state, ok := r.Conversation(conversationID)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}

	select {
	case r.backlog <- struct{}{}:
	default:
		r.logger.Warn().Str("conversation_id", conversationID).Msg("Turn queue saturated")
		return TurnResult{}, ErrQueueSaturated
	}
	observability.SetBacklog(len(r.backlog))
	defer func() {
		<-r.backlog
		observability.SetBacklog(len(r.backlog))
	}()

	r.mu.Lock()
	lane := r.lanes[conversationID]
	r.mu.Unlock()
	if lane == nil {
		return TurnResult{}, fmt.Errorf("%w: %s", ErrUnknownConversation, conversationID)
	}

	// Sequence turns within one conversation. Admission above was
	// non-blocking; waiting here is a queued turn, not a saturated queue.
	select {
	case lane <- struct{}{}:
	case <-ctx.Done():
		return TurnResult{}, ctx.Err()
	}
	defer func() { <-lane }()

	return r.runTurn(ctx, state, userInput)
}

func (r *Runner) runTurn(ctx context.Context, state *conversation.State, userInput string) (TurnResult, error) {
	if state.Terminated() {
		return TurnResult{}, conversation.ErrTerminated
	}
	if state.TurnCount() >= r.cfg.Limits.MaxTurns {
		// Terminal for the conversation, not just for this turn.
		state.Terminate()
		r.logger.Warn().
			Str("conversation_id", state.ID()).
			Int("max_turns", r.cfg.Limits.MaxTurns).
			Msg("Turn limit exceeded")
		return TurnResult{}, fmt.Errorf("%w: conversation %s reached %d turns",
			ErrTurnLimitExceeded, state.ID(), r.cfg.Limits.MaxTurns)
	}

	turnID := newTurnID()
	ctx = tracing.WithConversationID(ctx, state.ID())
	ctx = tracing.WithTurnID(ctx, turnID)
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	}
	// StartSpan picks the conversation and turn IDs up from ctx.
	ctx, span := tracing.StartSpan(ctx, "orchestrator", "turn")
	defer span.End()

	log := tracing.LoggerFromContext(ctx, r.logger)
	started := time.Now()
	log.Info().Int("turn_number", state.TurnCount()+1).Msg("Turn started")

	result := TurnResult{TurnID: turnID, ConversationID: state.ID()}

	// Guardrail: validate the user input before anything else touches it.
	guardResult, err := r.guardrail.Submit(ctx, pipeline.Item{
		ConversationID: state.ID(),
		TurnID:         turnID,
		Content:        userInput,
	})
	if err != nil {
		observability.RecordTurn("guardrail_error", time.Since(started))
		return TurnResult{}, err
	}
	if !guardResult.Approved {
		log.Warn().
			Str("validator", guardResult.Validator).
			Str("reason", guardResult.Reason).
			Msg("Guardrail rejected input")
		observability.RecordTurn(StatusGuardrailRejected, time.Since(started))
		result.Status = StatusGuardrailRejected
		result.Reason = guardResult.Reason
		result.Validator = guardResult.Validator
		result.Duration = time.Since(started)
		return result, nil
	}
	input := guardResult.Item.Content

	// Probe the cache with the full pending request. One insert per miss;
	// hits skip the model entirely.
	messages := r.buildMessages(state, input)
	fingerprint := respcache.Fingerprint(requestKey(r.cfg.Model, messages))

	response, hit := r.cache.Get(fingerprint)
	if hit {
		log.Debug().Str("fingerprint", fingerprint[:12]).Msg("Cache hit")
		result.CacheHit = true
	} else {
		log.Debug().Str("fingerprint", fingerprint[:12]).Msg("Cache miss")

		completion, err := r.completer.Complete(ctx, modelclient.Request{
			Model:       r.cfg.Model.Name,
			Messages:    messages,
			Temperature: r.cfg.Model.Temperature,
			MaxTokens:   r.cfg.Model.MaxTokens,
		})
		if err != nil {
			log.Error().Err(err).Msg("Model call failed")
			observability.RecordTurn("model_error", time.Since(started))
			return TurnResult{}, err
		}

		split := r.splitter.Split(completion.Text)
		response = respcache.Response{
			Raw:          completion.Text,
			Reasoning:    split.Reasoning,
			HasReasoning: split.HasReasoning,
			Answer:       split.Answer,
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
		}
		r.cache.Put(fingerprint, response)

		result.Usage = conversation.Usage{
			Requests:     1,
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
			TotalTokens:  completion.Usage.TotalTokens,
		}
	}

	// Shield: validate the answer before it reaches the caller or the
	// history. Cached answers pass through it too.
	shieldResult, err := r.shield.Submit(ctx, pipeline.Item{
		ConversationID: state.ID(),
		TurnID:         turnID,
		Content:        response.Answer,
	})
	if err != nil {
		observability.RecordTurn("shield_error", time.Since(started))
		return TurnResult{}, err
	}
	if !shieldResult.Approved {
		log.Warn().
			Str("validator", shieldResult.Validator).
			Str("reason", shieldResult.Reason).
			Msg("Shield blocked output")
		observability.RecordTurn(StatusShieldBlocked, time.Since(started))
		state.AddUsage(result.Usage)
		result.Status = StatusShieldBlocked
		result.Reason = shieldResult.Reason
		result.Validator = shieldResult.Validator
		result.Duration = time.Since(started)
		return result, nil
	}
	answer := shieldResult.Item.Content

	ended := time.Now()
	if err := state.AppendTurn(conversation.Turn{
		ID:        turnID,
		UserInput: input,
		Answer:    answer,
		Reasoning: response.Reasoning,
		Status:    StatusCompleted,
		StartedAt: started,
		EndedAt:   ended,
	}); err != nil {
		return TurnResult{}, err
	}
	state.AddUsage(result.Usage)

	log.Info().
		Bool("cache_hit", result.CacheHit).
		Bool("has_reasoning", response.HasReasoning).
		Dur("duration", ended.Sub(started)).
		Msg("Turn completed")
	observability.RecordTurn(StatusCompleted, ended.Sub(started))

	result.Status = StatusCompleted
	result.Answer = answer
	result.Reasoning = response.Reasoning
	result.HasReasoning = response.HasReasoning
	result.Duration = ended.Sub(started)
	return result, nil
}

// buildMessages snapshots the history and appends the pending user input.
func (r *Runner) buildMessages(state *conversation.State, input string) []modelclient.Message {
	history := state.History()
	messages := make([]modelclient.Message, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, modelclient.Message{Role: m.Role, Content: m.Content})
	}
	return append(messages, modelclient.Message{Role: "user", Content: input})
}

func requestKey(model config.ModelConfig, messages []modelclient.Message) respcache.RequestKey {
	key := respcache.RequestKey{
		Model:       model.Name,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		Messages:    make([]respcache.KeyMessage, 0, len(messages)),
	}
	for _, m := range messages {
		key.Messages = append(key.Messages, respcache.KeyMessage{Role: m.Role, Content: m.Content})
	}
	return key
}
