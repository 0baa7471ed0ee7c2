// Package pipeline implements the bounded validation stages the orchestrator
// places around the model: a guardrail stage for user input and a shield
// stage for model output. Both are the same Stage type with different
// validators and capacity.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/halim/warden/internal/observability"
	"github.com/halim/warden/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// ErrStageSaturated is returned by Submit when the stage already holds its
// maximum number of in-flight items. The caller may retry the whole turn
// later; Submit never blocks waiting for a slot.
var ErrStageSaturated = errors.New("validation stage saturated")

// Item is a unit of work submitted to a stage: the text under validation
// plus its conversation context.
type Item struct {
	ConversationID string
	TurnID         string
	Content        string

	// Metadata carries structured payload for validators that inspect more
	// than the text, e.g. the schema validator.
	Metadata map[string]interface{}
}

// Verdict is a single validator's judgement of an item.
type Verdict struct {
	Approved bool
	Reason   string

	// Transformed, when non-nil on an approval, replaces the item content.
	Transformed *string
}

// Approve returns an approving verdict that leaves the item unchanged.
func Approve() Verdict {
	return Verdict{Approved: true}
}

// ApproveTransformed returns an approving verdict that rewrites the content.
func ApproveTransformed(content string) Verdict {
	return Verdict{Approved: true, Transformed: &content}
}

// Reject returns a rejecting verdict with a reason.
func Reject(reason string) Verdict {
	return Verdict{Approved: false, Reason: reason}
}

// Validator judges one item. Implementations may be pure functions or call
// out to a secondary model; they must honor ctx cancellation.
type Validator interface {
	Name() string
	Validate(ctx context.Context, item Item) Verdict
}

// Result is the aggregate outcome of one Submit: either the approved,
// possibly transformed item, or a rejection carrying the reason and the
// name of the rejecting validator.
type Result struct {
	Approved  bool
	Item      Item
	Reason    string
	Validator string
}

// Stage runs a set of validators over submitted items with a hard bound on
// in-flight work. Policy is fail-closed: one rejection rejects the item no
// matter what the other validators say.
type Stage struct {
	name       string
	validators []Validator
	slots      chan struct{}
	logger     zerolog.Logger
}

// NewStage creates a stage. Capacity below one is treated as one.
func NewStage(name string, capacity int, validators []Validator, logger zerolog.Logger) *Stage {
	observability.EnsureRegistered()

	if capacity < 1 {
		capacity = 1
	}
	return &Stage{
		name:       name,
		validators: validators,
		slots:      make(chan struct{}, capacity),
		logger:     logger.With().Str("stage", name).Logger(),
	}
}

// Name returns the stage name.
func (s *Stage) Name() string {
	return s.name
}

// InFlight returns the number of items currently holding a slot.
func (s *Stage) InFlight() int {
	return len(s.slots)
}

// Capacity returns the stage's in-flight bound.
func (s *Stage) Capacity() int {
	return cap(s.slots)
}

// Submit validates an item. It fails immediately with ErrStageSaturated when
// the stage is full, and with the context error when ctx is cancelled while
// validators run; the slot is released either way. With zero validators
// every item is approved unchanged.
func (s *Stage) Submit(ctx context.Context, item Item) (Result, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"warden.pipeline",
		"pipeline.submit",
		attribute.String("stage", s.name),
	)
	defer span.End()

	select {
	case s.slots <- struct{}{}:
	default:
		observability.RecordStageSaturated(s.name)
		s.logger.Warn().
			Str("conversation_id", item.ConversationID).
			Int("capacity", cap(s.slots)).
			Msg("Stage saturated, refusing item")
		return Result{}, fmt.Errorf("%s: %w", s.name, ErrStageSaturated)
	}
	defer func() { <-s.slots }()

	observability.RecordStageSubmit(s.name)
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	verdicts, err := s.runValidators(ctx, item)
	observability.RecordStageDuration(s.name, time.Since(start))
	if err != nil {
		return Result{}, err
	}

	// Fail-closed join: the first rejection in registration order wins, so
	// the aggregate is deterministic regardless of completion order.
	for i, v := range verdicts {
		if !v.Approved {
			observability.RecordStageRejection(s.name)
			logger.Info().
				Str("validator", s.validators[i].Name()).
				Str("reason", v.Reason).
				Msg("Item rejected")
			return Result{
				Approved:  false,
				Item:      item,
				Reason:    v.Reason,
				Validator: s.validators[i].Name(),
			}, nil
		}
	}

	// Apply transforms in registration order. Each validator judged the
	// original content; a later transform replaces an earlier one.
	out := item
	for _, v := range verdicts {
		if v.Transformed != nil {
			out.Content = *v.Transformed
		}
	}

	return Result{Approved: true, Item: out}, nil
}

// runValidators runs all validators concurrently and joins their verdicts in
// registration order.
func (s *Stage) runValidators(ctx context.Context, item Item) ([]Verdict, error) {
	if len(s.validators) == 0 {
		return nil, nil
	}

	type indexed struct {
		i int
		v Verdict
	}

	results := make(chan indexed, len(s.validators))
	for i, validator := range s.validators {
		i, validator := i, validator
		go func() {
			results <- indexed{i: i, v: validator.Validate(ctx, item)}
		}()
	}

	verdicts := make([]Verdict, len(s.validators))
	for pending := len(s.validators); pending > 0; pending-- {
		select {
		case r := <-results:
			verdicts[r.i] = r.v
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return verdicts, nil
}
