package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halim/warden/internal/config"
	"github.com/halim/warden/pkg/conversation"
	"github.com/halim/warden/pkg/modelclient"
	"github.com/halim/warden/pkg/pipeline"
)

type fakeCompleter struct {
	mu       sync.Mutex
	requests []modelclient.Request
	reply    func(req modelclient.Request) (modelclient.Completion, error)
}

func (f *fakeCompleter) Provider() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req modelclient.Request) (modelclient.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.reply != nil {
		return f.reply(req)
	}
	return modelclient.Completion{
		Text:  "<think>working it out</think>The answer is 42.",
		Usage: modelclient.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) request(i int) modelclient.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newTestRunner(t *testing.T, cfg *config.Config, completer modelclient.Completer, opts Options) *Runner {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return New(cfg, completer, opts, zerolog.Nop())
}

func TestRunTurnCompletes(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("")

	result, err := runner.RunTurn(context.Background(), conv.ID(), "What is the answer?")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Completed())
	assert.Equal(t, "The answer is 42.", result.Answer)
	assert.Equal(t, "working it out", result.Reasoning)
	assert.True(t, result.HasReasoning)
	assert.False(t, result.CacheHit)
	assert.NotEmpty(t, result.TurnID)

	assert.Equal(t, 1, conv.TurnCount())
	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "What is the answer?", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "The answer is 42.", history[1].Content)

	usage := conv.Usage()
	assert.Equal(t, 1, usage.Requests)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestRunTurnIncludesSystemHint(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("You are terse.")

	_, err := runner.RunTurn(context.Background(), conv.ID(), "hi")
	require.NoError(t, err)

	req := completer.request(0)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "You are terse.", req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
}

func TestRunTurnUnknownConversation(t *testing.T) {
	runner := newTestRunner(t, nil, &fakeCompleter{}, Options{})

	_, err := runner.RunTurn(context.Background(), "no-such-id", "hi")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestTurnLimitEnforced(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxTurns = 1

	completer := &fakeCompleter{}
	runner := newTestRunner(t, cfg, completer, Options{})
	conv := runner.StartConversation("")

	_, err := runner.RunTurn(context.Background(), conv.ID(), "first")
	require.NoError(t, err)

	_, err = runner.RunTurn(context.Background(), conv.ID(), "second")
	assert.ErrorIs(t, err, ErrTurnLimitExceeded)

	// The rejected turn left no trace and ended the conversation.
	assert.Equal(t, 1, conv.TurnCount())
	assert.Equal(t, 1, completer.calls())
	assert.True(t, conv.Terminated())

	_, err = runner.RunTurn(context.Background(), conv.ID(), "third")
	assert.ErrorIs(t, err, conversation.ErrTerminated)
}

func TestQueueSaturationFailsFast(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Limits.MaxQueueSize = 1

	release := make(chan struct{})
	completer := &fakeCompleter{
		reply: func(req modelclient.Request) (modelclient.Completion, error) {
			<-release
			return modelclient.Completion{Text: "slow"}, nil
		},
	}
	runner := newTestRunner(t, cfg, completer, Options{})
	first := runner.StartConversation("")
	second := runner.StartConversation("")

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunTurn(context.Background(), first.ID(), "hold the slot")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return runner.Backlog() == 1
	}, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := runner.RunTurn(context.Background(), second.ID(), "no room")
	assert.ErrorIs(t, err, ErrQueueSaturated)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, <-done)

	// The slot came back.
	_, err = runner.RunTurn(context.Background(), second.ID(), "room now")
	assert.NoError(t, err)
}

func TestGuardrailRejectionSkipsModel(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{
		GuardrailValidators: []pipeline.Validator{
			pipeline.ValidatorFunc{ValidatorName: "deny_all", Func: func(ctx context.Context, item pipeline.Item) pipeline.Verdict {
				return pipeline.Reject("not today")
			}},
		},
	})
	conv := runner.StartConversation("")

	result, err := runner.RunTurn(context.Background(), conv.ID(), "anything")
	require.NoError(t, err)

	assert.Equal(t, StatusGuardrailRejected, result.Status)
	assert.Equal(t, "not today", result.Reason)
	assert.Equal(t, "deny_all", result.Validator)
	assert.Empty(t, result.Answer)

	assert.Equal(t, 0, completer.calls())
	assert.Equal(t, 0, runner.Cache().Len())
	assert.Equal(t, 0, conv.TurnCount())
}

func TestGuardrailTransformReachesModelAndHistory(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{
		GuardrailValidators: []pipeline.Validator{
			pipeline.WhitespaceNormalizer{},
		},
	})
	conv := runner.StartConversation("")

	_, err := runner.RunTurn(context.Background(), conv.ID(), "  spaced out  ")
	require.NoError(t, err)

	req := completer.request(0)
	assert.Equal(t, "spaced out", req.Messages[len(req.Messages)-1].Content)
	assert.Equal(t, "spaced out", conv.History()[0].Content)
}

func TestCacheHitSkipsModel(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{})

	// Two fresh conversations with identical pending requests share one
	// cache entry.
	first := runner.StartConversation("")
	second := runner.StartConversation("")

	miss, err := runner.RunTurn(context.Background(), first.ID(), "same question")
	require.NoError(t, err)
	assert.False(t, miss.CacheHit)

	hit, err := runner.RunTurn(context.Background(), second.ID(), "same question")
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)

	assert.Equal(t, 1, completer.calls())
	assert.Equal(t, 1, runner.Cache().Len())
	assert.Equal(t, miss.Answer, hit.Answer)
	assert.Equal(t, miss.Reasoning, hit.Reasoning)

	// A cached turn consumed no tokens.
	assert.Equal(t, 0, second.Usage().Requests)
	// It still counts as a turn.
	assert.Equal(t, 1, second.TurnCount())
}

func TestCacheMissWithinConversation(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("")

	_, err := runner.RunTurn(context.Background(), conv.ID(), "same question")
	require.NoError(t, err)
	result, err := runner.RunTurn(context.Background(), conv.ID(), "same question")
	require.NoError(t, err)

	// The second turn carries the first turn's history, so the
	// fingerprint differs and the model runs again.
	assert.False(t, result.CacheHit)
	assert.Equal(t, 2, completer.calls())
	assert.Equal(t, 2, runner.Cache().Len())
}

func TestShieldBlockWithholdsAnswer(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{
		ShieldValidators: []pipeline.Validator{
			pipeline.ValidatorFunc{ValidatorName: "block_answers", Func: func(ctx context.Context, item pipeline.Item) pipeline.Verdict {
				return pipeline.Reject("output policy")
			}},
		},
	})
	conv := runner.StartConversation("")

	result, err := runner.RunTurn(context.Background(), conv.ID(), "hi")
	require.NoError(t, err)

	assert.Equal(t, StatusShieldBlocked, result.Status)
	assert.Equal(t, "output policy", result.Reason)
	assert.Empty(t, result.Answer)

	// The blocked answer never reaches the history.
	assert.Equal(t, 0, conv.TurnCount())
	assert.Empty(t, conv.History())
	// The model call still happened and its tokens still count.
	assert.Equal(t, 1, completer.calls())
	assert.Equal(t, 1, conv.Usage().Requests)
}

func TestShieldTransformRewritesAnswer(t *testing.T) {
	completer := &fakeCompleter{}
	runner := newTestRunner(t, nil, completer, Options{
		ShieldValidators: []pipeline.Validator{
			pipeline.ValidatorFunc{ValidatorName: "redact", Func: func(ctx context.Context, item pipeline.Item) pipeline.Verdict {
				return pipeline.ApproveTransformed("[redacted]")
			}},
		},
	})
	conv := runner.StartConversation("")

	result, err := runner.RunTurn(context.Background(), conv.ID(), "hi")
	require.NoError(t, err)

	assert.Equal(t, "[redacted]", result.Answer)
	assert.Equal(t, "[redacted]", conv.History()[1].Content)
}

func TestModelErrorSurfacesWithoutSideEffects(t *testing.T) {
	completer := &fakeCompleter{
		reply: func(req modelclient.Request) (modelclient.Completion, error) {
			return modelclient.Completion{}, modelclient.ErrTimeout
		},
	}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("")

	_, err := runner.RunTurn(context.Background(), conv.ID(), "hi")
	assert.ErrorIs(t, err, modelclient.ErrTimeout)

	assert.Equal(t, 0, conv.TurnCount())
	assert.Equal(t, 0, runner.Cache().Len())
	assert.Equal(t, 0, conv.Usage().Requests)
}

func TestTurnsWithinConversationAreSequenced(t *testing.T) {
	completer := &fakeCompleter{
		reply: func(req modelclient.Request) (modelclient.Completion, error) {
			time.Sleep(5 * time.Millisecond)
			return modelclient.Completion{Text: "ok"}, nil
		},
	}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("")

	const turns = 4
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := runner.RunTurn(context.Background(), conv.ID(), fmt.Sprintf("turn %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, turns, conv.TurnCount())
	assert.Len(t, conv.History(), 2*turns)

	// Each model call saw the full history of the calls before it.
	completer.mu.Lock()
	defer completer.mu.Unlock()
	for i, req := range completer.requests {
		assert.Len(t, req.Messages, 2*i+1)
	}
}

func TestEndConversationTerminates(t *testing.T) {
	runner := newTestRunner(t, nil, &fakeCompleter{}, Options{})
	conv := runner.StartConversation("")
	id := conv.ID()

	runner.EndConversation(id)
	assert.True(t, conv.Terminated())

	_, ok := runner.Conversation(id)
	assert.False(t, ok)

	_, err := runner.RunTurn(context.Background(), id, "hi")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestRunTurnCancelledWhileQueued(t *testing.T) {
	release := make(chan struct{})
	completer := &fakeCompleter{
		reply: func(req modelclient.Request) (modelclient.Completion, error) {
			<-release
			return modelclient.Completion{Text: "ok"}, nil
		},
	}
	runner := newTestRunner(t, nil, completer, Options{})
	conv := runner.StartConversation("")

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunTurn(context.Background(), conv.ID(), "first")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return completer.calls() == 1
	}, time.Second, 5*time.Millisecond)

	// The second turn waits behind the first in the same conversation;
	// cancelling its context releases it without running.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := runner.RunTurn(ctx, conv.ID(), "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, conv.TurnCount())
}
