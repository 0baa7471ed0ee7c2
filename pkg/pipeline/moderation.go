package pipeline

import (
	"context"
	"fmt"
	"strings"
)

// ModerationCompleteFunc asks a secondary moderation model about a piece of
// content and returns its raw reply.
type ModerationCompleteFunc func(ctx context.Context, content string) (string, error)

// ModelModerationValidator delegates the judgement to a secondary moderation
// model. The model is prompted to answer ALLOW or BLOCK; anything else,
// including a transport failure, rejects the item (fail-closed).
type ModelModerationValidator struct {
	Complete ModerationCompleteFunc
}

func (v ModelModerationValidator) Name() string {
	return "model_moderation"
}

func (v ModelModerationValidator) Validate(ctx context.Context, item Item) Verdict {
	reply, err := v.Complete(ctx, item.Content)
	if err != nil {
		return Reject(fmt.Sprintf("moderation model unavailable: %v", err))
	}

	switch strings.ToUpper(strings.TrimSpace(reply)) {
	case "ALLOW":
		return Approve()
	case "BLOCK":
		return Reject("blocked by moderation model")
	default:
		return Reject(fmt.Sprintf("moderation model returned unrecognized verdict: %q", reply))
	}
}
