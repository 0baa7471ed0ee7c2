package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/halim/warden/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxLengthValidator(t *testing.T) {
	v := MaxLengthValidator{Limit: 10}

	assert.True(t, v.Validate(context.Background(), Item{Content: "short"}).Approved)

	verdict := v.Validate(context.Background(), Item{Content: strings.Repeat("x", 11)})
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "exceeds 10 bytes")
}

func TestMaxLengthValidator_ZeroLimitDisables(t *testing.T) {
	v := MaxLengthValidator{}
	assert.True(t, v.Validate(context.Background(), Item{Content: strings.Repeat("x", 100000)}).Approved)
}

func TestContentFilter_Keywords(t *testing.T) {
	f, err := NewContentFilter(config.ModerationConfig{
		Enabled:         true,
		BlockedKeywords: []string{"Forbidden"},
	})
	require.NoError(t, err)

	assert.True(t, f.Validate(context.Background(), Item{Content: "all good"}).Approved)

	verdict := f.Validate(context.Background(), Item{Content: "this is FORBIDDEN text"})
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "blocked keyword")
}

func TestContentFilter_Patterns(t *testing.T) {
	f, err := NewContentFilter(config.ModerationConfig{
		Enabled:         true,
		BlockedPatterns: []string{`\b\d{16}\b`},
	})
	require.NoError(t, err)

	verdict := f.Validate(context.Background(), Item{Content: "card 4111111111111111 here"})
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "blocked pattern")
}

func TestContentFilter_Disabled(t *testing.T) {
	f, err := NewContentFilter(config.ModerationConfig{
		Enabled:         false,
		BlockedKeywords: []string{"anything"},
	})
	require.NoError(t, err)

	assert.True(t, f.Validate(context.Background(), Item{Content: "anything"}).Approved)
}

func TestContentFilter_InvalidPattern(t *testing.T) {
	_, err := NewContentFilter(config.ModerationConfig{
		BlockedPatterns: []string{"(unclosed"},
	})
	assert.Error(t, err)
}

func TestWhitespaceNormalizer(t *testing.T) {
	v := WhitespaceNormalizer{}

	verdict := v.Validate(context.Background(), Item{Content: "\n  text  \t"})
	assert.True(t, verdict.Approved)
	require.NotNil(t, verdict.Transformed)
	assert.Equal(t, "text", *verdict.Transformed)

	// Already clean content is approved without a transform.
	verdict = v.Validate(context.Background(), Item{Content: "text"})
	assert.True(t, verdict.Approved)
	assert.Nil(t, verdict.Transformed)
}

func TestSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator("request", `{
		"type": "object",
		"properties": {"action": {"type": "string"}},
		"required": ["action"]
	}`)
	require.NoError(t, err)

	ok := v.Validate(context.Background(), Item{
		Metadata: map[string]interface{}{
			"request": map[string]interface{}{"action": "summarize"},
		},
	})
	assert.True(t, ok.Approved)

	bad := v.Validate(context.Background(), Item{
		Metadata: map[string]interface{}{
			"request": map[string]interface{}{"other": 1},
		},
	})
	assert.False(t, bad.Approved)
	assert.Contains(t, bad.Reason, "violates schema")

	// Items without the payload pass untouched.
	assert.True(t, v.Validate(context.Background(), Item{}).Approved)
}

func TestSchemaValidator_InvalidSchema(t *testing.T) {
	_, err := NewSchemaValidator("request", `{"type": 12}`)
	assert.Error(t, err)
}

func TestModelModerationValidator(t *testing.T) {
	allow := ModelModerationValidator{
		Complete: func(ctx context.Context, content string) (string, error) {
			return " allow \n", nil
		},
	}
	assert.True(t, allow.Validate(context.Background(), Item{Content: "x"}).Approved)

	block := ModelModerationValidator{
		Complete: func(ctx context.Context, content string) (string, error) {
			return "BLOCK", nil
		},
	}
	verdict := block.Validate(context.Background(), Item{Content: "x"})
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "moderation model")
}

func TestModelModerationValidator_FailClosed(t *testing.T) {
	down := ModelModerationValidator{
		Complete: func(ctx context.Context, content string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	verdict := down.Validate(context.Background(), Item{Content: "x"})
	assert.False(t, verdict.Approved)
	assert.Contains(t, verdict.Reason, "unavailable")

	weird := ModelModerationValidator{
		Complete: func(ctx context.Context, content string) (string, error) {
			return "maybe?", nil
		},
	}
	assert.False(t, weird.Validate(context.Background(), Item{Content: "x"}).Approved)
}
