package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/halim/warden/internal/config"
	"github.com/xeipuuv/gojsonschema"
)

// ValidatorFunc adapts a plain function into a Validator.
type ValidatorFunc struct {
	ValidatorName string
	Func          func(ctx context.Context, item Item) Verdict
}

func (v ValidatorFunc) Name() string {
	return v.ValidatorName
}

func (v ValidatorFunc) Validate(ctx context.Context, item Item) Verdict {
	return v.Func(ctx, item)
}

// MaxLengthValidator rejects content longer than a byte limit.
type MaxLengthValidator struct {
	Limit int
}

func (v MaxLengthValidator) Name() string {
	return "max_length"
}

func (v MaxLengthValidator) Validate(_ context.Context, item Item) Verdict {
	if v.Limit > 0 && len(item.Content) > v.Limit {
		return Reject(fmt.Sprintf("content exceeds %d bytes", v.Limit))
	}
	return Approve()
}

// ContentFilter checks content against configured keywords and patterns.
type ContentFilter struct {
	enabled  bool
	keywords []string
	patterns []*regexp.Regexp
}

// NewContentFilter creates a content filter from moderation configuration.
func NewContentFilter(cfg config.ModerationConfig) (*ContentFilter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &ContentFilter{
		enabled:  cfg.Enabled,
		keywords: cfg.BlockedKeywords,
		patterns: patterns,
	}, nil
}

func (f *ContentFilter) Name() string {
	return "content_filter"
}

func (f *ContentFilter) Validate(_ context.Context, item Item) Verdict {
	if !f.enabled {
		return Approve()
	}

	normalized := strings.ToLower(item.Content)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return Reject(fmt.Sprintf("content contains blocked keyword: %s", kw))
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(item.Content) {
			return Reject(fmt.Sprintf("content matches blocked pattern #%d", i+1))
		}
	}
	return Approve()
}

// WhitespaceNormalizer approves everything, trimming surrounding whitespace.
type WhitespaceNormalizer struct{}

func (WhitespaceNormalizer) Name() string {
	return "whitespace_normalizer"
}

func (WhitespaceNormalizer) Validate(_ context.Context, item Item) Verdict {
	trimmed := strings.TrimSpace(item.Content)
	if trimmed == item.Content {
		return Approve()
	}
	return ApproveTransformed(trimmed)
}

// SchemaValidator validates the item's structured metadata payload against a
// JSON schema. Items without the payload key pass untouched.
type SchemaValidator struct {
	PayloadKey string
	schema     *gojsonschema.Schema
}

// NewSchemaValidator compiles the schema once up front.
func NewSchemaValidator(payloadKey string, schemaJSON string) (*SchemaValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &SchemaValidator{PayloadKey: payloadKey, schema: schema}, nil
}

func (v *SchemaValidator) Name() string {
	return "schema"
}

func (v *SchemaValidator) Validate(_ context.Context, item Item) Verdict {
	payload, ok := item.Metadata[v.PayloadKey]
	if !ok {
		return Approve()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Reject(fmt.Sprintf("payload %s is not serializable", v.PayloadKey))
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Reject(fmt.Sprintf("schema validation failed: %v", err))
	}
	if !result.Valid() {
		return Reject(fmt.Sprintf("payload %s violates schema: %s", v.PayloadKey, result.Errors()[0].String()))
	}
	return Approve()
}
