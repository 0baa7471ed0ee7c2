// Package reasoning separates a model's internal thinking trace, delimited
// by a configured tag pair, from its final answer text.
package reasoning

import "strings"

// Splitter scans raw model output for a start/end tag pair. Only the first
// pair delimits reasoning; any later tags stay in the answer verbatim. The
// scan is a single linear pass, no backtracking.
type Splitter struct {
	startTag string
	endTag   string
}

// Result holds the outcome of a split. Reasoning is only meaningful when
// HasReasoning is true.
type Result struct {
	Reasoning    string
	HasReasoning bool
	Answer       string
}

// NewSplitter creates a splitter for the given tag pair. Empty tags disable
// splitting: everything becomes the answer.
func NewSplitter(startTag, endTag string) *Splitter {
	return &Splitter{
		startTag: startTag,
		endTag:   endTag,
	}
}

// Split separates the reasoning span from the answer.
//
// No start tag: the whole text is the answer. Start tag without a matching
// end tag (truncated generation): everything after the start tag is
// reasoning, text before it is the answer. Otherwise the span between the
// first start tag and the next end tag is reasoning, and the text outside
// the span, concatenated, is the answer.
func (s *Splitter) Split(raw string) Result {
	if s.startTag == "" || s.endTag == "" {
		return Result{Answer: raw}
	}

	start := strings.Index(raw, s.startTag)
	if start < 0 {
		return Result{Answer: raw}
	}

	afterStart := start + len(s.startTag)
	end := strings.Index(raw[afterStart:], s.endTag)
	if end < 0 {
		return Result{
			Reasoning:    raw[afterStart:],
			HasReasoning: true,
			Answer:       raw[:start],
		}
	}

	end += afterStart
	return Result{
		Reasoning:    raw[afterStart:end],
		HasReasoning: true,
		Answer:       raw[:start] + raw[end+len(s.endTag):],
	}
}
