// Package magi implements the deliberation logic of the decision system:
// parsing sage verdicts out of model output, tallying votes, and folding a
// worker event stream back into an aggregated decision.
package magi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nerv-tools/magi/internal/model"
)

// fallbackConfidence is assigned when a verdict had to be recovered by
// keyword scanning instead of JSON decoding.
const fallbackConfidence = 0.6

// verdictPayload is the JSON document a sage is prompted to produce.
type verdictPayload struct {
	Decision   string   `json:"decision"`
	Reasoning  string   `json:"reasoning"`
	Confidence *float64 `json:"confidence"`
	Analysis   string   `json:"analysis"`
	Content    string   `json:"content"`
}

// ParseVerdict recovers a structured verdict from raw model output. The
// model wraps its JSON in prose more often than not, so the parser cuts the
// first '{' to the last '}' and decodes that slice. Anything that still does
// not decode falls back to keyword scanning; parsing never fails.
func ParseVerdict(agentID model.AgentID, text string, elapsed time.Duration) model.Verdict {
	doc, ok := extractJSON(text)
	if !ok {
		return keywordVerdict(agentID, text, elapsed)
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return keywordVerdict(agentID, text, elapsed)
	}

	decision := model.Rejected
	if model.Decision(payload.Decision) == model.Approved {
		decision = model.Approved
	}

	confidence := 0.5
	if payload.Confidence != nil {
		confidence = clamp01(*payload.Confidence)
	}

	content := payload.Analysis
	if content == "" {
		content = payload.Content
	}
	if content == "" {
		content = text
	}

	reasoning := payload.Reasoning
	if reasoning == "" {
		reasoning = "no reasoning provided"
	}

	return model.Verdict{
		AgentID:       agentID,
		Decision:      decision,
		Content:       content,
		Reasoning:     reasoning,
		Confidence:    confidence,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     time.Now(),
	}
}

// keywordVerdict is the last-resort parse: an approval keyword anywhere in
// the text approves, everything else rejects.
func keywordVerdict(agentID model.AgentID, text string, elapsed time.Duration) model.Verdict {
	decision := model.Rejected
	lower := strings.ToLower(text)
	for _, kw := range []string{"approved", "可決", "承認"} {
		if strings.Contains(lower, kw) {
			decision = model.Approved
			break
		}
	}

	return model.Verdict{
		AgentID:       agentID,
		Decision:      decision,
		Content:       text,
		Reasoning:     "recovered by keyword scan",
		Confidence:    fallbackConfidence,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     time.Now(),
	}
}

// ErrorVerdict is the automatic rejection recorded for a sage that failed
// to answer. It keeps the response shape intact with three verdicts.
func ErrorVerdict(agentID model.AgentID, err error, elapsed time.Duration) model.Verdict {
	return model.Verdict{
		AgentID:       agentID,
		Decision:      model.Rejected,
		Content:       "the sage did not produce an answer: " + err.Error(),
		Reasoning:     "automatic rejection on sage failure",
		Confidence:    0,
		ExecutionTime: elapsed.Milliseconds(),
		Timestamp:     time.Now(),
	}
}

// extractJSON cuts the substring from the first '{' to the last '}'.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
