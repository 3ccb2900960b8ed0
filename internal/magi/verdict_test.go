package magi

import (
	"errors"
	"testing"
	"time"

	"github.com/nerv-tools/magi/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		text           string
		wantDecision   model.Decision
		wantConfidence float64
		wantReasoning  string
	}{
		{
			name:           "clean json",
			text:           `{"decision":"APPROVED","reasoning":"low risk","confidence":0.9,"analysis":"detailed"}`,
			wantDecision:   model.Approved,
			wantConfidence: 0.9,
			wantReasoning:  "low risk",
		},
		{
			name:           "json wrapped in prose",
			text:           "Here is my answer:\n```json\n{\"decision\":\"REJECTED\",\"reasoning\":\"too costly\",\"confidence\":0.75}\n```\nThanks.",
			wantDecision:   model.Rejected,
			wantConfidence: 0.75,
			wantReasoning:  "too costly",
		},
		{
			name:           "confidence above range is clamped",
			text:           `{"decision":"APPROVED","reasoning":"sure","confidence":1.8}`,
			wantDecision:   model.Approved,
			wantConfidence: 1,
			wantReasoning:  "sure",
		},
		{
			name:           "confidence below range is clamped",
			text:           `{"decision":"APPROVED","reasoning":"sure","confidence":-0.3}`,
			wantDecision:   model.Approved,
			wantConfidence: 0,
			wantReasoning:  "sure",
		},
		{
			name:           "missing confidence defaults",
			text:           `{"decision":"APPROVED","reasoning":"fine"}`,
			wantDecision:   model.Approved,
			wantConfidence: 0.5,
			wantReasoning:  "fine",
		},
		{
			name:           "unknown decision rejects",
			text:           `{"decision":"MAYBE","reasoning":"unsure","confidence":0.4}`,
			wantDecision:   model.Rejected,
			wantConfidence: 0.4,
			wantReasoning:  "unsure",
		},
		{
			name:           "no json falls back to keyword scan",
			text:           "I believe this should be APPROVED without reservation.",
			wantDecision:   model.Approved,
			wantConfidence: fallbackConfidence,
			wantReasoning:  "recovered by keyword scan",
		},
		{
			name:           "japanese approval keyword",
			text:           "この提案は可決とすべきです。",
			wantDecision:   model.Approved,
			wantConfidence: fallbackConfidence,
			wantReasoning:  "recovered by keyword scan",
		},
		{
			name:           "no json and no keyword rejects",
			text:           "This is a terrible idea.",
			wantDecision:   model.Rejected,
			wantConfidence: fallbackConfidence,
			wantReasoning:  "recovered by keyword scan",
		},
		{
			name:           "broken json falls back",
			text:           `{"decision": "APPROVED", "reasoning": `,
			wantDecision:   model.Approved,
			wantConfidence: fallbackConfidence,
			wantReasoning:  "recovered by keyword scan",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := ParseVerdict(model.AgentCaspar, tc.text, 120*time.Millisecond)
			require.Equal(t, model.AgentCaspar, v.AgentID)
			require.Equal(t, tc.wantDecision, v.Decision)
			require.InDelta(t, tc.wantConfidence, v.Confidence, 1e-9)
			require.Equal(t, tc.wantReasoning, v.Reasoning)
			require.EqualValues(t, 120, v.ExecutionTime)
			require.NotEmpty(t, v.Content)
		})
	}
}

func TestParseVerdictPrefersAnalysisContent(t *testing.T) {
	t.Parallel()

	v := ParseVerdict(model.AgentMelchior, `{"decision":"APPROVED","reasoning":"r","confidence":0.8,"analysis":"the analysis"}`, 0)
	require.Equal(t, "the analysis", v.Content)

	v = ParseVerdict(model.AgentMelchior, `{"decision":"APPROVED","reasoning":"r","confidence":0.8,"content":"the content"}`, 0)
	require.Equal(t, "the content", v.Content)
}

func TestErrorVerdict(t *testing.T) {
	t.Parallel()

	v := ErrorVerdict(model.AgentBalthasar, errors.New("model unavailable"), 250*time.Millisecond)
	require.Equal(t, model.AgentBalthasar, v.AgentID)
	require.Equal(t, model.Rejected, v.Decision)
	require.Zero(t, v.Confidence)
	require.Contains(t, v.Content, "model unavailable")
	require.EqualValues(t, 250, v.ExecutionTime)
}
