package magi

import (
	"testing"

	"github.com/nerv-tools/magi/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()

	event, err := ParseLine(`{"type":"agent_chunk","agentId":"caspar","data":{"text":"hi"}}`)
	require.NoError(t, err)
	require.Equal(t, model.EventAgentChunk, event.Type)
	require.Equal(t, model.AgentCaspar, event.AgentID)

	_, err = ParseLine("not json at all")
	require.Error(t, err)

	_, err = ParseLine(`{"agentId":"caspar"}`)
	require.Error(t, err)
}

func fullStream() []string {
	return []string{
		`{"type":"agent_start","data":{"message":"starting"}}`,
		`{"type":"agent_start","agentId":"caspar","data":{"name":"CASPAR"}}`,
		`{"type":"agent_thinking","agentId":"caspar","data":{"text":"weighing risks"}}`,
		`{"type":"agent_chunk","agentId":"caspar","data":{"text":"risk is "}}`,
		`{"type":"agent_chunk","agentId":"caspar","data":{"text":"manageable"}}`,
		`{"type":"agent_complete","agentId":"caspar","data":{"decision":"APPROVED","confidence":0.8,"executionTime":1200}}`,
		`{"type":"agent_complete","agentId":"balthasar","data":{"decision":"APPROVED","confidence":0.9,"executionTime":900}}`,
		`{"type":"agent_complete","agentId":"melchior","data":{"decision":"REJECTED","confidence":0.7,"executionTime":1100}}`,
		`{"type":"judge_start","data":{"name":"SOLOMON JUDGE"}}`,
		`{"type":"judge_chunk","data":{"text":"two in favor, "}}`,
		`{"type":"judge_chunk","data":{"text":"one against"}}`,
		`{"type":"judge_complete","data":{"finalDecision":"APPROVED","votingResult":{"approved":2,"rejected":1,"abstained":0},"scores":[{"agentId":"caspar","score":80,"reasoning":"solid"}],"finalRecommendation":"proceed","reasoning":"majority","confidence":0.85}}`,
		`{"type":"complete","data":{"message":"done"}}`,
	}
}

func TestAggregatorFullStream(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	for _, line := range fullStream() {
		agg.AddLine(line)
	}

	require.True(t, agg.Complete())

	resp, err := agg.Result("req-1", "trace-1")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
	require.Equal(t, "req-1", resp.RequestID)
	require.Equal(t, "trace-1", resp.TraceID)

	require.Len(t, resp.Verdicts, 3)
	byAgent := map[model.AgentID]model.Verdict{}
	for _, v := range resp.Verdicts {
		byAgent[v.AgentID] = v
	}
	require.Equal(t, model.Approved, byAgent[model.AgentCaspar].Decision)
	require.Equal(t, "risk is manageable", byAgent[model.AgentCaspar].Content)
	require.EqualValues(t, 1200, byAgent[model.AgentCaspar].ExecutionTime)
	require.Equal(t, model.Rejected, byAgent[model.AgentMelchior].Decision)

	require.Equal(t, model.Approved, resp.Judge.FinalDecision)
	require.Equal(t, model.VotingResult{Approved: 2, Rejected: 1}, resp.Judge.Voting)
	require.Equal(t, "two in favor, one against", resp.Judge.Summary)
	require.Equal(t, "proceed", resp.Judge.FinalRecommendation)
	require.Len(t, resp.Judge.Scores, 1)
}

func TestAggregatorSkipsGarbage(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.AddLine("plain text the worker printed")
	agg.AddLine(`{"type":"something_new","data":{"x":1}}`)
	agg.AddLine(`{"type":"agent_complete","agentId":"caspar","data":{"decision":"APPROVED","confidence":0.8}}`)
	agg.AddLine(`{"type":"agent_complete","agentId":"intruder","data":{"decision":"APPROVED","confidence":1}}`)
	agg.AddLine(`{"type":"agent_complete","agentId":"solomon","data":{"decision":"APPROVED","confidence":1}}`)

	resp, err := agg.Result("req", "trace")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
}

func TestAggregatorMissingSagesAndJudge(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.AddLine(`{"type":"agent_complete","agentId":"caspar","data":{"decision":"APPROVED","confidence":0.8}}`)
	agg.AddLine(`{"type":"agent_complete","agentId":"balthasar","data":{"decision":"APPROVED","confidence":0.9}}`)

	resp, err := agg.Result("req", "trace")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())

	// The missing melchior verdict is an automatic rejection.
	require.Len(t, resp.Verdicts, 3)
	var melchior model.Verdict
	for _, v := range resp.Verdicts {
		if v.AgentID == model.AgentMelchior {
			melchior = v
		}
	}
	require.Equal(t, model.Rejected, melchior.Decision)
	require.Zero(t, melchior.Confidence)

	// No judge ruling in the stream, so the majority decides.
	require.Equal(t, model.Approved, resp.Judge.FinalDecision)
	require.Equal(t, model.VotingResult{Approved: 2, Rejected: 1}, resp.Judge.Voting)
}

func TestAggregatorErrorEvent(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.AddLine(`{"type":"error","data":{"error":"model quota exhausted"}}`)

	_, err := agg.Result("req", "trace")
	require.ErrorIs(t, err, ErrStreamFailed)
	require.Contains(t, err.Error(), "model quota exhausted")
}

func TestAggregatorErrorEventWithoutDetail(t *testing.T) {
	t.Parallel()

	agg := NewAggregator()
	agg.AddLine(`{"type":"error"}`)

	_, err := agg.Result("req", "trace")
	require.ErrorIs(t, err, ErrStreamFailed)
}
