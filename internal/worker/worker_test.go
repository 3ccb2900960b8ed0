package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerv-tools/magi/internal/magi"
	"github.com/nerv-tools/magi/internal/model"

	"github.com/stretchr/testify/require"
)

func runWorker(t *testing.T, completer Completer, request string) []string {
	t.Helper()

	var out bytes.Buffer
	w := New(&out, completer)
	err := w.Run(t.Context(), strings.NewReader(request))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	return lines
}

func TestRunLocalDeliberation(t *testing.T) {
	t.Parallel()

	lines := runWorker(t, nil, `{"question":"should we adopt a staged rollout with rollback plans?"}`)

	// Every line is a well-formed event.
	var types []string
	agg := magi.NewAggregator()
	for _, line := range lines {
		event, err := magi.ParseLine(line)
		require.NoError(t, err, "line %q", line)
		types = append(types, event.Type)
		agg.Add(event)
	}

	require.Equal(t, model.EventAgentStart, types[0])
	require.Equal(t, model.EventComplete, types[len(types)-1])
	require.Contains(t, types, model.EventAgentThinking)
	require.Contains(t, types, model.EventAgentChunk)
	require.Contains(t, types, model.EventJudgeStart)
	require.Contains(t, types, model.EventJudgeChunk)
	require.Contains(t, types, model.EventJudgeComplete)
	require.True(t, agg.Complete())

	resp, err := agg.Result("req", "trace")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())
	require.Equal(t, 3, resp.Judge.Voting.TotalVotes())
	require.Len(t, resp.Judge.Scores, 3)
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	request := `{"question":"rewrite the billing system immediately?"}`

	decisions := func(lines []string) map[model.AgentID]model.Decision {
		agg := magi.NewAggregator()
		for _, line := range lines {
			agg.AddLine(line)
		}
		resp, err := agg.Result("r", "t")
		require.NoError(t, err)
		out := map[model.AgentID]model.Decision{}
		for _, v := range resp.Verdicts {
			out[v.AgentID] = v.Decision
		}
		return out
	}

	first := decisions(runWorker(t, nil, request))
	second := decisions(runWorker(t, nil, request))
	require.Equal(t, first, second)
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		request string
	}{
		{name: "not json", request: "garbage"},
		{name: "empty question", request: `{"question":"   "}`},
		{name: "no question", request: `{}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			w := New(&out, nil)
			err := w.Run(t.Context(), strings.NewReader(tc.request))
			require.Error(t, err)

			event, perr := magi.ParseLine(strings.TrimSpace(out.String()))
			require.NoError(t, perr)
			require.Equal(t, model.EventError, event.Type)
		})
	}
}

type scriptedCompleter struct {
	sage  string
	judge string
	err   error
}

func (c *scriptedCompleter) Complete(_ context.Context, system, _ string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if strings.Contains(system, "SOLOMON") {
		return c.judge, nil
	}
	return c.sage, nil
}

func TestRunWithModel(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{
		sage:  `The verdict: {"decision":"APPROVED","reasoning":"well argued","confidence":0.9,"analysis":"thorough"}`,
		judge: `{"final_decision":"APPROVED","summary":"unanimous","final_recommendation":"proceed","reasoning":"all in favor","confidence":0.95,"scores":[{"agent_id":"caspar","score":90,"reasoning":"sharp"}]}`,
	}

	lines := runWorker(t, completer, `{"question":"ship it?"}`)

	agg := magi.NewAggregator()
	for _, line := range lines {
		agg.AddLine(line)
	}
	resp, err := agg.Result("r", "t")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())

	require.Equal(t, model.Approved, resp.Judge.FinalDecision)
	require.Equal(t, "unanimous", resp.Judge.Summary)
	require.Equal(t, model.VotingResult{Approved: 3, Rejected: 0}, resp.Judge.Voting)
	for _, v := range resp.Verdicts {
		require.Equal(t, model.Approved, v.Decision)
	}
}

func TestRunModelFailureRejectsSages(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{err: errors.New("endpoint unreachable")}
	lines := runWorker(t, completer, `{"question":"ship it?"}`)

	agg := magi.NewAggregator()
	for _, line := range lines {
		agg.AddLine(line)
	}
	resp, err := agg.Result("r", "t")
	require.NoError(t, err)
	require.NoError(t, resp.Validate())

	// Every sage records an automatic rejection, the judge falls back
	// to the majority, and the stream still completes.
	require.True(t, agg.Complete())
	require.Equal(t, model.Rejected, resp.Judge.FinalDecision)
	for _, v := range resp.Verdicts {
		require.Equal(t, model.Rejected, v.Decision)
		require.Zero(t, v.Confidence)
	}
}

func TestLocalAnalysisBias(t *testing.T) {
	t.Parallel()

	question := "introduce a new experimental framework"
	caspar := localAnalysis(personas[model.AgentCaspar], question, "")
	balthasar := localAnalysis(personas[model.AgentBalthasar], question, "")

	cv := magi.ParseVerdict(model.AgentCaspar, caspar, 0)
	bv := magi.ParseVerdict(model.AgentBalthasar, balthasar, 0)
	require.Greater(t, bv.Confidence, cv.Confidence)
}
