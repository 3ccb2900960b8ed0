package model_test

import (
	"testing"

	"github.com/nerv-tools/magi/internal/model"

	"github.com/stretchr/testify/require"
)

func TestVotingResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		voting model.VotingResult
		total  int
		rate   float64
	}{
		{"unanimous", model.VotingResult{Approved: 3}, 3, 1.0},
		{"split", model.VotingResult{Approved: 2, Rejected: 1}, 3, 2.0 / 3.0},
		{"abstained ignored in rate", model.VotingResult{Approved: 1, Rejected: 1, Abstained: 1}, 3, 0.5},
		{"empty", model.VotingResult{}, 0, 0},
		{"all abstained", model.VotingResult{Abstained: 3}, 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.total, tt.voting.TotalVotes())
			require.InDelta(t, tt.rate, tt.voting.ApprovalRate(), 1e-9)
		})
	}
}

func TestDecisionRequestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, model.DecisionRequest{Question: "deploy?"}.Validate())
	require.ErrorIs(t, model.DecisionRequest{}.Validate(), model.ErrEmptyQuestion)
	require.ErrorIs(t, model.DecisionRequest{Question: "   "}.Validate(), model.ErrEmptyQuestion)
}

func TestDecisionResponseValidate(t *testing.T) {
	t.Parallel()

	verdict := func(id model.AgentID) model.Verdict {
		return model.Verdict{AgentID: id, Decision: model.Approved}
	}

	ok := model.DecisionResponse{Verdicts: []model.Verdict{
		verdict(model.AgentCaspar),
		verdict(model.AgentBalthasar),
		verdict(model.AgentMelchior),
	}}
	require.NoError(t, ok.Validate())

	missing := model.DecisionResponse{Verdicts: []model.Verdict{
		verdict(model.AgentCaspar),
	}}
	require.ErrorIs(t, missing.Validate(), model.ErrMissingSages)

	duplicate := model.DecisionResponse{Verdicts: []model.Verdict{
		verdict(model.AgentCaspar),
		verdict(model.AgentCaspar),
		verdict(model.AgentMelchior),
	}}
	require.ErrorIs(t, duplicate.Validate(), model.ErrMissingSages)

	judge := model.DecisionResponse{Verdicts: []model.Verdict{
		verdict(model.AgentSolomon),
		verdict(model.AgentBalthasar),
		verdict(model.AgentMelchior),
	}}
	require.ErrorIs(t, judge.Validate(), model.ErrUnknownAgent)
}

func TestParseCueDuration(t *testing.T) {
	t.Parallel()

	d, err := model.ParseCueDuration("1d2h3m4s")
	require.NoError(t, err)
	require.Equal(t, "26h3m4s", d.String())

	_, err = model.ParseCueDuration("")
	require.Error(t, err)
	_, err = model.ParseCueDuration("2h1d")
	require.Error(t, err)
}

func TestParseCron(t *testing.T) {
	t.Parallel()

	require.NoError(t, model.ParseCron("0 3 * * *"))
	require.NoError(t, model.ParseCron("@daily"))
	require.Error(t, model.ParseCron(""))
	require.Error(t, model.ParseCron("61 3 * * *"))
}
