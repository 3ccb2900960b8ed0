package magi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerv-tools/magi/internal/model"
)

// judgePayload is the JSON document solomon is prompted to produce.
type judgePayload struct {
	FinalDecision       string   `json:"final_decision"`
	Summary             string   `json:"summary"`
	FinalRecommendation string   `json:"final_recommendation"`
	Reasoning           string   `json:"reasoning"`
	Confidence          *float64 `json:"confidence"`
	Scores              []struct {
		AgentID   string `json:"agent_id"`
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	} `json:"scores"`
}

// Tally counts the sages' votes. A sage that failed to answer carries an
// automatic rejection, so every verdict lands in one of the two buckets.
func Tally(verdicts []model.Verdict) model.VotingResult {
	var result model.VotingResult
	for _, v := range verdicts {
		if v.Decision == model.Approved {
			result.Approved++
		} else {
			result.Rejected++
		}
	}
	return result
}

// ParseJudgeVerdict recovers solomon's ruling from raw model output. The
// vote tally always comes from the verdicts themselves, never from the
// model: solomon scores and summarizes, the sages decide.
func ParseJudgeVerdict(text string, verdicts []model.Verdict, elapsed time.Duration) model.JudgeVerdict {
	doc, ok := extractJSON(text)
	if !ok {
		return FallbackJudgment(verdicts)
	}

	var payload judgePayload
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return FallbackJudgment(verdicts)
	}

	voting := Tally(verdicts)

	decision := model.Rejected
	if model.Decision(payload.FinalDecision) == model.Approved {
		decision = model.Approved
	}

	confidence := 0.8
	if payload.Confidence != nil {
		confidence = clamp01(*payload.Confidence)
	}

	scores := make([]model.Score, 0, len(payload.Scores))
	for _, s := range payload.Scores {
		agentID := model.AgentID(s.AgentID)
		if !agentID.Valid() || agentID == model.AgentSolomon {
			continue
		}
		scores = append(scores, model.Score{
			AgentID:   agentID,
			Score:     clampScore(s.Score),
			Reasoning: s.Reasoning,
		})
	}
	if len(scores) == 0 {
		scores = confidenceScores(verdicts)
	}

	return model.JudgeVerdict{
		FinalDecision:       decision,
		Voting:              voting,
		Scores:              scores,
		Summary:             orDefault(payload.Summary, "aggregation complete"),
		FinalRecommendation: orDefault(payload.FinalRecommendation, "further review recommended"),
		Reasoning:           orDefault(payload.Reasoning, "majority ruling"),
		Confidence:          confidence,
		ExecutionTime:       elapsed.Milliseconds(),
		Timestamp:           time.Now(),
	}
}

// FallbackJudgment rules by simple majority when solomon is unavailable or
// unparseable. Ties reject.
func FallbackJudgment(verdicts []model.Verdict) model.JudgeVerdict {
	voting := Tally(verdicts)

	decision := model.Rejected
	if voting.Approved > voting.Rejected {
		decision = model.Approved
	}

	return model.JudgeVerdict{
		FinalDecision:       decision,
		Voting:              voting,
		Scores:              confidenceScores(verdicts),
		Summary:             "tallied the three sages' verdicts",
		FinalRecommendation: "careful review recommended",
		Reasoning: fmt.Sprintf("majority ruling: %d approved, %d rejected (%.0f%% approval)",
			voting.Approved, voting.Rejected, voting.ApprovalRate()*100),
		Confidence:          0.7,
		ExecutionTime:       0,
		Timestamp:           time.Now(),
	}
}

// confidenceScores derives a 0-100 score per sage from its own confidence.
func confidenceScores(verdicts []model.Verdict) []model.Score {
	scores := make([]model.Score, 0, len(verdicts))
	for _, v := range verdicts {
		scores = append(scores, model.Score{
			AgentID:   v.AgentID,
			Score:     clampScore(int(v.Confidence * 100)),
			Reasoning: "derived from the sage's own confidence",
		})
	}
	return scores
}

// SageSummary renders the sages' verdicts as the context block of solomon's
// prompt.
func SageSummary(verdicts []model.Verdict) string {
	var b strings.Builder
	for _, v := range verdicts {
		content := v.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&b, "**%s**\n- decision: %s\n- reasoning: %s\n- confidence: %.2f\n- analysis: %s\n\n",
			strings.ToUpper(string(v.AgentID)), v.Decision, v.Reasoning, v.Confidence, content)
	}
	return b.String()
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
