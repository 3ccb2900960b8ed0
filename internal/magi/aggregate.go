package magi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerv-tools/magi/internal/model"
)

// ErrStreamFailed is returned by an aggregation whose stream carried an
// error event instead of a complete event.
var ErrStreamFailed = errors.New("magi: worker stream reported an error")

// Wire shapes of the event data payloads. The stream uses camelCase keys,
// matching what browser clients consume directly.
type (
	chunkData struct {
		Text string `json:"text"`
	}

	agentCompleteData struct {
		Decision      string  `json:"decision"`
		Confidence    float64 `json:"confidence"`
		Reasoning     string  `json:"reasoning,omitempty"`
		ExecutionTime int64   `json:"executionTime"`
	}

	scoreData struct {
		AgentID   string `json:"agentId"`
		Score     int    `json:"score"`
		Reasoning string `json:"reasoning"`
	}

	judgeCompleteData struct {
		FinalDecision string `json:"finalDecision"`
		Voting        struct {
			Approved  int `json:"approved"`
			Rejected  int `json:"rejected"`
			Abstained int `json:"abstained"`
		} `json:"votingResult"`
		Scores              []scoreData `json:"scores"`
		Summary             string      `json:"summary,omitempty"`
		FinalRecommendation string      `json:"finalRecommendation"`
		Reasoning           string      `json:"reasoning"`
		Confidence          float64     `json:"confidence"`
	}

	errorData struct {
		Error string `json:"error"`
	}
)

// ParseLine decodes one stdout line into a stream event. Lines that are not
// JSON objects with a type field are not events.
func ParseLine(line string) (model.StreamEvent, error) {
	var event model.StreamEvent
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return model.StreamEvent{}, fmt.Errorf("decoding stream event: %w", err)
	}
	if event.Type == "" {
		return model.StreamEvent{}, errors.New("stream event without a type")
	}
	return event, nil
}

// Aggregator folds a worker event stream back into a decision response.
// Feed events in arrival order, then call Result once the stream is done.
// Unknown event types and undecodable payloads are skipped, the stream is
// best-effort input produced for humans first.
type Aggregator struct {
	start    time.Time
	chunks   map[model.AgentID]*strings.Builder
	verdicts map[model.AgentID]model.Verdict
	judge    *model.JudgeVerdict
	judgeLog strings.Builder
	failure  string
	complete bool
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		start:    time.Now(),
		chunks:   make(map[model.AgentID]*strings.Builder),
		verdicts: make(map[model.AgentID]model.Verdict),
	}
}

// AddLine parses and folds one stdout line. Non-event lines are ignored.
func (a *Aggregator) AddLine(line string) {
	event, err := ParseLine(line)
	if err != nil {
		return
	}
	a.Add(event)
}

func (a *Aggregator) Add(event model.StreamEvent) {
	switch event.Type {
	case model.EventAgentChunk:
		var data chunkData
		if json.Unmarshal(event.Data, &data) == nil {
			a.sageChunks(event.AgentID).WriteString(data.Text)
		}

	case model.EventAgentComplete:
		var data agentCompleteData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		a.recordVerdict(event.AgentID, data)

	case model.EventJudgeChunk:
		var data chunkData
		if json.Unmarshal(event.Data, &data) == nil {
			a.judgeLog.WriteString(data.Text)
		}

	case model.EventJudgeComplete:
		var data judgeCompleteData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return
		}
		a.recordJudge(data)

	case model.EventComplete:
		a.complete = true

	case model.EventError:
		var data errorData
		if json.Unmarshal(event.Data, &data) == nil && data.Error != "" {
			a.failure = data.Error
		} else {
			a.failure = "unspecified worker error"
		}
	}
}

func (a *Aggregator) sageChunks(agentID model.AgentID) *strings.Builder {
	b, ok := a.chunks[agentID]
	if !ok {
		b = &strings.Builder{}
		a.chunks[agentID] = b
	}
	return b
}

func (a *Aggregator) recordVerdict(agentID model.AgentID, data agentCompleteData) {
	if !agentID.Valid() || agentID == model.AgentSolomon {
		return
	}

	decision := model.Rejected
	if model.Decision(data.Decision) == model.Approved {
		decision = model.Approved
	}

	content := a.sageChunks(agentID).String()
	a.verdicts[agentID] = model.Verdict{
		AgentID:       agentID,
		Decision:      decision,
		Content:       content,
		Reasoning:     orDefault(data.Reasoning, "reported by stream"),
		Confidence:    clamp01(data.Confidence),
		ExecutionTime: data.ExecutionTime,
		Timestamp:     time.Now(),
	}
}

func (a *Aggregator) recordJudge(data judgeCompleteData) {
	decision := model.Rejected
	if model.Decision(data.FinalDecision) == model.Approved {
		decision = model.Approved
	}

	scores := make([]model.Score, 0, len(data.Scores))
	for _, s := range data.Scores {
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

	a.judge = &model.JudgeVerdict{
		FinalDecision: decision,
		Voting: model.VotingResult{
			Approved:  data.Voting.Approved,
			Rejected:  data.Voting.Rejected,
			Abstained: data.Voting.Abstained,
		},
		Scores:              scores,
		Summary:             orDefault(data.Summary, a.judgeLog.String()),
		FinalRecommendation: data.FinalRecommendation,
		Reasoning:           data.Reasoning,
		Confidence:          clamp01(data.Confidence),
		Timestamp:           time.Now(),
	}
}

// Result assembles the final response. Sages that never completed are
// recorded as automatic rejections so the response always carries exactly
// three verdicts; a missing judge ruling falls back to the majority vote.
func (a *Aggregator) Result(requestID, traceID string) (model.DecisionResponse, error) {
	if a.failure != "" {
		return model.DecisionResponse{}, fmt.Errorf("%w: %s", ErrStreamFailed, a.failure)
	}

	verdicts := make([]model.Verdict, 0, 3)
	for _, sage := range model.Sages() {
		if v, ok := a.verdicts[sage]; ok {
			verdicts = append(verdicts, v)
			continue
		}
		verdicts = append(verdicts, ErrorVerdict(sage, errors.New("no verdict in stream"), 0))
	}

	judge := a.judge
	if judge == nil {
		fallback := FallbackJudgment(verdicts)
		judge = &fallback
	}

	resp := model.DecisionResponse{
		RequestID:          requestID,
		TraceID:            traceID,
		Verdicts:           verdicts,
		Judge:              *judge,
		TotalExecutionTime: time.Since(a.start).Milliseconds(),
		Timestamp:          a.start,
		Version:            "1.0",
	}
	if err := resp.Validate(); err != nil {
		return model.DecisionResponse{}, fmt.Errorf("assembling response: %w", err)
	}
	return resp, nil
}

// Complete reports whether the stream reached its terminal complete event.
func (a *Aggregator) Complete() bool {
	return a.complete
}
