package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentID identifies one of the four personas. The three sages answer the
// question, solomon judges their answers.
type AgentID string

const (
	AgentCaspar    AgentID = "caspar"    // conservative, risk-first
	AgentBalthasar AgentID = "balthasar" // innovative, human-values-first
	AgentMelchior  AgentID = "melchior"  // balanced, evidence-first
	AgentSolomon   AgentID = "solomon"   // the judge
)

// Sages returns the three answering personas in their canonical order.
func Sages() []AgentID {
	return []AgentID{AgentCaspar, AgentBalthasar, AgentMelchior}
}

func (a AgentID) Valid() bool {
	switch a {
	case AgentCaspar, AgentBalthasar, AgentMelchior, AgentSolomon:
		return true
	}
	return false
}

// Decision is a binary vote.
type Decision string

const (
	Approved Decision = "APPROVED"
	Rejected Decision = "REJECTED"
)

// Verdict is one sage's answer.
type Verdict struct {
	AgentID       AgentID   `json:"agent_id"`
	Decision      Decision  `json:"decision"`
	Content       string    `json:"content"`
	Reasoning     string    `json:"reasoning"`
	Confidence    float64   `json:"confidence"` // [0,1]
	ExecutionTime int64     `json:"execution_time"` // milliseconds
	Timestamp     time.Time `json:"timestamp"`
}

// Score is solomon's 0-100 rating of one sage's answer.
type Score struct {
	AgentID   AgentID `json:"agent_id"`
	Score     int     `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// VotingResult tallies the sages' votes. Abstained counts sages which
// errored out or never answered.
type VotingResult struct {
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Abstained int `json:"abstained"`
}

func (v VotingResult) TotalVotes() int {
	return v.Approved + v.Rejected + v.Abstained
}

// ApprovalRate is the approved share of non-abstained votes.
func (v VotingResult) ApprovalRate() float64 {
	valid := v.Approved + v.Rejected
	if valid == 0 {
		return 0
	}
	return float64(v.Approved) / float64(valid)
}

// JudgeVerdict is solomon's aggregated ruling.
type JudgeVerdict struct {
	FinalDecision       Decision     `json:"final_decision"`
	Voting              VotingResult `json:"voting_result"`
	Scores              []Score      `json:"scores"`
	Summary             string       `json:"summary"`
	FinalRecommendation string       `json:"final_recommendation"`
	Reasoning           string       `json:"reasoning"`
	Confidence          float64      `json:"confidence"`
	ExecutionTime       int64        `json:"execution_time"`
	Timestamp           time.Time    `json:"timestamp"`
}

// DecisionRequest is the payload the worker receives on stdin.
type DecisionRequest struct {
	Question       string `json:"question"`
	Context        string `json:"context,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	TraceID        string `json:"traceId,omitempty"`
}

func (r DecisionRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return ErrEmptyQuestion
	}
	return nil
}

// DecisionResponse is the fully aggregated outcome of one invocation.
type DecisionResponse struct {
	RequestID          string       `json:"request_id"`
	TraceID            string       `json:"trace_id"`
	Verdicts           []Verdict    `json:"agent_responses"`
	Judge              JudgeVerdict `json:"judge_response"`
	TotalExecutionTime int64        `json:"total_execution_time"`
	Timestamp          time.Time    `json:"timestamp"`
	Version            string       `json:"version"`
}

// Validate checks that exactly the three sages are present, each once.
func (r DecisionResponse) Validate() error {
	seen := make(map[AgentID]bool, 3)
	for _, v := range r.Verdicts {
		if v.AgentID == AgentSolomon || !v.AgentID.Valid() {
			return fmt.Errorf("%w: %s", ErrUnknownAgent, v.AgentID)
		}
		if seen[v.AgentID] {
			return fmt.Errorf("%w: duplicate %s", ErrMissingSages, v.AgentID)
		}
		seen[v.AgentID] = true
	}
	if len(seen) != 3 {
		return ErrMissingSages
	}
	return nil
}

// Stream event types emitted by the worker, in emission order.
const (
	EventAgentStart    = "agent_start"
	EventAgentThinking = "agent_thinking"
	EventAgentChunk    = "agent_chunk"
	EventAgentComplete = "agent_complete"
	EventJudgeStart    = "judge_start"
	EventJudgeChunk    = "judge_chunk"
	EventJudgeComplete = "judge_complete"
	EventComplete      = "complete"
	EventError         = "error"
)

// StreamEvent is one newline-delimited JSON record on the worker's stdout.
// Data is kept raw: the relay passes it through untouched and only the
// aggregator interprets it.
type StreamEvent struct {
	Type    string          `json:"type"`
	AgentID AgentID         `json:"agentId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
