// Package worker implements the decision worker process. It reads one
// request from stdin, runs the three sages and the judge, and prints the
// deliberation as newline-delimited JSON events on stdout. stderr lines are
// surfaced to callers as runtime errors, so nothing chatty may go there.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerv-tools/magi/internal/magi"
	"github.com/nerv-tools/magi/internal/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// chunkRunes is the streaming granularity of answer text.
const chunkRunes = 24

// Completer produces model text for a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Worker runs one deliberation and streams it to out.
type Worker struct {
	mx        sync.Mutex
	out       io.Writer
	completer Completer // nil selects the built-in local analyzers
}

// New creates a worker writing events to out. A nil completer runs every
// persona on the deterministic local analyzer.
func New(out io.Writer, completer Completer) *Worker {
	return &Worker{out: out, completer: completer}
}

// Run executes one full deliberation. The input is read to EOF before any
// event is produced. Request problems are reported as an error event and
// returned so the process can exit non-zero.
func (w *Worker) Run(ctx context.Context, in io.Reader) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return w.fail(fmt.Errorf("reading request: %w", err))
	}

	var req model.DecisionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return w.fail(fmt.Errorf("decoding request: %w", err))
	}
	if err := req.Validate(); err != nil {
		return w.fail(err)
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	if err := w.emit(model.EventAgentStart, "", map[string]any{
		"message": "MAGI deliberation started",
		"traceId": req.TraceID,
	}); err != nil {
		return err
	}

	verdicts, err := w.consultSages(ctx, req)
	if err != nil {
		return w.fail(err)
	}

	if err := w.judge(ctx, req, verdicts); err != nil {
		return w.fail(err)
	}

	return w.emit(model.EventComplete, "", map[string]any{
		"message": "All agents completed successfully",
	})
}

// consultSages runs the three sages concurrently. Events from different
// sages interleave on the stream; consumers key on agentId.
func (w *Worker) consultSages(ctx context.Context, req model.DecisionRequest) ([]model.Verdict, error) {
	verdicts := make([]model.Verdict, len(sageOrder))

	group, ctx := errgroup.WithContext(ctx)
	for i, sage := range sageOrder {
		group.Go(func() error {
			verdict, err := w.consult(ctx, personas[sage], req)
			if err != nil {
				return err
			}
			verdicts[i] = verdict
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

// consult runs one sage. A model failure does not abort the deliberation:
// the sage records an automatic rejection and the others continue. Only a
// broken stream aborts.
func (w *Worker) consult(ctx context.Context, p persona, req model.DecisionRequest) (model.Verdict, error) {
	start := time.Now()

	if err := w.emit(model.EventAgentStart, p.ID, map[string]any{
		"name": p.Name,
		"type": p.Kind,
	}); err != nil {
		return model.Verdict{}, err
	}

	for _, step := range thinkingSteps {
		if err := w.emit(model.EventAgentThinking, p.ID, map[string]any{
			"text": step + "\n",
		}); err != nil {
			return model.Verdict{}, err
		}
	}

	text, err := w.answer(ctx, p, req)
	if err != nil {
		verdict := magi.ErrorVerdict(p.ID, err, time.Since(start))
		return verdict, w.emitVerdict(p.ID, verdict)
	}

	if err := w.stream(model.EventAgentChunk, p.ID, text); err != nil {
		return model.Verdict{}, err
	}

	verdict := magi.ParseVerdict(p.ID, text, time.Since(start))
	return verdict, w.emitVerdict(p.ID, verdict)
}

// answer obtains the sage's raw text, from the model when one is
// configured, otherwise from the local analyzer.
func (w *Worker) answer(ctx context.Context, p persona, req model.DecisionRequest) (string, error) {
	question := req.Question
	if req.Context != "" {
		question += "\n\n## Context\n" + req.Context
	}
	if w.completer == nil {
		return localAnalysis(p, req.Question, req.Context), nil
	}
	return w.completer.Complete(ctx, p.Prompt, question)
}

func (w *Worker) emitVerdict(agentID model.AgentID, verdict model.Verdict) error {
	return w.emit(model.EventAgentComplete, agentID, map[string]any{
		"decision":      verdict.Decision,
		"confidence":    verdict.Confidence,
		"reasoning":     verdict.Reasoning,
		"executionTime": verdict.ExecutionTime,
	})
}

// judge runs solomon over the collected verdicts and emits its ruling.
func (w *Worker) judge(ctx context.Context, req model.DecisionRequest, verdicts []model.Verdict) error {
	if err := w.emit(model.EventJudgeStart, "", map[string]any{
		"name": "SOLOMON JUDGE",
	}); err != nil {
		return err
	}

	start := time.Now()
	ruling := magi.FallbackJudgment(verdicts)
	if w.completer != nil {
		prompt := fmt.Sprintf("## Question\n%s\n\n## The sages' verdicts\n%s", req.Question, magi.SageSummary(verdicts))
		if text, err := w.completer.Complete(ctx, judgePrompt, prompt); err == nil {
			ruling = magi.ParseJudgeVerdict(text, verdicts, time.Since(start))
		}
	}

	if err := w.stream(model.EventJudgeChunk, "", ruling.Summary); err != nil {
		return err
	}

	scores := make([]map[string]any, 0, len(ruling.Scores))
	for _, s := range ruling.Scores {
		scores = append(scores, map[string]any{
			"agentId":   s.AgentID,
			"score":     s.Score,
			"reasoning": s.Reasoning,
		})
	}

	return w.emit(model.EventJudgeComplete, "", map[string]any{
		"finalDecision": ruling.FinalDecision,
		"votingResult": map[string]int{
			"approved":  ruling.Voting.Approved,
			"rejected":  ruling.Voting.Rejected,
			"abstained": ruling.Voting.Abstained,
		},
		"scores":              scores,
		"summary":             ruling.Summary,
		"finalRecommendation": ruling.FinalRecommendation,
		"reasoning":           ruling.Reasoning,
		"confidence":          ruling.Confidence,
	})
}

// stream chunks text into successive chunk events.
func (w *Worker) stream(eventType string, agentID model.AgentID, text string) error {
	runes := []rune(text)
	for len(runes) > 0 {
		n := min(chunkRunes, len(runes))
		if err := w.emit(eventType, agentID, map[string]any{"text": string(runes[:n])}); err != nil {
			return err
		}
		runes = runes[n:]
	}
	return nil
}

// fail reports err on the stream, then returns it for the exit code.
func (w *Worker) fail(err error) error {
	_ = w.emit(model.EventError, "", map[string]any{"error": err.Error()})
	return err
}

// emit writes one event line. The lock keeps concurrently consulting sages
// from interleaving bytes within a line.
func (w *Worker) emit(eventType string, agentID model.AgentID, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}
	line, err := json.Marshal(model.StreamEvent{
		Type:    eventType,
		AgentID: agentID,
		Data:    raw,
	})
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", eventType, err)
	}

	w.mx.Lock()
	defer w.mx.Unlock()
	if _, err := w.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing %s event: %w", eventType, err)
	}
	return nil
}
