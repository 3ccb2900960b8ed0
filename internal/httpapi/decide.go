package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nerv-tools/magi/internal/magi"
	"github.com/nerv-tools/magi/internal/model"
	"github.com/nerv-tools/magi/internal/relay"
	"github.com/nerv-tools/magi/internal/store"

	"github.com/google/uuid"
)

// handleDecide runs one full deliberation and returns the aggregated
// response as plain JSON. It drives the same worker as the streaming route;
// the stream is folded instead of forwarded.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading request payload", err.Error())
		return
	}

	var req model.DecisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if req.ConversationID != "" {
		if _, err := s.store.GetConversation(r.Context(), req.ConversationID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown conversation", req.ConversationID)
				return
			}
			writeError(w, http.StatusInternalServerError, "loading conversation", err.Error())
			return
		}
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	rl, err := relay.New(s.workerCfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "configuring worker", err.Error())
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding worker request", err.Error())
		return
	}

	sink := &collectSink{agg: magi.NewAggregator()}
	result := rl.Run(r.Context(), payload, sink)
	s.stats.record(result)

	switch result.State {
	case relay.StateCompleted:
	case relay.StateTimedOut:
		writeError(w, http.StatusGatewayTimeout, "deliberation timed out", sink.failure())
		return
	case relay.StateCancelled:
		// The caller is gone; nothing sensible to write.
		return
	default:
		writeError(w, http.StatusBadGateway, "deliberation failed", sink.failure())
		return
	}

	requestID := fmt.Sprintf("magi_%d", time.Now().Unix())
	resp, err := sink.agg.Result(requestID, req.TraceID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "deliberation failed", err.Error())
		return
	}

	s.persistDecision(r, req, resp)
	writeJSON(w, http.StatusOK, resp)
}

// persistDecision records the outcome. Persistence problems are logged,
// not surfaced: the deliberation itself succeeded.
func (s *Server) persistDecision(r *http.Request, req model.DecisionRequest, resp model.DecisionResponse) {
	ctx := r.Context()
	if req.ConversationID != "" {
		if _, err := s.store.AppendMessage(ctx, req.ConversationID, "user", req.Question); err != nil {
			logStoreError(r, "appending question", err)
		}
		ruling := fmt.Sprintf("%s (%d/%d approved): %s",
			resp.Judge.FinalDecision, resp.Judge.Voting.Approved, resp.Judge.Voting.TotalVotes(), resp.Judge.Summary)
		if _, err := s.store.AppendMessage(ctx, req.ConversationID, "magi", ruling); err != nil {
			logStoreError(r, "appending ruling", err)
		}
	}
	if _, err := s.store.SaveDecision(ctx, req.ConversationID, req.Question, resp); err != nil {
		logStoreError(r, "saving decision", err)
	}
}

func logStoreError(r *http.Request, op string, err error) {
	slog.ErrorContext(r.Context(), "persisting decision failed", "op", op, "error", err)
}

// collectSink folds the worker stream into an aggregator and keeps the
// first relay failure for the error response.
type collectSink struct {
	agg      *magi.Aggregator
	relayErr *relay.ErrorEvent
}

func (s *collectSink) Data(line string) error {
	s.agg.AddLine(line)
	return nil
}

func (s *collectSink) Error(event relay.ErrorEvent) error {
	if s.relayErr == nil && event.Code != relay.CodeRuntimeError {
		s.relayErr = &event
	}
	return nil
}

func (s *collectSink) failure() string {
	if s.relayErr == nil {
		return "worker stream ended without a result"
	}
	return fmt.Sprintf("%s: %s", s.relayErr.Code, s.relayErr.Message)
}
