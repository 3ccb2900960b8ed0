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

	"github.com/tmaxmax/go-sse"
)

// maxPayloadBytes bounds the inbound request body.
const maxPayloadBytes = 1 << 20

// handleInvocations bridges one request to one worker process and streams
// the worker's stdout lines back as SSE events. The payload is passed to
// the worker untouched; the handler only checks it is JSON at all before
// spawning, so a hopeless request never costs a process.
func (s *Server) handleInvocations(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading request payload", err.Error())
		return
	}
	if !json.Valid(payload) {
		writeError(w, http.StatusInternalServerError, "invalid request payload", "body is not well-formed JSON")
		return
	}

	rl, err := relay.New(s.workerCfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "configuring worker", err.Error())
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Proxies must not buffer the event stream.
	w.Header().Set("X-Accel-Buffering", "no")

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upgrading to event stream", err.Error())
		return
	}

	// When the opaque payload happens to name a known conversation, the
	// stream is additionally folded and the outcome recorded. The bytes
	// sent to the worker and to the client stay untouched either way.
	var req model.DecisionRequest
	record := json.Unmarshal(payload, &req) == nil && req.ConversationID != ""
	if record {
		if _, err := s.store.GetConversation(r.Context(), req.ConversationID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.ErrorContext(r.Context(), "conversation lookup failed",
					"conversation_id", req.ConversationID, "error", err)
			}
			record = false
		}
	}

	var sink relay.Sink = &sseSink{sess: sess}
	var agg *magi.Aggregator
	if record {
		agg = magi.NewAggregator()
		sink = &teeSink{out: sink.(*sseSink), agg: agg}
	}

	result := rl.Run(r.Context(), payload, sink)
	s.stats.record(result)
	slog.DebugContext(r.Context(), "invocation finished",
		"state", result.State.String(), "exit_code", result.ExitCode, "elapsed", result.Elapsed)

	if record && result.State == relay.StateCompleted {
		requestID := fmt.Sprintf("magi_%d", time.Now().Unix())
		if resp, err := agg.Result(requestID, req.TraceID); err == nil {
			s.persistDecision(r, req, resp)
		}
	}
}

// teeSink forwards lines to the SSE session and folds them into the
// aggregator for conversation recording.
type teeSink struct {
	out *sseSink
	agg *magi.Aggregator
}

func (t *teeSink) Data(line string) error {
	t.agg.AddLine(line)
	return t.out.Data(line)
}

func (t *teeSink) Error(event relay.ErrorEvent) error {
	return t.out.Error(event)
}

// sseSink forwards relay output onto one SSE session. Each worker line
// becomes one data event; relay failures become one "error" event.
type sseSink struct {
	sess *sse.Session
}

func (s *sseSink) Data(line string) error {
	msg := &sse.Message{}
	msg.AppendData(line)
	if err := s.sess.Send(msg); err != nil {
		return err
	}
	return s.sess.Flush()
}

func (s *sseSink) Error(event relay.ErrorEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := &sse.Message{Type: sse.Type("error")}
	msg.AppendData(string(payload))
	if err := s.sess.Send(msg); err != nil {
		return err
	}
	return s.sess.Flush()
}
