package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nerv-tools/magi/internal/llm"
	"github.com/nerv-tools/magi/internal/magi"
	"github.com/nerv-tools/magi/internal/model"
	"github.com/nerv-tools/magi/internal/worker"

	"github.com/spf13/cobra"
)

var (
	flagDecideContext string
	flagDecideStream  bool
)

func init() {
	decideCmd.Flags().StringVar(&flagDecideContext, "context", "", "additional context for the sages")
	decideCmd.Flags().BoolVar(&flagDecideStream, "stream", false, "print deliberation events as they happen")
}

var decideCmd = &cobra.Command{
	Use:   "decide <question>",
	Short: "decide runs one deliberation and prints the verdict",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doDecide,
}

func doDecide(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req := model.DecisionRequest{
		Question: strings.Join(args, " "),
		Context:  flagDecideContext,
		TraceID:  uuid.NewString(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	var completer worker.Completer
	if config.LLM != nil && config.LLM.Endpoint != "" {
		apiKey := ""
		if config.LLM.APIKeyEnv != "" {
			apiKey = os.Getenv(config.LLM.APIKeyEnv)
		}
		c, err := llm.New(config.LLM.Endpoint, config.LLM.Model, apiKey)
		if err != nil {
			return fmt.Errorf("configuring model client: %w", err)
		}
		completer = c
	}

	agg := magi.NewAggregator()
	sink := &eventTap{agg: agg, echo: flagDecideStream}
	if err := worker.New(sink, completer).Run(ctx, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("deliberation failed: %w", err)
	}
	sink.flush()

	requestID := fmt.Sprintf("magi_%d", time.Now().Unix())
	resp, err := agg.Result(requestID, req.TraceID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// eventTap feeds the worker's stream into the aggregator line by line,
// optionally echoing the raw events to stdout.
type eventTap struct {
	agg  *magi.Aggregator
	echo bool
	buf  bytes.Buffer
}

func (t *eventTap) Write(p []byte) (int, error) {
	t.buf.Write(p)
	for {
		line, err := t.buf.ReadString('\n')
		if err != nil {
			t.buf.WriteString(line)
			break
		}
		t.consume(strings.TrimSuffix(line, "\n"))
	}
	return len(p), nil
}

func (t *eventTap) flush() {
	if t.buf.Len() > 0 {
		t.consume(t.buf.String())
		t.buf.Reset()
	}
}

func (t *eventTap) consume(line string) {
	if line == "" {
		return
	}
	if t.echo {
		fmt.Println(line)
	}
	t.agg.AddLine(line)
}
