package main

import (
	"fmt"
	"os"

	"github.com/nerv-tools/magi/internal/llm"
	"github.com/nerv-tools/magi/internal/service"
	"github.com/nerv-tools/magi/internal/worker"

	"github.com/spf13/cobra"
)

var (
	flagLLMEndpoint  string
	flagLLMModel     string
	flagLLMAPIKeyEnv string
)

func init() {
	workerCmd.Flags().StringVar(&flagLLMEndpoint, "llm-endpoint", "", "Messages API endpoint for the sages")
	workerCmd.Flags().StringVar(&flagLLMModel, "llm-model", "", "model name to request")
	workerCmd.Flags().StringVar(&flagLLMAPIKeyEnv, "llm-api-key-env", "", "environment variable holding the API key")
}

// workerCmd is the hidden subcommand the service spawns for each
// deliberation. It reads one request from stdin, writes the event
// stream to stdout and exits.
var workerCmd = &cobra.Command{
	Use:    service.WorkerSubcommand,
	Hidden: true,
	RunE:   doWorker,
}

func doWorker(cmd *cobra.Command, _ []string) error {
	var completer worker.Completer
	if flagLLMEndpoint != "" {
		apiKey := ""
		if flagLLMAPIKeyEnv != "" {
			apiKey = os.Getenv(flagLLMAPIKeyEnv)
		}
		c, err := llm.New(flagLLMEndpoint, flagLLMModel, apiKey)
		if err != nil {
			return fmt.Errorf("configuring model client: %w", err)
		}
		completer = c
	}

	return worker.New(os.Stdout, completer).Run(cmd.Context(), os.Stdin)
}
