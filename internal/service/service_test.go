package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerv-tools/magi/internal/model"

	"github.com/stretchr/testify/require"
)

func TestWorkerConfig(t *testing.T) {
	t.Parallel()

	t.Run("external command", func(t *testing.T) {
		t.Parallel()

		cfg := model.DefaultConfig(t.Context())
		cfg.Worker.Command = "/usr/local/bin/sage"
		cfg.Worker.Args = []string{"--fast"}
		cfg.Worker.Timeout = "90s"

		workerCfg, err := WorkerConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, "/usr/local/bin/sage", workerCfg.Command)
		require.Equal(t, []string{"--fast"}, workerCfg.Args)
		require.Equal(t, 90*time.Second, workerCfg.Timeout)
		require.Nil(t, workerCfg.Env)
	})

	t.Run("self exec without llm", func(t *testing.T) {
		t.Parallel()

		cfg := model.DefaultConfig(t.Context())
		workerCfg, err := WorkerConfig(cfg)
		require.NoError(t, err)
		require.NotEmpty(t, workerCfg.Command)
		require.Equal(t, []string{WorkerSubcommand}, workerCfg.Args)
	})

	t.Run("self exec with llm", func(t *testing.T) {
		t.Parallel()

		cfg := model.DefaultConfig(t.Context())
		cfg.LLM = &model.LLM{
			Endpoint:  "https://api.example.com/v1/messages",
			Model:     "some-model",
			APIKeyEnv: "MAGI_API_KEY",
		}
		workerCfg, err := WorkerConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, []string{
			WorkerSubcommand,
			"--llm-endpoint", "https://api.example.com/v1/messages",
			"--llm-model", "some-model",
			"--llm-api-key-env", "MAGI_API_KEY",
		}, workerCfg.Args)
	})

	t.Run("extra env is appended", func(t *testing.T) {
		t.Parallel()

		cfg := model.DefaultConfig(t.Context())
		cfg.Worker.Env = map[string]string{"SAGE_MODE": "local"}
		workerCfg, err := WorkerConfig(cfg)
		require.NoError(t, err)
		require.Contains(t, workerCfg.Env, "SAGE_MODE=local")
	})

	t.Run("bad timeout fails", func(t *testing.T) {
		t.Parallel()

		cfg := model.DefaultConfig(t.Context())
		cfg.Worker.Timeout = "whenever"
		_, err := WorkerConfig(cfg)
		require.ErrorContains(t, err, "worker.timeout")
	})
}

func TestRunShutsDownGracefully(t *testing.T) {
	t.Parallel()

	cfg := model.DefaultConfig(t.Context())
	cfg.Server.Port = 0
	cfg.Store.Path = filepath.Join(t.TempDir(), "magi.db")

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, "test")
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not shut down")
	}
}
