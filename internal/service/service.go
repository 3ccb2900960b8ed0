// Package service wires the pieces into the running process: storage,
// retention, the HTTP API, and the worker configuration the API spawns
// processes from.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/nerv-tools/magi/internal/httpapi"
	"github.com/nerv-tools/magi/internal/model"
	"github.com/nerv-tools/magi/internal/relay"
	"github.com/nerv-tools/magi/internal/store"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// WorkerSubcommand is the hidden subcommand the service re-executes its
// own binary with when no external worker command is configured.
const WorkerSubcommand = "_worker"

// Run starts the service and blocks until ctx is cancelled or the listener
// fails. Shutdown is graceful: in-flight requests get shutdownTimeout to
// finish.
func Run(ctx context.Context, cfg model.Config, version string) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.ErrorContext(ctx, "closing store", "error", err)
		}
	}()

	workerCfg, err := WorkerConfig(cfg)
	if err != nil {
		return err
	}

	retention, err := store.NewRetention(ctx, st, cfg.Store.Retention)
	if err != nil {
		return err
	}
	if retention != nil {
		retention.Start()
		defer func() {
			if err := retention.Shutdown(); err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	api := httpapi.New(version, cfg.Server.CORSOrigin, workerCfg, st)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", server.Addr, err)
	}
	slog.InfoContext(ctx, "serving", "address", listener.Addr().String(), "version", version)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		slog.InfoContext(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// WorkerConfig resolves the subprocess the API spawns per request. An
// empty worker command selects the built-in worker via self-execution.
func WorkerConfig(cfg model.Config) (relay.Config, error) {
	timeout, err := cfg.Worker.TimeoutDuration()
	if err != nil {
		return relay.Config{}, fmt.Errorf("parsing worker.timeout: %w", err)
	}

	command := cfg.Worker.Command
	args := cfg.Worker.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			return relay.Config{}, fmt.Errorf("resolving own binary: %w", err)
		}
		command = exe
		args = workerArgs(cfg.LLM)
	}

	var env []string
	if len(cfg.Worker.Env) > 0 {
		env = os.Environ()
		for k, v := range cfg.Worker.Env {
			env = append(env, k+"="+v)
		}
	}

	return relay.Config{
		Command: command,
		Args:    args,
		Env:     env,
		Timeout: timeout,
	}, nil
}

// workerArgs builds the self-exec argument list. The API key never appears
// here: the worker reads it from its inherited environment.
func workerArgs(llm *model.LLM) []string {
	args := []string{WorkerSubcommand}
	if llm == nil || llm.Endpoint == "" {
		return args
	}
	args = append(args, "--llm-endpoint", llm.Endpoint)
	if llm.Model != "" {
		args = append(args, "--llm-model", llm.Model)
	}
	if llm.APIKeyEnv != "" {
		args = append(args, "--llm-api-key-env", llm.APIKeyEnv)
	}
	return args
}
