package model

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ApplyEnv overlays MAGI_* environment variables onto cfg. Flat config keys
// map to env names with dots replaced by underscores, e.g. worker.timeout
// becomes MAGI_WORKER_TIMEOUT. Invalid values are logged and ignored so a
// broken environment never beats a valid config file.
func ApplyEnv(ctx context.Context, cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("MAGI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if s := v.GetString("worker.command"); s != "" {
		cfg.Worker.Command = s
	}
	if s := v.GetString("worker.timeout"); s != "" {
		if _, err := ParseCueDuration(s); err != nil {
			slog.WarnContext(ctx, "invalid MAGI_WORKER_TIMEOUT: keeping configured value", "value", s, "error", err)
		} else {
			cfg.Worker.Timeout = s
		}
	}
	if s := v.GetString("server.host"); s != "" {
		cfg.Server.Host = s
	}
	if s := v.GetString("server.port"); s != "" {
		port, err := strconv.Atoi(s)
		if err != nil || port <= 0 || port >= 65536 {
			slog.WarnContext(ctx, "invalid MAGI_SERVER_PORT: keeping configured value", "value", s)
		} else {
			cfg.Server.Port = port
		}
	}
	if s := v.GetString("store.path"); s != "" {
		cfg.Store.Path = s
	}
	if s := v.GetString("llm.endpoint"); s != "" {
		if cfg.LLM == nil {
			cfg.LLM = &LLM{
				Model:     "claude-3-5-sonnet-20240620",
				APIKeyEnv: "MAGI_API_KEY",
			}
		}
		cfg.LLM.Endpoint = s
	}
	if cfg.LLM != nil {
		if s := v.GetString("llm.model"); s != "" {
			cfg.LLM.Model = s
		}
	}
}
