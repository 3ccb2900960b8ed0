package model

import (
	"context"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version"` // fixed 0 for now
	Server  Server  `json:"server"`
	Worker  Worker  `json:"worker"`
	Store   Store   `json:"store"`
	LLM     *LLM    `json:"llm,omitempty"`
	Service Service `json:"service"`
}

// Server is the HTTP listener configuration.
type Server struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CORSOrigin string `json:"cors_origin"`
}

// Worker configures the decision subprocess. An empty Command means the
// service re-executes its own binary with the built-in worker subcommand.
type Worker struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout string            `json:"timeout"` // CUE duration, e.g. "3m"
}

// TimeoutDuration parses Worker.Timeout.
func (w Worker) TimeoutDuration() (time.Duration, error) {
	return ParseCueDuration(w.Timeout)
}

// Store is the conversation persistence configuration.
type Store struct {
	Path      string     `json:"path"`
	Retention *Retention `json:"retention,omitempty"`
}

// Retention controls the periodic purge of old conversations.
type Retention struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	MaxAge   string `json:"max_age"`  // CUE duration, e.g. "30d"
	Schedule string `json:"schedule"` // 5-field cron expression
}

// LLM points the built-in worker at an Anthropic-style Messages endpoint.
// When absent the worker answers with its local analyzer.
type LLM struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env"`
}

type Service struct {
	Verbose bool   `json:"verbose"`
	Log     string `json:"log"` // "stderr"|"stdout"|"discard"
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Server: Server{
			Host:       "127.0.0.1",
			Port:       8080,
			CORSOrigin: "*",
		},
		Worker: Worker{
			Timeout: "3m",
		},
		Store: Store{
			Path: "magi.db",
		},
		Service: Service{
			Log: LogStderr,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
