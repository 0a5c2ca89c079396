package config

import (
	"time"

	"github.com/vietddude/lens/internal/core/fault"
	"github.com/vietddude/lens/internal/infra/redisq"
	"github.com/vietddude/lens/internal/infra/storage/postgres"
	"github.com/vietddude/lens/internal/infra/tabular"
	"github.com/vietddude/lens/internal/infra/vision"
	"github.com/vietddude/lens/internal/pipeline/image"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	ToolServer ToolServerConfig `yaml:"tool_server"`
	Vision     vision.Config    `yaml:"vision"`
	Tabular    tabular.Config   `yaml:"tabular"`
	Image      image.Config     `yaml:"image"`
	Batch      BatchConfig      `yaml:"batch"`
	Retry      RetryConfig      `yaml:"retry"`
	Redis      redisq.Config    `yaml:"redis"`
	Database   postgres.Config  `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ToolServerConfig describes how to launch and talk to the tool server
// child process.
type ToolServerConfig struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Dir       string            `yaml:"dir"`
	Mode      string            `yaml:"mode"`       // per-call (default) or session
	StopGrace time.Duration     `yaml:"stop_grace"` // SIGTERM grace before SIGKILL
	Debug     DebugConfig       `yaml:"debug"`
	Fields    FieldsConfig      `yaml:"fields"`
}

// DebugConfig optionally launches the tool server under a headless delve
// session so a debugger can attach to it.
type DebugConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// FieldsConfig binds logical record roles to datastore field IDs.
type FieldsConfig struct {
	Description string   `yaml:"description"`
	Uploader    string   `yaml:"uploader"`
	Attachment  string   `yaml:"attachment"`
	Results     []string `yaml:"results"`
}

// BatchConfig tunes one orchestrator run and the schedule between runs.
type BatchConfig struct {
	QueryLimit  int           `yaml:"query_limit"`
	Concurrency int           `yaml:"concurrency"`
	Interval    time.Duration `yaml:"interval"` // 0 = single run
}

// RetryConfig mirrors the retry schedule in YAML-friendly form.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ToFault converts the YAML retry schedule into the taxonomy's form,
// optionally extending the default retryable kinds.
func (r RetryConfig) ToFault(extra ...fault.Kind) fault.RetryConfig {
	cfg := fault.DefaultRetryConfig
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialDelay > 0 {
		cfg.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		cfg.MaxDelay = r.MaxDelay
	}
	if r.BackoffFactor > 0 {
		cfg.BackoffFactor = r.BackoffFactor
	}
	cfg.RetryableKinds = append(append([]fault.Kind(nil), cfg.RetryableKinds...), extra...)
	return cfg
}
