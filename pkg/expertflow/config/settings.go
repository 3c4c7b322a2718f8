package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Model backends.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Checkpoint store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// ModelSettings selects and configures the model backends.
type ModelSettings struct {
	// Backend is "openai" (any OpenAI-compatible hosted endpoint) or
	// "ollama" (locally hosted).
	Backend string
	// BaseURL is the API root, e.g. "https://api.groq.com/openai/v1" or
	// "http://localhost:11434".
	BaseURL string
	// APIKey authenticates hosted backends. Unused by ollama.
	APIKey string
	// ResponseModel generates assistant replies.
	ResponseModel string
	// SummaryModel handles condensation and summaries. Empty reuses
	// ResponseModel.
	SummaryModel string
	// Temperature passed to the response model.
	Temperature float64
	// MaxTokens bounds each completion. Zero means backend default.
	MaxTokens int
}

// StoreSettings selects and configures the checkpoint store.
type StoreSettings struct {
	// Backend is "memory", "sqlite" or "redis".
	Backend string
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string
	// RedisAddr is the host:port for the redis backend.
	RedisAddr string
	// RedisPassword authenticates the redis backend, if set.
	RedisPassword string
	// RedisDB selects the redis logical database.
	RedisDB int
}

// EvalSettings configures background evaluation.
type EvalSettings struct {
	// SampleRate is the fraction of turns evaluated, in [0, 1].
	SampleRate float64
	// Workers is the evaluation pool size.
	Workers int
	// QueueSize is the bounded queue capacity.
	QueueSize int
	// Timeout bounds each evaluation.
	Timeout time.Duration
}

// Settings carries every knob the engine consumes, with defaults
// matching the original deployment.
type Settings struct {
	// SummaryTrigger is the message count above which a turn ends with
	// summarization.
	SummaryTrigger int
	// KeepAfterSummary is how many trailing messages survive pruning.
	KeepAfterSummary int
	// MaxIterations caps node executions per turn.
	MaxIterations int
	// RetrievalTopK is the passage count per retrieval.
	RetrievalTopK int

	Model ModelSettings
	Store StoreSettings
	Eval  EvalSettings
}

// Default returns the baseline settings.
func Default() Settings {
	return Settings{
		SummaryTrigger:   30,
		KeepAfterSummary: 5,
		MaxIterations:    24,
		RetrievalTopK:    3,
		Model: ModelSettings{
			Backend:     BackendOpenAI,
			Temperature: 0.7,
		},
		Store: StoreSettings{
			Backend:    StoreSQLite,
			SQLitePath: "threads.db",
		},
		Eval: EvalSettings{
			SampleRate: 1.0,
			Workers:    2,
			QueueSize:  64,
			Timeout:    30 * time.Second,
		},
	}
}

// FromConfig builds Settings from a loaded Config, starting from
// Default() and overriding whatever the file sets.
func FromConfig(cfg Config) Settings {
	s := Default()

	s.SummaryTrigger = cfg.Int("summary_trigger", s.SummaryTrigger)
	s.KeepAfterSummary = cfg.Int("keep_after_summary", s.KeepAfterSummary)
	s.MaxIterations = cfg.Int("max_iterations", s.MaxIterations)
	s.RetrievalTopK = cfg.Int("retrieval_top_k", s.RetrievalTopK)

	model := cfg.Sub("model")
	s.Model.Backend = model.String("backend", s.Model.Backend)
	s.Model.BaseURL = model.String("base_url", s.Model.BaseURL)
	s.Model.APIKey = model.String("api_key", s.Model.APIKey)
	s.Model.ResponseModel = model.String("response_model", s.Model.ResponseModel)
	s.Model.SummaryModel = model.String("summary_model", s.Model.SummaryModel)
	s.Model.Temperature = model.Float("temperature", s.Model.Temperature)
	s.Model.MaxTokens = model.Int("max_tokens", s.Model.MaxTokens)

	store := cfg.Sub("store")
	s.Store.Backend = store.String("backend", s.Store.Backend)
	s.Store.SQLitePath = store.String("sqlite_path", s.Store.SQLitePath)
	s.Store.RedisAddr = store.String("redis_addr", s.Store.RedisAddr)
	s.Store.RedisPassword = store.String("redis_password", s.Store.RedisPassword)
	s.Store.RedisDB = store.Int("redis_db", s.Store.RedisDB)

	eval := cfg.Sub("eval")
	s.Eval.SampleRate = eval.Float("sample_rate", s.Eval.SampleRate)
	s.Eval.Workers = eval.Int("workers", s.Eval.Workers)
	s.Eval.QueueSize = eval.Int("queue_size", s.Eval.QueueSize)
	s.Eval.Timeout = eval.Duration("timeout", s.Eval.Timeout)

	return s
}

// ApplyEnv overrides settings from environment variables. Call after
// LoadDotenv so a .env file participates. Only recognized variables with
// non-empty values override.
func (s Settings) ApplyEnv() Settings {
	if v := os.Getenv("EXPERTFLOW_MODEL_BACKEND"); v != "" {
		s.Model.Backend = v
	}
	if v := os.Getenv("EXPERTFLOW_MODEL_BASE_URL"); v != "" {
		s.Model.BaseURL = v
	}
	if v := os.Getenv("EXPERTFLOW_API_KEY"); v != "" {
		s.Model.APIKey = v
	}
	if v := os.Getenv("EXPERTFLOW_RESPONSE_MODEL"); v != "" {
		s.Model.ResponseModel = v
	}
	if v := os.Getenv("EXPERTFLOW_SUMMARY_MODEL"); v != "" {
		s.Model.SummaryModel = v
	}
	if v := os.Getenv("EXPERTFLOW_STORE_BACKEND"); v != "" {
		s.Store.Backend = v
	}
	if v := os.Getenv("EXPERTFLOW_SQLITE_PATH"); v != "" {
		s.Store.SQLitePath = v
	}
	if v := os.Getenv("EXPERTFLOW_REDIS_ADDR"); v != "" {
		s.Store.RedisAddr = v
	}
	if v := os.Getenv("EXPERTFLOW_REDIS_PASSWORD"); v != "" {
		s.Store.RedisPassword = v
	}
	if v := os.Getenv("EXPERTFLOW_EVAL_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Eval.SampleRate = f
		}
	}
	return s
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	if s.KeepAfterSummary >= s.SummaryTrigger {
		return fmt.Errorf("keep_after_summary (%d) must be less than summary_trigger (%d)",
			s.KeepAfterSummary, s.SummaryTrigger)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", s.MaxIterations)
	}
	switch s.Model.Backend {
	case BackendOpenAI, BackendOllama:
	default:
		return fmt.Errorf("unknown model backend %q", s.Model.Backend)
	}
	switch s.Store.Backend {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", s.Store.Backend)
	}
	if s.Eval.SampleRate < 0 || s.Eval.SampleRate > 1 {
		return fmt.Errorf("eval sample_rate must be in [0, 1], got %v", s.Eval.SampleRate)
	}
	return nil
}

// Load reads a config file (optional), merges the environment and
// validates the result. An empty path skips the file and uses defaults
// plus environment.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		cfg, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = FromConfig(cfg)
	}

	if err := LoadDotenv(); err != nil {
		return Settings{}, err
	}
	s = s.ApplyEnv()

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
