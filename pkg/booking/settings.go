package booking

import (
	"time"

	"github.com/randalmurphal/wapiflow/pkg/flowgraph/config"
)

// DefaultCheckpointPath is the SQLite file used when none is configured.
const DefaultCheckpointPath = "wapiflow.db"

// Settings are the runtime knobs of a booking deployment.
type Settings struct {
	PrimaryTimeout time.Duration
	PatternTimeout time.Duration

	// RunTimeout bounds one message cycle. Zero means unbounded.
	RunTimeout time.Duration

	CheckpointPath string

	// NATSURL enables milestone publishing when set.
	NATSURL string

	// LLMAPIKey enables the LLM extraction tier when set.
	LLMAPIKey string
	LLMModel  string

	// BackendURL selects the HTTP backend. Empty runs against the
	// in-memory fake.
	BackendURL   string
	BackendToken string
	BackendRate  float64
	BackendBurst int

	OTLPEndpoint string
	OTLPInsecure bool
}

// SettingsFrom reads Settings from cfg, applying defaults.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		PrimaryTimeout: cfg.Duration("extract.primary_timeout", DefaultPrimaryTimeout),
		PatternTimeout: cfg.Duration("extract.pattern_timeout", DefaultPatternTimeout),
		RunTimeout:     cfg.Duration("run.timeout", 0),
		CheckpointPath: cfg.String("checkpoint.path", DefaultCheckpointPath),
		NATSURL:        cfg.String("nats.url", ""),
		LLMAPIKey:      cfg.String("llm.api_key", ""),
		LLMModel:       cfg.String("llm.model", ""),
		BackendURL:     cfg.String("backend.base_url", ""),
		BackendToken:   cfg.String("backend.token", ""),
		BackendRate:    cfg.Float("backend.rate_limit", 10),
		BackendBurst:   cfg.Int("backend.burst", 5),
		OTLPEndpoint:   cfg.String("otlp.endpoint", ""),
		OTLPInsecure:   cfg.Bool("otlp.insecure", false),
	}
}
