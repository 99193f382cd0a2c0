// Package config provides configuration types and loading for careerpilot.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Server, Analysis, Events, Scheduler, Realtime, Provider.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Server    ServerConfig    `json:"server"`
	Analysis  AnalysisConfig  `json:"analysis"`
	Events    EventsConfig    `json:"events"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Realtime  RealtimeConfig  `json:"realtime"`
	Provider  ProviderConfig  `json:"provider"`
	Strategy  StrategyConfig  `json:"strategy"`
}

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBFile  string `json:"dbFile" envconfig:"DB_FILE"`
}

// ServerConfig contains HTTP gateway settings.
type ServerConfig struct {
	Host      string `json:"host" envconfig:"HOST"`
	Port      int    `json:"port" envconfig:"PORT"`
	AuthToken string `json:"authToken" envconfig:"AUTH_TOKEN"`
}

// AnalysisConfig contains settings for the interview analysis loop.
type AnalysisConfig struct {
	MaxIterations       int           `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
	ConfidenceThreshold float64       `json:"confidenceThreshold" envconfig:"CONFIDENCE_THRESHOLD"`
	Timeout             time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	EnableLearning      bool          `json:"enableLearning" envconfig:"ENABLE_LEARNING"`
}

// EventsConfig contains event bus and retry settings.
type EventsConfig struct {
	MaxAttempts   int           `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	RetryInterval time.Duration `json:"retryInterval" envconfig:"RETRY_INTERVAL"`
	HardTimeout   time.Duration `json:"hardTimeout" envconfig:"HARD_TIMEOUT"`
}

// SchedulerConfig contains settings for the periodic job runner.
type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" envconfig:"ENABLED"`
	SweepInterval  time.Duration `json:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
	MaxConcLLM     int           `json:"maxConcLLM" envconfig:"MAX_CONC_LLM"`
	MaxConcDefault int           `json:"maxConcDefault" envconfig:"MAX_CONC_DEFAULT"`
	LockPath       string        `json:"lockPath" envconfig:"LOCK_PATH"`
}

// RealtimeConfig contains settings for the per-user live stream.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeatInterval" envconfig:"HEARTBEAT_INTERVAL"`
	SendBuffer        int           `json:"sendBuffer" envconfig:"SEND_BUFFER"`
}

// ProviderConfig contains settings for the text-generation capability.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase" envconfig:"API_BASE"`
	Model   string `json:"model" envconfig:"MODEL"`
}

// StrategyConfig contains thresholds for the strategist agent.
type StrategyConfig struct {
	RejectionBurst  int           `json:"rejectionBurst" envconfig:"REJECTION_BURST"`
	RejectionWindow time.Duration `json:"rejectionWindow" envconfig:"REJECTION_WINDOW"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.careerpilot",
			DBFile:  "careerpilot.db",
		},
		Server: ServerConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
		Analysis: AnalysisConfig{
			MaxIterations:       3,
			ConfidenceThreshold: 0.8,
			Timeout:             90 * time.Second,
			EnableLearning:      true,
		},
		Events: EventsConfig{
			MaxAttempts:   5,
			RetryInterval: 5 * time.Second,
			HardTimeout:   2 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:        true,
			SweepInterval:  time.Hour,
			MaxConcLLM:     3,
			MaxConcDefault: 5,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
			SendBuffer:        32,
		},
		Provider: ProviderConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Strategy: StrategyConfig{
			RejectionBurst:  3,
			RejectionWindow: 7 * 24 * time.Hour,
		},
	}
}
