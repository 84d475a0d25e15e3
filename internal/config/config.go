package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// Scoring provider
	ProviderBaseURL string

	// Pipeline tunables, overridable from a YAML file.
	Pipeline PipelineConfig
}

// PipelineConfig groups the evaluation pipeline tunables. Defaults follow the
// defensive policy: high retry ceiling, low repair threshold.
type PipelineConfig struct {
	// ModelPriority is the ordered list of model names tried per credential.
	ModelPriority []string `yaml:"model_priority"`

	// AttemptsPerPair bounds retries for one (credential, model) pair.
	AttemptsPerPair int `yaml:"attempts_per_pair"`

	// CallTimeout is the hard per-call budget for one provider request.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// JobRetryCeiling bounds whole-job re-runs before the job fails.
	JobRetryCeiling int `yaml:"job_retry_ceiling"`

	// WatchdogWindow is how long a job may stay non-terminal before the
	// watchdog forces it to failed.
	WatchdogWindow time.Duration `yaml:"watchdog_window"`

	// RepairMinDuration is the minimum spoken duration (seconds) for a
	// no-speech segment to qualify for the transcript repair pass.
	RepairMinDuration float64 `yaml:"repair_min_duration"`

	// RepairMaxSegments caps how many segments one repair call may carry.
	RepairMaxSegments int `yaml:"repair_max_segments"`

	// ScoringTemperature is the sampling temperature for the main scoring
	// call. The repair pass uses its own, lower setting.
	ScoringTemperature float64 `yaml:"scoring_temperature"`

	// OverallScoreMargin is how far the provider-reported overall band may
	// exceed the mean of per-question scores before it is pulled down.
	OverallScoreMargin float64 `yaml:"overall_score_margin"`

	// MinimalSoftRatio/MinimalSoftCap and MinimalHardRatio/MinimalHardCap
	// implement the anti-inflation caps on the overall band.
	MinimalSoftRatio float64 `yaml:"minimal_soft_ratio"`
	MinimalSoftCap   float64 `yaml:"minimal_soft_cap"`
	MinimalHardRatio float64 `yaml:"minimal_hard_ratio"`
	MinimalHardCap   float64 `yaml:"minimal_hard_cap"`
}

// DefaultPipeline returns the built-in pipeline tunables.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		ModelPriority: []string{
			"gemini-2.5-flash",
			"gemini-2.5-flash-lite",
			"gemini-2.0-flash",
		},
		AttemptsPerPair:    3,
		CallTimeout:        120 * time.Second,
		JobRetryCeiling:    5,
		WatchdogWindow:     12 * time.Minute,
		RepairMinDuration:  0.7,
		RepairMaxSegments:  8,
		ScoringTemperature: 0.3,
		OverallScoreMargin: 1.5,
		MinimalSoftRatio:   0.3,
		MinimalSoftCap:     5.5,
		MinimalHardRatio:   0.5,
		MinimalHardCap:     4.0,
	}
}

// Load loads configuration from environment variables. If PIPELINE_CONFIG
// points at a YAML file, pipeline tunables are overlaid from it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", "postgres://localhost/oral_eval?sslmode=disable"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		Pipeline:        DefaultPipeline(),
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg.Pipeline); err != nil {
			return nil, fmt.Errorf("failed to parse pipeline config %s: %w", path, err)
		}
	}

	if err := cfg.Pipeline.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p PipelineConfig) validate() error {
	if len(p.ModelPriority) == 0 {
		return fmt.Errorf("pipeline config: model_priority must not be empty")
	}
	if p.AttemptsPerPair < 1 {
		return fmt.Errorf("pipeline config: attempts_per_pair must be >= 1")
	}
	if p.JobRetryCeiling < 0 {
		return fmt.Errorf("pipeline config: job_retry_ceiling must be >= 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
