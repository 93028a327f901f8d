package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/model"
)

// Similarity strategies.
const (
	StrategyExact     = "exact"
	StrategyToken     = "token"
	StrategyEdit      = "edit"
	StrategyComposite = "composite"
	StrategyDelegated = "delegated"
	StrategyLLM       = "llm"
)

// Date decay curves.
const (
	DecayLinear      = "linear"
	DecayExponential = "exponential"
)

const weightSumTolerance = 1e-9

// Config is the full application configuration.
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Matching     Matching           `mapstructure:"matching"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Patterns     PatternConfig      `mapstructure:"patterns"`
}

// Weights are the per-signal scorer weights. They must sum to 1.0.
type Weights struct {
	Amount  float64 `mapstructure:"amount"`
	Date    float64 `mapstructure:"date"`
	Vendor  float64 `mapstructure:"vendor"`
	Pattern float64 `mapstructure:"pattern"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Amount + w.Date + w.Vendor + w.Pattern
}

// Matching configures candidate generation and scoring.
type Matching struct {
	DateDecay               string                `mapstructure:"date_decay"`
	Similarity              SimilarityConfig      `mapstructure:"similarity"`
	Bands                   []model.ToleranceBand `mapstructure:"bands"`
	Weights                 Weights               `mapstructure:"weights"`
	ConfidenceFloor         float64               `mapstructure:"confidence_floor"`
	DateWindowDays          int                   `mapstructure:"date_window_days"`
	MaxCandidatesPerInvoice int                   `mapstructure:"max_candidates_per_invoice"`
}

// SimilarityConfig selects and tunes the text similarity provider.
type SimilarityConfig struct {
	Strategy          string        `mapstructure:"strategy"`
	Fallback          string        `mapstructure:"fallback"`
	Endpoint          string        `mapstructure:"endpoint"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	LLM               LLMConfig     `mapstructure:"llm"`
}

// LLMConfig selects the language model behind the llm strategy.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
}

// PatternConfig sets how far a single decision moves a learned pattern.
type PatternConfig struct {
	AcceptStep float64 `mapstructure:"accept_step"`
	RejectStep float64 `mapstructure:"reject_step"`
}

// LedgerConfig names the categories assigned on acceptance.
type LedgerConfig struct {
	RevenueCategory string `mapstructure:"revenue_category"`
	ExpenseCategory string `mapstructure:"expense_category"`
}

// OrchestratorConfig controls chunking and chunk retries.
type OrchestratorConfig struct {
	// ChunkDays of zero chunks by calendar month.
	ChunkDays int                 `mapstructure:"chunk_days"`
	Retry     common.RetryOptions `mapstructure:"retry"`
}

// StorageConfig bounds repository calls.
type StorageConfig struct {
	Timeout   time.Duration       `mapstructure:"timeout"`
	BusyRetry common.RetryOptions `mapstructure:"busy_retry"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultBands returns the default amount tolerance bands, tightest first.
func DefaultBands() []model.ToleranceBand {
	return []model.ToleranceBand{
		{Name: "exact", Tolerance: 0, Score: 1.0},
		{Name: "within_2pct", Tolerance: 0.02, Score: 0.85},
		{Name: "within_5pct", Tolerance: 0.05, Score: 0.65},
		{Name: "within_10pct", Tolerance: 0.10, Score: 0.45},
		{Name: "within_15pct", Tolerance: 0.15, Score: 0.25},
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Matching: Matching{
			Weights:                 Weights{Amount: 0.45, Date: 0.20, Vendor: 0.30, Pattern: 0.05},
			Bands:                   DefaultBands(),
			DateWindowDays:          30,
			DateDecay:               DecayLinear,
			ConfidenceFloor:         model.LowTierThreshold,
			MaxCandidatesPerInvoice: 50,
			Similarity: SimilarityConfig{
				Strategy:          StrategyComposite,
				Fallback:          StrategyComposite,
				Timeout:           2 * time.Second,
				CacheTTL:          15 * time.Minute,
				RequestsPerSecond: 5,
				Burst:             5,
				LLM: LLMConfig{
					Provider: "openai",
					Timeout:  30 * time.Second,
				},
			},
		},
		Patterns: PatternConfig{AcceptStep: 0.2, RejectStep: 0.2},
		Ledger: LedgerConfig{
			RevenueCategory: "Invoice Revenue",
			ExpenseCategory: "Invoice Expense",
		},
		Orchestrator: OrchestratorConfig{
			Retry: common.RetryOptions{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
				Multiplier:   2.0,
			},
		},
		Storage: StorageConfig{
			Timeout: 5 * time.Second,
			BusyRetry: common.RetryOptions{
				MaxAttempts:  5,
				InitialDelay: 50 * time.Millisecond,
				MaxDelay:     time.Second,
				Multiplier:   2.0,
			},
		},
	}
}

// SetDefaults registers every default with viper so env vars and config files can override them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("matching.weights.amount", d.Matching.Weights.Amount)
	v.SetDefault("matching.weights.date", d.Matching.Weights.Date)
	v.SetDefault("matching.weights.vendor", d.Matching.Weights.Vendor)
	v.SetDefault("matching.weights.pattern", d.Matching.Weights.Pattern)

	bands := make([]map[string]any, 0, len(d.Matching.Bands))
	for _, b := range d.Matching.Bands {
		bands = append(bands, map[string]any{"name": b.Name, "tolerance": b.Tolerance, "score": b.Score})
	}
	v.SetDefault("matching.bands", bands)
	v.SetDefault("matching.date_window_days", d.Matching.DateWindowDays)
	v.SetDefault("matching.date_decay", d.Matching.DateDecay)
	v.SetDefault("matching.confidence_floor", d.Matching.ConfidenceFloor)
	v.SetDefault("matching.max_candidates_per_invoice", d.Matching.MaxCandidatesPerInvoice)
	v.SetDefault("matching.similarity.strategy", d.Matching.Similarity.Strategy)
	v.SetDefault("matching.similarity.fallback", d.Matching.Similarity.Fallback)
	v.SetDefault("matching.similarity.timeout", d.Matching.Similarity.Timeout)
	v.SetDefault("matching.similarity.cache_ttl", d.Matching.Similarity.CacheTTL)
	v.SetDefault("matching.similarity.requests_per_second", d.Matching.Similarity.RequestsPerSecond)
	v.SetDefault("matching.similarity.burst", d.Matching.Similarity.Burst)
	v.SetDefault("matching.similarity.llm.provider", d.Matching.Similarity.LLM.Provider)
	v.SetDefault("matching.similarity.llm.timeout", d.Matching.Similarity.LLM.Timeout)

	v.SetDefault("patterns.accept_step", d.Patterns.AcceptStep)
	v.SetDefault("patterns.reject_step", d.Patterns.RejectStep)

	v.SetDefault("ledger.revenue_category", d.Ledger.RevenueCategory)
	v.SetDefault("ledger.expense_category", d.Ledger.ExpenseCategory)

	v.SetDefault("orchestrator.chunk_days", d.Orchestrator.ChunkDays)
	v.SetDefault("orchestrator.retry.max_attempts", d.Orchestrator.Retry.MaxAttempts)
	v.SetDefault("orchestrator.retry.initial_delay", d.Orchestrator.Retry.InitialDelay)
	v.SetDefault("orchestrator.retry.max_delay", d.Orchestrator.Retry.MaxDelay)
	v.SetDefault("orchestrator.retry.multiplier", d.Orchestrator.Retry.Multiplier)

	v.SetDefault("storage.timeout", d.Storage.Timeout)
	v.SetDefault("storage.busy_retry.max_attempts", d.Storage.BusyRetry.MaxAttempts)
	v.SetDefault("storage.busy_retry.initial_delay", d.Storage.BusyRetry.InitialDelay)
	v.SetDefault("storage.busy_retry.max_delay", d.Storage.BusyRetry.MaxDelay)
	v.SetDefault("storage.busy_retry.multiplier", d.Storage.BusyRetry.Multiplier)
}

// Load reads the configuration out of viper and validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &common.ConfigurationError{Key: "config", Reason: err.Error()}
	}
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if err := c.Matching.Validate(); err != nil {
		return err
	}
	if c.Patterns.AcceptStep <= 0 || c.Patterns.AcceptStep > model.MaxPatternWeight {
		return configErr("patterns.accept_step", "must be in (0, %.1f]", model.MaxPatternWeight)
	}
	if c.Patterns.RejectStep <= 0 || c.Patterns.RejectStep > model.MaxPatternWeight {
		return configErr("patterns.reject_step", "must be in (0, %.1f]", model.MaxPatternWeight)
	}
	if strings.TrimSpace(c.Ledger.RevenueCategory) == "" {
		return configErr("ledger.revenue_category", "is required")
	}
	if strings.TrimSpace(c.Ledger.ExpenseCategory) == "" {
		return configErr("ledger.expense_category", "is required")
	}
	if c.Orchestrator.ChunkDays < 0 {
		return configErr("orchestrator.chunk_days", "must not be negative")
	}
	if c.Orchestrator.Retry.MaxAttempts < 1 {
		return configErr("orchestrator.retry.max_attempts", "must be at least 1")
	}
	if c.Storage.Timeout <= 0 {
		return configErr("storage.timeout", "must be positive")
	}
	return nil
}

// Validate checks the scorer weights, tolerance bands, and window settings.
func (m *Matching) Validate() error {
	w := m.Weights
	for name, value := range map[string]float64{
		"amount": w.Amount, "date": w.Date, "vendor": w.Vendor, "pattern": w.Pattern,
	} {
		if value < 0 || value > 1 {
			return configErr("matching.weights."+name, "must be between 0 and 1, got %v", value)
		}
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return configErr("matching.weights", "must sum to 1.0, got %v", w.Sum())
	}

	if len(m.Bands) == 0 {
		return configErr("matching.bands", "at least one tolerance band is required")
	}
	for i, band := range m.Bands {
		if strings.TrimSpace(band.Name) == "" {
			return configErr("matching.bands", "band %d has no name", i)
		}
		if band.Tolerance < 0 || band.Tolerance >= 1 {
			return configErr("matching.bands", "band %q tolerance must be in [0, 1)", band.Name)
		}
		if band.Score < 0 || band.Score > 1 {
			return configErr("matching.bands", "band %q score must be in [0, 1]", band.Name)
		}
		if i == 0 {
			continue
		}
		prev := m.Bands[i-1]
		if band.Tolerance <= prev.Tolerance {
			return configErr("matching.bands", "tolerances must be strictly increasing (%q after %q)", band.Name, prev.Name)
		}
		if band.Score >= prev.Score {
			return configErr("matching.bands", "scores must be strictly decreasing (%q after %q)", band.Name, prev.Name)
		}
	}

	if m.DateWindowDays <= 0 {
		return configErr("matching.date_window_days", "must be positive")
	}
	switch m.DateDecay {
	case DecayLinear, DecayExponential:
	default:
		return configErr("matching.date_decay", "unknown decay %q", m.DateDecay)
	}
	if m.ConfidenceFloor < model.LowTierThreshold || m.ConfidenceFloor > 1 {
		return configErr("matching.confidence_floor", "must be in [%.1f, 1]", model.LowTierThreshold)
	}
	if m.MaxCandidatesPerInvoice <= 0 {
		return configErr("matching.max_candidates_per_invoice", "must be positive")
	}
	return m.Similarity.Validate()
}

// Validate checks the similarity strategy settings.
func (s *SimilarityConfig) Validate() error {
	switch {
	case isLocalStrategy(s.Strategy):
		return nil
	case s.Strategy == StrategyDelegated:
		if strings.TrimSpace(s.Endpoint) == "" {
			return configErr("matching.similarity.endpoint", "is required for the delegated strategy")
		}
	case s.Strategy == StrategyLLM:
		switch strings.ToLower(s.LLM.Provider) {
		case "openai", "anthropic":
		default:
			return configErr("matching.similarity.llm.provider", "must be openai or anthropic, got %q", s.LLM.Provider)
		}
		if strings.TrimSpace(s.LLM.APIKey) == "" {
			return configErr("matching.similarity.llm.api_key", "is required for the llm strategy")
		}
	default:
		return configErr("matching.similarity.strategy", "unknown strategy %q", s.Strategy)
	}
	if !isLocalStrategy(s.Fallback) {
		return configErr("matching.similarity.fallback", "must be a local strategy, got %q", s.Fallback)
	}
	if s.Timeout <= 0 {
		return configErr("matching.similarity.timeout", "must be positive")
	}
	if s.RequestsPerSecond <= 0 {
		return configErr("matching.similarity.requests_per_second", "must be positive")
	}
	return nil
}

func isLocalStrategy(s string) bool {
	switch s {
	case StrategyExact, StrategyToken, StrategyEdit, StrategyComposite:
		return true
	}
	return false
}

func configErr(key, format string, args ...any) error {
	return &common.ConfigurationError{Key: key, Reason: fmt.Sprintf(format, args...)}
}
