// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/stockagent/internal/domain"
	"github.com/joho/godotenv"
)

// LLMConfig holds settings for the chat-completion transport
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int // Transport-level retries, separate from the decision retry budget
}

// SimConfig holds the simulation calendar and economic parameters
type SimConfig struct {
	Agents             int
	TotalDays          int
	MaxAttempts        int    // Transport calls allowed per decision
	StepCron           string // Optional cron spec for auto-advancing days (empty disables)
	Concurrency        int    // Agents evaluated in parallel within a step
	Seed               int64
	LoanTypes          []domain.LoanType
	RepaymentDays      []int // Days on which interest accrues on all active loans
	SeasonReportDays   []int // Days on which the seasonal-report prompt context applies
	MinInitialProperty float64
	MaxInitialProperty float64
	InitialPriceA      float64
	InitialPriceB      float64
}

// BackupConfig holds settings for the optional run-database upload
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // S3-compatible endpoint URL
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Config holds application configuration
type Config struct {
	DataDir  string
	LogLevel string
	Port     int
	DevMode  bool
	LLM      LLMConfig
	Sim      SimConfig
	Backup   BackupConfig
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STOCKAGENT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	loanTypes, err := loadLoanTypes()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://api.deepseek.com/v1"),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "deepseek-chat"),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 1.0),
			Timeout:     time.Duration(getEnvAsInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxRetries:  getEnvAsInt("LLM_MAX_RETRIES", 2),
		},
		Sim: SimConfig{
			Agents:             getEnvAsInt("SIM_AGENTS", 10),
			TotalDays:          getEnvAsInt("SIM_TOTAL_DAYS", 66),
			MaxAttempts:        getEnvAsInt("SIM_MAX_ATTEMPTS", 3),
			StepCron:           getEnv("SIM_STEP_CRON", ""),
			Concurrency:        getEnvAsInt("SIM_CONCURRENCY", 4),
			Seed:               int64(getEnvAsInt("SIM_SEED", 0)),
			LoanTypes:          loanTypes,
			RepaymentDays:      getEnvAsIntSlice("SIM_REPAYMENT_DAYS", []int{22, 44, 66}),
			SeasonReportDays:   getEnvAsIntSlice("SIM_SEASON_REPORT_DAYS", []int{11, 33, 55}),
			MinInitialProperty: getEnvAsFloat("SIM_MIN_INITIAL_PROPERTY", 10000),
			MaxInitialProperty: getEnvAsFloat("SIM_MAX_INITIAL_PROPERTY", 60000),
			InitialPriceA:      getEnvAsFloat("SIM_INITIAL_PRICE_A", 30),
			InitialPriceB:      getEnvAsFloat("SIM_INITIAL_PRICE_B", 40),
		},
		Backup: BackupConfig{
			Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
			Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:    getEnv("BACKUP_S3_REGION", "auto"),
			Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
			AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadLoanTypes builds the loan type table from the three parallel env lists.
// Defaults are one/two/three-month terms over a 66-day run.
func loadLoanTypes() ([]domain.LoanType, error) {
	names := getEnvAsStringSlice("SIM_LOAN_NAMES", []string{"one-month", "two-month", "three-month"})
	durations := getEnvAsIntSlice("SIM_LOAN_DURATIONS", []int{22, 44, 66})
	rates := getEnvAsFloatSlice("SIM_LOAN_RATES", []float64{0.009, 0.018, 0.028})

	if len(names) != len(durations) || len(durations) != len(rates) {
		return nil, fmt.Errorf("loan type lists must have equal length: names=%d durations=%d rates=%d",
			len(names), len(durations), len(rates))
	}

	types := make([]domain.LoanType, 0, len(names))
	for i := range names {
		if durations[i] <= 0 {
			return nil, fmt.Errorf("loan duration must be positive, got %d for %q", durations[i], names[i])
		}
		if rates[i] < 0 {
			return nil, fmt.Errorf("loan rate must be non-negative, got %f for %q", rates[i], names[i])
		}
		types = append(types, domain.LoanType{
			Name:     names[i],
			Duration: durations[i],
			Rate:     rates[i],
		})
	}
	return types, nil
}

func (c *Config) validate() error {
	if c.Sim.Agents <= 0 {
		return fmt.Errorf("SIM_AGENTS must be positive, got %d", c.Sim.Agents)
	}
	if c.Sim.TotalDays <= 0 {
		return fmt.Errorf("SIM_TOTAL_DAYS must be positive, got %d", c.Sim.TotalDays)
	}
	if c.Sim.MaxAttempts <= 0 {
		return fmt.Errorf("SIM_MAX_ATTEMPTS must be positive, got %d", c.Sim.MaxAttempts)
	}
	if c.Sim.Concurrency <= 0 {
		return fmt.Errorf("SIM_CONCURRENCY must be positive, got %d", c.Sim.Concurrency)
	}
	if len(c.Sim.LoanTypes) == 0 {
		return fmt.Errorf("at least one loan type is required")
	}
	if len(c.Sim.RepaymentDays) == 0 {
		return fmt.Errorf("at least one repayment day is required")
	}
	if c.Sim.MinInitialProperty <= 0 || c.Sim.MaxInitialProperty < c.Sim.MinInitialProperty {
		return fmt.Errorf("invalid initial property bounds [%f, %f]",
			c.Sim.MinInitialProperty, c.Sim.MaxInitialProperty)
	}
	if c.Sim.InitialPriceA <= 0 || c.Sim.InitialPriceB <= 0 {
		return fmt.Errorf("initial prices must be positive")
	}
	if c.Backup.Enabled && (c.Backup.Bucket == "" || c.Backup.Endpoint == "") {
		return fmt.Errorf("backup enabled but BACKUP_S3_BUCKET or BACKUP_S3_ENDPOINT is missing")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsStringSlice(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

func getEnvAsIntSlice(key string, fallback []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	result := make([]int, 0)
	for _, p := range strings.Split(value, ",") {
		parsed, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fallback
		}
		result = append(result, parsed)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

func getEnvAsFloatSlice(key string, fallback []float64) []float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	result := make([]float64, 0)
	for _, p := range strings.Split(value, ",") {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fallback
		}
		result = append(result, parsed)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
