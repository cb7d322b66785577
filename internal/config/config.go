package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the yellowtail pipeline.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Redfin  Redfin        `yaml:"redfin"`
	Pull    PullConfig    `yaml:"pull"`
	Summary SummaryConfig `yaml:"summary"`
	Logging Logging       `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir"`
	SnapshotPath string `yaml:"snapshot_path"`
	SummaryPath  string `yaml:"summary_path"`
	JournalPath  string `yaml:"journal_path"`
}

// Redfin holds the endpoint and search parameters for the listing source.
type Redfin struct {
	BaseURL   string       `yaml:"base_url"`
	UserAgent string       `yaml:"user_agent"`
	Search    SearchParams `yaml:"search"`
}

// SearchParams mirrors the stingray gis-csv query parameters. Zero-valued
// fields are omitted from the request.
type SearchParams struct {
	Market         string `yaml:"market"`
	RegionID       int    `yaml:"region_id"`
	RegionType     int    `yaml:"region_type"`
	MaxPrice       int    `yaml:"max_price"`
	NumBeds        int    `yaml:"num_beds"`
	MaxNumBeds     int    `yaml:"max_num_beds"`
	NumBaths       int    `yaml:"num_baths"`
	MinSquareFeet  int    `yaml:"min_square_feet"`
	MaxSquareFeet  int    `yaml:"max_square_feet"`
	MaxHOAPerMonth int    `yaml:"max_hoa_per_month"`
	NumHomes       int    `yaml:"num_homes"`
	SaleTypes      string `yaml:"sale_types"`    // "sf" parameter
	Status         int    `yaml:"status"`
	PropertyTypes  string `yaml:"property_types"` // "uipt" parameter
}

// PullConfig holds parameters for the snapshot fetcher.
type PullConfig struct {
	MaxWorkers      int    `yaml:"max_workers"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxAttempts     int    `yaml:"max_attempts"`
	RetryBaseDelay  string `yaml:"retry_base_delay"` // Go duration, e.g. "500ms"
}

// SummaryConfig holds parameters for the incremental summarizer.
type SummaryConfig struct {
	// NewBuildThreshold excludes extreme overpriced amounts from the
	// overpriced statistics. New builds carry stale tax assessments that
	// would otherwise dominate the mean.
	NewBuildThreshold float64 `yaml:"new_build_threshold"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyDefaults fills in values that a minimal config file may omit.
func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "output"
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = cfg.Storage.DataDir + "/listings.csv.gz"
	}
	if cfg.Storage.SummaryPath == "" {
		cfg.Storage.SummaryPath = cfg.Storage.DataDir + "/per_day_summary.csv"
	}
	if cfg.Storage.JournalPath == "" {
		cfg.Storage.JournalPath = cfg.Storage.DataDir + "/yellowtail.db"
	}
	if cfg.Redfin.BaseURL == "" {
		cfg.Redfin.BaseURL = "https://www.redfin.com"
	}
	if cfg.Pull.MaxWorkers <= 0 {
		cfg.Pull.MaxWorkers = 4
	}
	if cfg.Pull.MaxAttempts <= 0 {
		cfg.Pull.MaxAttempts = 3
	}
	if cfg.Summary.NewBuildThreshold <= 0 {
		cfg.Summary.NewBuildThreshold = 200_000
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SNAPSHOT_PATH"); v != "" {
		cfg.Storage.SnapshotPath = v
	}
	if v := os.Getenv("SUMMARY_PATH"); v != "" {
		cfg.Storage.SummaryPath = v
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		cfg.Storage.JournalPath = v
	}
	if v := os.Getenv("REDFIN_BASE_URL"); v != "" {
		cfg.Redfin.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
