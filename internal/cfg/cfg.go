package cfg

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"search-authorizer/internal/audit"
	"search-authorizer/internal/common"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port            int
	DataPath        string
	SchemaPath      string // empty uses the built-in schema
	StationsPath    string // empty uses the built-in station table
	GridCell        float64
	ModelPath       string
	ScorerURL       string // when set, rows are scored by the remote service
	ScorerTimeout   time.Duration
	ProbThreshold   float64
	AuditMinSample  int
	ExcludedGenders []string
	LogLevel        string
	StreamPing      time.Duration
}

type ConfigFile struct {
	Server struct {
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"server"`

	Storage struct {
		DataPath string `yaml:"dataPath"`
	} `yaml:"storage"`

	Features struct {
		SchemaPath   string  `yaml:"schemaPath"`
		StationsPath string  `yaml:"stationsPath"`
		GridCell     float64 `yaml:"gridCell"`
	} `yaml:"features"`

	ML struct {
		ModelPath     string   `yaml:"modelPath"`
		ScorerURL     string   `yaml:"scorerURL"`
		ScorerTimeout string   `yaml:"scorerTimeout"`
		ProbThreshold *float64 `yaml:"probThreshold"` // nil when absent, so 0 is kept

	} `yaml:"ml"`

	Audit struct {
		MinSample       int       `yaml:"minSample"`
		ExcludedGenders *[]string `yaml:"excludedGenders"`
	} `yaml:"audit"`

	Stream struct {
		PingInterval string `yaml:"pingInterval"`
	} `yaml:"stream"`
}

// Load reads settings from the YAML file named by CONFIG_FILE, or from the
// environment when it is unset.
func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	scorerTimeout, err := time.ParseDuration(orDefault(config.ML.ScorerTimeout, common.DefaultScorerTimeout))
	if err != nil {
		return Settings{}, fmt.Errorf("invalid scorer timeout %q: %w", config.ML.ScorerTimeout, err)
	}
	ping, err := time.ParseDuration(orDefault(config.Stream.PingInterval, common.DefaultStreamPing))
	if err != nil {
		return Settings{}, fmt.Errorf("invalid stream ping interval %q: %w", config.Stream.PingInterval, err)
	}

	threshold := common.DefaultProbThreshold
	if config.ML.ProbThreshold != nil {
		threshold = *config.ML.ProbThreshold
	}
	excluded := splitList(common.DefaultExcludedGenders)
	if config.Audit.ExcludedGenders != nil {
		excluded = *config.Audit.ExcludedGenders
	}

	// Environment variables override the file.
	settings := Settings{
		Port:            getIntFromEnvOrConfig(common.EnvListenPort, config.Server.Port, common.DefaultListenPort),
		DataPath:        getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		SchemaPath:      getEnvOrDefault(common.EnvSchemaPath, config.Features.SchemaPath),
		StationsPath:    getEnvOrDefault(common.EnvStationsPath, config.Features.StationsPath),
		GridCell:        getFloatFromEnvOrConfig(common.EnvGridCell, config.Features.GridCell, common.DefaultGridCell),
		ModelPath:       getEnvOrDefault(common.EnvModelPath, orDefault(config.ML.ModelPath, common.DefaultModelPath)),
		ScorerURL:       getEnvOrDefault(common.EnvScorerURL, config.ML.ScorerURL),
		ScorerTimeout:   getDurationOrDefault(common.EnvScorerTimeout, scorerTimeout),
		ProbThreshold:   getFloatOrDefault(common.EnvProbThreshold, threshold),
		AuditMinSample:  getIntFromEnvOrConfig(common.EnvAuditMinSample, config.Audit.MinSample, common.DefaultAuditMinSample),
		ExcludedGenders: getListOrDefault(common.EnvAuditExcludedGenders, excluded),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.Server.LogLevel, common.DefaultLogLevel)),
		StreamPing:      getDurationOrDefault(common.EnvStreamPing, ping),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	scorerTimeout, _ := time.ParseDuration(common.DefaultScorerTimeout)
	ping, _ := time.ParseDuration(common.DefaultStreamPing)

	settings := Settings{
		Port:            getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		DataPath:        getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		SchemaPath:      os.Getenv(common.EnvSchemaPath),   // optional
		StationsPath:    os.Getenv(common.EnvStationsPath), // optional
		GridCell:        getFloatOrDefault(common.EnvGridCell, common.DefaultGridCell),
		ModelPath:       getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ScorerURL:       os.Getenv(common.EnvScorerURL), // optional
		ScorerTimeout:   getDurationOrDefault(common.EnvScorerTimeout, scorerTimeout),
		ProbThreshold:   getFloatOrDefault(common.EnvProbThreshold, common.DefaultProbThreshold),
		AuditMinSample:  getIntOrDefault(common.EnvAuditMinSample, common.DefaultAuditMinSample),
		ExcludedGenders: getListOrDefault(common.EnvAuditExcludedGenders, splitList(common.DefaultExcludedGenders)),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		StreamPing:      getDurationOrDefault(common.EnvStreamPing, ping),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// AuditPolicy returns the audit policy configured by s.
func (s *Settings) AuditPolicy() audit.Policy {
	return audit.Policy{
		MinSample:       s.AuditMinSample,
		ExcludedGenders: slices.Clone(s.ExcludedGenders),
	}
}

// ListenAddr is the address the HTTP server binds to.
func (s *Settings) ListenAddr() string {
	return ":" + strconv.Itoa(s.Port)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getListOrDefault reads a comma separated list. A variable that is set but
// empty yields an empty list.
func getListOrDefault(key string, defaultValue []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		return splitList(v)
	}
	return defaultValue
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings checks every configuration value against its range.
func validateSettings(settings *Settings) error {
	if settings.Port < common.MinListenPort || settings.Port > common.MaxListenPort {
		return fmt.Errorf("listen port must be between %d and %d, got %d", common.MinListenPort, common.MaxListenPort, settings.Port)
	}

	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ScorerURL == "" && settings.ModelPath == "" {
		return fmt.Errorf("either a model path or a scorer URL is required")
	}

	if settings.ScorerTimeout < 100*time.Millisecond || settings.ScorerTimeout > time.Minute {
		return fmt.Errorf("scorer timeout must be between 100ms and 1m, got %v", settings.ScorerTimeout)
	}
	if settings.StreamPing < time.Second || settings.StreamPing > 5*time.Minute {
		return fmt.Errorf("stream ping interval must be between 1s and 5m, got %v", settings.StreamPing)
	}

	if settings.GridCell <= 0 || settings.GridCell > common.MaxLatitude-common.MinLatitude {
		return fmt.Errorf("grid cell must be in (0, %g] degrees, got %g", common.MaxLatitude-common.MinLatitude, settings.GridCell)
	}

	if settings.ProbThreshold < 0 || settings.ProbThreshold >= 1 {
		return fmt.Errorf("probability threshold must be in [0, 1), got %f", settings.ProbThreshold)
	}
	if settings.AuditMinSample < 1 {
		return fmt.Errorf("audit minimum sample must be at least 1, got %d", settings.AuditMinSample)
	}
	for _, g := range settings.ExcludedGenders {
		if !slices.Contains(common.Genders, g) {
			return fmt.Errorf("excluded gender %q is not one of %v", g, common.Genders)
		}
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
