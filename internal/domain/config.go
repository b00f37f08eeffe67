package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Dataset source and insight rules
	Dataset DatasetConfig `json:"dataset" mapstructure:"dataset"`
	Rules   RulesConfig   `json:"rules" mapstructure:"rules"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`
	Export     ExportConfig     `json:"export" mapstructure:"export"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// DatasetConfig selects where attrition records come from.
type DatasetConfig struct {
	// Source is one of: "synthetic", "csv", "repository"
	Source string `json:"source" mapstructure:"source"`

	// Synthetic generator settings
	Seed    int64 `json:"seed" mapstructure:"seed"`
	Records int   `json:"records" mapstructure:"records"`

	// CSV settings
	CSVPath string `json:"csvPath" mapstructure:"csv_path"`
}

// RulesConfig points at an optional rule pack overriding the built-in rules.
type RulesConfig struct {
	Path string `json:"path" mapstructure:"path"`

	// MaxWorkers bounds concurrent rule evaluation within a pass.
	MaxWorkers int `json:"maxWorkers" mapstructure:"max_workers"`
}

// ExportConfig controls asynchronous and scheduled exports.
type ExportConfig struct {
	OutDir string `json:"outDir" mapstructure:"out_dir"`

	// Schedule is a cron spec for periodic exports; empty disables it.
	Schedule string `json:"schedule" mapstructure:"schedule"`

	// Worker enables the export worker subscribed to the event bus.
	Worker bool `json:"worker" mapstructure:"worker"`

	// Direction is the text direction of text exports: "ltr" or "rtl".
	Direction string `json:"direction" mapstructure:"direction"`

	// BOM prefixes CSV exports with a UTF-8 byte order mark.
	BOM bool `json:"bom" mapstructure:"bom"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// DefaultConfig returns a default configuration: synthetic data,
// in-memory cache, channel bus, SQLite repository.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Dataset: DatasetConfig{
			Source:  "synthetic",
			Seed:    42,
			Records: 2000,
		},
		Rules: RulesConfig{
			MaxWorkers: 10,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
			ReportTTL:    15 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Export: ExportConfig{
			OutDir:    "./exports",
			Direction: "ltr",
			BOM:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}
