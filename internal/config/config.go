package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vjranagit/lightcurve/pkg/ingest"
	"github.com/vjranagit/lightcurve/pkg/storage"
)

// EnvPrefix prefixes every environment variable, e.g. LIGHTCURVE_SERVER_LISTEN_ADDR
const EnvPrefix = "LIGHTCURVE"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" json:"server"`
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Ingest  IngestConfig  `mapstructure:"ingest" json:"ingest"`
	Chart   ChartConfig   `mapstructure:"chart" json:"chart"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" json:"listen_addr"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
	UploadRate     float64       `mapstructure:"upload_rate" json:"upload_rate"`
	UploadBurst    int           `mapstructure:"upload_burst" json:"upload_burst"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Enabled          bool          `mapstructure:"enabled" json:"enabled"`
	Path             string        `mapstructure:"path" json:"path"`
	InMemory         bool          `mapstructure:"in_memory" json:"in_memory"`
	RetentionDays    int           `mapstructure:"retention_days" json:"retention_days"`
	CompressionLevel int           `mapstructure:"compression_level" json:"compression_level"`
	EnableWAL        bool          `mapstructure:"enable_wal" json:"enable_wal"`
	CacheSize        int           `mapstructure:"cache_size" json:"cache_size"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
}

// IngestConfig names the CSV columns of an upload
type IngestConfig struct {
	IDColumn        string `mapstructure:"id_column" json:"id_column"`
	TimestampColumn string `mapstructure:"timestamp_column" json:"timestamp_column"`
	ValueColumn     string `mapstructure:"value_column" json:"value_column"`
	ErrorColumn     string `mapstructure:"error_column" json:"error_column"`
	Delimiter       string `mapstructure:"delimiter" json:"delimiter"`
}

// ChartConfig holds chart rendering configuration
type ChartConfig struct {
	InfoFile   string `mapstructure:"info_file" json:"info_file"`
	Width      int    `mapstructure:"width" json:"width"`
	Height     int    `mapstructure:"height" json:"height"`
	AssetsHost string `mapstructure:"assets_host" json:"assets_host"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":8080",
			Timeout:        30 * time.Second,
			MaxUploadBytes: 32 << 20,
			UploadRate:     2,
			UploadBurst:    4,
		},
		Storage: StorageConfig{
			Enabled:          true,
			Path:             "./data",
			RetentionDays:    0,
			CompressionLevel: 3,
			EnableWAL:        true,
			CacheSize:        16,
			CacheTTL:         10 * time.Minute,
		},
		Ingest: IngestConfig{
			IDColumn:        "id",
			TimestampColumn: "mjd",
			ValueColumn:     "mag",
			ErrorColumn:     "mag_error",
			Delimiter:       ",",
		},
		Chart: ChartConfig{
			Width:  960,
			Height: 540,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"listen":     "server.listen_addr",
	"data":       "storage.path",
	"in-memory":  "storage.in_memory",
	"log-level":  "log.level",
	"log-format": "log.format",
	"chart-info": "chart.info_file",
}

// Load reads configuration from defaults, an optional YAML file, environment
// variables and flags, in increasing order of precedence.
// An empty configFile searches ./config.yaml and $HOME/.lightcurve/config.yaml.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lightcurve")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		if off, err := flags.GetBool("no-storage"); err == nil && off {
			v.Set("storage.enabled", false)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.upload_rate", d.Server.UploadRate)
	v.SetDefault("server.upload_burst", d.Server.UploadBurst)

	v.SetDefault("storage.enabled", d.Storage.Enabled)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.retention_days", d.Storage.RetentionDays)
	v.SetDefault("storage.compression_level", d.Storage.CompressionLevel)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.cache_size", d.Storage.CacheSize)
	v.SetDefault("storage.cache_ttl", d.Storage.CacheTTL)

	v.SetDefault("ingest.id_column", d.Ingest.IDColumn)
	v.SetDefault("ingest.timestamp_column", d.Ingest.TimestampColumn)
	v.SetDefault("ingest.value_column", d.Ingest.ValueColumn)
	v.SetDefault("ingest.error_column", d.Ingest.ErrorColumn)
	v.SetDefault("ingest.delimiter", d.Ingest.Delimiter)

	v.SetDefault("chart.info_file", d.Chart.InfoFile)
	v.SetDefault("chart.width", d.Chart.Width)
	v.SetDefault("chart.height", d.Chart.Height)
	v.SetDefault("chart.assets_host", d.Chart.AssetsHost)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		InMemory:         c.Storage.InMemory,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		CacheSize:        c.Storage.CacheSize,
		CacheTTL:         c.Storage.CacheTTL,
	}
}

// ToCSVOptions converts to ingest.CSVOptions
func (c *Config) ToCSVOptions() *ingest.CSVOptions {
	opts := &ingest.CSVOptions{
		IDColumn:        c.Ingest.IDColumn,
		TimestampColumn: c.Ingest.TimestampColumn,
		ValueColumn:     c.Ingest.ValueColumn,
		ErrorColumn:     c.Ingest.ErrorColumn,
		Delimiter:       ',',
	}
	if r := []rune(c.Ingest.Delimiter); len(r) > 0 {
		opts.Delimiter = r[0]
	}
	return opts
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var problems []string

	if c.Server.ListenAddr == "" {
		problems = append(problems, "server listen address is required")
	}

	if c.Server.MaxUploadBytes < 1 {
		problems = append(problems, "max upload bytes must be positive")
	}

	if c.Server.UploadRate < 0 {
		problems = append(problems, "upload rate must not be negative")
	}

	if c.Storage.Enabled && !c.Storage.InMemory && c.Storage.Path == "" {
		problems = append(problems, "storage path is required")
	}

	if c.Storage.RetentionDays < 0 {
		problems = append(problems, "retention days must not be negative")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		problems = append(problems, "compression level must be between 1 and 4")
	}

	if len([]rune(c.Ingest.Delimiter)) > 1 {
		problems = append(problems, "delimiter must be a single character")
	}

	if c.Chart.Width < 1 || c.Chart.Height < 1 {
		problems = append(problems, "chart width and height must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}
