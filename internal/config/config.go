// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Archive ArchiveConfig  `mapstructure:"archive"`
	Run     RunConfig      `mapstructure:"run"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	FTP     FTPConfig      `mapstructure:"ftp"`
	Poll    PollConfig     `mapstructure:"poll"`
	Server  ServerConfig   `mapstructure:"server"`
	Swarm   SwarmConfig    `mapstructure:"swarm"`
	ACE     ACEConfig      `mapstructure:"ace"`
	Dst     DstConfig      `mapstructure:"dst"`
	Sunspot SunspotConfig  `mapstructure:"sunspot"`
	TEC     TECConfig      `mapstructure:"tec"`
	Objects []ObjectConfig `mapstructure:"objects"`
	Ledger  LedgerConfig   `mapstructure:"ledger"`
	Export  ExportConfig   `mapstructure:"export"`
	Watch   WatchConfig    `mapstructure:"watch"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging LoggingConfig  `mapstructure:"logging"`
}

// ArchiveConfig holds the local archive location.
type ArchiveConfig struct {
	Root string `mapstructure:"root"`
}

// RunConfig selects what a single batch fetches.
type RunConfig struct {
	Datasets     []string `mapstructure:"datasets"` // empty selects every configured dataset
	Start        string   `mapstructure:"start"`    // YYYY-MM-DD; empty uses TrailingDays
	End          string   `mapstructure:"end"`      // YYYY-MM-DD; empty means today
	TrailingDays int      `mapstructure:"trailing_days"`
	AssumeSorted bool     `mapstructure:"assume_sorted"`
}

// HTTPConfig holds settings shared by every HTTP source.
type HTTPConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Rate      float64       `mapstructure:"rate"` // requests per second, 0 disables throttling
	Burst     int           `mapstructure:"burst"`
}

// FTPConfig holds settings shared by every FTP source.
type FTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Rate     float64       `mapstructure:"rate"`
	Burst    int           `mapstructure:"burst"`
}

// PollConfig holds scheduler configuration.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ServerConfig holds status server configuration.
type ServerConfig struct {
	Enabled         bool            `mapstructure:"enabled"`
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	CORS            CORSConfig      `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`
	Burst   int     `mapstructure:"burst"`
}

// SwarmConfig selects the Swarm EFI listing.
type SwarmConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Satellite string `mapstructure:"satellite"` // A, B or C
	Position  int    `mapstructure:"position"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// ACEConfig selects the ACE list files.
type ACEConfig struct {
	Host string `mapstructure:"host"`
	Dir  string `mapstructure:"dir"`
	Mode string `mapstructure:"mode"`
}

// DstConfig holds the Kyoto WDC endpoints and version boundaries.
type DstConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	FinalUntil       int    `mapstructure:"final_until"`
	ProvisionalUntil int    `mapstructure:"provisional_until"`
}

// SunspotConfig selects the SWPC daily solar data files.
type SunspotConfig struct {
	Host string `mapstructure:"host"`
	Dir  string `mapstructure:"dir"`
}

// TECConfig holds the GIM source and resampling configuration.
type TECConfig struct {
	Host     string        `mapstructure:"host"`
	Dir      string        `mapstructure:"dir"`
	Method   string        `mapstructure:"method"` // cubic, akima, linear
	Policy   string        `mapstructure:"policy"` // clamp, missing
	Maps     int           `mapstructure:"maps"`
	Interval time.Duration `mapstructure:"interval"`
	Lon      AxisConfig    `mapstructure:"lon"`
	Lat      AxisConfig    `mapstructure:"lat"`
}

// AxisConfig is one axis of the target grid, in degrees.
type AxisConfig struct {
	Start float64 `mapstructure:"start"`
	End   float64 `mapstructure:"end"`
	Step  float64 `mapstructure:"step"`
}

// ObjectConfig describes a dataset held in an S3 bucket or Azure container.
type ObjectConfig struct {
	ID          string `mapstructure:"id"`
	Type        string `mapstructure:"type"` // s3, azure
	Prefix      string `mapstructure:"prefix"`
	Pattern     string `mapstructure:"pattern"`
	DatePattern string `mapstructure:"date_pattern"`

	// S3
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Anonymous       bool   `mapstructure:"anonymous"`

	// Azure
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	ServiceURL       string `mapstructure:"service_url"`
}

// LedgerConfig holds run ledger configuration.
type LedgerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ExportConfig holds index exporter configuration.
type ExportConfig struct {
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Parquet    ParquetConfig    `mapstructure:"parquet"`
}

// ClickHouseConfig holds ClickHouse exporter configuration.
type ClickHouseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address"`
	Database    string `mapstructure:"database"`
	Table       string `mapstructure:"table"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	BatchSize   int    `mapstructure:"batch_size"`
	CreateTable bool   `mapstructure:"create_table"`
}

// ParquetConfig holds Parquet exporter configuration.
type ParquetConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// WatchConfig holds watch mode configuration.
type WatchConfig struct {
	Paths    []string      `mapstructure:"paths"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	viper.SetDefault("archive.root", "./data")

	// Run defaults
	viper.SetDefault("run.datasets", []string{})
	viper.SetDefault("run.trailing_days", 31)
	viper.SetDefault("run.assume_sorted", false)

	// Source defaults
	viper.SetDefault("http.user_agent", "spacefetch/1.0")
	viper.SetDefault("http.verify_tls", true)
	viper.SetDefault("http.timeout", 5*time.Minute)
	viper.SetDefault("http.rate", 1.0)
	viper.SetDefault("http.burst", 1)
	viper.SetDefault("ftp.timeout", 30*time.Second)
	viper.SetDefault("ftp.rate", 0.0)
	viper.SetDefault("ftp.burst", 1)

	viper.SetDefault("poll.interval", time.Hour)

	// Server defaults
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.rate_limit.enabled", false)
	viper.SetDefault("server.rate_limit.rate", 10.0)
	viper.SetDefault("server.rate_limit.burst", 20)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// Dataset defaults
	viper.SetDefault("swarm.base_url", "https://swarm-diss.eo.esa.int/")
	viper.SetDefault("swarm.satellite", "B")
	viper.SetDefault("swarm.position", 0)
	viper.SetDefault("swarm.max_files", 100)
	viper.SetDefault("ace.host", "ftp.swpc.noaa.gov")
	viper.SetDefault("ace.dir", "/pub/lists/ace")
	viper.SetDefault("ace.mode", "swepam_1h")
	viper.SetDefault("dst.base_url", "https://wdc.kugi.kyoto-u.ac.jp/")
	viper.SetDefault("dst.final_until", 2014)
	viper.SetDefault("dst.provisional_until", 2019)
	viper.SetDefault("sunspot.host", "ftp.swpc.noaa.gov")
	viper.SetDefault("sunspot.dir", "/pub/indices/old_indices")

	// TEC defaults
	viper.SetDefault("tec.host", "ftp.gipp.org.cn")
	viper.SetDefault("tec.dir", "/product/ionex")
	viper.SetDefault("tec.method", "cubic")
	viper.SetDefault("tec.policy", "clamp")
	viper.SetDefault("tec.maps", 96)
	viper.SetDefault("tec.interval", 15*time.Minute)
	viper.SetDefault("tec.lon.start", 70.0)
	viper.SetDefault("tec.lon.end", 135.0)
	viper.SetDefault("tec.lon.step", 1.0)
	viper.SetDefault("tec.lat.start", 10.0)
	viper.SetDefault("tec.lat.end", 55.0)
	viper.SetDefault("tec.lat.step", 1.0)

	// Ledger and export defaults
	viper.SetDefault("ledger.enabled", true)
	viper.SetDefault("ledger.path", "./data/spacefetch.db")
	viper.SetDefault("export.clickhouse.enabled", false)
	viper.SetDefault("export.clickhouse.address", "127.0.0.1:9000")
	viper.SetDefault("export.clickhouse.database", "default")
	viper.SetDefault("export.clickhouse.table", "space_indices")
	viper.SetDefault("export.clickhouse.batch_size", 10000)
	viper.SetDefault("export.parquet.enabled", false)
	viper.SetDefault("export.parquet.dir", "./data/parquet")

	viper.SetDefault("watch.paths", []string{})
	viper.SetDefault("watch.debounce", 500*time.Millisecond)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "spacefetch")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("SPACEFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/spacefetch")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Archive.Root == "" {
		return fmt.Errorf("archive root is required")
	}

	if c.Run.Start != "" {
		if _, err := time.Parse(time.DateOnly, c.Run.Start); err != nil {
			return fmt.Errorf("invalid run start %q: expected YYYY-MM-DD", c.Run.Start)
		}
	} else if c.Run.TrailingDays < 1 {
		return fmt.Errorf("run trailing days must be positive when no start is set")
	}
	if c.Run.End != "" {
		if _, err := time.Parse(time.DateOnly, c.Run.End); err != nil {
			return fmt.Errorf("invalid run end %q: expected YYYY-MM-DD", c.Run.End)
		}
	}

	if c.HTTP.Rate < 0 || c.FTP.Rate < 0 {
		return fmt.Errorf("source rate must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch strings.ToUpper(c.Swarm.Satellite) {
	case "A", "B", "C":
	default:
		return fmt.Errorf("invalid swarm satellite %q: expected A, B or C", c.Swarm.Satellite)
	}
	if c.Swarm.MaxFiles < 1 {
		return fmt.Errorf("swarm max files must be positive")
	}

	if c.Dst.ProvisionalUntil < c.Dst.FinalUntil {
		return fmt.Errorf("dst provisional_until %d before final_until %d", c.Dst.ProvisionalUntil, c.Dst.FinalUntil)
	}

	if c.TEC.Maps < 1 || c.TEC.Interval <= 0 {
		return fmt.Errorf("tec maps and interval must be positive")
	}
	if c.TEC.Lon.Step <= 0 || c.TEC.Lat.Step <= 0 {
		return fmt.Errorf("tec grid step must be positive")
	}

	if err := c.validateObjects(); err != nil {
		return err
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}
	if c.Export.ClickHouse.Enabled && c.Export.ClickHouse.Address == "" {
		return fmt.Errorf("clickhouse address is required")
	}
	if c.Export.Parquet.Enabled && c.Export.Parquet.Dir == "" {
		return fmt.Errorf("parquet directory is required")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateObjects() error {
	seen := make(map[string]bool)
	for i, o := range c.Objects {
		if o.ID == "" {
			return fmt.Errorf("objects[%d]: id is required", i)
		}
		if seen[o.ID] {
			return fmt.Errorf("objects[%d]: duplicate id %q", i, o.ID)
		}
		seen[o.ID] = true

		if o.Pattern == "" || o.DatePattern == "" {
			return fmt.Errorf("object dataset %s: pattern and date_pattern are required", o.ID)
		}

		switch o.Type {
		case "s3":
			if o.Bucket == "" {
				return fmt.Errorf("object dataset %s: S3 bucket is required", o.ID)
			}
			if o.Region == "" {
				return fmt.Errorf("object dataset %s: S3 region is required", o.ID)
			}
		case "azure":
			if o.Container == "" {
				return fmt.Errorf("object dataset %s: azure container is required", o.ID)
			}
			if o.AccountName == "" && o.ConnectionString == "" && o.ServiceURL == "" {
				return fmt.Errorf("object dataset %s: azure account name, connection string or service URL is required", o.ID)
			}
		default:
			return fmt.Errorf("object dataset %s: unknown type: %s", o.ID, o.Type)
		}
	}
	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Window resolves the configured date bounds. An empty start selects the
// trailing days ending at now.
func (c *RunConfig) Window(now time.Time) (start, end time.Time, err error) {
	end = now.UTC()
	if c.End != "" {
		if end, err = time.Parse(time.DateOnly, c.End); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parsing run end: %w", err)
		}
	}
	if c.Start == "" {
		return end.AddDate(0, 0, -(c.TrailingDays - 1)), end, nil
	}
	if start, err = time.Parse(time.DateOnly, c.Start); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing run start: %w", err)
	}
	return start, end, nil
}
