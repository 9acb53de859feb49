package nav

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration loaded from config.yaml
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Building BuildingSource `yaml:"building" json:"building"`
	Tracking TrackingConfig `yaml:"tracking,omitempty" json:"tracking,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty" json:"store,omitempty"`
	HTTP     HTTPConfig     `yaml:"http,omitempty" json:"http,omitempty"`
	Log      LogConfig      `yaml:"log,omitempty" json:"log,omitempty"`
}

// MQTTConfig holds MQTT connection settings and topics
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
	ScanTopic     string `yaml:"scanTopic" json:"scanTopic"`
	StatusTopic   string `yaml:"statusTopic,omitempty" json:"statusTopic,omitempty"`
}

// BuildingSource says where the building JSON comes from. Path wins over URL.
type BuildingSource struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
}

// TrackingConfig tunes the live tracking loop. Zero values take the defaults.
type TrackingConfig struct {
	WindowMs            int `yaml:"windowMs,omitempty" json:"windowMs,omitempty"`
	K                   int `yaml:"k,omitempty" json:"k,omitempty"`
	OccurrenceThreshold int `yaml:"occurrenceThreshold,omitempty" json:"occurrenceThreshold,omitempty"`
	PruneIntervalMs     int `yaml:"pruneIntervalMs,omitempty" json:"pruneIntervalMs,omitempty"`
	MaxObservationAgeMs int `yaml:"maxObservationAgeMs,omitempty" json:"maxObservationAgeMs,omitempty"`
}

// Store drivers
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// StoreConfig selects the calibration fingerprint store
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
}

// HTTPConfig configures the HTTP listener
type HTTPConfig struct {
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

const (
	defaultScanTopic     = "tudonav/scan"
	defaultPublishPrefix = "tudonav"
	defaultHTTPListen    = ":8080"
)

// LoadConfig loads the configuration from a YAML file, fills defaults and
// validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with every default applied and no
// building source
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.MQTT.ScanTopic == "" {
		c.MQTT.ScanTopic = defaultScanTopic
	}
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = defaultPublishPrefix
	}
	if c.Tracking.K == 0 {
		c.Tracking.K = DefaultK
	}
	if c.Tracking.WindowMs == 0 {
		c.Tracking.WindowMs = int(DefaultWindow / time.Millisecond)
	}
	if c.Tracking.OccurrenceThreshold == 0 {
		c.Tracking.OccurrenceThreshold = DefaultOccurrenceThreshold
	}
	if c.Tracking.PruneIntervalMs == 0 {
		c.Tracking.PruneIntervalMs = int(DefaultPruneInterval / time.Millisecond)
	}
	if c.Tracking.MaxObservationAgeMs == 0 {
		c.Tracking.MaxObservationAgeMs = int(DefaultMaxObservationAge / time.Millisecond)
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = defaultHTTPListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.Building.Path == "" && c.Building.URL == "" {
		return fmt.Errorf("building.path or building.url is required")
	}
	if c.Tracking.K < 0 {
		return fmt.Errorf("tracking.k must be positive, got %d", c.Tracking.K)
	}
	if c.Tracking.WindowMs < 0 || c.Tracking.PruneIntervalMs < 0 || c.Tracking.MaxObservationAgeMs < 0 {
		return fmt.Errorf("tracking durations must not be negative")
	}
	if c.Tracking.OccurrenceThreshold < 0 {
		return fmt.Errorf("tracking.occurrenceThreshold must be positive, got %d", c.Tracking.OccurrenceThreshold)
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// TrackerOptions converts the tracking section into tracker options
func (tc TrackingConfig) TrackerOptions() []TrackerOption {
	return []TrackerOption{
		WithWindow(time.Duration(tc.WindowMs) * time.Millisecond),
		WithPruneInterval(time.Duration(tc.PruneIntervalMs) * time.Millisecond),
		WithMaxObservationAge(time.Duration(tc.MaxObservationAgeMs) * time.Millisecond),
		WithOccurrenceThreshold(tc.OccurrenceThreshold),
	}
}
