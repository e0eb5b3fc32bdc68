package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/codes"
	"github.com/oshokin/alarm-panel/internal/settings"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

const (
	// DefaultConfigFilename is the default filename for panel settings.
	DefaultConfigFilename = "alarm-panel-settings.yaml"

	// DefaultStateFilename is the default filename for the file storage driver.
	DefaultStateFilename = "alarm-panel-state.json"

	// DefaultGRPCAddress is the default gRPC listen and dial address.
	DefaultGRPCAddress = "127.0.0.1:50051"

	// DefaultTimeout is the default duration for client RPC calls.
	DefaultTimeout = 5 * time.Second

	// DefaultTickInterval is how often timers and rules are processed.
	DefaultTickInterval = time.Second

	// DefaultActionTimeout bounds each external gateway call.
	DefaultActionTimeout = 5 * time.Second

	// DefaultEventRetention is the number of events kept by in-process stores.
	DefaultEventRetention = 1000

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	defaultProfileName   = "default"
	defaultMQTTPrefix    = "alarm_panel"
	defaultDiscovery     = "homeassistant"
	defaultNATSSubject   = "alarm.entities"
	defaultRedisPrefix   = "alarm_panel:"
	defaultKafkaTopic    = "alarm-events"
	defaultMQTTClientID  = "alarm-panel"
	defaultPanelName     = "Alarm Panel"
	defaultZWaveJSSchema = 35
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownDriver is returned for an unsupported storage driver.
	errUnknownDriver = errors.New("unknown storage driver")
	// errDSNRequired is returned when the postgres driver has no DSN.
	errDSNRequired = errors.New("postgres storage needs a dsn")
	// errDuplicateID is returned when zones, sensors or codes repeat an id.
	errDuplicateID = errors.New("duplicate id")
	// errUnknownZone is returned when a sensor references a missing zone.
	errUnknownZone = errors.New("unknown zone")
	// errSensorEntity is returned when a sensor has no entity id.
	errSensorEntity = errors.New("sensor needs an entity_id")

	envReference = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
)

// Config holds every setting of the panel server and its control CLI.
type Config struct {
	// LogLevel is a zap level name, info by default.
	LogLevel string `yaml:"log_level,omitempty"`
	// LogLevels overrides the level per component: rules, mqtt, nats, grpc.
	LogLevels map[string]string `yaml:"log_levels,omitempty"`
	Server    ServerConfig      `yaml:"server"`
	Client    ClientConfig      `yaml:"client"`
	Storage   StorageConfig     `yaml:"storage"`
	Profile   ProfileConfig     `yaml:"profile"`
	Zones     []ZoneConfig      `yaml:"zones,omitempty"`
	Sensors   []SensorConfig    `yaml:"sensors,omitempty"`
	Codes     []CodeConfig      `yaml:"codes,omitempty"`
	// RulesFile is a YAML or TOML rule list, relative to the settings file.
	RulesFile     string              `yaml:"rules_file,omitempty"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	ZWaveJS       ZWaveJSConfig       `yaml:"zwavejs"`
	NATS          NATSConfig          `yaml:"nats"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
}

// ServerConfig configures the panel server process.
type ServerConfig struct {
	// GRPCAddress is the gRPC listen address.
	GRPCAddress string `yaml:"grpc_addr"`
	// MetricsAddress serves /metrics when set.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// TickInterval drives timer expiry and rule passes.
	TickInterval time.Duration `yaml:"tick_interval"`
	// ActionTimeout bounds each external call made by a rule action.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// ClientConfig configures alarm-ctl.
type ClientConfig struct {
	// ServerAddress is the gRPC server address to dial.
	ServerAddress string `yaml:"server_addr"`
	// Timeout is the duration of each RPC call.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig selects where state, runtime rows and logs are kept.
type StorageConfig struct {
	Driver    string `yaml:"driver"`
	StateFile string `yaml:"state_file,omitempty"`
	DSN       string `yaml:"dsn,omitempty"`
	// Retention caps events and action logs held by memory and file drivers.
	Retention int `yaml:"retention"`
}

// ProfileConfig is the active settings profile.
type ProfileConfig struct {
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// ZoneConfig is one sensor zone.
type ZoneConfig struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name,omitempty"`
	EntryDelaySeconds *int   `yaml:"entry_delay,omitempty"`
}

// SensorConfig binds an entity to the panel.
type SensorConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name,omitempty"`
	EntityID   string `yaml:"entity_id"`
	EntryPoint bool   `yaml:"entry_point"`
	Zone       string `yaml:"zone,omitempty"`
}

// CodeConfig is one user code. Set either pin or a bcrypt hash.
type CodeConfig struct {
	ID        int64      `yaml:"id"`
	Label     string     `yaml:"label,omitempty"`
	Username  string     `yaml:"username,omitempty"`
	PIN       string     `yaml:"pin,omitempty"`
	Hash      string     `yaml:"hash,omitempty"`
	MaxUses   *int       `yaml:"max_uses,omitempty"`
	ExpiresAt *time.Time `yaml:"expires_at,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// MQTTConfig configures the MQTT gateway. An empty broker disables it.
type MQTTConfig struct {
	Broker          string `yaml:"broker,omitempty"`
	ClientID        string `yaml:"client_id,omitempty"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	DiscoveryPrefix string `yaml:"discovery_prefix,omitempty"`
	Name            string `yaml:"name,omitempty"`
	QoS             byte   `yaml:"qos,omitempty"`
	// ExportEvents publishes every recorded event to the events topic.
	ExportEvents bool `yaml:"export_events,omitempty"`
}

// HomeAssistantConfig configures service calls. An empty URL disables them.
type HomeAssistantConfig struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// ZWaveJSConfig configures Z-Wave value writes. An empty URL disables them.
type ZWaveJSConfig struct {
	URL           string `yaml:"url,omitempty"`
	SchemaVersion int    `yaml:"schema_version,omitempty"`
}

// NATSConfig configures entity ingest over NATS. No URLs disables it.
type NATSConfig struct {
	URLs    []string `yaml:"urls,omitempty"`
	Subject string   `yaml:"subject,omitempty"`
	Queue   string   `yaml:"queue,omitempty"`
}

// RedisConfig selects the Redis entity store. An empty address keeps entities in memory.
type RedisConfig struct {
	Address  string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// KafkaConfig configures event export. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// Enabled reports whether the MQTT gateway is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// Enabled reports whether Home Assistant calls are configured.
func (c HomeAssistantConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether Z-Wave JS writes are configured.
func (c ZWaveJSConfig) Enabled() bool { return c.URL != "" }

// Enabled reports whether NATS ingest is configured.
func (c NATSConfig) Enabled() bool { return len(c.URLs) > 0 }

// Enabled reports whether the Redis entity store is configured.
func (c RedisConfig) Enabled() bool { return c.Address != "" }

// Enabled reports whether Kafka export is configured.
func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// Load reads configuration from the provided path and validates it.
// Relative state and rules paths are resolved against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(ExpandEnv(contents), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.Storage.StateFile = resolve(dir, cfg.Storage.StateFile)
	cfg.RulesFile = resolve(dir, cfg.RulesFile)

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold PINs and tokens.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ExpandEnv replaces ${VAR} references with environment values. Bare $ signs
// are kept, bcrypt hashes contain them.
func ExpandEnv(contents []byte) []byte {
	return envReference.ReplaceAllFunc(contents, func(match []byte) []byte {
		name := envReference.FindSubmatch(match)[1]

		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks required fields and applies defaults.
//
//nolint:cyclop,funlen // Flat list of checks.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Server.GRPCAddress == "" {
		cfg.Server.GRPCAddress = DefaultGRPCAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Server.GRPCAddress); err != nil {
		return fmt.Errorf("invalid grpc address: %w", err)
	}

	if cfg.Server.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Server.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	if cfg.Server.TickInterval <= 0 {
		cfg.Server.TickInterval = DefaultTickInterval
	}

	if cfg.Server.ActionTimeout <= 0 {
		cfg.Server.ActionTimeout = DefaultActionTimeout
	}

	if cfg.Client.ServerAddress == "" {
		cfg.Client.ServerAddress = cfg.Server.GRPCAddress
	}

	if cfg.Client.Timeout <= 0 {
		cfg.Client.Timeout = DefaultTimeout
	}

	if err := validateStorage(&cfg.Storage); err != nil {
		return err
	}

	if cfg.Profile.Name == "" {
		cfg.Profile.Name = defaultProfileName
	}

	if err := validateInventory(cfg); err != nil {
		return err
	}

	if err := validateGateways(cfg); err != nil {
		return err
	}

	return nil
}

func validateStorage(storage *StorageConfig) error {
	if storage.Driver == "" {
		storage.Driver = DriverMemory
	}

	if storage.Retention <= 0 {
		storage.Retention = DefaultEventRetention
	}

	switch storage.Driver {
	case DriverMemory:
	case DriverFile:
		if storage.StateFile == "" {
			storage.StateFile = DefaultStateFilename
		}
	case DriverPostgres:
		if storage.DSN == "" {
			return errDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, storage.Driver)
	}

	return nil
}

func validateInventory(cfg *Config) error {
	zones := make(map[string]struct{}, len(cfg.Zones))
	for _, z := range cfg.Zones {
		if _, ok := zones[z.ID]; ok || z.ID == "" {
			return fmt.Errorf("zone %q: %w", z.ID, errDuplicateID)
		}

		zones[z.ID] = struct{}{}
	}

	sensors := make(map[string]struct{}, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		if _, ok := sensors[s.ID]; ok || s.ID == "" {
			return fmt.Errorf("sensor %q: %w", s.ID, errDuplicateID)
		}

		sensors[s.ID] = struct{}{}

		if s.EntityID == "" {
			return fmt.Errorf("sensor %q: %w", s.ID, errSensorEntity)
		}

		if _, ok := zones[s.Zone]; s.Zone != "" && !ok {
			return fmt.Errorf("sensor %q: %w %q", s.ID, errUnknownZone, s.Zone)
		}
	}

	ids := make(map[int64]struct{}, len(cfg.Codes))
	for _, c := range cfg.Codes {
		if _, ok := ids[c.ID]; ok {
			return fmt.Errorf("code %d: %w", c.ID, errDuplicateID)
		}

		ids[c.ID] = struct{}{}
	}

	return nil
}

func validateGateways(cfg *Config) error {
	if cfg.MQTT.Enabled() {
		if _, err := url.Parse(cfg.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt broker: %w", err)
		}

		setDefault(&cfg.MQTT.ClientID, defaultMQTTClientID)
		setDefault(&cfg.MQTT.Prefix, defaultMQTTPrefix)
		setDefault(&cfg.MQTT.DiscoveryPrefix, defaultDiscovery)
		setDefault(&cfg.MQTT.Name, defaultPanelName)
	}

	if cfg.HomeAssistant.Enabled() {
		if _, err := url.ParseRequestURI(cfg.HomeAssistant.URL); err != nil {
			return fmt.Errorf("invalid homeassistant url: %w", err)
		}
	}

	if cfg.ZWaveJS.Enabled() {
		if _, err := url.ParseRequestURI(cfg.ZWaveJS.URL); err != nil {
			return fmt.Errorf("invalid zwavejs url: %w", err)
		}

		if cfg.ZWaveJS.SchemaVersion <= 0 {
			cfg.ZWaveJS.SchemaVersion = defaultZWaveJSSchema
		}
	}

	if cfg.NATS.Enabled() {
		setDefault(&cfg.NATS.Subject, defaultNATSSubject)
	}

	if cfg.Redis.Enabled() {
		setDefault(&cfg.Redis.Prefix, defaultRedisPrefix)
	}

	if cfg.Kafka.Enabled() {
		setDefault(&cfg.Kafka.Topic, defaultKafkaTopic)
	}

	return nil
}

// ActiveProfile builds the settings profile.
func (c *Config) ActiveProfile() *settings.Profile {
	return settings.NewProfile(c.Profile.Name, c.Profile.Settings)
}

// PanelSensors resolves sensors against their zones.
func (c *Config) PanelSensors() []*alarm.Sensor {
	zones := make(map[string]*alarm.Zone, len(c.Zones))
	for _, z := range c.Zones {
		zones[z.ID] = &alarm.Zone{ID: z.ID, Name: z.Name, EntryDelaySeconds: z.EntryDelaySeconds}
	}

	list := make([]*alarm.Sensor, 0, len(c.Sensors))
	for _, s := range c.Sensors {
		list = append(list, &alarm.Sensor{
			ID:         s.ID,
			Name:       s.Name,
			EntityID:   s.EntityID,
			EntryPoint: s.EntryPoint,
			Zone:       zones[s.Zone],
		})
	}

	return list
}

// CodeDefinitions converts configured codes for the validator.
func (c *Config) CodeDefinitions() []codes.Definition {
	list := make([]codes.Definition, 0, len(c.Codes))
	for _, code := range c.Codes {
		enabled := code.Enabled == nil || *code.Enabled

		list = append(list, codes.Definition{
			ID:        code.ID,
			Label:     code.Label,
			Username:  code.Username,
			PIN:       code.PIN,
			Hash:      code.Hash,
			MaxUses:   code.MaxUses,
			ExpiresAt: code.ExpiresAt,
			Enabled:   enabled,
		})
	}

	return list
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	// Existing environment variables win over the file.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(dir, path)
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
