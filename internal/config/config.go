package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	RoleProducer = "producer"
	RoleConsumer = "consumer"
	RoleBoth     = "both"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string          `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
	Role      string          `json:"role" yaml:"role" env:"ROLE"`
	Origin    string          `json:"origin" yaml:"origin" env:"ORIGIN"`
	Store     StoreConfig     `json:"store" yaml:"store" envPrefix:"STORE_"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Device    DeviceConfig    `json:"device" yaml:"device" envPrefix:"DEVICE_"`
	Transport TransportConfig `json:"transport" yaml:"transport" envPrefix:"TRANSPORT_"`
	Refresher RefresherConfig `json:"refresher" yaml:"refresher" envPrefix:"REFRESHER_"`
	API       APIConfig       `json:"api" yaml:"api" envPrefix:"API_"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type StoreConfig struct {
	Namespace    string   `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	CanonicalKey string   `json:"canonical_key" yaml:"canonical_key"`
	LegacyKeys   []string `json:"legacy_keys" yaml:"legacy_keys"`
	Capacity     int      `json:"capacity" yaml:"capacity" env:"CAPACITY"`
	// Sources lists the namespaces the refresher merges. The own namespace
	// is always read.
	Sources []string `json:"sources" yaml:"sources" env:"SOURCES"`
}

type StorageConfig struct {
	Driver        string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN           string `json:"dsn" yaml:"dsn" env:"DSN"`
	MaxValueBytes int    `json:"max_value_bytes" yaml:"max_value_bytes" env:"MAX_VALUE_BYTES"`
}

type DeviceConfig struct {
	DefaultTimezone string `json:"default_timezone" yaml:"default_timezone" env:"DEFAULT_TIMEZONE"`
	DefaultLanguage string `json:"default_language" yaml:"default_language" env:"DEFAULT_LANGUAGE"`
}

type TransportConfig struct {
	Handoff   HandoffConfig   `json:"handoff" yaml:"handoff" envPrefix:"HANDOFF_"`
	Relay     RelayConfig     `json:"relay" yaml:"relay" envPrefix:"RELAY_"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast" envPrefix:"BROADCAST_"`
}

type HandoffConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	ConsumerURL   string `json:"consumer_url" yaml:"consumer_url" env:"CONSUMER_URL"`
	DashboardPath string `json:"dashboard_path" yaml:"dashboard_path"`
	NotFoundPath  string `json:"not_found_path" yaml:"not_found_path"`
	// IncludeActivity attaches the producer's event as loginActivity.
	IncludeActivity bool `json:"include_activity" yaml:"include_activity"`
}

type RelayConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Namespace string `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	Cookie    string `json:"cookie" yaml:"cookie"`
}

type BroadcastConfig struct {
	Enabled        bool        `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Driver         string      `json:"driver" yaml:"driver" env:"DRIVER"`
	ChannelBuffer  int         `json:"channel_buffer" yaml:"channel_buffer"`
	AllowedOrigins []string    `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// ReplayWindow suppresses re-delivered events seen within the window.
	ReplayWindow time.Duration `json:"replay_window" yaml:"replay_window" env:"REPLAY_WINDOW"`
	Kafka        KafkaConfig   `json:"kafka" yaml:"kafka" envPrefix:"KAFKA_"`
	Redis        RedisConfig   `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers" env:"BROKERS"`
	Topic   string   `json:"topic" yaml:"topic" env:"TOPIC"`
	GroupID string   `json:"group_id" yaml:"group_id" env:"GROUP_ID"`
}

type RedisConfig struct {
	URL     string `json:"url" yaml:"url" env:"URL"`
	Channel string `json:"channel" yaml:"channel" env:"CHANNEL"`
}

type RefresherConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Interval    time.Duration `json:"interval" yaml:"interval" env:"INTERVAL"`
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Addr    string `json:"addr" yaml:"addr" env:"ADDR"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const EnvPrefix = "LOGINRELAY_"

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Role:      RoleConsumer,
		Origin:    "http://localhost:4201",
		Store: StoreConfig{
			Namespace:    "admin",
			CanonicalKey: "unihelp_login_events",
			LegacyKeys:   []string{"admin_login_events", "unihelp_admin_login_events"},
			Capacity:     100,
		},
		Storage: StorageConfig{Driver: "sqlite", DSN: "file:loginrelay.db?_pragma=busy_timeout(5000)"},
		Device:  DeviceConfig{DefaultTimezone: "UTC", DefaultLanguage: "en-US"},
		Transport: TransportConfig{
			Handoff: HandoffConfig{
				Enabled:         true,
				ConsumerURL:     "http://localhost:4201/session-handoff",
				DashboardPath:   "/dashboard",
				NotFoundPath:    "/404",
				IncludeActivity: true,
			},
			Relay: RelayConfig{Enabled: true, Namespace: "session", Cookie: "sid"},
			Broadcast: BroadcastConfig{
				Enabled:        false,
				Driver:         "redis",
				ChannelBuffer:  1000,
				ReplayWindow:   10 * time.Minute,
				AllowedOrigins: []string{"http://localhost:4200"},
				Redis:          RedisConfig{Channel: "unihelp:login_events"},
				Kafka:          KafkaConfig{Topic: "unihelp.login_events", GroupID: "loginrelay"},
			},
		},
		Refresher: RefresherConfig{Enabled: true, Interval: 5 * time.Second, ReadTimeout: 2 * time.Second},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Metrics:   MetricsConfig{StoreLimit: 32},
	}
}

// Load reads the file, applies LOGINRELAY_* environment overrides (a .env
// file next to the process is honored) and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing env overrides: %w", err)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Role == "" {
		cfg.Role = def.Role
	}
	if cfg.Store.CanonicalKey == "" {
		cfg.Store.CanonicalKey = def.Store.CanonicalKey
	}
	if cfg.Store.Capacity <= 0 {
		cfg.Store.Capacity = def.Store.Capacity
	}
	if cfg.Transport.Handoff.DashboardPath == "" {
		cfg.Transport.Handoff.DashboardPath = def.Transport.Handoff.DashboardPath
	}
	if cfg.Transport.Handoff.NotFoundPath == "" {
		cfg.Transport.Handoff.NotFoundPath = def.Transport.Handoff.NotFoundPath
	}
	if cfg.Transport.Relay.Namespace == "" {
		cfg.Transport.Relay.Namespace = def.Transport.Relay.Namespace
	}
	if cfg.Transport.Relay.Cookie == "" {
		cfg.Transport.Relay.Cookie = def.Transport.Relay.Cookie
	}
	if cfg.Transport.Broadcast.ChannelBuffer <= 0 {
		cfg.Transport.Broadcast.ChannelBuffer = def.Transport.Broadcast.ChannelBuffer
	}
	if cfg.Refresher.Interval <= 0 {
		cfg.Refresher.Interval = def.Refresher.Interval
	}
	if cfg.Refresher.ReadTimeout <= 0 {
		cfg.Refresher.ReadTimeout = def.Refresher.ReadTimeout
	}
	if cfg.Device.DefaultTimezone == "" {
		cfg.Device.DefaultTimezone = def.Device.DefaultTimezone
	}
	if cfg.Device.DefaultLanguage == "" {
		cfg.Device.DefaultLanguage = def.Device.DefaultLanguage
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = def.Metrics.StoreLimit
	}
}

func Validate(cfg *Config) error {
	switch cfg.Role {
	case RoleProducer, RoleConsumer, RoleBoth:
	default:
		return fmt.Errorf("role must be producer, consumer or both, got %q", cfg.Role)
	}
	if strings.TrimSpace(cfg.Store.Namespace) == "" {
		return errors.New("store.namespace required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql", "redis":
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Transport.Handoff.Enabled && cfg.IsProducer() && cfg.Transport.Handoff.ConsumerURL == "" {
		return errors.New("transport.handoff.consumer_url required when handoff is enabled on a producer")
	}
	b := cfg.Transport.Broadcast
	if b.Enabled {
		switch strings.ToLower(b.Driver) {
		case "kafka":
			if len(b.Kafka.Brokers) == 0 || b.Kafka.Topic == "" || b.Kafka.GroupID == "" {
				return errors.New("transport.broadcast.kafka requires brokers, topic, group_id")
			}
		case "redis":
			if b.Redis.URL == "" || b.Redis.Channel == "" {
				return errors.New("transport.broadcast.redis requires url and channel")
			}
		default:
			return fmt.Errorf("unsupported broadcast driver %q", b.Driver)
		}
	}
	if cfg.Refresher.Interval < time.Second {
		return fmt.Errorf("refresher.interval must be at least 1s, got %s", cfg.Refresher.Interval)
	}
	return nil
}

func (c *Config) IsProducer() bool {
	return c.Role == RoleProducer || c.Role == RoleBoth
}

func (c *Config) IsConsumer() bool {
	return c.Role == RoleConsumer || c.Role == RoleBoth
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config. Update on it does not persist.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	if m.path == "" {
		return nil
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
