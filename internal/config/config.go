package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BLE modes
const (
	BLEModeSim    = "sim"
	BLEModeTinyGo = "tinygo"
)

// Store backends
const (
	StoreMemory    = "memory"
	StoreCassandra = "cassandra"
	StoreRedis     = "redis"
	StoreRemote    = "remote"
)

// Config holds all configuration for the application
type Config struct {
	Host     string         `yaml:"host"`
	Port     string         `yaml:"port"`
	Debug    bool           `yaml:"debug"`
	BLE      BLEConfig      `yaml:"ble"`
	Detector DetectorConfig `yaml:"detector"`
	Store    StoreConfig    `yaml:"store"`
	NATS     NATSConfig     `yaml:"nats"`

	Cassandra CassandraConfig `yaml:"-"`
	Redis     RedisConfig     `yaml:"-"`
}

// BLEConfig selects and addresses the radio
type BLEConfig struct {
	Mode               string        `yaml:"mode"`
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	ScanTimeout        time.Duration `yaml:"scan_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
}

// DetectorConfig tunes rep detection
type DetectorConfig struct {
	Threshold       float64       `yaml:"threshold"`
	Debounce        time.Duration `yaml:"debounce"`
	HistoryCapacity int           `yaml:"history_capacity"`
	TimerInterval   time.Duration `yaml:"timer_interval"`
}

// StoreConfig selects the session store
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	Autosave bool   `yaml:"autosave"`
	// RemoteURL is the base URL of an external session API
	RemoteURL string `yaml:"remote_url"`
}

// NATSConfig enables the live stream mirror when URL is set
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CassandraConfig holds Cassandra-specific configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: "8080",
		BLE: BLEConfig{
			Mode:               BLEModeSim,
			ServiceUUID:        "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
			CharacteristicUUID: "beb5483e-36e1-4688-b7f5-ea07361b26a8",
			ScanTimeout:        30 * time.Second,
			ConnectTimeout:     15 * time.Second,
		},
		Detector: DetectorConfig{
			Threshold:       2.0,
			Debounce:        500 * time.Millisecond,
			HistoryCapacity: 100,
			TimerInterval:   time.Second,
		},
		Store: StoreConfig{
			Backend: StoreMemory,
		},
		NATS: NATSConfig{
			SubjectPrefix: "tracker",
		},
		Cassandra: CassandraConfig{
			Hosts:       []string{"localhost:9042"},
			Keyspace:    "rep_tracker",
			Consistency: "QUORUM",
			Timeout:     5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "tracker:",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// CONFIG_FILE (if any), and environment variables, in that order.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	var err error

	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnv("PORT", c.Port)
	if c.Debug, err = getBool("LOG_DEBUG", c.Debug); err != nil {
		return err
	}

	c.BLE.Mode = getEnv("BLE_MODE", c.BLE.Mode)
	c.BLE.ServiceUUID = getEnv("BLE_SERVICE_UUID", c.BLE.ServiceUUID)
	c.BLE.CharacteristicUUID = getEnv("BLE_CHARACTERISTIC_UUID", c.BLE.CharacteristicUUID)
	if c.BLE.ScanTimeout, err = getDuration("SCAN_TIMEOUT_SECONDS", time.Second, c.BLE.ScanTimeout); err != nil {
		return err
	}
	if c.BLE.ConnectTimeout, err = getDuration("CONNECT_TIMEOUT_SECONDS", time.Second, c.BLE.ConnectTimeout); err != nil {
		return err
	}

	if v := os.Getenv("REP_THRESHOLD"); v != "" {
		if c.Detector.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid REP_THRESHOLD value: %w", err)
		}
	}
	if c.Detector.Debounce, err = getDuration("REP_DEBOUNCE_MS", time.Millisecond, c.Detector.Debounce); err != nil {
		return err
	}
	if c.Detector.HistoryCapacity, err = getInt("HISTORY_CAPACITY", c.Detector.HistoryCapacity); err != nil {
		return err
	}
	if c.Detector.TimerInterval, err = getDuration("TIMER_INTERVAL_MS", time.Millisecond, c.Detector.TimerInterval); err != nil {
		return err
	}

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	if c.Store.Autosave, err = getBool("AUTOSAVE", c.Store.Autosave); err != nil {
		return err
	}
	c.Store.RemoteURL = getEnv("SESSION_API_URL", c.Store.RemoteURL)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	if hosts := os.Getenv("CASSANDRA_HOSTS"); hosts != "" {
		c.Cassandra.Hosts = parseHosts(hosts)
	}
	c.Cassandra.Keyspace = getEnv("CASSANDRA_KEYSPACE", c.Cassandra.Keyspace)
	c.Cassandra.Username = getEnv("CASSANDRA_USERNAME", c.Cassandra.Username)
	c.Cassandra.Password = getEnv("CASSANDRA_PASSWORD", c.Cassandra.Password)
	c.Cassandra.Consistency = getEnv("CASSANDRA_CONSISTENCY", c.Cassandra.Consistency)
	if c.Cassandra.Timeout, err = getDuration("CASSANDRA_TIMEOUT_SECONDS", time.Second, c.Cassandra.Timeout); err != nil {
		return err
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)
	if c.Redis.DB, err = getInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	return nil
}

// Validate checks the combination of settings
func (c *Config) Validate() error {
	switch c.BLE.Mode {
	case BLEModeSim, BLEModeTinyGo:
	default:
		return fmt.Errorf("invalid BLE_MODE %q: want %s or %s", c.BLE.Mode, BLEModeSim, BLEModeTinyGo)
	}

	switch c.Store.Backend {
	case StoreMemory, StoreCassandra, StoreRedis:
	case StoreRemote:
		if c.Store.RemoteURL == "" {
			return fmt.Errorf("SESSION_API_URL is required when STORE_BACKEND=%s", StoreRemote)
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Detector.Threshold <= 0 {
		return fmt.Errorf("rep threshold must be positive, got %v", c.Detector.Threshold)
	}
	if c.Detector.Debounce <= 0 {
		return fmt.Errorf("rep debounce must be positive, got %s", c.Detector.Debounce)
	}
	if c.Detector.HistoryCapacity <= 0 {
		return fmt.Errorf("history capacity must be positive, got %d", c.Detector.HistoryCapacity)
	}
	if c.Detector.TimerInterval <= 0 {
		return fmt.Errorf("timer interval must be positive, got %s", c.Detector.TimerInterval)
	}
	return nil
}

// Address returns the full address (host:port)
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return b, nil
}

// getDuration reads an integer count of unit
func getDuration(key string, unit time.Duration, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return time.Duration(n) * unit, nil
}

// parseHosts parses a comma-separated list of hosts
func parseHosts(hostsStr string) []string {
	parts := strings.Split(hostsStr, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		host := strings.TrimSpace(part)
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return []string{"localhost:9042"}
	}
	return hosts
}
