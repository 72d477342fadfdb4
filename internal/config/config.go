package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DriverSim = "sim"

	BackendMQTT      = "mqtt"
	BackendWebSocket = "websocket"
)

// Config holds all application configuration values.
type Config struct {
	// Serial
	SerialPorts         []string
	SerialDriver        string // bugst, jacobsa or sim
	SerialReadTimeoutMS int
	ReadIdleSleepMS     int

	// Publishing
	PublishBackend   string // mqtt or websocket
	StreamName       string
	StreamType       string
	PublishQueueSize int
	PublishTimeoutMS int

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	TopicPrefix  string

	// Web Server, 0 disables it
	WebServerPort int

	// Logging
	LogLevel string
	LogFile  string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once.
//   - configMu: write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used for keys a file does not set.
func Default() *Config {
	return &Config{
		SerialDriver:        "bugst",
		SerialReadTimeoutMS: 100,
		ReadIdleSleepMS:     10,
		PublishBackend:      BackendMQTT,
		StreamName:          "BT",
		StreamType:          "IMU",
		PublishQueueSize:    256,
		PublishTimeoutMS:    50,
		MQTTClientID:        "imu-streamer",
		TopicPrefix:         "imu/stream",
		LogLevel:            "info",
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0, got %d", key, n)
	}
	return n, nil
}

// ParsePorts splits a comma-separated address list, dropping blanks.
func ParsePorts(value string) []string {
	var ports []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ports = append(ports, p)
		}
	}
	return ports
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial
	case "SERIAL_PORTS":
		c.SerialPorts = ParsePorts(value)
	case "SERIAL_DRIVER":
		c.SerialDriver = strings.ToLower(value)
	case "SERIAL_READ_TIMEOUT_MS":
		c.SerialReadTimeoutMS, err = positiveInt(key, value)
	case "READ_IDLE_SLEEP_MS":
		c.ReadIdleSleepMS, err = positiveInt(key, value)

	// Publishing
	case "PUBLISH_BACKEND":
		c.PublishBackend = strings.ToLower(value)
	case "STREAM_NAME":
		c.StreamName = value
	case "STREAM_TYPE":
		c.StreamType = value
	case "PUBLISH_QUEUE_SIZE":
		c.PublishQueueSize, err = positiveInt(key, value)
	case "PUBLISH_TIMEOUT_MS":
		c.PublishTimeoutMS, err = positiveInt(key, value)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_PREFIX":
		c.TopicPrefix = strings.TrimSuffix(value, "/")

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, perr)
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", port)
		}
		c.WebServerPort = port

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FILE":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// Validate checks that the combination of values can run. Command line
// overrides are applied before calling it again.
func (c *Config) Validate() error {
	switch c.SerialDriver {
	case "bugst", "jacobsa", DriverSim:
	default:
		return fmt.Errorf("SERIAL_DRIVER must be bugst, jacobsa or sim, got %q", c.SerialDriver)
	}
	switch c.PublishBackend {
	case BackendMQTT:
		if c.MQTTBroker == "" {
			return fmt.Errorf("MQTT_BROKER is required for the mqtt backend")
		}
		if c.TopicPrefix == "" {
			return fmt.Errorf("TOPIC_PREFIX is required for the mqtt backend")
		}
	case BackendWebSocket:
		if c.WebServerPort == 0 {
			return fmt.Errorf("WEB_SERVER_PORT is required for the websocket backend")
		}
	default:
		return fmt.Errorf("PUBLISH_BACKEND must be mqtt or websocket, got %q", c.PublishBackend)
	}
	if c.StreamName == "" {
		return fmt.Errorf("STREAM_NAME is required")
	}
	return nil
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.SerialReadTimeoutMS) * time.Millisecond
}

func (c *Config) IdleSleep() time.Duration {
	return time.Duration(c.ReadIdleSleepMS) * time.Millisecond
}

func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
