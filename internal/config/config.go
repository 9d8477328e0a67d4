package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Deflate framings understood by the content decoder.
const (
	DeflateRaw  = "raw"
	DeflateZlib = "zlib"
	DeflateAuto = "auto"
)

// Config holds every runtime setting of the relay server.
type Config struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
	NoTLS       bool   `yaml:"no_tls"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	MaxMessageBytes      int64         `yaml:"max_message_bytes"`

	ProxyTimeout       time.Duration `yaml:"proxy_timeout"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	UserAgent          string        `yaml:"user_agent"`
	AppIDHeader        string        `yaml:"app_id_header"`
	DeflateFraming     string        `yaml:"deflate_framing"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	HistoryDB        string        `yaml:"history_db"`
	HistoryRetention time.Duration `yaml:"history_retention"`

	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Default returns the settings the server runs with when nothing is overridden.
func Default() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 3000,
		TLSCertFile:          "cert.pem",
		TLSKeyFile:           "key.pem",
		MaxReconnectAttempts: 10,
		ReconnectDelay:       5 * time.Second,
		DialTimeout:          10 * time.Second,
		MaxMessageBytes:      32 << 20,
		ProxyTimeout:         30 * time.Second,
		MaxBodyBytes:         200 << 20,
		UserAgent:            "BotNodeSDK/0.0.1",
		AppIDHeader:          "X-Union-Appid",
		DeflateFraming:       DeflateRaw,
		HistoryRetention:     24 * time.Hour,
		LogLevel:             "info",
		LogFormat:            "text",
		ShutdownGrace:        10 * time.Second,
	}
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	return nil
}

// ApplyEnv overlays PORT, TLS_CERT_FILE, TLS_KEY_FILE, HISTORY_DB and LOG_LEVEL.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", v)
		}
		c.Port = port
	}
	if v, ok := lookup("TLS_CERT_FILE"); ok && v != "" {
		c.TLSCertFile = v
	}
	if v, ok := lookup("TLS_KEY_FILE"); ok && v != "" {
		c.TLSKeyFile = v
	}
	if v, ok := lookup("HISTORY_DB"); ok {
		c.HistoryDB = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first setting that would make the server misbehave.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return errors.Errorf("port %d out of range", c.Port)
	case c.MaxReconnectAttempts < 0:
		return errors.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	case c.ReconnectDelay <= 0:
		return errors.New("reconnect delay must be positive")
	case c.DialTimeout <= 0:
		return errors.New("dial timeout must be positive")
	case c.ProxyTimeout <= 0:
		return errors.New("proxy timeout must be positive")
	case c.MaxBodyBytes <= 0:
		return errors.New("max body bytes must be positive")
	case c.MaxMessageBytes <= 0:
		return errors.New("max message bytes must be positive")
	case c.AppIDHeader == "":
		return errors.New("app id header must not be empty")
	}
	switch c.DeflateFraming {
	case DeflateRaw, DeflateZlib, DeflateAuto:
	default:
		return errors.Errorf("unknown deflate framing %q", c.DeflateFraming)
	}
	if !c.NoTLS && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("tls cert and key files are required unless no_tls is set")
	}
	return nil
}

// Addr is the listen address for net/http.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
