// Package config loads and validates CloudCrate YAML configuration.
// It applies defaults so the daemon can rely on fully populated values.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Bind        string    `yaml:"bind"`
	Port        int       `yaml:"port"`
	MaxUploadMB int       `yaml:"max_upload_mb"`
	TLS         TLSConfig `yaml:"tls"`
}

// AuthConfig holds token and password-hashing settings.
type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	DeviceCap     int           `yaml:"device_cap"`
	Argon2Memory  uint32        `yaml:"argon2_memory_kib"`
	Argon2Time    uint32        `yaml:"argon2_time"`
	Argon2Threads uint8         `yaml:"argon2_threads"`
}

// StorageConfig holds per-account storage settings.
type StorageConfig struct {
	DataDir      string            `yaml:"data_dir"`
	ScratchDir   string            `yaml:"scratch_dir"`
	DefaultLimit int64             `yaml:"default_limit_bytes"`
	EditMaxBytes int64             `yaml:"edit_max_bytes"`
	StreamMIME   map[string]string `yaml:"stream_mime"`
}

// CacheConfig holds directory listing cache settings.
type CacheConfig struct {
	Enable bool          `yaml:"enable"`
	TTL    time.Duration `yaml:"ttl"`
}

// MailConfig holds SMTP settings for the contact form.
type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

// WebDAVConfig holds read-only WebDAV settings.
type WebDAVConfig struct {
	Enable bool   `yaml:"enable"`
	Prefix string `yaml:"prefix"`
}

// Config mirrors the cloudcrate.yaml schema.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Mail    MailConfig    `yaml:"mail"`
	WebDAV  WebDAVConfig  `yaml:"webdav"`
}

// Load reads a YAML config file, applies defaults, and validates it.
// It returns a fully populated Config or a descriptive error.
func Load(path string) (Config, error) {
	var c Config
	if path == "" {
		return c, errors.New("config path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	ApplyDefaults(&c)
	if err := Validate(&c); err != nil {
		return Config{}, err
	}
	c.DB.Path = strings.TrimSpace(c.DB.Path)
	c.Storage.DataDir = strings.TrimSpace(c.Storage.DataDir)
	c.Storage.ScratchDir = strings.TrimSpace(c.Storage.ScratchDir)
	c.HTTP.TLS.CertPath = strings.TrimSpace(c.HTTP.TLS.CertPath)
	c.HTTP.TLS.KeyPath = strings.TrimSpace(c.HTTP.TLS.KeyPath)
	return c, nil
}

// DefaultStreamMIME is the extension-to-MIME table for byte-range streaming.
func DefaultStreamMIME() map[string]string {
	return map[string]string{
		"mp4":  "video/mp4",
		"mkv":  "video/x-matroska",
		"webm": "video/webm",
		"mp3":  "audio/mpeg",
		"wav":  "audio/wav",
		"flac": "audio/flac",
		"m4a":  "audio/mp4",
	}
}

// ApplyDefaults populates zero-values with sane defaults.
func ApplyDefaults(c *Config) {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.DB.Path == "" {
		c.DB.Path = "./data/cloudcrate.db"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "127.0.0.1"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5140
	}
	if c.HTTP.MaxUploadMB == 0 {
		c.HTTP.MaxUploadMB = 512
	}
	if c.Auth.AccessTTL == 0 {
		c.Auth.AccessTTL = 30 * time.Minute
	}
	if c.Auth.RefreshTTL == 0 {
		c.Auth.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.Auth.DeviceCap == 0 {
		c.Auth.DeviceCap = 10
	}
	if c.Auth.Argon2Memory == 0 {
		c.Auth.Argon2Memory = 64 * 1024
	}
	if c.Auth.Argon2Time == 0 {
		c.Auth.Argon2Time = 3
	}
	if c.Auth.Argon2Threads == 0 {
		c.Auth.Argon2Threads = 4
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data/accounts"
	}
	if c.Storage.ScratchDir == "" {
		c.Storage.ScratchDir = "./data/scratch"
	}
	if c.Storage.DefaultLimit == 0 {
		c.Storage.DefaultLimit = 10 << 30 // 10 GiB
	}
	if c.Storage.EditMaxBytes == 0 {
		c.Storage.EditMaxBytes = 1 << 20 // 1 MiB
	}
	if len(c.Storage.StreamMIME) == 0 {
		c.Storage.StreamMIME = DefaultStreamMIME()
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.WebDAV.Prefix == "" {
		c.WebDAV.Prefix = "/webdav"
	}
}

// Validate performs basic sanity checks for required fields and ranges.
// It does not mutate the config.
func Validate(c *Config) error {
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if c.DB.Path == "" {
		return errors.New("db.path is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port is invalid")
	}
	if c.HTTP.MaxUploadMB < 1 || c.HTTP.MaxUploadMB > 102400 {
		return errors.New("http.max_upload_mb is invalid")
	}
	if strings.TrimSpace(c.Auth.AccessSecret) == "" {
		return errors.New("auth.access_secret is required")
	}
	if strings.TrimSpace(c.Auth.RefreshSecret) == "" {
		return errors.New("auth.refresh_secret is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("auth.access_secret and auth.refresh_secret must differ")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		return errors.New("auth token lifetimes must be positive")
	}
	if c.Auth.DeviceCap < 1 {
		return errors.New("auth.device_cap is invalid")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Storage.ScratchDir == "" {
		return errors.New("storage.scratch_dir is required")
	}
	if c.Storage.DefaultLimit < 1 {
		return errors.New("storage.default_limit_bytes is invalid")
	}
	if c.Storage.EditMaxBytes < 1 {
		return errors.New("storage.edit_max_bytes is invalid")
	}
	cp := strings.TrimSpace(c.HTTP.TLS.CertPath)
	kp := strings.TrimSpace(c.HTTP.TLS.KeyPath)
	if (cp == "") != (kp == "") {
		return errors.New("http.tls.cert_path and http.tls.key_path must be set together")
	}
	_ = filepath.Clean(c.DB.Path)
	_ = filepath.Clean(c.Storage.DataDir)
	return nil
}
