package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/r9s-ai/gemini-relay/internal/secret"
)

const (
	DefaultPort         = "4000"
	DefaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel        = "gemini-2.5-flash"
	DefaultMaxBodyBytes = 10 << 20
	DefaultTimeoutMs    = 120000
	DefaultStaticDir    = "./public"
)

type Config struct {
	// Path is the yaml file the config was read from, empty when none was.
	Path string `yaml:"-"`

	Server struct {
		Listen            string `yaml:"listen"`
		ReadTimeoutMs     int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs    int    `yaml:"write_timeout_ms"`
		ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
		MaxBodyBytes      int64  `yaml:"max_body_bytes"`
		// StaticDir is served for unmatched GET/HEAD requests when ServeStatic is on.
		StaticDir   string `yaml:"static_dir"`
		ServeStatic *bool  `yaml:"serve_static"`
		PidFile     string `yaml:"pid_file"`
	} `yaml:"server"`

	Auth struct {
		// APIKey guards the generation routes when set.
		APIKey string `yaml:"api_key"`
	} `yaml:"auth"`

	Upstream struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		APIKey  string `yaml:"api_key"`
		// TimeoutMs bounds one outbound call. 0 means the default, -1 disables it.
		TimeoutMs int `yaml:"timeout_ms"`
	} `yaml:"upstream"`

	TrafficDump struct {
		Enabled     bool   `yaml:"enabled"`
		Dir         string `yaml:"dir"`
		FilePath    string `yaml:"file_path"`
		MaxBytes    int    `yaml:"max_bytes"`
		MaskSecrets *bool  `yaml:"mask_secrets"`
	} `yaml:"traffic_dump"`

	Logging struct {
		Level         string `yaml:"level"`
		Format        string `yaml:"format"`
		AccessLog     *bool  `yaml:"access_log"`
		AccessLogPath string `yaml:"access_log_path"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads the yaml file at path (skipped when path is empty), then applies
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if p := strings.TrimSpace(path); p != "" {
		// #nosec G304 -- config path comes from a trusted flag.
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	}
	cfg.Path = strings.TrimSpace(path)
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables already set are kept. A missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return false, nil
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := godotenv.Load(p); err != nil {
		return false, fmt.Errorf("load env file %s: %w", p, err)
	}
	return true, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":" + DefaultPort
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 180000
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = 10000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.Server.StaticDir) == "" {
		cfg.Server.StaticDir = DefaultStaticDir
	}
	if cfg.Server.ServeStatic == nil {
		cfg.Server.ServeStatic = boolPtr(true)
	}
	if strings.TrimSpace(cfg.Upstream.BaseURL) == "" {
		cfg.Upstream.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" {
		cfg.Upstream.Model = DefaultModel
	}
	if cfg.Upstream.TimeoutMs == 0 {
		cfg.Upstream.TimeoutMs = DefaultTimeoutMs
	}
	if strings.TrimSpace(cfg.TrafficDump.Dir) == "" {
		cfg.TrafficDump.Dir = "./dumps"
	}
	if strings.TrimSpace(cfg.TrafficDump.FilePath) == "" {
		cfg.TrafficDump.FilePath = "{{.request_id}}.log"
	}
	if cfg.TrafficDump.MaxBytes == 0 {
		cfg.TrafficDump.MaxBytes = 1 * 1024 * 1024
	}
	if cfg.TrafficDump.MaskSecrets == nil {
		cfg.TrafficDump.MaskSecrets = boolPtr(true)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.AccessLog == nil {
		cfg.Logging.AccessLog = boolPtr(true)
	}
	if strings.TrimSpace(cfg.Metrics.Path) == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Server.Listen = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_MODEL")); v != "" {
		cfg.Upstream.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_UPSTREAM_BASE_URL")); v != "" {
		cfg.Upstream.BaseURL = v
	}
	cfg.Upstream.TimeoutMs = envInt("RELAY_UPSTREAM_TIMEOUT_MS", cfg.Upstream.TimeoutMs)
	if v := strings.TrimSpace(os.Getenv("RELAY_API_KEY")); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_STATIC_DIR")); v != "" {
		cfg.Server.StaticDir = v
	}
	cfg.Server.ServeStatic = boolPtr(envBool("RELAY_SERVE_STATIC", *cfg.Server.ServeStatic))
	if v := strings.TrimSpace(os.Getenv("RELAY_PID_FILE")); v != "" {
		cfg.Server.PidFile = v
	}
	cfg.Server.ReadTimeoutMs = envInt("RELAY_READ_TIMEOUT_MS", cfg.Server.ReadTimeoutMs)
	cfg.Server.WriteTimeoutMs = envInt("RELAY_WRITE_TIMEOUT_MS", cfg.Server.WriteTimeoutMs)
	if v := strings.TrimSpace(os.Getenv("RELAY_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	cfg.TrafficDump.Enabled = envBool("RELAY_TRAFFIC_DUMP_ENABLED", cfg.TrafficDump.Enabled)
	if v := strings.TrimSpace(os.Getenv("RELAY_TRAFFIC_DUMP_DIR")); v != "" {
		cfg.TrafficDump.Dir = v
	}
	cfg.TrafficDump.MaxBytes = envInt("RELAY_TRAFFIC_DUMP_MAX_BYTES", cfg.TrafficDump.MaxBytes)
	cfg.Metrics.Enabled = envBool("RELAY_METRICS_ENABLED", cfg.Metrics.Enabled)
}

// resolveSecrets decrypts ENC[...] key values.
func resolveSecrets(cfg *Config) error {
	var err error
	if cfg.Upstream.APIKey, err = secret.Resolve(cfg.Upstream.APIKey); err != nil {
		return fmt.Errorf("upstream.api_key: %w", err)
	}
	if cfg.Auth.APIKey, err = secret.Resolve(cfg.Auth.APIKey); err != nil {
		return fmt.Errorf("auth.api_key: %w", err)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.MaxBodyBytes < 0 {
		return errors.New("server.max_body_bytes must be non-negative")
	}
	if cfg.Server.ReadTimeoutMs < 0 || cfg.Server.WriteTimeoutMs < 0 || cfg.Server.ShutdownTimeoutMs < 0 {
		return errors.New("server timeouts must be non-negative")
	}
	if cfg.Upstream.TimeoutMs < -1 {
		return errors.New("upstream.timeout_ms must be -1 (disabled) or non-negative")
	}
	if strings.TrimSpace(cfg.Upstream.Model) == "" || strings.ContainsAny(cfg.Upstream.Model, "/:?# ") {
		return fmt.Errorf("upstream.model is invalid: %q", cfg.Upstream.Model)
	}
	u, err := url.Parse(strings.TrimSpace(cfg.Upstream.BaseURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) url: %q", cfg.Upstream.BaseURL)
	}
	if cfg.TrafficDump.MaxBytes < 0 {
		return errors.New("traffic_dump.max_bytes must be non-negative")
	}
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json: %q", cfg.Logging.Format)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/': %q", cfg.Metrics.Path)
	}
	return nil
}

// Warnings lists problems that do not stop the server but make it useless.
func (c *Config) Warnings() []string {
	var out []string
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		out = append(out, "GOOGLE_API_KEY not set: generation requests will fail with 500")
	}
	return out
}

func (c *Config) UpstreamTimeout() time.Duration {
	if c.Upstream.TimeoutMs < 0 {
		return 0
	}
	return time.Duration(c.Upstream.TimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutMs) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutMs) * time.Millisecond
}

func (c *Config) MaskSecrets() bool {
	return c.TrafficDump.MaskSecrets == nil || *c.TrafficDump.MaskSecrets
}

func (c *Config) StaticEnabled() bool {
	return c.Server.ServeStatic == nil || *c.Server.ServeStatic
}

func (c *Config) AccessLogEnabled() bool {
	return c.Logging.AccessLog == nil || *c.Logging.AccessLog
}

func boolPtr(b bool) *bool { return &b }

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
