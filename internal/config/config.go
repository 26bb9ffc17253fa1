package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Pool sizes the worker pool. Zero means one slot per detected core.
type Pool struct {
	Workers int `toml:"workers"`
}

// Queue contains lane depth limits and the admin roster.
type Queue struct {
	AcceleratorMaxDepth int      `toml:"accelerator_max_depth"`
	NormalMaxDepth      int      `toml:"normal_max_depth"`
	Admins              []string `toml:"admins"`
}

// Progress controls throttling of progress updates.
type Progress struct {
	MinDelta            float64 `toml:"min_delta"`
	MinIntervalSeconds  int     `toml:"min_interval_seconds"`
	BufferSize          int     `toml:"buffer_size"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds"`
}

// Stages contains per-stage timeouts and the retry policy.
type Stages struct {
	DownloadTimeoutSeconds int `toml:"download_timeout_seconds"`
	EncodeTimeoutSeconds   int `toml:"encode_timeout_seconds"`
	UploadTimeoutSeconds   int `toml:"upload_timeout_seconds"`
	MaxRetries             int `toml:"max_retries"`
	RetryBackoffSeconds    int `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int `toml:"retry_backoff_max_seconds"`
	CancelGraceSeconds     int `toml:"cancel_grace_seconds"`
}

// Store selects the job store backend.
type Store struct {
	Driver          string `toml:"driver"`
	DSN             string `toml:"dsn"`
	Database        string `toml:"database"`
	PersistAttempts int    `toml:"persist_attempts"`
}

// Encoder contains transformer settings.
type Encoder struct {
	Backend        string `toml:"backend"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	Preset         string `toml:"preset"`
	CRF            int    `toml:"crf"`
	AudioBitrate   string `toml:"audio_bitrate"`
	DefaultQuality int    `toml:"default_quality"`
	Branding       string `toml:"branding"`
}

// Publish selects where finished encodes go.
type Publish struct {
	Target string `toml:"target"`
	Prefix string `toml:"prefix"`
}

// S3 contains object storage connection settings shared by fetch and publish.
type S3 struct {
	Endpoint     string `toml:"endpoint"`
	Region       string `toml:"region"`
	Bucket       string `toml:"bucket"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret_key"`
	UsePathStyle bool   `toml:"use_path_style"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RatePerMinute  int    `toml:"rate_per_minute"`
	Burst          int    `toml:"burst"`
	OnSuccess      bool   `toml:"on_success"`
	OnFailure      bool   `toml:"on_failure"`
	Alerts         bool   `toml:"alerts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Retention controls the sweep of old terminal job records.
type Retention struct {
	JobDays  int    `toml:"job_days"`
	Schedule string `toml:"schedule"`
}

// Config encapsulates all configuration values for iencode.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Pool: worker slot count
//   - Queue: lane depth limits and admins
//   - Progress: throttle and poll intervals
//   - Stages: timeouts, retries and cancel grace
//   - Store: job store backend
//   - Encoder, Publish, S3: pipeline collaborators
//   - Notifications, Logging, Retention: daemon housekeeping
type Config struct {
	Paths         Paths         `toml:"paths"`
	Pool          Pool          `toml:"pool"`
	Queue         Queue         `toml:"queue"`
	Progress      Progress      `toml:"progress"`
	Stages        Stages        `toml:"stages"`
	Store         Store         `toml:"store"`
	Encoder       Encoder       `toml:"encoder"`
	Publish       Publish       `toml:"publish"`
	S3            S3            `toml:"s3"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Retention     Retention     `toml:"retention"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/iencode/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the config (or in the
// working directory) is loaded first so IENCODE_* overrides can live there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		// godotenv.Load never overrides variables already set in the environment.
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("iencode.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// LibraryDir is only needed by the local publisher and is created on a
// best-effort basis.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Publish.Target == PublishLocal && strings.TrimSpace(c.Paths.LibraryDir) != "" {
		_ = os.MkdirAll(c.Paths.LibraryDir, 0o755)
	}
	return nil
}

// SocketPath returns the JSON-RPC socket location inside the log directory.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.LogDir, "iencode.sock")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "iencode.lock")
}

// PIDPath returns the file holding the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "iencode.pid")
}

// DatabasePath returns the SQLite database location used by the default store.
func (c *Config) DatabasePath() string {
	if dsn := strings.TrimSpace(c.Store.DSN); dsn != "" && c.Store.Driver == StoreSQLite {
		return dsn
	}
	return filepath.Join(c.Paths.LogDir, "queue.db")
}

// IsAdmin reports whether the requester may act on any job.
func (c *Config) IsAdmin(requester string) bool {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return false
	}
	for _, admin := range c.Queue.Admins {
		if admin == requester {
			return true
		}
	}
	return false
}

// PollInterval returns how often the executor checks for cancellation.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Progress.PollIntervalSeconds) * time.Second
}

// ProgressInterval returns the minimum interval between throttled progress updates.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.Progress.MinIntervalSeconds) * time.Second
}

// CancelGrace returns how long a cancelled collaborator may keep running.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Stages.CancelGraceSeconds) * time.Second
}

// RetryBackoff returns the base and cap of the exponential stage retry backoff.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Stages.RetryBackoffSeconds) * time.Second,
		time.Duration(c.Stages.RetryBackoffMaxSeconds) * time.Second
}

// StageTimeouts returns the download, encode and upload timeouts. A zero
// value disables the timeout for that stage.
func (c *Config) StageTimeouts() (download, encode, upload time.Duration) {
	return time.Duration(c.Stages.DownloadTimeoutSeconds) * time.Second,
		time.Duration(c.Stages.EncodeTimeoutSeconds) * time.Second,
		time.Duration(c.Stages.UploadTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
