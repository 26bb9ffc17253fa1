package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeProgress()
	c.normalizeStore()
	c.normalizeEncoder()
	c.normalizePublish()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeRetention()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("IENCODE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	if value, ok := os.LookupEnv("IENCODE_ADMINS"); ok && len(c.Queue.Admins) == 0 {
		c.Queue.Admins = strings.Split(value, ",")
	}
	admins := make([]string, 0, len(c.Queue.Admins))
	seen := make(map[string]struct{}, len(c.Queue.Admins))
	for _, admin := range c.Queue.Admins {
		admin = strings.TrimSpace(admin)
		if admin == "" {
			continue
		}
		if _, exists := seen[admin]; exists {
			continue
		}
		seen[admin] = struct{}{}
		admins = append(admins, admin)
	}
	c.Queue.Admins = admins
}

func (c *Config) normalizeProgress() {
	if c.Progress.BufferSize <= 0 {
		c.Progress.BufferSize = defaultProgressBufferSize
	}
	if c.Progress.PollIntervalSeconds <= 0 {
		c.Progress.PollIntervalSeconds = defaultPollInterval
	}
}

func (c *Config) normalizeStore() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "", "sqlite3":
		c.Store.Driver = StoreSQLite
	case "postgresql", "pg":
		c.Store.Driver = StorePostgres
	case "mongodb":
		c.Store.Driver = StoreMongo
	}
	c.Store.DSN = strings.TrimSpace(c.Store.DSN)
	if c.Store.DSN == "" {
		if value, ok := os.LookupEnv("IENCODE_STORE_DSN"); ok {
			c.Store.DSN = strings.TrimSpace(value)
		}
	}
	c.Store.Database = strings.TrimSpace(c.Store.Database)
	if c.Store.Database == "" {
		c.Store.Database = defaultMongoDatabase
	}
	if c.Store.PersistAttempts <= 0 {
		c.Store.PersistAttempts = defaultPersistAttempts
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.Backend = strings.ToLower(strings.TrimSpace(c.Encoder.Backend))
	if c.Encoder.Backend == "" {
		c.Encoder.Backend = EncoderFFmpeg
	}
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Encoder.FFprobeBinary) == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	if strings.TrimSpace(c.Encoder.Preset) == "" {
		c.Encoder.Preset = defaultPreset
	}
	if strings.TrimSpace(c.Encoder.AudioBitrate) == "" {
		c.Encoder.AudioBitrate = defaultAudioBitrate
	}
	if c.Encoder.DefaultQuality == 0 {
		c.Encoder.DefaultQuality = defaultQuality
	}
	c.Encoder.Branding = strings.TrimSpace(c.Encoder.Branding)
}

func (c *Config) normalizePublish() {
	c.Publish.Target = strings.ToLower(strings.TrimSpace(c.Publish.Target))
	if c.Publish.Target == "" {
		c.Publish.Target = PublishLocal
	}
	c.Publish.Prefix = strings.Trim(strings.TrimSpace(c.Publish.Prefix), "/")

	c.S3.Endpoint = strings.TrimSpace(c.S3.Endpoint)
	c.S3.Bucket = strings.TrimSpace(c.S3.Bucket)
	c.S3.Region = strings.TrimSpace(c.S3.Region)
	if c.S3.Region == "" {
		c.S3.Region = defaultS3Region
	}
	if c.S3.AccessKey == "" {
		if value, ok := os.LookupEnv("IENCODE_S3_ACCESS_KEY"); ok {
			c.S3.AccessKey = strings.TrimSpace(value)
		}
	}
	if c.S3.SecretKey == "" {
		if value, ok := os.LookupEnv("IENCODE_S3_SECRET_KEY"); ok {
			c.S3.SecretKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("IENCODE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RatePerMinute <= 0 {
		c.Notifications.RatePerMinute = defaultNotifyRatePerMinute
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = defaultNotifyBurst
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeRetention() {
	c.Retention.Schedule = strings.TrimSpace(c.Retention.Schedule)
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = defaultRetentionSchedule
	}
	if c.Retention.JobDays < 0 {
		c.Retention.JobDays = 0
	}
}
