package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePool(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind: %w", err)
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.Workers < 0 {
		return errors.New("pool.workers must be zero (auto) or positive")
	}
	if c.Queue.AcceleratorMaxDepth < 0 || c.Queue.NormalMaxDepth < 0 {
		return errors.New("queue lane depths must be zero (unbounded) or positive")
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.MinDelta < 0 || c.Progress.MinDelta > 1 {
		return errors.New("progress.min_delta must be between 0 and 1")
	}
	if c.Progress.MinIntervalSeconds < 0 {
		return errors.New("progress.min_interval_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateStages() error {
	if err := ensureNonNegativeMap(map[string]int{
		"stages.download_timeout_seconds": c.Stages.DownloadTimeoutSeconds,
		"stages.encode_timeout_seconds":   c.Stages.EncodeTimeoutSeconds,
		"stages.upload_timeout_seconds":   c.Stages.UploadTimeoutSeconds,
		"stages.max_retries":              c.Stages.MaxRetries,
		"stages.retry_backoff_seconds":    c.Stages.RetryBackoffSeconds,
	}); err != nil {
		return err
	}
	if c.Stages.CancelGraceSeconds <= 0 {
		return errors.New("stages.cancel_grace_seconds must be positive")
	}
	if c.Stages.RetryBackoffMaxSeconds < c.Stages.RetryBackoffSeconds {
		return errors.New("stages.retry_backoff_max_seconds must not be less than stages.retry_backoff_seconds")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case StoreSQLite, StoreMemory:
		return nil
	case StorePostgres, StoreMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.driver is %q (or set IENCODE_STORE_DSN)", c.Store.Driver)
		}
		return nil
	default:
		return fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver)
	}
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.Backend {
	case EncoderFFmpeg, EncoderDrapto:
	default:
		return fmt.Errorf("encoder.backend: unsupported value %q", c.Encoder.Backend)
	}
	if c.Encoder.CRF < 0 || c.Encoder.CRF > 51 {
		return errors.New("encoder.crf must be between 0 and 51")
	}
	if !slices.Contains(SupportedQualities, c.Encoder.DefaultQuality) {
		return fmt.Errorf("encoder.default_quality must be one of %v", SupportedQualities)
	}
	return nil
}

func (c *Config) validatePublish() error {
	switch c.Publish.Target {
	case PublishLocal:
		if strings.TrimSpace(c.Paths.LibraryDir) == "" {
			return errors.New("paths.library_dir must be set when publish.target is local")
		}
	case PublishS3:
		if c.S3.Bucket == "" {
			return errors.New("s3.bucket must be set when publish.target is s3")
		}
	default:
		return fmt.Errorf("publish.target: unsupported value %q", c.Publish.Target)
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return errors.New("s3.access_key and s3.secret_key must be set together")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.JobDays == 0 {
		return nil
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Retention.Schedule); err != nil {
		return fmt.Errorf("retention.schedule: %w", err)
	}
	return nil
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}
