package config

// Store drivers.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Encoder backends.
const (
	EncoderFFmpeg = "ffmpeg"
	EncoderDrapto = "drapto"
)

// Publish targets.
const (
	PublishLocal = "local"
	PublishS3    = "s3"
)

const (
	defaultStagingDir          = "~/.local/share/iencode/staging"
	defaultLibraryDir          = "~/encodes"
	defaultLogDir              = "~/.local/share/iencode/logs"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultAcceleratorMaxDepth = 64
	defaultNormalMaxDepth      = 256
	defaultProgressMinDelta    = 0.05
	defaultProgressMinInterval = 5
	defaultProgressBufferSize  = 64
	defaultPollInterval        = 2
	defaultDownloadTimeout     = 3600
	defaultEncodeTimeout       = 6 * 3600
	defaultUploadTimeout       = 3600
	defaultMaxRetries          = 3
	defaultRetryBackoff        = 5
	defaultRetryBackoffMax     = 60
	defaultCancelGrace         = 10
	defaultPersistAttempts     = 5
	defaultMongoDatabase       = "iencode"
	defaultFFmpegBinary        = "ffmpeg"
	defaultFFprobeBinary       = "ffprobe"
	defaultPreset              = "slow"
	defaultCRF                 = 24
	defaultAudioBitrate        = "128k"
	defaultQuality             = 720
	defaultBranding            = "MyEnc"
	defaultS3Region            = "us-east-1"
	defaultNotifyTimeout       = 10
	defaultNotifyRatePerMinute = 20
	defaultNotifyBurst         = 5
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultJobRetentionDays    = 14
	defaultRetentionSchedule   = "@every 1h"
)

// SupportedQualities lists the output heights a job may request.
var SupportedQualities = []int{480, 720, 1080}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Queue: Queue{
			AcceleratorMaxDepth: defaultAcceleratorMaxDepth,
			NormalMaxDepth:      defaultNormalMaxDepth,
		},
		Progress: Progress{
			MinDelta:            defaultProgressMinDelta,
			MinIntervalSeconds:  defaultProgressMinInterval,
			BufferSize:          defaultProgressBufferSize,
			PollIntervalSeconds: defaultPollInterval,
		},
		Stages: Stages{
			DownloadTimeoutSeconds: defaultDownloadTimeout,
			EncodeTimeoutSeconds:   defaultEncodeTimeout,
			UploadTimeoutSeconds:   defaultUploadTimeout,
			MaxRetries:             defaultMaxRetries,
			RetryBackoffSeconds:    defaultRetryBackoff,
			RetryBackoffMaxSeconds: defaultRetryBackoffMax,
			CancelGraceSeconds:     defaultCancelGrace,
		},
		Store: Store{
			Driver:          StoreSQLite,
			Database:        defaultMongoDatabase,
			PersistAttempts: defaultPersistAttempts,
		},
		Encoder: Encoder{
			Backend:        EncoderFFmpeg,
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			Preset:         defaultPreset,
			CRF:            defaultCRF,
			AudioBitrate:   defaultAudioBitrate,
			DefaultQuality: defaultQuality,
			Branding:       defaultBranding,
		},
		Publish: Publish{
			Target: PublishLocal,
		},
		S3: S3{
			Region: defaultS3Region,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			RatePerMinute:  defaultNotifyRatePerMinute,
			Burst:          defaultNotifyBurst,
			OnSuccess:      true,
			OnFailure:      true,
			Alerts:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Retention: Retention{
			JobDays:  defaultJobRetentionDays,
			Schedule: defaultRetentionSchedule,
		},
	}
}
