package stage

import (
	"context"
	"fmt"
	"log/slog"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/services"
	"iencode/internal/services/drapto"
	"iencode/internal/services/fetch"
	"iencode/internal/services/ffmpeg"
	"iencode/internal/services/objectstore"
	"iencode/internal/services/publish"
	"iencode/internal/workflow"
)

// Build assembles the download, encode and upload collaborators selected by
// cfg. The S3 client is shared by fetch and publish and only created when
// the [s3] section is populated or the publish target requires it.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (workflow.Collaborators, error) {
	if cfg == nil {
		return workflow.Collaborators{}, services.Wrap(services.ErrConfiguration, "stage", "build", "config required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var objects *objectstore.Client
	if objectstore.Enabled(cfg.S3) || cfg.Publish.Target == config.PublishS3 {
		client, err := objectstore.New(ctx, cfg.S3, logger)
		if err != nil {
			return workflow.Collaborators{}, err
		}
		objects = client
	}

	fetchOpts := []fetch.Option{}
	if objects != nil {
		fetchOpts = append(fetchOpts, fetch.WithObjectStore(objects))
	}
	collab := workflow.Collaborators{Fetcher: fetch.New(logger, fetchOpts...)}

	switch cfg.Encoder.Backend {
	case config.EncoderFFmpeg, "":
		collab.Transformer = ffmpeg.New(ffmpeg.OptionsFromConfig(cfg.Encoder), logger)
	case config.EncoderDrapto:
		collab.Transformer = drapto.New(cfg.Encoder.Branding, logger)
	default:
		return workflow.Collaborators{}, services.Wrap(services.ErrConfiguration, "stage", "build",
			fmt.Sprintf("unsupported encoder backend %q", cfg.Encoder.Backend), nil)
	}

	switch cfg.Publish.Target {
	case config.PublishLocal, "":
		collab.Publisher = publish.NewLocal(cfg.Paths.LibraryDir, cfg.Publish.Prefix, logger)
	case config.PublishS3:
		collab.Publisher = publish.NewS3(objects, cfg.Publish.Prefix, logger)
	default:
		return workflow.Collaborators{}, services.Wrap(services.ErrConfiguration, "stage", "build",
			fmt.Sprintf("unsupported publish target %q", cfg.Publish.Target), nil)
	}

	logger.Info("stage collaborators ready",
		logging.String("encoder", cfg.Encoder.Backend),
		logging.String("publish", cfg.Publish.Target),
		logging.Bool("s3", objects != nil),
	)
	return collab, nil
}
