package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"iencode/internal/config"
	"iencode/internal/fileutil"
	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/services"
	"iencode/internal/services/objectstore"
)

const stageName = "upload"

// Publisher moves finished encodes to their durable location.
type Publisher struct {
	target     string
	libraryDir string
	prefix     string
	objects    *objectstore.Client
	logger     *slog.Logger
}

// NewLocal publishes into libraryDir/prefix/owner.
func NewLocal(libraryDir, prefix string, logger *slog.Logger) *Publisher {
	return newPublisher(config.PublishLocal, libraryDir, prefix, nil, logger)
}

// NewS3 publishes into the client's bucket under prefix/owner.
func NewS3(objects *objectstore.Client, prefix string, logger *slog.Logger) *Publisher {
	return newPublisher(config.PublishS3, "", prefix, objects, logger)
}

func newPublisher(target, libraryDir, prefix string, objects *objectstore.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		target:     target,
		libraryDir: libraryDir,
		prefix:     strings.Trim(prefix, "/"),
		objects:    objects,
		logger:     logger.With(logging.String(logging.FieldComponent, "publish"), logging.String("target", target)),
	}
}

// Publish stores req.Path and returns a file:// or s3:// reference to it.
func (p *Publisher) Publish(ctx context.Context, req pipeline.PublishRequest, progress pipeline.ProgressFunc) (string, error) {
	info, err := os.Stat(req.Path)
	if err != nil {
		return "", services.Wrap(services.ErrStageFailure, stageName, "stat artifact", req.Path, err)
	}
	key := p.objectKey(req.Owner, filepath.Base(req.Path))
	logger := p.logger.With(logging.String(logging.FieldJobID, req.JobID), logging.String("key", key))

	var ref string
	switch p.target {
	case config.PublishS3:
		ref, err = p.publishS3(ctx, req, key, info.Size(), progress)
	default:
		ref, err = p.publishLocal(ctx, req.Path, key, progress)
	}
	if err != nil {
		return "", err
	}
	logger.Info("artifact published", logging.String("ref", ref), logging.Int64("bytes", info.Size()))
	return ref, nil
}

func (p *Publisher) publishLocal(ctx context.Context, src, key string, progress pipeline.ProgressFunc) (string, error) {
	if strings.TrimSpace(p.libraryDir) == "" {
		return "", services.Wrap(services.ErrConfiguration, stageName, "publish local", "library_dir not configured", nil)
	}
	dst := filepath.Join(p.libraryDir, filepath.FromSlash(key))
	if _, err := fileutil.CopyFileAtomic(ctx, src, dst, pipeline.ByteProgress(progress, "publishing")); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", services.Wrap(services.ErrTransient, stageName, "publish local", dst, err)
	}
	return (&url.URL{Scheme: "file", Path: dst}).String(), nil
}

func (p *Publisher) publishS3(ctx context.Context, req pipeline.PublishRequest, key string, size int64, progress pipeline.ProgressFunc) (string, error) {
	if p.objects == nil || p.objects.Bucket() == "" {
		return "", services.Wrap(services.ErrConfiguration, stageName, "publish s3", "s3 bucket not configured", nil)
	}
	f, err := os.Open(req.Path)
	if err != nil {
		return "", services.Wrap(services.ErrStageFailure, stageName, "open artifact", req.Path, err)
	}
	defer f.Close()

	body := &countingReader{file: f, total: size, report: pipeline.ByteProgress(progress, "uploading")}
	meta := map[string]string{"job-id": req.JobID, "owner": req.Owner}
	if err := p.objects.Put(ctx, p.objects.Bucket(), key, body, size, meta); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return objectstore.Ref(p.objects.Bucket(), key), nil
}

// HealthCheck reports whether the destination is usable.
func (p *Publisher) HealthCheck(ctx context.Context) pipeline.Health {
	if p.target == config.PublishS3 {
		if p.objects == nil {
			return pipeline.Unhealthy(stageName, "s3 client not configured")
		}
		if err := p.objects.Ping(ctx); err != nil {
			return pipeline.Unhealthy(stageName, err.Error())
		}
		return pipeline.Health{Name: stageName, Ready: true, Detail: "s3://" + p.objects.Bucket()}
	}
	if err := os.MkdirAll(p.libraryDir, 0o755); err != nil {
		return pipeline.Unhealthy(stageName, fmt.Sprintf("library dir: %v", err))
	}
	return pipeline.Health{Name: stageName, Ready: true, Detail: p.libraryDir}
}

func (p *Publisher) objectKey(owner, name string) string {
	owner = sanitizeSegment(owner)
	if owner == "" {
		owner = "shared"
	}
	return path.Join(p.prefix, owner, name)
}

func sanitizeSegment(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, v)
	if v == "." || v == ".." {
		return ""
	}
	return v
}

// countingReader reports bytes read and rewinds its counter when the SDK
// seeks back for a retry.
type countingReader struct {
	file   *os.File
	total  int64
	done   int64
	report func(done, total int64)
}

func (r *countingReader) Read(b []byte) (int, error) {
	n, err := r.file.Read(b)
	if n > 0 {
		r.done += int64(n)
		if r.report != nil {
			r.report(r.done, r.total)
		}
	}
	return n, err
}

func (r *countingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.file.Seek(offset, whence)
	if err == nil {
		r.done = pos
	}
	return pos, err
}

var (
	_ pipeline.Publisher = (*Publisher)(nil)
	_ io.ReadSeeker      = (*countingReader)(nil)
)
