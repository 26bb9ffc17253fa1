package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"iencode/internal/fileutil"
	"iencode/internal/logging"
	"iencode/internal/pipeline"
	"iencode/internal/services"
	"iencode/internal/services/objectstore"
)

const (
	stageName    = "download"
	fallbackName = "source.mkv"
	userAgent    = "iencode/1"
)

// Fetcher acquires job inputs from local paths, HTTP servers and S3.
type Fetcher struct {
	http    *http.Client
	objects *objectstore.Client
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the client used for http(s) references.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.http = client
		}
	}
}

// WithObjectStore enables s3:// references.
func WithObjectStore(client *objectstore.Client) Option {
	return func(f *Fetcher) {
		f.objects = client
	}
}

// New constructs a Fetcher.
func New(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &Fetcher{
		http:   &http.Client{},
		logger: logger.With(logging.String(logging.FieldComponent, "fetch")),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch copies the referenced payload into req.WorkDir.
func (f *Fetcher) Fetch(ctx context.Context, req pipeline.FetchRequest, progress pipeline.ProgressFunc) (pipeline.FetchResult, error) {
	u, err := url.Parse(strings.TrimSpace(req.PayloadRef))
	if err != nil {
		return pipeline.FetchResult{}, services.Wrap(services.ErrValidation, stageName, "parse reference", req.PayloadRef, err)
	}
	if strings.TrimSpace(req.WorkDir) == "" {
		return pipeline.FetchResult{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "work directory required", nil)
	}
	dst := filepath.Join(req.WorkDir, inputName(u.Path))
	logger := f.logger.With(
		logging.String(logging.FieldJobID, req.JobID),
		logging.String("scheme", u.Scheme),
	)
	logger.Debug("fetching payload", logging.String("destination", dst))

	var n int64
	switch strings.ToLower(u.Scheme) {
	case "file":
		n, err = f.fetchFile(ctx, u.Path, dst, progress)
	case "http", "https":
		n, err = f.fetchHTTP(ctx, u.String(), dst, progress)
	case "s3":
		n, err = f.fetchObject(ctx, req.PayloadRef, dst, progress)
	default:
		err = services.Wrap(services.ErrValidation, stageName, "parse reference", fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	if err != nil {
		return pipeline.FetchResult{}, err
	}
	logger.Info("payload fetched", logging.Int64("bytes", n))
	return pipeline.FetchResult{Path: dst, Bytes: n}, nil
}

func (f *Fetcher) fetchFile(ctx context.Context, src, dst string, progress pipeline.ProgressFunc) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, services.Wrap(services.ErrValidation, stageName, "stat input", src+" does not exist", err)
		}
		return 0, services.Wrap(services.ErrStageFailure, stageName, "stat input", src, err)
	}
	if info.IsDir() {
		return 0, services.Wrap(services.ErrValidation, stageName, "stat input", src+" is a directory", nil)
	}
	n, err := fileutil.CopyFile(ctx, src, dst, pipeline.ByteProgress(progress, "copying"))
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, services.Wrap(services.ErrStageFailure, stageName, "copy input", src, err)
	}
	return n, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, ref, dst string, progress pipeline.ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, stageName, "build request", ref, err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, services.Wrap(services.ErrTransient, stageName, "http get", ref, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout:
		return 0, services.Wrap(services.ErrTransient, stageName, "http get", fmt.Sprintf("%s returned %s", ref, resp.Status), nil)
	default:
		return 0, services.Wrap(services.ErrValidation, stageName, "http get", fmt.Sprintf("%s returned %s", ref, resp.Status), nil)
	}
	return writeBody(ctx, dst, resp.Body, resp.ContentLength, progress, "http read")
}

func (f *Fetcher) fetchObject(ctx context.Context, ref, dst string, progress pipeline.ProgressFunc) (int64, error) {
	if f.objects == nil {
		return 0, services.Wrap(services.ErrConfiguration, stageName, "s3 get", "object storage not configured", nil)
	}
	bucket, key, err := objectstore.ParseRef(ref)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, stageName, "parse reference", ref, err)
	}
	obj, err := f.objects.Get(ctx, bucket, key)
	if err != nil {
		return 0, err
	}
	defer obj.Body.Close()
	return writeBody(ctx, dst, obj.Body, obj.Size, progress, "s3 read")
}

// HealthCheck reports whether object storage, when configured, is reachable.
func (f *Fetcher) HealthCheck(ctx context.Context) pipeline.Health {
	if f.objects == nil {
		return pipeline.Health{Name: stageName, Ready: true, Detail: "file, http"}
	}
	if err := f.objects.Ping(ctx); err != nil {
		return pipeline.Unhealthy(stageName, err.Error())
	}
	return pipeline.Health{Name: stageName, Ready: true, Detail: "file, http, s3"}
}

func writeBody(ctx context.Context, dst string, body io.Reader, total int64, progress pipeline.ProgressFunc, op string) (int64, error) {
	if total < 0 {
		total = 0
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, services.Wrap(services.ErrStageFailure, stageName, "create input", dst, err)
	}
	n, err := fileutil.Copy(ctx, out, body, total, pipeline.ByteProgress(progress, "downloading"))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, services.Wrap(services.ErrTransient, stageName, op, dst, err)
	}
	if total > 0 && n != total {
		_ = os.Remove(dst)
		return n, services.Wrap(services.ErrTransient, stageName, op, fmt.Sprintf("short body: got %d of %d bytes", n, total), nil)
	}
	return n, nil
}

// inputName keeps the payload's base name so the encode stage can derive
// the output title from it.
func inputName(p string) string {
	base := path.Base(p)
	if base == "." || base == "/" || base == "" {
		return fallbackName
	}
	base = strings.Map(func(r rune) rune {
		if r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, base)
	if filepath.Ext(base) == "" {
		base += ".mkv"
	}
	return base
}

var _ pipeline.Fetcher = (*Fetcher)(nil)
