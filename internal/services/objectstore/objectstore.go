package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"iencode/internal/config"
	"iencode/internal/logging"
	"iencode/internal/services"
)

const defaultRegion = "us-east-1"

// API is the subset of the S3 client used by Client.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client reads and writes objects in S3-compatible storage.
type Client struct {
	api    API
	bucket string
	logger *slog.Logger
}

// Object is an open object body.
type Object struct {
	Body io.ReadCloser
	Size int64
}

// Enabled reports whether cfg carries enough to build a client.
func Enabled(cfg config.S3) bool {
	return strings.TrimSpace(cfg.Bucket) != "" || strings.TrimSpace(cfg.Endpoint) != ""
}

// New builds a client from the [s3] configuration. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func New(ctx context.Context, cfg config.S3, logger *slog.Logger) (*Client, error) {
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "load aws config", "failed to load AWS config", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "objectstore"))
	logger.Info("object storage client initialized",
		logging.String("endpoint", endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("path_style", cfg.UsePathStyle),
	)
	return &Client{api: api, bucket: strings.TrimSpace(cfg.Bucket), logger: logger}, nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, bucket string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{api: api, bucket: bucket, logger: logger}
}

// Bucket returns the default bucket.
func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// Get opens bucket/key for reading. The caller closes the body.
func (c *Client) Get(ctx context.Context, bucket, key string) (Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, classify("get object", Ref(bucket, key), err)
	}
	return Object{Body: out.Body, Size: aws.ToInt64(out.ContentLength)}, nil
}

// Put uploads body to bucket/key.
func (c *Client) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("video/x-matroska"),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		c.logger.Warn("object upload failed",
			logging.String("key", key),
			logging.Error(err),
		)
		return classify("put object", Ref(bucket, key), err)
	}
	return nil
}

// Ping checks that the default bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.bucket == "" {
		return services.Wrap(services.ErrConfiguration, "objectstore", "ping", "no bucket configured", nil)
	}
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return classify("head bucket", c.bucket, err)
	}
	return nil
}

// ParseRef splits s3://bucket/key.
func ParseRef(ref string) (bucket, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", ref, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("not an s3 reference: %q", ref)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 reference must be s3://bucket/key: %q", ref)
	}
	return u.Host, key, nil
}

// Ref formats bucket and key as an s3:// reference.
func Ref(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}

// classify maps SDK errors onto stage markers: missing objects and 4xx
// responses are not retried, everything else is.
func classify(op, target string, err error) error {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noBucket) {
		return services.Wrap(services.ErrValidation, "objectstore", op, target+" does not exist", err)
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= 400 && status < 500 && status != 408 && status != 429 {
			return services.Wrap(services.ErrValidation, "objectstore", op, fmt.Sprintf("%s rejected with status %d", target, status), err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return services.Wrap(services.ErrTransient, "objectstore", op, target, err)
}
