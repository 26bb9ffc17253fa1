package publish_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"iencode/internal/pipeline"
	"iencode/internal/queue"
	"iencode/internal/services"
	"iencode/internal/services/objectstore"
	"iencode/internal/services/publish"
	"iencode/internal/testsupport"
)

func artifact(t *testing.T, size int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Film [720p] [iEncode].mkv")
	testsupport.WriteFile(t, path, size)
	return path
}

func TestPublishLocal(t *testing.T) {
	library := t.TempDir()
	pub := publish.NewLocal(library, "encodes/", nil)
	src := artifact(t, 2048)

	var last queue.Progress
	ref, err := pub.Publish(context.Background(), pipeline.PublishRequest{JobID: "j1", Owner: "alice", Path: src}, func(p queue.Progress) {
		last = p
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	want := filepath.Join(library, "encodes", "alice", "Film [720p] [iEncode].mkv")
	info, err := os.Stat(want)
	if err != nil || info.Size() != 2048 {
		t.Fatalf("published file missing: %v", err)
	}
	if !strings.HasPrefix(ref, "file://") || !strings.Contains(ref, "alice") {
		t.Fatalf("unexpected ref %q", ref)
	}
	if last.Fraction != 1 || last.BytesDone != 2048 {
		t.Fatalf("expected final progress sample, got %+v", last)
	}
	entries, _ := os.ReadDir(filepath.Dir(want))
	if len(entries) != 1 {
		t.Fatalf("expected no temp files next to the artifact, got %d entries", len(entries))
	}
}

func TestPublishLocalSanitizesOwner(t *testing.T) {
	library := t.TempDir()
	pub := publish.NewLocal(library, "", nil)
	if _, err := pub.Publish(context.Background(), pipeline.PublishRequest{JobID: "j2", Owner: "../evil", Path: artifact(t, 10)}, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(library, ".._evil")); err != nil {
		t.Fatalf("expected sanitized owner directory: %v", err)
	}
}

func TestPublishLocalRequiresLibraryDir(t *testing.T) {
	_, err := publish.NewLocal("", "", nil).Publish(context.Background(), pipeline.PublishRequest{JobID: "j", Owner: "a", Path: artifact(t, 1)}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

type recordingAPI struct {
	key  string
	data []byte
	meta map[string]string
}

func (r *recordingAPI) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("not used")
}

func (r *recordingAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	r.key = aws.ToString(in.Key)
	r.data = data
	r.meta = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (r *recordingAPI) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestPublishS3(t *testing.T) {
	api := &recordingAPI{}
	pub := publish.NewS3(objectstore.NewWithAPI(api, "media", nil), "out", nil)

	var samples int
	ref, err := pub.Publish(context.Background(), pipeline.PublishRequest{JobID: "j3", Owner: "bob", Path: artifact(t, 4096)}, func(queue.Progress) {
		samples++
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ref != "s3://media/out/bob/Film [720p] [iEncode].mkv" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if api.key != "out/bob/Film [720p] [iEncode].mkv" || len(api.data) != 4096 {
		t.Fatalf("unexpected upload key %q size %d", api.key, len(api.data))
	}
	if api.meta["job-id"] != "j3" || api.meta["owner"] != "bob" {
		t.Fatalf("unexpected metadata %v", api.meta)
	}
	if samples == 0 {
		t.Fatal("expected upload progress samples")
	}
	if h := pub.HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected ready health, got %+v", h)
	}
}

func TestPublishS3WithoutBucket(t *testing.T) {
	pub := publish.NewS3(objectstore.NewWithAPI(&recordingAPI{}, "", nil), "", nil)
	_, err := pub.Publish(context.Background(), pipeline.PublishRequest{JobID: "j", Owner: "a", Path: artifact(t, 1)}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
