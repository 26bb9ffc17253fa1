package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"iencode/internal/config"
	"iencode/internal/notifications"
)

type capturedRequest struct {
	title    string
	body     string
	tags     string
	priority string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:        "job succeeded",
			event:       notifications.EventJobSucceeded,
			payload:     notifications.Payload{"job_id": "j1", "owner": "alice", "result_ref": "s3://media/out.mkv"},
			expectTitle: "iencode - Encode Complete",
			expectBody:  "✅ Job j1 for alice is ready: s3://media/out.mkv",
			expectTags:  "iencode,job,succeeded",
		},
		{
			name:           "job failed",
			event:          notifications.EventJobFailed,
			payload:        notifications.Payload{"job_id": "j2", "owner": "bob", "error": errors.New("ffmpeg exit 1")},
			expectTitle:    "iencode - Encode Failed",
			expectBody:     "❌ Job j2 for bob failed: ffmpeg exit 1",
			expectTags:     "iencode,job,failed",
			expectPriority: "high",
		},
		{
			name:        "queue completed with failures",
			event:       notifications.EventQueueCompleted,
			payload:     notifications.Payload{"processed": 3, "failed": 1, "duration": 90 * time.Second},
			expectTitle: "iencode - Queue Complete (with errors)",
			expectBody:  "Queue processing complete: 3 succeeded, 1 failed in 1m30s",
			expectTags:  "iencode,queue,completed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, captured := newNtfyServer(t)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = srv.URL
			cfg.Notifications.OnSuccess = true
			cfg.Notifications.OnFailure = true
			cfg.Notifications.RatePerMinute = 0
			svc := notifications.NewService(&cfg)

			if err := svc.Publish(context.Background(), tt.event, tt.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			got := captured()
			if len(got) != 1 {
				t.Fatalf("expected one request, got %d", len(got))
			}
			req := got[0]
			if req.title != tt.expectTitle || req.body != tt.expectBody || req.tags != tt.expectTags || req.priority != tt.expectPriority {
				t.Fatalf("unexpected request %+v", req)
			}
		})
	}
}

func TestDisabledEventsAreSkipped(t *testing.T) {
	srv, captured := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.OnSuccess = false
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobSucceeded, notifications.Payload{"job_id": "j"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := len(captured()); n != 0 {
		t.Fatalf("expected no requests for disabled event, got %d", n)
	}
}

func TestRateLimiterDropsBursts(t *testing.T) {
	srv, captured := newNtfyServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	cfg.Notifications.OnFailure = true
	cfg.Notifications.RatePerMinute = 1
	cfg.Notifications.Burst = 2
	svc := notifications.NewService(&cfg)

	var limited int
	for i := 0; i < 5; i++ {
		err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "j"})
		if errors.Is(err, notifications.ErrRateLimited) {
			limited++
		} else if err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := len(captured()); got != 2 || limited != 3 {
		t.Fatalf("expected 2 sent and 3 limited, got %d sent and %d limited", got, limited)
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = srv.URL
	svc := notifications.NewService(&cfg)
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
