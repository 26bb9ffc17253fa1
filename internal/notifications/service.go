package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"iencode/internal/config"
)

const userAgent = "iencode/0.1.0"

// ErrRateLimited is returned when a notification is dropped by the limiter.
var ErrRateLimited = errors.New("notification rate limited")

// Event enumerates the notifications the daemon can send.
type Event string

const (
	EventJobSucceeded     Event = "job_succeeded"
	EventJobFailed        Event = "job_failed"
	EventJobCancelled     Event = "job_cancelled"
	EventQueueStarted     Event = "queue_started"
	EventQueueCompleted   Event = "queue_completed"
	EventPersistenceAlert Event = "persistence_alert"
	EventTest             Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes notification events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.Notifications.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.Notifications.RatePerMinute) / 60)
	}
	burst := cfg.Notifications.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		enabled: map[Event]bool{
			EventJobSucceeded:     cfg.Notifications.OnSuccess,
			EventJobFailed:        cfg.Notifications.OnFailure,
			EventJobCancelled:     cfg.Notifications.OnFailure,
			EventQueueStarted:     cfg.Notifications.OnSuccess,
			EventQueueCompleted:   cfg.Notifications.OnSuccess,
			EventPersistenceAlert: cfg.Notifications.Alerts,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unsupported notification event %q", event)
	}
	if !n.limiter.Allow() {
		return ErrRateLimited
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	jobID := payload.stringValue("job_id")
	owner := payload.stringValue("owner")
	switch event {
	case EventJobSucceeded:
		return message{
			title: "iencode - Encode Complete",
			body:  fmt.Sprintf("✅ Job %s for %s is ready: %s", jobID, owner, payload.stringValue("result_ref")),
			tags:  []string{"iencode", "job", "succeeded"},
		}, true
	case EventJobFailed:
		return message{
			title:    "iencode - Encode Failed",
			body:     fmt.Sprintf("❌ Job %s for %s failed: %s", jobID, owner, payload.stringValue("error")),
			tags:     []string{"iencode", "job", "failed"},
			priority: "high",
		}, true
	case EventJobCancelled:
		return message{
			title: "iencode - Encode Cancelled",
			body:  fmt.Sprintf("Job %s for %s was cancelled", jobID, owner),
			tags:  []string{"iencode", "job", "cancelled"},
		}, true
	case EventQueueStarted:
		return message{
			title: "iencode - Queue Started",
			body:  fmt.Sprintf("Started processing queue with %d jobs", payload.intValue("count")),
			tags:  []string{"iencode", "queue", "started"},
		}, true
	case EventQueueCompleted:
		duration := payload.durationValue("duration").Round(time.Second)
		processed, failed := payload.intValue("processed"), payload.intValue("failed")
		title := "iencode - Queue Complete"
		body := fmt.Sprintf("Queue processing complete: %d jobs processed in %s", processed, duration)
		if failed > 0 {
			title = "iencode - Queue Complete (with errors)"
			body = fmt.Sprintf("Queue processing complete: %d succeeded, %d failed in %s", processed, failed, duration)
		}
		return message{title: title, body: body, tags: []string{"iencode", "queue", "completed"}}, true
	case EventPersistenceAlert:
		return message{
			title:    "iencode - Store Unavailable",
			body:     fmt.Sprintf("⚠️ Could not persist job %s: %s", jobID, payload.stringValue("error")),
			tags:     []string{"iencode", "store", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "iencode - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"iencode", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) stringValue(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) intValue(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (p Payload) durationValue(key string) time.Duration {
	if v, ok := p[key].(time.Duration); ok && v > 0 {
		return v
	}
	return 0
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
