package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"iencode/internal/api"
)

// ErrAPIUnavailable reports that no HTTP API bind is configured.
var ErrAPIUnavailable = errors.New("progress API unavailable")

// Event kinds that are not progress.Kind values.
const (
	EventSnapshot = "snapshot"
	EventTerminal = "terminal"
)

// Event is one decoded server-sent event from the daemon's progress stream.
// Snapshot events carry Job; every other kind carries Update.
type Event struct {
	Kind   string
	Job    *api.JobItem
	Update *api.ProgressUpdate
}

// EventClient reads progress streams from the daemon HTTP API.
type EventClient struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewEventClient returns a client for the API listening on bind. An empty
// bind returns a nil client and no error.
func NewEventClient(bind, token string) (*EventClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &EventClient{
		base:  base,
		token: strings.TrimSpace(token),
		// No timeout: streams stay open until the caller cancels.
		http: &http.Client{},
	}, nil
}

// StreamJob follows one job until its terminal event, the server closing
// the stream, or ctx ending.
func (c *EventClient) StreamJob(ctx context.Context, id string, onEvent func(Event) error) error {
	return c.stream(ctx, "/api/jobs/"+url.PathEscape(id)+"/events", nil, onEvent)
}

// StreamAll follows every job, optionally restricted to owner.
func (c *EventClient) StreamAll(ctx context.Context, owner string, onEvent func(Event) error) error {
	values := url.Values{}
	if owner = strings.TrimSpace(owner); owner != "" {
		values.Set("owner", owner)
	}
	return c.stream(ctx, "/api/events", values, onEvent)
}

func (c *EventClient) stream(ctx context.Context, path string, values url.Values, onEvent func(Event) error) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: values.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body api.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr == nil && body.Code != "" {
			return api.ErrorFromCode(body.Code, body.Error)
		}
		return fmt.Errorf("progress stream returned status %d", resp.StatusCode)
	}

	err = readEvents(resp.Body, onEvent)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents decodes "event:"/"data:" frames until EOF or a terminal event.
func readEvents(body io.Reader, onEvent func(Event) error) error {
	scanner := newScanner(body)
	var kind string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				kind = ""
				continue
			}
			ev, err := decodeEvent(kind, data.String())
			kind = ""
			data.Reset()
			if err != nil {
				return err
			}
			if err := onEvent(ev); err != nil {
				return err
			}
			if ev.Kind == EventTerminal {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

func decodeEvent(kind, payload string) (Event, error) {
	ev := Event{Kind: kind}
	if kind == EventSnapshot {
		var job api.JobItem
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return ev, fmt.Errorf("decode snapshot event: %w", err)
		}
		ev.Job = &job
		return ev, nil
	}
	var update api.ProgressUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return ev, fmt.Errorf("decode %s event: %w", kind, err)
	}
	if ev.Kind == "" {
		ev.Kind = update.Kind
	}
	ev.Update = &update
	return ev, nil
}

// IsAPIUnavailable reports whether err means the HTTP API could not be
// reached at all.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
