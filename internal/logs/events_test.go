package logs_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"iencode/internal/logs"
	"iencode/internal/queue"
)

func TestNewEventClientEmptyBind(t *testing.T) {
	client, err := logs.NewEventClient("", "")
	if err != nil {
		t.Fatalf("NewEventClient error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
	err = client.StreamAll(context.Background(), "", func(logs.Event) error { return nil })
	if !logs.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestStreamJobDecodesUntilTerminal(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: snapshot\ndata: {\"id\":\"job-1\",\"status\":\"running\"}\n\n")
		fmt.Fprint(w, "event: progress\ndata: {\"kind\":\"progress\",\"jobId\":\"job-1\",\"text\":\"encoding 40%\"}\n\n")
		fmt.Fprint(w, "event: terminal\ndata: {\"kind\":\"terminal\",\"jobId\":\"job-1\",\"status\":\"succeeded\"}\n\n")
		fmt.Fprint(w, "event: progress\ndata: {\"kind\":\"progress\",\"jobId\":\"job-1\"}\n\n")
	}))
	defer srv.Close()

	client, err := logs.NewEventClient(strings.TrimPrefix(srv.URL, "http://"), "secret")
	if err != nil {
		t.Fatalf("NewEventClient: %v", err)
	}
	var kinds []string
	err = client.StreamJob(context.Background(), "job-1", func(ev logs.Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamJob: %v", err)
	}
	if gotPath != "/api/jobs/job-1/events" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if strings.Join(kinds, ",") != "snapshot,progress,terminal" {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestStreamAllPassesOwnerFilter(t *testing.T) {
	var gotOwner string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = r.URL.Query().Get("owner")
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: queued\ndata: {\"kind\":\"queued\",\"jobId\":\"j\",\"owner\":\"alice\"}\n\n")
	}))
	defer srv.Close()

	client, _ := logs.NewEventClient(srv.URL, "")
	var updates int
	err := client.StreamAll(context.Background(), "alice", func(ev logs.Event) error {
		if ev.Update == nil || ev.Update.Owner != "alice" {
			t.Fatalf("unexpected event %+v", ev)
		}
		updates++
		return nil
	})
	if err != nil {
		t.Fatalf("StreamAll: %v", err)
	}
	if gotOwner != "alice" || updates != 1 {
		t.Fatalf("owner=%q updates=%d", gotOwner, updates)
	}
}

func TestStreamJobMapsErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"job missing","code":"not_found"}`)
	}))
	defer srv.Close()

	client, _ := logs.NewEventClient(srv.URL, "")
	err := client.StreamJob(context.Background(), "missing", func(logs.Event) error { return nil })
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected queue.ErrNotFound, got %v", err)
	}
}

func TestStreamCallbackErrorStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: queued\ndata: {\"kind\":\"queued\"}\n\n")
		fmt.Fprint(w, "event: queued\ndata: {\"kind\":\"queued\"}\n\n")
	}))
	defer srv.Close()

	client, _ := logs.NewEventClient(srv.URL, "")
	stop := errors.New("stop")
	calls := 0
	err := client.StreamAll(context.Background(), "", func(logs.Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestIsAPIUnavailableOnRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, _ := logs.NewEventClient(addr, "")
	err := client.StreamAll(context.Background(), "", func(logs.Event) error { return nil })
	if !logs.IsAPIUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
