package daemon

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"iencode/internal/api"
)

func newAPITest(t *testing.T, token string) (*testDaemon, *httptest.Server) {
	t.Helper()
	td := newTestDaemon(t)
	td.start(t)
	srv := httptest.NewServer(td.daemon.apiSrv.routes(token))
	t.Cleanup(srv.Close)
	return td, srv
}

func doJSON(t *testing.T, method, url, user, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if user != "" {
		req.Header.Set(RequesterHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPIEnqueueListDescribe(t *testing.T) {
	td, srv := newAPITest(t, "")
	td.stages.block("file:///media/a.mkv")
	td.stages.block("file:///media/b.mkv")
	td.stages.block("file:///media/c.mkv")
	t.Cleanup(func() {
		td.stages.release("file:///media/a.mkv")
		td.stages.release("file:///media/b.mkv")
		td.stages.release("file:///media/c.mkv")
	})

	var created api.JobResponse
	code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "alice", `{"payloadRef":"file:///media/a.mkv"}`, &created)
	if code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created.Job.Owner != "alice" || created.Job.Lane != "normal" || created.Job.Quality != 720 {
		t.Fatalf("unexpected job %+v", created.Job)
	}

	for _, body := range []string{
		`{"payloadRef":"file:///media/b.mkv"}`,
		`{"payloadRef":"file:///media/c.mkv","lane":"accelerator"}`,
	} {
		if code := doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "bob", body, nil); code != http.StatusCreated {
			t.Fatalf("expected 201 for %s, got %d", body, code)
		}
	}

	var list api.QueueListResponse
	deadline := time.Now().Add(5 * time.Second)
	for {
		if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs", "", "", &list); code != http.StatusOK {
			t.Fatalf("expected 200, got %d", code)
		}
		if len(list.Running) == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list.Running)+len(list.Queued) != 3 {
		t.Fatalf("expected 3 live jobs, got %+v", list)
	}

	var owned api.QueueListResponse
	doJSON(t, http.MethodGet, srv.URL+"/api/jobs?owner=alice", "", "", &owned)
	if all := api.AllJobs(owned); len(all) != 1 || all[0].ID != created.Job.ID {
		t.Fatalf("owner filter returned %+v", owned)
	}

	var described api.JobResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+created.Job.ID, "", "", &described); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if described.Job.PayloadRef != "file:///media/a.mkv" {
		t.Fatalf("unexpected describe %+v", described.Job)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	td, srv := newAPITest(t, "")
	td.stages.block("file:///media/hold.mkv")
	t.Cleanup(func() { td.stages.release("file:///media/hold.mkv") })

	var created api.JobResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "alice", `{"payloadRef":"file:///media/hold.mkv"}`, &created)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   string
		status int
		code   string
	}{
		{"missing payload", http.MethodPost, "/api/jobs", "alice", `{}`, http.StatusBadRequest, api.CodeInvalid},
		{"bad lane", http.MethodPost, "/api/jobs", "alice", `{"payloadRef":"file:///x.mkv","lane":"urgent"}`, http.StatusBadRequest, api.CodeInvalid},
		{"malformed body", http.MethodPost, "/api/jobs", "alice", `{`, http.StatusBadRequest, api.CodeInvalid},
		{"unknown job", http.MethodGet, "/api/jobs/nope", "", "", http.StatusNotFound, api.CodeNotFound},
		{"not owner cancel", http.MethodPost, "/api/jobs/" + created.Job.ID + "/cancel", "mallory", "", http.StatusForbidden, api.CodeNotOwner},
		{"reprioritize running", http.MethodPost, "/api/jobs/" + created.Job.ID + "/lane", "alice", `{"lane":"accelerator"}`, http.StatusConflict, api.CodeNotQueued},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "reprioritize running" {
				waitRunning(t, td, created.Job.ID)
			}
			var resp api.ErrorResponse
			code := doJSON(t, tt.method, srv.URL+tt.path, tt.user, tt.body, &resp)
			if code != tt.status || resp.Code != tt.code {
				t.Fatalf("expected %d/%s, got %d/%s (%s)", tt.status, tt.code, code, resp.Code, resp.Error)
			}
		})
	}
}

func waitRunning(t *testing.T, td *testDaemon, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		item, err := td.daemon.Queue().Describe(t.Context(), id)
		if err == nil && item.Status == "running" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never started running", id)
}

func TestAPICancelByOwner(t *testing.T) {
	td, srv := newAPITest(t, "")
	td.stages.block("file:///media/long.mkv")
	t.Cleanup(func() { td.stages.release("file:///media/long.mkv") })

	var created api.JobResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "alice", `{"payloadRef":"file:///media/long.mkv"}`, &created)
	waitRunning(t, td, created.Job.ID)

	var ack api.CancelResponse
	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/jobs/"+created.Job.ID, "alice", "", &ack); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if ack.ID != created.Job.ID || ack.AlreadyTerminal {
		t.Fatalf("unexpected ack %+v", ack)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var described api.JobResponse
		doJSON(t, http.MethodGet, srv.URL+"/api/jobs/"+created.Job.ID, "", "", &described)
		if described.Job.Status == "cancelled" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job was not cancelled")
}

func TestAPIAuthRequiresBearerToken(t *testing.T) {
	_, srv := newAPITest(t, "secret")

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatal("expected a request id header")
	}
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.Running || status.Workflow.PoolSize != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestAPIMetricsEndpoint(t *testing.T) {
	_, srv := newAPITest(t, "secret")
	doJSONWithToken := func() {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/jobs", strings.NewReader(`{"payloadRef":"file:///media/m.mkv"}`))
		req.Header.Set("Authorization", "Bearer secret")
		req.Header.Set(RequesterHeader, "alice")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
	}
	doJSONWithToken()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `iencode_jobs_enqueued_total{lane="normal"} 1`) {
		t.Fatalf("enqueue counter missing from metrics output:\n%s", body)
	}
}

func TestAPIJobEventsStream(t *testing.T) {
	td, srv := newAPITest(t, "")
	td.stages.block("file:///media/stream.mkv")

	var created api.JobResponse
	doJSON(t, http.MethodPost, srv.URL+"/api/jobs", "alice", `{"payloadRef":"file:///media/stream.mkv"}`, &created)

	resp, err := http.Get(srv.URL + "/api/jobs/" + created.Job.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := make(chan string, 32)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
	}()

	if first := <-events; first != eventSnapshot {
		t.Fatalf("expected snapshot first, got %q", first)
	}
	td.stages.release("file:///media/stream.mkv")

	timeout := time.After(5 * time.Second)
	for {
		select {
		case kind, ok := <-events:
			if !ok {
				t.Fatal("stream closed before terminal event")
			}
			if kind == "terminal" {
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
		}
	}
}

func TestAPIJobEventsForFinishedJob(t *testing.T) {
	td, srv := newAPITest(t, "")
	item, err := td.daemon.Queue().Enqueue(t.Context(), api.EnqueueRequest{Owner: "alice", PayloadRef: "file:///media/done.mkv"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := td.daemon.Queue().Describe(t.Context(), item.ID)
		if got != nil && got.Status == "succeeded" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(srv.URL + "/api/jobs/" + item.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if strings.Count(string(body), "event: ") != 1 || !strings.Contains(string(body), `"status":"succeeded"`) {
		t.Fatalf("expected a single snapshot for a finished job, got:\n%s", body)
	}
}
