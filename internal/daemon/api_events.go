package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"iencode/internal/api"
	"iencode/internal/progress"
	"iencode/internal/queue"
)

// eventSnapshot is the kind of the first message on a job stream.
const eventSnapshot = "snapshot"

// handleJobEvents streams one job's progress as server-sent events until its
// terminal update or until the client goes away. Finished jobs get a single
// snapshot event.
func (s *apiServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported", api.CodeInternal)
		return
	}
	id := mux.Vars(r)["id"]
	reporter := s.daemon.Reporter()
	sub := reporter.Subscribe(id)
	defer reporter.Unsubscribe(sub)

	item, err := s.queueSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	startStream(w)
	if err := writeEvent(w, eventSnapshot, item); err != nil {
		return
	}
	flusher.Flush()
	if isTerminal(item.Status) {
		return
	}
	s.pump(w, r, flusher, sub, "")
}

// handleAllEvents streams every job's progress, optionally filtered by owner.
func (s *apiServer) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported", api.CodeInternal)
		return
	}
	reporter := s.daemon.Reporter()
	sub := reporter.SubscribeAll()
	defer reporter.Unsubscribe(sub)

	startStream(w)
	flusher.Flush()
	s.pump(w, r, flusher, sub, strings.TrimSpace(r.URL.Query().Get("owner")))
}

func (s *apiServer) pump(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *progress.Subscription, owner string) {
	for {
		select {
		case <-r.Context().Done():
			return
		case update, ok := <-sub.C():
			if !ok {
				return
			}
			if owner != "" && update.View.Owner != owner {
				continue
			}
			msg := api.FromUpdate(update)
			if err := writeEvent(w, msg.Kind, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
	return err
}

func isTerminal(status string) bool {
	parsed, ok := queue.ParseStatus(status)
	return ok && parsed.IsTerminal()
}
