package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"iencode/internal/api"
	"iencode/internal/config"
)

const payloadColumnWidth = 40

// normalizePayloadRef turns a local path into an absolute file:// URL so the
// daemon resolves it independently of the CLI's working directory. URLs
// pass through unchanged for the daemon to validate.
func normalizePayloadRef(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("payload reference is required")
	}
	if strings.Contains(arg, "://") {
		return arg, nil
	}
	expanded, err := config.ExpandPath(arg)
	if err != nil {
		return "", fmt.Errorf("resolve payload path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve payload path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("inspect payload %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("payload %q is a directory", abs)
	}
	return (&url.URL{Scheme: "file", Path: abs}).String(), nil
}

func renderJobTable(jobs []api.JobItem) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		position := ""
		if job.Position > 0 {
			position = strconv.Itoa(job.Position)
		}
		rows = append(rows, []string{
			position,
			job.ID,
			job.Owner,
			job.Lane,
			job.Status,
			jobProgressCell(job),
			truncateMiddle(job.PayloadRef, payloadColumnWidth),
			relativeTime(job.CreatedAt),
		})
	}
	return renderTable(
		[]string{"#", "ID", "Owner", "Lane", "Status", "Progress", "Payload", "Created"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func jobProgressCell(job api.JobItem) string {
	p := job.Progress
	if p.Stage == "" {
		return p.Label
	}
	return fmt.Sprintf("%s %s %3.0f%%", p.Label, p.Bar, p.Percent)
}

func renderJobDetail(job api.JobItem) string {
	fields := [][2]string{
		{"ID", job.ID},
		{"Owner", job.Owner},
		{"Payload", job.PayloadRef},
		{"Status", job.Status},
		{"Lane", job.Lane},
	}
	if job.Position > 0 {
		fields = append(fields, [2]string{"Position", strconv.Itoa(job.Position)})
	}
	if job.Quality > 0 {
		fields = append(fields, [2]string{"Quality", fmt.Sprintf("%dp", job.Quality)})
	}
	fields = append(fields, [2]string{"Progress", progressDetail(job.Progress)})
	if job.CancelRequested {
		fields = append(fields, [2]string{"Cancel requested", yesNo(true)})
	}
	if job.ResultRef != "" {
		fields = append(fields, [2]string{"Result", job.ResultRef})
	}
	if job.ErrorMessage != "" {
		fields = append(fields, [2]string{"Error", job.ErrorMessage})
	}
	for _, ts := range []struct{ label, value string }{
		{"Created", job.CreatedAt},
		{"Started", job.StartedAt},
		{"Finished", job.FinishedAt},
	} {
		if ts.value != "" {
			fields = append(fields, [2]string{ts.label, absoluteTime(ts.value)})
		}
	}
	if job.StartedAt != "" && job.FinishedAt != "" {
		started := api.ParseJobTime(job.StartedAt)
		finished := api.ParseJobTime(job.FinishedAt)
		if !started.IsZero() && finished.After(started) {
			fields = append(fields, [2]string{"Duration", finished.Sub(started).Round(time.Second).String()})
		}
	}

	var b strings.Builder
	b.WriteString(renderFields(fields))
	if len(job.Retries) > 0 {
		rows := make([][]string, 0, len(job.Retries))
		for _, r := range job.Retries {
			rows = append(rows, []string{r.Stage, strconv.Itoa(r.Attempt), relativeTime(r.At), r.Error})
		}
		b.WriteString("Retries:\n")
		b.WriteString(renderTable([]string{"Stage", "Attempt", "When", "Error"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}))
	}
	return b.String()
}

func progressDetail(p api.JobProgress) string {
	parts := []string{p.Label}
	if p.Stage != "" {
		parts = append(parts, fmt.Sprintf("%s %.1f%%", p.Bar, p.Percent))
	}
	switch {
	case p.BytesTotal > 0:
		parts = append(parts, humanize.IBytes(uint64(p.BytesDone))+" of "+humanize.IBytes(uint64(p.BytesTotal)))
	case p.BytesDone > 0:
		parts = append(parts, humanize.IBytes(uint64(p.BytesDone)))
	}
	if p.ETASeconds > 0 {
		parts = append(parts, "ETA "+(time.Duration(p.ETASeconds)*time.Second).String())
	}
	if p.Message != "" {
		parts = append(parts, p.Message)
	}
	return strings.Join(parts, " · ")
}

func relativeTime(value string) string {
	t := api.ParseJobTime(value)
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func absoluteTime(value string) string {
	t := api.ParseJobTime(value)
	if t.IsZero() {
		return value
	}
	return t.Local().Format("2006-01-02 15:04:05") + " (" + humanize.Time(t) + ")"
}

func truncateMiddle(value string, width int) string {
	runes := []rune(value)
	if width < 5 || len(runes) <= width {
		return value
	}
	keep := (width - 1) / 2
	return string(runes[:keep]) + "…" + string(runes[len(runes)-(width-1-keep):])
}
