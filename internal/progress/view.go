package progress

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"iencode/internal/queue"
)

const barCells = 10

// Stage states shown in a View.
const (
	StatePending = "pending"
	StateActive  = "active"
	StateDone    = "done"
)

var stageLabels = func() map[queue.Stage]string {
	caser := cases.Title(language.English)
	labels := make(map[queue.Stage]string, 3)
	for _, stage := range queue.PipelineStages() {
		labels[stage] = caser.String(string(stage))
	}
	return labels
}()

// StageLabel returns the display label for stage.
func StageLabel(stage queue.Stage) string {
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return "Waiting"
}

// StageView is one row of the three-stage view.
type StageView struct {
	Stage    queue.Stage `json:"stage"`
	Label    string      `json:"label"`
	State    string      `json:"state"`
	Fraction float64     `json:"fraction"`
}

// View is the user-facing progress state of one job.
type View struct {
	JobID    string         `json:"job_id"`
	Owner    string         `json:"owner,omitempty"`
	Status   queue.Status   `json:"status"`
	Stage    queue.Stage    `json:"stage,omitempty"`
	Stages   []StageView    `json:"stages"`
	Progress queue.Progress `json:"progress"`
	Text     string         `json:"text"`
}

func buildView(st *jobState) View {
	view := View{
		JobID:    st.jobID,
		Owner:    st.owner,
		Status:   st.status,
		Stage:    st.stage,
		Progress: st.progress,
	}
	current := st.stage.Index()
	for i, stage := range queue.PipelineStages() {
		row := StageView{Stage: stage, Label: StageLabel(stage), State: StatePending}
		switch {
		case st.status == queue.StatusSucceeded, current > 0 && i+1 < current:
			row.State = StateDone
			row.Fraction = 1
		case i+1 == current:
			row.State = StateActive
			row.Fraction = st.progress.Fraction
		}
		view.Stages = append(view.Stages, row)
	}
	view.Text = Render(view)
	return view
}

// Bar draws a ten-cell progress bar for fraction.
func Bar(fraction float64) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*barCells + 1e-9)
	return strings.Repeat("█", filled) + strings.Repeat("░", barCells-filled)
}

// Render formats view as plain text, one line per stage plus a status header.
func Render(view View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s: %s\n", view.JobID, view.Status)
	for _, row := range view.Stages {
		fmt.Fprintf(&b, "%-11s %s %5.1f%%", row.Label, Bar(row.Fraction), row.Fraction*100)
		if row.State == StateActive {
			if detail := progressDetail(view.Progress); detail != "" {
				b.WriteString(" · ")
				b.WriteString(detail)
			}
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func progressDetail(p queue.Progress) string {
	parts := make([]string, 0, 3)
	switch {
	case p.BytesTotal > 0:
		parts = append(parts, fmt.Sprintf("%s of %s", humanize.IBytes(uint64(p.BytesDone)), humanize.IBytes(uint64(p.BytesTotal))))
	case p.BytesDone > 0:
		parts = append(parts, humanize.IBytes(uint64(p.BytesDone)))
	}
	if p.ETA > 0 {
		parts = append(parts, "ETA "+p.ETA.Round(time.Second).String())
	}
	if msg := strings.TrimSpace(p.Message); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, " · ")
}
