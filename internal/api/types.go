package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobItem describes a job in a transport-friendly format.
type JobItem struct {
	ID              string        `json:"id"`
	Owner           string        `json:"owner"`
	PayloadRef      string        `json:"payloadRef"`
	Quality         int           `json:"quality"`
	Lane            string        `json:"lane"`
	Status          string        `json:"status"`
	Position        int           `json:"position,omitempty"`
	Seq             int64         `json:"seq"`
	Progress        JobProgress   `json:"progress"`
	CancelRequested bool          `json:"cancelRequested"`
	ResultRef       string        `json:"resultRef,omitempty"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	Retries         []RetryRecord `json:"retries,omitempty"`
	CreatedAt       string        `json:"createdAt,omitempty"`
	UpdatedAt       string        `json:"updatedAt,omitempty"`
	StartedAt       string        `json:"startedAt,omitempty"`
	FinishedAt      string        `json:"finishedAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage      string  `json:"stage"`
	Label      string  `json:"label"`
	Percent    float64 `json:"percent"`
	Bar        string  `json:"bar"`
	BytesDone  int64   `json:"bytesDone,omitempty"`
	BytesTotal int64   `json:"bytesTotal,omitempty"`
	ETASeconds int64   `json:"etaSeconds,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// RetryRecord documents one retried stage attempt.
type RetryRecord struct {
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
	At      string `json:"at"`
}

// EnqueueRequest is the payload accepted by the enqueue endpoints.
type EnqueueRequest struct {
	Owner      string `json:"owner"`
	PayloadRef string `json:"payloadRef"`
	Lane       string `json:"lane,omitempty"`
	Quality    int    `json:"quality,omitempty"`
}

// ReprioritizeRequest moves a queued job to another lane.
type ReprioritizeRequest struct {
	Lane string `json:"lane"`
}

// CancelResponse acknowledges a cancel request.
type CancelResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	AlreadyTerminal bool   `json:"alreadyTerminal"`
}

// ReprioritizeResponse reports the new lane and dispatch position.
type ReprioritizeResponse struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Position int    `json:"position"`
}

// QueueListResponse wraps the running and queued jobs of a snapshot.
type QueueListResponse struct {
	Running []JobItem `json:"running"`
	Queued  []JobItem `json:"queued"`
	TakenAt string    `json:"takenAt,omitempty"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobItem `json:"job"`
}

// WorkflowStatus summarizes controller execution state.
type WorkflowStatus struct {
	Running             bool           `json:"running"`
	PoolSize            int            `json:"poolSize"`
	PoolBusy            int            `json:"poolBusy"`
	LaneDepths          map[string]int `json:"laneDepths"`
	LiveJobs            int            `json:"liveJobs"`
	LastError           string         `json:"lastError,omitempty"`
	PersistenceFailures int64          `json:"persistenceFailures"`
	ProgressDropped     int64          `json:"progressDropped"`
	CancelLatency       string         `json:"cancelLatency"`
	StageHealth         []StageHealth  `json:"stageHealth"`
}

// StageHealth mirrors readiness reporting for pipeline collaborators.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StoreDriver  string         `json:"storeDriver"`
	StorePath    string         `json:"storePath,omitempty"`
	LockFilePath string         `json:"lockFilePath"`
	LogPath      string         `json:"logPath,omitempty"`
	APIAddr      string         `json:"apiAddr,omitempty"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// ProgressUpdate is one streamed progress update.
type ProgressUpdate struct {
	Kind   string       `json:"kind"`
	JobID  string       `json:"jobId"`
	Owner  string       `json:"owner,omitempty"`
	Status string       `json:"status"`
	Stage  string       `json:"stage,omitempty"`
	Stages []StageState `json:"stages"`
	Text   string       `json:"text"`
	At     string       `json:"at"`
	Result string       `json:"resultRef,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// StageState is one row of a three-stage progress view.
type StageState struct {
	Stage   string  `json:"stage"`
	Label   string  `json:"label"`
	State   string  `json:"state"`
	Percent float64 `json:"percent"`
}

// ErrorResponse is the body of failed API requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
