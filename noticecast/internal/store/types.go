package store

// Notice sources.
const (
	SourceExternalFeed = "external-feed"
	SourceManual       = "manual"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Notice is one ingested or manually created announcement. Immutable once
// appended.
type Notice struct {
	ID           string `json:"id"`
	ExternalID   string `json:"external_id,omitempty"`
	Text         string `json:"text"`
	Audio        string `json:"audio,omitempty"` // artifact file name, empty when synthesis failed
	Source       string `json:"source"`
	OriginalLink string `json:"original_link,omitempty"`
	CreatedAt    int64  `json:"created_at"` // ms, strictly increasing in append order
}

// Registrant is an enrolled recipient. Phone is the canonical +91 form.
type Registrant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Locality  string `json:"locality"`
	CreatedAt int64  `json:"created_at"`
}

// Job is a tracked background task record.
type Job struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   *int64 `json:"started_at,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
}

// Stats holds aggregate counters.
type Stats struct {
	Notices     int    `json:"notices"`
	Registrants int    `json:"registrants"`
	Cursor      string `json:"cursor"`
}
