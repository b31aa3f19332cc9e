package storage

import "time"

// Processing states of a staging narrative.
const (
	StatePending = "pending"
	StateDone    = "done"
	StateError   = "error"
)

// StagingNarrative is one historical case waiting to be embedded.
type StagingNarrative struct {
	CaseID          string
	CatalogItemID   string
	CatalogPath     string // Human-readable catalog path, e.g. "Hardware > Printers"
	NarrativeText   string
	ProcessingState string
	ProcessedAt     *time.Time
	ErrorMessage    string
	Attempts        int // Claims that were not handed back by Release
	CreatedAt       time.Time
}

// KnowledgeRecord is the durable embedding of one case.
type KnowledgeRecord struct {
	CaseID         string
	CatalogItemID  string
	CatalogPath    string
	NarrativeText  string // Normalized text that was embedded
	Vector         []float32
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NarrativeCounts summarizes the staging backlog.
type NarrativeCounts struct {
	Pending         int
	InFlight        int // Pending records currently held under an unexpired lease
	Done            int
	Error           int
	LastProcessedAt *time.Time
}

// SearchLogRecord is one row of the append-only search log.
type SearchLogRecord struct {
	SearchID    string
	QueryText   string
	TopK        int
	Latency     time.Duration
	ResultCount int
	ErrorText   string // Empty on success
	CreatedAt   time.Time
}

// EmbeddingCallRecord is one row of the append-only embedding call log.
type EmbeddingCallRecord struct {
	Model      string
	InputChars int
	Attempts   int
	Latency    time.Duration
	Outcome    string
	StatusCode int
	ErrorText  string
	CreatedAt  time.Time
}
