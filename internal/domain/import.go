package domain

import "time"

// ImportStatus is the lifecycle state of an Import.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
	ImportFailed     ImportStatus = "failed"
	ImportDone       ImportStatus = "done"
)

// Terminal reports whether no further transition is possible.
func (s ImportStatus) Terminal() bool {
	return s == ImportFailed || s == ImportDone
}

// ErrorStage classifies where processing of an import failed.
type ErrorStage string

const (
	StageFileRead        ErrorStage = "file_read"
	StageMappingAnalysis ErrorStage = "mapping_analysis"
	StageRowParsing      ErrorStage = "row_parsing"
	StageCategorization  ErrorStage = "categorization"
	StageUnexpected      ErrorStage = "unexpected"
)

// Progress is the latest progress report of a processing import.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

// Import is one uploaded statement and its staged candidates. Content holds
// the raw bytes when the file was stored inline; SourceURI points at object
// storage otherwise.
type Import struct {
	ID          string
	AccountID   string
	Filename    string
	ContentType string
	Content     []byte
	SourceURI   string

	Status     ImportStatus
	Candidates []Candidate
	Warnings   []string
	Progress   Progress

	ErrorStage   ErrorStage
	ErrorMessage string

	// PreviousAttemptID links a re-attempt to the failed import it replaces.
	PreviousAttemptID string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	CommittedAt *time.Time
}
