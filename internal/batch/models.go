// Package batch groups open issues into mutually exclusive batches, each
// sized for a single PR, following the two-phase pre-group-then-AI-split
// design — and persists the result as crash-recoverable per-batch state
// files in the style of the review package's per-PR state.
package batch

import "time"

// Status is a batch's position in its sequential state machine. Terminal
// states are Completed and Failed.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAnalyzing    Status = "analyzing"
	StatusCreatingSpec Status = "creating_spec"
	StatusBuilding     Status = "building"
	StatusQAReview     Status = "qa_review"
	StatusPRCreated    Status = "pr_created"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var terminalStatuses = map[Status]bool{StatusCompleted: true, StatusFailed: true}

// IsTerminal reports whether status ends the batch's lifecycle.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

// Item is one issue inside a batch.
type Item struct {
	IssueNumber       int      `json:"issue_number"`
	Title             string   `json:"title"`
	Body              string   `json:"body"`
	Labels            []string `json:"labels"`
	SimilarityToPrimary float64 `json:"similarity_to_primary"`
}

// Validation is the AI validator's verdict on a proposed batch.
type Validation struct {
	IsValid         bool     `json:"is_valid"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	SuggestedSplits [][]int  `json:"suggested_splits,omitempty"`
	CommonTheme     string   `json:"common_theme"`
}

// Batch is one persisted issue-batch.
type Batch struct {
	BatchID       string      `json:"batch_id"`
	Repo          string      `json:"repo"`
	PrimaryIssue  int         `json:"primary_issue"`
	Items         []Item      `json:"items"`
	CommonThemes  []string    `json:"common_themes"`
	Validation    *Validation `json:"validation,omitempty"`
	Status        Status      `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// IssueNumbers returns every issue number this batch contains.
func (b Batch) IssueNumbers() []int {
	nums := make([]int, len(b.Items))
	for i, item := range b.Items {
		nums[i] = item.IssueNumber
	}
	return nums
}
