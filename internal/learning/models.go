// Package learning tracks every user-facing prediction automation makes —
// review verdicts, triage labels, autofix confidence — against the outcome
// observed later, so accuracy and failure patterns can be queried.
package learning

import "time"

// PredictionType enumerates the kinds of predictions tracked.
type PredictionType string

const (
	PredictionReviewApprove        PredictionType = "review_approve"
	PredictionReviewRequestChanges PredictionType = "review_request_changes"
	PredictionTriageBug            PredictionType = "triage_bug"
	PredictionTriageFeature        PredictionType = "triage_feature"
	PredictionTriageSpam           PredictionType = "triage_spam"
	PredictionTriageDuplicate      PredictionType = "triage_duplicate"
	PredictionAutofixWillWork      PredictionType = "autofix_will_work"
	PredictionLabelApplied         PredictionType = "label_applied"
)

// ActualOutcome enumerates the observed realities a prediction is judged
// against.
type ActualOutcome string

const (
	OutcomeMerged     ActualOutcome = "merged"
	OutcomeModified   ActualOutcome = "modified"
	OutcomeClosed     ActualOutcome = "closed"
	OutcomeConfirmed  ActualOutcome = "confirmed"
	OutcomeOverridden ActualOutcome = "overridden"
)

// Outcome is one tracked prediction, with prediction-side fields populated
// immediately and outcome-side fields filled in once reality is observable.
type Outcome struct {
	ReviewID          string         `json:"review_id"`
	Repo              string         `json:"repo"`
	PRNumber          int            `json:"pr_number,omitempty"`
	PredictionType    PredictionType `json:"prediction_type"`
	FindingsCount     int            `json:"findings_count"`
	HighSeverityCount int            `json:"high_severity_count"`
	CreatedAt         time.Time      `json:"created_at"`

	ActualOutcome  *ActualOutcome `json:"actual_outcome,omitempty"`
	TimeToOutcome  *time.Duration `json:"time_to_outcome,omitempty"`
	AuthorResponse string         `json:"author_response,omitempty"`
	FileTypes      []string       `json:"file_types,omitempty"`
	ChangeSize     int            `json:"change_size,omitempty"`
	Categories     []string       `json:"categories,omitempty"`

	WasCorrect *bool `json:"was_correct,omitempty"`
}

// IsPending reports whether the outcome side hasn't been observed yet.
func (o Outcome) IsPending() bool { return o.ActualOutcome == nil }

// DeriveCorrectness evaluates WasCorrect from PredictionType and
// ActualOutcome, per the rules in §4.13. Called once ActualOutcome is set.
func (o *Outcome) DeriveCorrectness() {
	if o.ActualOutcome == nil {
		o.WasCorrect = nil
		return
	}
	actual := *o.ActualOutcome

	if actual == OutcomeOverridden {
		correct := false
		o.WasCorrect = &correct
		return
	}

	var correct bool
	switch o.PredictionType {
	case PredictionReviewApprove:
		correct = actual == OutcomeMerged || actual == OutcomeConfirmed
	case PredictionReviewRequestChanges:
		correct = actual == OutcomeModified || actual == OutcomeConfirmed
	case PredictionTriageSpam, PredictionTriageDuplicate:
		correct = actual == OutcomeClosed || actual == OutcomeConfirmed
	default:
		correct = actual == OutcomeConfirmed
	}
	o.WasCorrect = &correct
}
