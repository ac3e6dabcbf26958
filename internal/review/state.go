// Package review implements the crash-recoverable PR review orchestrator:
// a per-PR state machine persisted to disk after every significant
// transition, so a restart resumes from the last checkpoint instead of
// re-running completed work.
package review

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"autoclaude/internal/lock"
)

// Status is the orchestrator's current phase.
type Status string

const (
	StatusPending             Status = "pending"
	StatusAwaitingChecks      Status = "awaiting_checks"
	StatusReviewing           Status = "reviewing"
	StatusFixing              Status = "fixing"
	StatusReadyToMerge        Status = "ready_to_merge"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
	StatusFailed              Status = "failed"
	StatusMaxIterationsReached Status = "max_iterations_reached"
)

var terminalStatuses = map[Status]bool{
	StatusReadyToMerge:         true,
	StatusCompleted:            true,
	StatusCancelled:            true,
	StatusFailed:               true,
	StatusMaxIterationsReached: true,
}

var activeStatuses = map[Status]bool{
	StatusPending:        true,
	StatusAwaitingChecks: true,
	StatusReviewing:      true,
	StatusFixing:         true,
}

// IsTerminal reports whether status ends the workflow.
func (s Status) IsTerminal() bool { return terminalStatuses[s] }

// IsActive reports whether status represents work in progress.
func (s Status) IsActive() bool { return activeStatuses[s] }

// CheckStatus mirrors checkwaiter.CheckStatus for the persisted snapshot,
// kept as its own type so the state schema doesn't couple to the waiter's
// internals.
type CheckStatus string

const (
	CheckPending  CheckStatus = "pending"
	CheckRunning  CheckStatus = "running"
	CheckPassed   CheckStatus = "passed"
	CheckFailed   CheckStatus = "failed"
	CheckSkipped  CheckStatus = "skipped"
	CheckTimedOut CheckStatus = "timed_out"
	CheckUnknown  CheckStatus = "unknown"
)

// CICheckResult is one persisted CI check snapshot.
type CICheckResult struct {
	Name       string      `json:"name"`
	Status     CheckStatus `json:"status"`
	Conclusion string      `json:"conclusion,omitempty"`
	Details    string      `json:"details,omitempty"`
}

// ExternalBotStatus is one persisted expected-bot snapshot.
type ExternalBotStatus struct {
	BotName        string      `json:"bot_name"`
	Status         CheckStatus `json:"status"`
	CommentID      int64       `json:"comment_id,omitempty"`
	FindingsCount  int         `json:"findings_count"`
	LastSeenAt     string      `json:"last_seen_at,omitempty"`
}

// AppliedFix records one fix the autofix pipeline applied during a review
// iteration.
type AppliedFix struct {
	FixID      string    `json:"fix_id"`
	FindingID  string    `json:"finding_id"`
	FilePath   string    `json:"file_path"`
	Description string   `json:"description"`
	AppliedAt  time.Time `json:"applied_at"`
	CommitSHA  string    `json:"commit_sha,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// IterationRecord is one pass through the review→fix loop.
type IterationRecord struct {
	IterationNumber int        `json:"iteration_number"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          string     `json:"status"` // in_progress, completed, failed
	FindingsCount   int        `json:"findings_count"`
	FixesApplied    int        `json:"fixes_applied"`
	CIStatus        string     `json:"ci_status,omitempty"`
	Notes           string     `json:"notes,omitempty"`
}

// State is the durable, crash-recoverable record of one PR's review
// orchestration.
type State struct {
	PRNumber   int    `json:"pr_number"`
	Repo       string `json:"repo"`
	PRURL      string `json:"pr_url"`
	BranchName string `json:"branch_name"`

	Status          Status `json:"status"`
	CurrentIteration int   `json:"current_iteration"`
	MaxIterations   int    `json:"max_iterations"`

	CorrelationID string `json:"correlation_id"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CIChecks         []CICheckResult `json:"ci_checks"`
	CIChecksPolledAt *time.Time      `json:"ci_checks_last_polled,omitempty"`
	CIAllPassed      bool            `json:"ci_all_passed"`

	ExpectedBots        []string            `json:"expected_bots"`
	ExternalBotStatuses []ExternalBotStatus `json:"external_bot_statuses"`
	BotsPolledAt        *time.Time          `json:"bots_last_polled,omitempty"`

	PendingFindingIDs      []string `json:"pending_finding_ids"`
	ResolvedFindingIDs     []string `json:"resolved_finding_ids"`
	UnresolvableFindingIDs []string `json:"unresolvable_finding_ids"`

	AppliedFixes     []AppliedFix      `json:"applied_fixes"`
	IterationHistory []IterationRecord `json:"iteration_history"`

	LastKnownHeadSHA    string `json:"last_known_head_sha,omitempty"`
	LastReviewedHeadSHA string `json:"last_reviewed_head_sha,omitempty"`

	LastError           string `json:"last_error,omitempty"`
	ErrorCount          int    `json:"error_count"`
	ConsecutiveFailures int    `json:"consecutive_failures"`

	CancellationRequested bool       `json:"cancellation_requested"`
	CancelledBy            string    `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`

	TriggeredBy string `json:"triggered_by,omitempty"`
	Authorized  bool   `json:"authorized"`

	// findingsByID caches the current iteration's findings in memory so the
	// fixing phase can look them up by id; it is never persisted and does
	// not survive a restart (a resumed fixing phase simply re-reviews).
	findingsByID map[string]Finding
}

// New constructs fresh review state for a PR, defaulting MaxIterations to
// 5 matching the source orchestrator's default budget.
func New(prNumber int, repo, prURL, branchName string) *State {
	now := time.Now().UTC()
	return &State{
		PRNumber:      prNumber,
		Repo:          repo,
		PRURL:         prURL,
		BranchName:    branchName,
		Status:        StatusPending,
		MaxIterations: 5,
		CorrelationID: uuid.NewString(),
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *State) touch() { s.UpdatedAt = time.Now().UTC() }

// MarkCompleted finalizes the state with a terminal status.
func (s *State) MarkCompleted(status Status) {
	s.Status = status
	now := time.Now().UTC()
	s.CompletedAt = &now
	s.touch()
}

// RecordError records an operational error and increments both the total
// and consecutive failure counters.
func (s *State) RecordError(err string) {
	s.LastError = err
	s.ErrorCount++
	s.ConsecutiveFailures++
	s.touch()
}

// ClearConsecutiveFailures resets the streak counter after a success.
func (s *State) ClearConsecutiveFailures() {
	s.ConsecutiveFailures = 0
	s.touch()
}

// RequestCancellation marks the loop for cancellation at its next
// checkpoint.
func (s *State) RequestCancellation(username string) {
	s.CancellationRequested = true
	s.CancelledBy = username
	now := time.Now().UTC()
	s.CancelledAt = &now
	s.touch()
}

// StartIteration begins a new iteration and appends its record.
func (s *State) StartIteration() *IterationRecord {
	s.CurrentIteration++
	rec := IterationRecord{IterationNumber: s.CurrentIteration, StartedAt: time.Now().UTC(), Status: "in_progress"}
	s.IterationHistory = append(s.IterationHistory, rec)
	s.touch()
	return &s.IterationHistory[len(s.IterationHistory)-1]
}

// CompleteIteration finalizes the most recently started iteration.
func (s *State) CompleteIteration(findingsCount, fixesApplied int, ciStatus, status, notes string) {
	if len(s.IterationHistory) > 0 {
		cur := &s.IterationHistory[len(s.IterationHistory)-1]
		now := time.Now().UTC()
		cur.CompletedAt = &now
		cur.Status = status
		cur.FindingsCount = findingsCount
		cur.FixesApplied = fixesApplied
		cur.CIStatus = ciStatus
		cur.Notes = notes
	}
	s.touch()
}

// AddAppliedFix records a fix and moves its finding from pending to
// resolved on success.
func (s *State) AddAppliedFix(fix AppliedFix) {
	s.AppliedFixes = append(s.AppliedFixes, fix)
	if fix.Success {
		for i, id := range s.PendingFindingIDs {
			if id == fix.FindingID {
				s.PendingFindingIDs = append(s.PendingFindingIDs[:i], s.PendingFindingIDs[i+1:]...)
				s.ResolvedFindingIDs = append(s.ResolvedFindingIDs, fix.FindingID)
				break
			}
		}
	}
	s.touch()
}

// HasPendingFindings reports whether unresolved findings remain.
func (s *State) HasPendingFindings() bool { return len(s.PendingFindingIDs) > 0 }

// ShouldContinue reports whether the loop should keep iterating.
func (s *State) ShouldContinue() bool {
	if s.CancellationRequested {
		return false
	}
	if s.Status.IsTerminal() {
		return false
	}
	return s.CurrentIteration < s.MaxIterations
}

// Store persists review State to one JSON file per PR (pr_<n>.json) plus an
// index.json summary, all under the directory it is given.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

// NewStore returns a Store rooted at dir (the CLI uses
// .auto-claude/reviews).
func NewStore(dir string) *Store {
	return &Store{dir: dir, lockTimeout: 5 * time.Second}
}

func (st *Store) pathFor(prNumber int) string {
	return filepath.Join(st.dir, fmt.Sprintf("pr_%d.json", prNumber))
}

// Save atomically, lock-protected writes state to disk and refreshes the
// index used by LoadAllActive.
func (st *Store) Save(s *State) error {
	s.touch()
	path := st.pathFor(s.PRNumber)
	err := lock.WithLock(path, st.lockTimeout, func() error {
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("review: encode state: %w", err)
		}
		if mkErr := os.MkdirAll(st.dir, 0o755); mkErr != nil {
			return fmt.Errorf("review: create state dir: %w", mkErr)
		}
		return lock.AtomicWrite(path, data, 0o644)
	})
	if err != nil {
		return err
	}
	return st.updateIndex()
}

// Load returns the persisted state for prNumber, or (nil, nil) if none
// exists.
func (st *Store) Load(prNumber int) (*State, error) {
	path := st.pathFor(prNumber)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("review: read %s: %w", path, err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("review: decode %s: %w", path, err)
	}
	return &s, nil
}

// Delete removes the persisted state for prNumber, returning false if none
// existed.
func (st *Store) Delete(prNumber int) (bool, error) {
	path := st.pathFor(prNumber)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("review: delete %s: %w", path, err)
	}
	return true, st.updateIndex()
}

type indexEntry struct {
	PRNumber int    `json:"pr_number"`
	Status   Status `json:"status"`
}

type index struct {
	Reviews []indexEntry `json:"reviews"`
}

func (st *Store) indexPath() string { return filepath.Join(st.dir, "index.json") }

// updateIndex rescans every pr_*.json file and rewrites index.json, mirroring
// the source orchestrator's summary index used for fast active-review scans.
func (st *Store) updateIndex() error {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("review: scan state dir: %w", err)
	}
	idx := index{}
	for _, e := range entries {
		if e.IsDir() || e.Name() == "index.json" || !isPRStateFile(e.Name()) {
			continue
		}
		data, readErr := os.ReadFile(filepath.Join(st.dir, e.Name()))
		if readErr != nil {
			continue
		}
		var s State
		if json.Unmarshal(data, &s) != nil {
			continue
		}
		idx.Reviews = append(idx.Reviews, indexEntry{PRNumber: s.PRNumber, Status: s.Status})
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("review: encode index: %w", err)
	}
	return lock.AtomicWrite(st.indexPath(), data, 0o644)
}

func isPRStateFile(name string) bool {
	return len(name) > len("pr_.json") && name[:3] == "pr_" && filepath.Ext(name) == ".json"
}

// LoadAllActive returns every review whose persisted status is still
// active, consulting index.json rather than re-reading every state file.
func (st *Store) LoadAllActive() ([]*State, error) {
	data, err := os.ReadFile(st.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("review: read index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("review: decode index: %w", err)
	}
	var out []*State
	for _, entry := range idx.Reviews {
		if !entry.Status.IsActive() {
			continue
		}
		s, loadErr := st.Load(entry.PRNumber)
		if loadErr != nil || s == nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
