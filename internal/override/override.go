// Package override implements slash-command parsing, grace periods before
// automation acts on a trigger label, and the append-only override ledger
// that later automation passes consult instead of re-reading the comment
// stream.
package override

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"autoclaude/internal/lock"
)

// CommandType enumerates recognized slash-commands.
type CommandType string

const (
	CmdCancelAutofix CommandType = "cancel_autofix"
	CmdNotSpam       CommandType = "not_spam"
	CmdNotDuplicate  CommandType = "not_duplicate"
	CmdNotFeature    CommandType = "not_feature_creep"
	CmdUndoLast      CommandType = "undo_last"
	CmdForceRetry    CommandType = "force_retry"
	CmdSkipReview    CommandType = "skip_review"
	CmdApprove       CommandType = "approve_spec"
	CmdReject        CommandType = "reject_spec"
	CmdStatus        CommandType = "status"
	CmdHelp          CommandType = "help"
)

var commandMap = map[string]CommandType{
	"/cancel-autofix":   CmdCancelAutofix,
	"/not-spam":         CmdNotSpam,
	"/not-duplicate":    CmdNotDuplicate,
	"/not-feature-creep": CmdNotFeature,
	"/undo-last":        CmdUndoLast,
	"/force-retry":      CmdForceRetry,
	"/skip-review":      CmdSkipReview,
	"/approve":          CmdApprove,
	"/reject":           CmdReject,
	"/status":           CmdStatus,
	"/help":             CmdHelp,
}

var commandPattern = regexp.MustCompile(`(?m)^\s*(/[a-z-]+)\b(.*)$`)

// ParsedCommand is one recognized slash-command extracted from a comment.
type ParsedCommand struct {
	Command CommandType
	Args    []string
	RawText string
	Author  string
}

// ParseComment extracts the first recognized leading slash-token from body,
// or returns (nil, false) if none is found.
func ParseComment(body, author string) (*ParsedCommand, bool) {
	m := commandPattern.FindStringSubmatch(body)
	if m == nil {
		return nil, false
	}
	cmd, ok := commandMap[strings.ToLower(m[1])]
	if !ok {
		return nil, false
	}
	var args []string
	if trimmed := strings.TrimSpace(m[2]); trimmed != "" {
		args = strings.Fields(trimmed)
	}
	return &ParsedCommand{Command: cmd, Args: args, RawText: body, Author: author}, true
}

// HelpText is the canned reply to `/help`.
const HelpText = `**Available Commands:**

| Command | Description |
|---------|-------------|
| ` + "`/cancel-autofix`" + ` | Cancel pending auto-fix (works during grace period) |
| ` + "`/undo-last`" + ` | Undo the most recent automation action |
| ` + "`/force-retry`" + ` | Retry a failed operation |
| ` + "`/skip-review`" + ` | Skip AI review for this PR |
| ` + "`/approve`" + ` | Approve pending spec/action |
| ` + "`/reject`" + ` | Reject pending spec/action |
| ` + "`/not-spam`" + ` | Override spam classification |
| ` + "`/not-duplicate`" + ` | Override duplicate classification |
| ` + "`/status`" + ` | Show current automation status |
| ` + "`/help`" + ` | Show this help message |
`

// GracePeriod is a window after an automation-triggering event during which
// a user can cancel without consequence.
type GracePeriod struct {
	Issue       int       `json:"issue"`
	TriggerLabel string   `json:"trigger_label"`
	Actor       string    `json:"actor"`
	TriggeredAt time.Time `json:"triggered_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Cancelled   bool      `json:"cancelled"`
}

// Valid reports whether the grace period still protects the user: it has
// not been cancelled and wall time hasn't reached ExpiresAt.
func (g GracePeriod) Valid(now time.Time) bool {
	return !g.Cancelled && now.Before(g.ExpiresAt)
}

type gracePeriods struct {
	Entries map[string]GracePeriod `json:"entries"`
}

// Record is one append-only entry in the override ledger.
type Record struct {
	ID            string         `json:"id"`
	Type          CommandType    `json:"type"`
	Actor         string         `json:"actor"`
	Issue         *int           `json:"issue,omitempty"`
	PRNumber      *int           `json:"pr_number,omitempty"`
	OriginalState string         `json:"original_state,omitempty"`
	NewState      string         `json:"new_state,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	// LinkedTo, for /undo-last entries, points back at the record being
	// inverted.
	LinkedTo string `json:"linked_to,omitempty"`
}

type history struct {
	Records []Record `json:"records"`
}

// MaxHistory bounds the ledger to the most recent N entries, FIFO.
const MaxHistory = 1000

// DefaultGraceWindow is the 15-minute default window before automation acts.
const DefaultGraceWindow = 15 * time.Minute

// Manager owns grace periods and the override ledger under one directory.
type Manager struct {
	dir         string
	lockTimeout time.Duration
}

// New returns a Manager persisting under dir (the CLI uses
// .auto-claude/overrides).
func New(dir string) *Manager {
	return &Manager{dir: dir, lockTimeout: 5 * time.Second}
}

func (m *Manager) gracePath() string   { return filepath.Join(m.dir, "grace_periods.json") }
func (m *Manager) historyPath() string { return filepath.Join(m.dir, "override_history.json") }

// StartGracePeriod records a new grace period for issue, expiring after
// window (DefaultGraceWindow if zero).
func (m *Manager) StartGracePeriod(issue int, triggerLabel, actor string, window time.Duration) (GracePeriod, error) {
	if window <= 0 {
		window = DefaultGraceWindow
	}
	now := time.Now().UTC()
	entry := GracePeriod{
		Issue:        issue,
		TriggerLabel: triggerLabel,
		Actor:        actor,
		TriggeredAt:  now,
		ExpiresAt:    now.Add(window),
	}

	err := lock.WithLock(m.gracePath(), m.lockTimeout, func() error {
		gp, err := m.readGrace()
		if err != nil {
			return err
		}
		gp.Entries[keyFor(issue)] = entry
		return m.writeGrace(gp)
	})
	return entry, err
}

func keyFor(issue int) string { return fmt.Sprintf("%d", issue) }

func (m *Manager) readGrace() (*gracePeriods, error) {
	data, err := readOrEmpty(m.gracePath())
	if err != nil {
		return nil, err
	}
	gp := &gracePeriods{Entries: map[string]GracePeriod{}}
	if len(data) > 0 {
		if err := json.Unmarshal(data, gp); err != nil {
			return nil, fmt.Errorf("override: decode grace periods: %w", err)
		}
	}
	if gp.Entries == nil {
		gp.Entries = map[string]GracePeriod{}
	}
	return gp, nil
}

func (m *Manager) writeGrace(gp *gracePeriods) error {
	data, err := json.MarshalIndent(gp, "", "  ")
	if err != nil {
		return fmt.Errorf("override: encode grace periods: %w", err)
	}
	return lock.AtomicWrite(m.gracePath(), data, 0o644)
}

// GetGracePeriod returns the current grace period entry for issue, if any.
func (m *Manager) GetGracePeriod(issue int) (*GracePeriod, error) {
	gp, err := m.readGrace()
	if err != nil {
		return nil, err
	}
	entry, ok := gp.Entries[keyFor(issue)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// CancelGracePeriod marks issue's grace period cancelled, if it exists and
// hasn't already expired. A cancellation is recorded as an override.
func (m *Manager) CancelGracePeriod(issue int, actor string) error {
	return lock.WithLock(m.gracePath(), m.lockTimeout, func() error {
		gp, err := m.readGrace()
		if err != nil {
			return err
		}
		entry, ok := gp.Entries[keyFor(issue)]
		if !ok {
			return fmt.Errorf("override: no grace period for issue %d", issue)
		}
		if !time.Now().Before(entry.ExpiresAt) {
			return fmt.Errorf("override: grace period for issue %d has expired", issue)
		}
		entry.Cancelled = true
		gp.Entries[keyFor(issue)] = entry
		if err := m.writeGrace(gp); err != nil {
			return err
		}
		return m.appendRecord(Record{
			ID:       uuid.NewString(),
			Type:     CmdCancelAutofix,
			Actor:    actor,
			Issue:    &issue,
			Timestamp: time.Now().UTC(),
		})
	})
}

func (m *Manager) readHistory() (*history, error) {
	data, err := readOrEmpty(m.historyPath())
	if err != nil {
		return nil, err
	}
	h := &history{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, h); err != nil {
			return nil, fmt.Errorf("override: decode history: %w", err)
		}
	}
	return h, nil
}

func (m *Manager) writeHistory(h *history) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("override: encode history: %w", err)
	}
	return lock.AtomicWrite(m.historyPath(), data, 0o644)
}

// appendRecord must be called while already holding a lock on the relevant
// resource chain, or via RecordOverride which takes its own lock.
func (m *Manager) appendRecord(r Record) error {
	h, err := m.readHistory()
	if err != nil {
		return err
	}
	h.Records = append(h.Records, r)
	if len(h.Records) > MaxHistory {
		h.Records = h.Records[len(h.Records)-MaxHistory:]
	}
	return m.writeHistory(h)
}

// RecordOverride appends a new override record to the ledger under lock,
// enforcing the FIFO 1000-entry cap.
func (m *Manager) RecordOverride(r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	err := lock.WithLock(m.historyPath(), m.lockTimeout, func() error {
		return m.appendRecord(r)
	})
	return r, err
}

// errNoHistory is returned by UndoLast when there is nothing to undo.
var errNoHistory = fmt.Errorf("override: no prior override to undo")

// UndoLast finds the most recent override for (issue, pr) and appends a new
// record that inverts it — swapping OriginalState/NewState — linked back to
// the inverted record. It never mutates the original entry.
func (m *Manager) UndoLast(issue, pr *int, actor string) (Record, error) {
	var result Record
	err := lock.WithLock(m.historyPath(), m.lockTimeout, func() error {
		h, err := m.readHistory()
		if err != nil {
			return err
		}
		var target *Record
		for i := len(h.Records) - 1; i >= 0; i-- {
			r := h.Records[i]
			if matchesScope(r, issue, pr) {
				target = &h.Records[i]
				break
			}
		}
		if target == nil {
			return errNoHistory
		}

		inverse := Record{
			ID:            uuid.NewString(),
			Type:          CmdUndoLast,
			Actor:         actor,
			Issue:         target.Issue,
			PRNumber:      target.PRNumber,
			OriginalState: target.NewState,
			NewState:      target.OriginalState,
			Timestamp:     time.Now().UTC(),
			LinkedTo:      target.ID,
		}
		h.Records = append(h.Records, inverse)
		if len(h.Records) > MaxHistory {
			h.Records = h.Records[len(h.Records)-MaxHistory:]
		}
		result = inverse
		return m.writeHistory(h)
	})
	return result, err
}

func matchesScope(r Record, issue, pr *int) bool {
	if issue != nil {
		return r.Issue != nil && *r.Issue == *issue
	}
	if pr != nil {
		return r.PRNumber != nil && *r.PRNumber == *pr
	}
	return false
}

// History returns a copy of all recorded overrides, oldest first.
func (m *Manager) History() ([]Record, error) {
	h, err := m.readHistory()
	if err != nil {
		return nil, err
	}
	return h.Records, nil
}

func readOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("override: read %s: %w", path, err)
	}
	return data, nil
}
