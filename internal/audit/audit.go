// Package audit implements the append-only structured event log described
// in the coordination core: every user-visible action must be
// reconstructable from this ledger alone.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who or what caused an audit event.
type ActorType string

const (
	ActorUser       ActorType = "user"
	ActorBot        ActorType = "bot"
	ActorAutomation ActorType = "automation"
	ActorSystem     ActorType = "system"
	ActorWebhook    ActorType = "webhook"
)

// Result is the terminal or intermediate outcome of an audited action.
type Result string

const (
	ResultStarted Result = "started"
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
	ResultSkipped Result = "skipped"
)

// Entry is one line of the audit log.
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
	Action        string         `json:"action"`
	ActorType     ActorType      `json:"actor_type"`
	Repo          string         `json:"repo,omitempty"`
	PRNumber      *int           `json:"pr_number,omitempty"`
	IssueNumber   *int           `json:"issue_number,omitempty"`
	Result        Result         `json:"result"`
	DurationMS    *int64         `json:"duration_ms,omitempty"`
	Error         string         `json:"error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	TokenUsage    *int64         `json:"token_usage,omitempty"`
}

// Logger writes newline-delimited JSON audit entries, rotating daily and by
// size. Sweep deletes whole log files older than the retention window; it
// runs only when called.
type Logger struct {
	dir           string
	maxBytes      int64
	retention     time.Duration
	mu            sync.Mutex
	currentDate   string
	currentPath   string
	currentWriter *os.File
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxBytes overrides the per-file rotation budget (default 10MiB).
func WithMaxBytes(n int64) Option { return func(l *Logger) { l.maxBytes = n } }

// WithRetention overrides the retention sweep window (default 30 days).
func WithRetention(d time.Duration) Option { return func(l *Logger) { l.retention = d } }

// NewLogger creates a Logger writing under dir (the CLI uses
// .auto-claude/audit).
func NewLogger(dir string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}
	l := &Logger{
		dir:       dir,
		maxBytes:  10 * 1024 * 1024,
		retention: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Logger) pathForToday() string {
	return filepath.Join(l.dir, fmt.Sprintf("audit_%s.jsonl", time.Now().UTC().Format("2006-01-02")))
}

// Log appends a single entry, rotating the current file if it has grown
// past the size budget or the UTC date has rolled over.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}

	if err := l.rotateIfNeeded(); err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.currentWriter.Write(data); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	return l.currentWriter.Sync()
}

func (l *Logger) rotateIfNeeded() error {
	today := time.Now().UTC().Format("2006-01-02")
	path := l.pathForToday()

	needsReopen := l.currentWriter == nil || l.currentDate != today
	if !needsReopen {
		if info, err := l.currentWriter.Stat(); err == nil && info.Size() >= l.maxBytes {
			rotated := filepath.Join(l.dir, fmt.Sprintf("audit_%s-%d.jsonl", today, time.Now().UnixNano()))
			l.currentWriter.Close()
			if err := os.Rename(path, rotated); err != nil {
				return fmt.Errorf("audit: rotate by size: %w", err)
			}
			needsReopen = true
		}
	}

	if !needsReopen {
		return nil
	}
	if l.currentWriter != nil {
		l.currentWriter.Close()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log file: %w", err)
	}
	l.currentWriter = f
	l.currentDate = today
	l.currentPath = path
	return nil
}

// Close flushes and closes the currently open log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentWriter == nil {
		return nil
	}
	err := l.currentWriter.Close()
	l.currentWriter = nil
	return err
}

// Sweep deletes log files whose modification time is older than the
// retention window. Returns the count of files removed.
func (l *Logger) Sweep() (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("audit: read dir: %w", err)
	}
	cutoff := time.Now().Add(-l.retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "audit_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// Query filters criteria for scanning the log.
type Query struct {
	CorrelationID string
	Action        string
	Repo          string
	PRNumber      *int
	IssueNumber   *int
	Since         time.Time
	Until         time.Time
}

// Find scans all audit files (oldest first) and returns entries matching q.
func (l *Logger) Find(q Query) ([]Entry, error) {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("audit: read dir: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if !f.IsDir() && strings.HasPrefix(f.Name(), "audit_") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	var out []Entry
	for _, name := range names {
		f, err := os.Open(filepath.Join(l.dir, name))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var e Entry
			if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
				continue
			}
			if matches(e, q) {
				out = append(out, e)
			}
		}
		f.Close()
	}
	return out, nil
}

func matches(e Entry, q Query) bool {
	if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.Repo != "" && e.Repo != q.Repo {
		return false
	}
	if q.PRNumber != nil && (e.PRNumber == nil || *e.PRNumber != *q.PRNumber) {
		return false
	}
	if q.IssueNumber != nil && (e.IssueNumber == nil || *e.IssueNumber != *q.IssueNumber) {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Operation is an in-flight correlation-scoped unit of work: callers open
// one, emit zero or more events against it, and close it with a terminal
// event so start/success/failure are always paired.
type Operation struct {
	logger        *Logger
	correlationID string
	action        string
	actorType     ActorType
	repo          string
	prNumber      *int
	issueNumber   *int
	startedAt     time.Time
}

// StartOperation opens a new operation context, logging a `started` event
// immediately.
func (l *Logger) StartOperation(action string, actorType ActorType) *Operation {
	op := &Operation{
		logger:        l,
		correlationID: uuid.NewString(),
		action:        action,
		actorType:     actorType,
		startedAt:     time.Now(),
	}
	_ = l.Log(Entry{
		CorrelationID: op.correlationID,
		Action:        action,
		ActorType:     actorType,
		Result:        ResultStarted,
	})
	return op
}

// WithRepo attaches repository context to subsequent events on this operation.
func (op *Operation) WithRepo(repo string) *Operation { op.repo = repo; return op }

// WithPR attaches a PR number to subsequent events on this operation.
func (op *Operation) WithPR(n int) *Operation { op.prNumber = &n; return op }

// WithIssue attaches an issue number to subsequent events on this operation.
func (op *Operation) WithIssue(n int) *Operation { op.issueNumber = &n; return op }

// Event logs an intermediate, non-terminal event tied to this operation.
func (op *Operation) Event(result Result, details map[string]any) {
	_ = op.logger.Log(Entry{
		CorrelationID: op.correlationID,
		Action:        op.action,
		ActorType:     op.actorType,
		Repo:          op.repo,
		PRNumber:      op.prNumber,
		IssueNumber:   op.issueNumber,
		Result:        result,
		Details:       details,
	})
}

// Finish logs the terminal event for this operation along with elapsed
// wall-clock duration.
func (op *Operation) Finish(result Result, errMsg string) {
	elapsed := time.Since(op.startedAt).Milliseconds()
	_ = op.logger.Log(Entry{
		CorrelationID: op.correlationID,
		Action:        op.action,
		ActorType:     op.actorType,
		Repo:          op.repo,
		PRNumber:      op.prNumber,
		IssueNumber:   op.issueNumber,
		Result:        result,
		DurationMS:    &elapsed,
		Error:         errMsg,
	})
}

// CorrelationID returns the operation's correlation id, for propagation into
// downstream calls (e.g. the review orchestrator tagging its state file).
func (op *Operation) CorrelationID() string { return op.correlationID }

// WithOperation wraps fn with a started/success/failure audit pair,
// capturing elapsed time even when fn panics by re-raising after logging.
func (l *Logger) WithOperation(ctx context.Context, action string, actorType ActorType, fn func(op *Operation) error) (err error) {
	op := l.StartOperation(action, actorType)
	defer func() {
		if r := recover(); r != nil {
			op.Finish(ResultFailure, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()
	err = fn(op)
	if err != nil {
		op.Finish(ResultFailure, err.Error())
		return err
	}
	op.Finish(ResultSuccess, "")
	return nil
}
