package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"autoclaude/internal/lock"
)

// Store persists batches and the issue→batch index under one directory,
// the same locked-JSON-file-per-entity shape review.State uses for PRs.
type Store struct {
	dir         string
	lockTimeout time.Duration
}

// NewStore returns a Store persisting under dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, lockTimeout: 5 * time.Second}
}

func (s *Store) batchPath(batchID string) string {
	return filepath.Join(s.dir, "batches", batchID+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "batch_index.json")
}

type index struct {
	IssueToBatch map[string]string `json:"issue_to_batch"`
}

// ErrAlreadyBatched is returned when an issue already belongs to a batch;
// insertion into a batch is exclusive.
type ErrAlreadyBatched struct {
	IssueNumber int
	BatchID     string
}

func (e *ErrAlreadyBatched) Error() string {
	return fmt.Sprintf("batch: issue #%d already belongs to batch %s", e.IssueNumber, e.BatchID)
}

// Create persists a new batch and claims each of its issues in the index
// exclusively, failing the whole operation if any issue is already claimed.
func (s *Store) Create(items []Item, repo string, primaryIssue int) (*Batch, error) {
	b := &Batch{
		BatchID:      uuid.NewString(),
		Repo:         repo,
		PrimaryIssue: primaryIssue,
		Items:        items,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	var idx index
	err := lock.LockedJSONUpdate(s.indexPath(), s.lockTimeout, &idx, func() (any, error) {
		if idx.IssueToBatch == nil {
			idx.IssueToBatch = map[string]string{}
		}
		for _, item := range b.Items {
			key := issueKey(item.IssueNumber)
			if existing, ok := idx.IssueToBatch[key]; ok {
				return nil, &ErrAlreadyBatched{IssueNumber: item.IssueNumber, BatchID: existing}
			}
		}
		for _, item := range b.Items {
			idx.IssueToBatch[issueKey(item.IssueNumber)] = b.BatchID
		}
		return idx, nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.save(b); err != nil {
		return nil, err
	}
	return b, nil
}

func issueKey(n int) string { return fmt.Sprintf("%d", n) }

func (s *Store) save(b *Batch) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("batch: encode %s: %w", b.BatchID, err)
	}
	return lock.AtomicWrite(s.batchPath(b.BatchID), data, 0o644)
}

// UpdateStatus transitions b to status and persists it. Terminal statuses
// are write-once: re-updating a terminal batch returns an error.
func (s *Store) UpdateStatus(b *Batch, status Status) error {
	if b.Status.IsTerminal() {
		return fmt.Errorf("batch: %s: status %q is terminal, cannot transition to %q", b.BatchID, b.Status, status)
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	return s.save(b)
}

// Load reads a persisted batch by id.
func (s *Store) Load(batchID string) (*Batch, error) {
	data, err := os.ReadFile(s.batchPath(batchID))
	if err != nil {
		return nil, fmt.Errorf("batch: load %s: %w", batchID, err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("batch: decode %s: %w", batchID, err)
	}
	return &b, nil
}

// BatchForIssue returns the batch id an issue currently belongs to, if any.
func (s *Store) BatchForIssue(issueNumber int) (string, bool, error) {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("batch: read index: %w", err)
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", false, fmt.Errorf("batch: decode index: %w", err)
	}
	id, ok := idx.IssueToBatch[issueKey(issueNumber)]
	return id, ok, nil
}
