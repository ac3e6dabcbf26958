package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"autoclaude/internal/lock"
)

// Approval is the human-review checkpoint record: an approval of the plan
// is bound to a hash of the plan at approval time, so any later edit to the
// plan invalidates it (spec.md §4.5.4).
type Approval struct {
	PlanHash   string    `json:"plan_hash"`
	ApprovedBy string    `json:"approved_by"`
	ApprovedAt time.Time `json:"approved_at"`
	Bypassed   bool      `json:"bypassed,omitempty"`
}

const approvalFileName = "human_review_approval.json"

func approvalPath(specDir string) string {
	return filepath.Join(specDir, approvalFileName)
}

func planHash(specDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(specDir, "implementation_plan.json"))
	if err != nil {
		return "", fmt.Errorf("pipeline: hash plan: %w", err)
	}
	// Hash the canonical decode/re-encode, not the raw bytes, so
	// inconsequential whitespace differences between writers never change
	// the hash.
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("pipeline: hash plan: malformed JSON: %w", err)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("pipeline: hash plan: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Approve records an approval of the plan currently on disk, bound to its
// hash at this instant.
func Approve(specDir, approvedBy string) (*Approval, error) {
	hash, err := planHash(specDir)
	if err != nil {
		return nil, err
	}
	approval := &Approval{PlanHash: hash, ApprovedBy: approvedBy, ApprovedAt: time.Now().UTC()}
	encoded, err := json.MarshalIndent(approval, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode approval: %w", err)
	}
	if err := lock.AtomicWrite(approvalPath(specDir), encoded, 0o644); err != nil {
		return nil, fmt.Errorf("pipeline: write approval: %w", err)
	}
	return approval, nil
}

// ApprovalStatus reports whether a build may consume the plan.
type ApprovalStatus int

const (
	ApprovalMissing ApprovalStatus = iota
	ApprovalValid
	ApprovalStalePlanChanged
)

// CheckApproval reads the approval record (if any) and compares its bound
// hash against the plan currently on disk.
func CheckApproval(specDir string) (ApprovalStatus, *Approval, error) {
	data, err := os.ReadFile(approvalPath(specDir))
	if os.IsNotExist(err) {
		return ApprovalMissing, nil, nil
	}
	if err != nil {
		return ApprovalMissing, nil, fmt.Errorf("pipeline: read approval: %w", err)
	}
	var approval Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		return ApprovalMissing, nil, fmt.Errorf("pipeline: decode approval: %w", err)
	}

	currentHash, err := planHash(specDir)
	if err != nil {
		return ApprovalMissing, &approval, err
	}
	if currentHash != approval.PlanHash {
		return ApprovalStalePlanChanged, &approval, nil
	}
	return ApprovalValid, &approval, nil
}

// ErrApprovalRequired is returned by RequireApproval when the plan has not
// been validly approved and bypass was not requested.
type ErrApprovalRequired struct {
	Status ApprovalStatus
}

func (e *ErrApprovalRequired) Error() string {
	switch e.Status {
	case ApprovalStalePlanChanged:
		return "pipeline: plan was modified after approval; re-approval required"
	default:
		return "pipeline: plan has not been approved"
	}
}

// RequireApproval gates a build on a valid approval. bypass, when true,
// lets the build proceed regardless of approval state — the caller is
// responsible for recording the bypass as an audit event, per spec.md's
// "bypassable only with an audited flag".
func RequireApproval(specDir string, bypass bool) error {
	if bypass {
		return nil
	}
	status, _, err := CheckApproval(specDir)
	if err != nil {
		return err
	}
	if status != ApprovalValid {
		return &ErrApprovalRequired{Status: status}
	}
	return nil
}
