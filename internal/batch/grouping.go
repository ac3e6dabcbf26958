package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"autoclaude/internal/agent"
)

// DefaultMaxBatchSize and DefaultMinBatchSize are the grouping bounds spec'd
// for AI group-per-bucket and split-validation respectively.
const (
	DefaultMaxBatchSize = 5
	DefaultMinBatchSize = 2
)

// Grouper turns pre-grouped buckets into proposed batches via an LLM call
// per non-singleton bucket, then validates (and splits) each proposal.
type Grouper struct {
	Agent        agent.Client
	Model        string
	MaxBatchSize int
	MinBatchSize int
}

// NewGrouper returns a Grouper with spec defaults for batch size bounds.
func NewGrouper(a agent.Client, model string) *Grouper {
	return &Grouper{Agent: a, Model: model, MaxBatchSize: DefaultMaxBatchSize, MinBatchSize: DefaultMinBatchSize}
}

type aiBatchProposal struct {
	Theme        string  `json:"theme"`
	Reasoning    string  `json:"reasoning"`
	Confidence   float64 `json:"confidence"`
	IssueNumbers []int   `json:"issue_numbers"`
}

type aiGroupResponse struct {
	Batches []aiBatchProposal `json:"batches"`
}

// GroupBucket asks the agent to partition one non-singleton bucket into
// proposed batches of at most MaxBatchSize issues each; the proposals are
// returned as the agent gave them, and their sizes are not checked. A singleton bucket (len == 1) never reaches
// here — callers should turn it directly into a single-item batch.
func (g *Grouper) GroupBucket(ctx context.Context, bucketName string, issues []Issue) ([]aiBatchProposal, error) {
	resp, err := g.Agent.Run(ctx, agent.Request{
		Phase:  "batch_grouping",
		Model:  g.Model,
		Prompt: groupingPrompt(bucketName, issues, g.MaxBatchSize),
	})
	if err != nil {
		return nil, fmt.Errorf("batch: group bucket %q: %w", bucketName, err)
	}

	var parsed aiGroupResponse
	if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
		return nil, fmt.Errorf("batch: group bucket %q: malformed response: %w", bucketName, err)
	}
	return parsed.Batches, nil
}

func groupingPrompt(bucketName string, issues []Issue, maxBatchSize int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Partition these %q-bucket issues into batches of at most %d issues each, where each batch addresses a single cohesive PR.\n\n", bucketName, maxBatchSize)
	for _, issue := range issues {
		fmt.Fprintf(&sb, "- #%d: %s\n", issue.Number, issue.Title)
	}
	sb.WriteString("\nRespond as JSON: {\"batches\": [{\"theme\": \"...\", \"reasoning\": \"...\", \"confidence\": 0.0-1.0, \"issue_numbers\": [...]}]}\n")
	sb.WriteString("Every issue number must appear in exactly one batch.\n")
	return sb.String()
}

// Validate asks the AI validator to judge a proposed batch, per spec's
// (is_valid, confidence, reasoning, suggested_splits, common_theme) shape.
func (g *Grouper) Validate(ctx context.Context, issues []Issue) (Validation, error) {
	resp, err := g.Agent.Run(ctx, agent.Request{
		Phase:  "batch_validation",
		Model:  g.Model,
		Prompt: validationPrompt(issues, g.MinBatchSize),
	})
	if err != nil {
		return Validation{}, fmt.Errorf("batch: validate: %w", err)
	}

	var v Validation
	if err := json.Unmarshal([]byte(resp.Text), &v); err != nil {
		return Validation{}, fmt.Errorf("batch: validate: malformed response: %w", err)
	}
	return v, nil
}

func validationPrompt(issues []Issue, minBatchSize int) string {
	var sb strings.Builder
	sb.WriteString("Judge whether these issues truly belong in one batch addressed by a single PR:\n\n")
	for _, issue := range issues {
		fmt.Fprintf(&sb, "- #%d: %s\n", issue.Number, issue.Title)
	}
	fmt.Fprintf(&sb, "\nIf not, suggest how to split them into sub-batches of at least %d issues each.\n", minBatchSize)
	sb.WriteString("Respond as JSON: {\"is_valid\": bool, \"confidence\": 0.0-1.0, \"reasoning\": \"...\", \"suggested_splits\": [[issue_numbers...]], \"common_theme\": \"...\"}\n")
	return sb.String()
}
