package batch

import (
	"context"
	"fmt"
)

// BuildBatches runs the full two-phase grouping pipeline: cheap pre-group,
// then AI group-per-bucket with validation-and-split, then persistence.
// Returns every batch created, in no particular order.
func BuildBatches(ctx context.Context, grouper *Grouper, store *Store, repo string, issues []Issue) ([]*Batch, error) {
	byNumber := make(map[int]Issue, len(issues))
	for _, issue := range issues {
		byNumber[issue.Number] = issue
	}

	buckets := Pregroup(issues)

	var created []*Batch
	for bucketName, bucketIssues := range buckets {
		if len(bucketIssues) == 1 {
			b, err := persistSingleBatch(store, repo, bucketIssues[0])
			if err != nil {
				return created, err
			}
			created = append(created, b)
			continue
		}

		proposals, err := grouper.GroupBucket(ctx, bucketName, bucketIssues)
		if err != nil {
			return created, fmt.Errorf("batch: group bucket: %w", err)
		}

		for _, proposal := range proposals {
			proposalIssues := resolveIssues(byNumber, proposal.IssueNumbers)
			batches, err := validateAndSplit(ctx, grouper, proposalIssues, proposal)
			if err != nil {
				return created, err
			}
			for _, group := range batches {
				b, err := persistBatch(store, repo, group.issues, group.validation)
				if err != nil {
					return created, err
				}
				created = append(created, b)
			}
		}
	}
	return created, nil
}

type validatedGroup struct {
	issues     []Issue
	validation *Validation
}

// validateAndSplit runs the AI validator on a proposed multi-item batch. An
// invalid verdict replaces it with its suggested sub-batches (each ≥
// MinBatchSize), or singleton batches if no split was suggested.
func validateAndSplit(ctx context.Context, grouper *Grouper, issues []Issue, proposal aiBatchProposal) ([]validatedGroup, error) {
	if len(issues) <= 1 {
		return []validatedGroup{{issues: issues}}, nil
	}

	v, err := grouper.Validate(ctx, issues)
	if err != nil {
		return nil, err
	}
	if v.CommonTheme == "" {
		v.CommonTheme = proposal.Theme
	}

	if v.IsValid {
		return []validatedGroup{{issues: issues, validation: &v}}, nil
	}

	if len(v.SuggestedSplits) == 0 {
		groups := make([]validatedGroup, 0, len(issues))
		for _, issue := range issues {
			groups = append(groups, validatedGroup{issues: []Issue{issue}})
		}
		return groups, nil
	}

	byNumber := make(map[int]Issue, len(issues))
	for _, issue := range issues {
		byNumber[issue.Number] = issue
	}

	var groups []validatedGroup
	for _, split := range v.SuggestedSplits {
		splitIssues := resolveIssues(byNumber, split)
		if len(splitIssues) < grouper.MinBatchSize {
			for _, issue := range splitIssues {
				groups = append(groups, validatedGroup{issues: []Issue{issue}})
			}
			continue
		}
		groups = append(groups, validatedGroup{issues: splitIssues})
	}
	return groups, nil
}

func resolveIssues(byNumber map[int]Issue, numbers []int) []Issue {
	out := make([]Issue, 0, len(numbers))
	for _, n := range numbers {
		if issue, ok := byNumber[n]; ok {
			out = append(out, issue)
		}
	}
	return out
}

func persistSingleBatch(store *Store, repo string, issue Issue) (*Batch, error) {
	return persistBatch(store, repo, []Issue{issue}, nil)
}

func persistBatch(store *Store, repo string, issues []Issue, validation *Validation) (*Batch, error) {
	if len(issues) == 0 {
		return nil, fmt.Errorf("batch: cannot persist an empty batch")
	}
	items := make([]Item, len(issues))
	for i, issue := range issues {
		items[i] = Item{IssueNumber: issue.Number, Title: issue.Title, Body: issue.Body, Labels: issue.Labels}
	}
	b, err := store.Create(items, repo, issues[0].Number)
	if err != nil {
		return nil, err
	}
	if validation != nil {
		b.Validation = validation
		b.CommonThemes = []string{validation.CommonTheme}
		if err := store.save(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}
