package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/audit"
	"autoclaude/internal/botdetect"
	"autoclaude/internal/checkwaiter"
	"autoclaude/internal/ghclient"
	"autoclaude/internal/override"
)

type fakeFetcher struct {
	pr     *ghclient.PRInfo
	checks []ghclient.CheckRun
}

func (f *fakeFetcher) GetPR(ctx context.Context, number int) (*ghclient.PRInfo, error) {
	cp := *f.pr
	return &cp, nil
}
func (f *fakeFetcher) ListChecks(ctx context.Context, ref string) ([]ghclient.CheckRun, error) {
	return f.checks, nil
}
func (f *fakeFetcher) ListIssueComments(ctx context.Context, number int) ([]ghclient.IssueComment, error) {
	return nil, nil
}

type fakeReviewer struct{ findings []Finding }

func (r *fakeReviewer) Review(ctx context.Context, s *State) ([]Finding, error) {
	return r.findings, nil
}

type fakeFixer struct{ fail bool }

func (fx *fakeFixer) Fix(ctx context.Context, s *State, f Finding) (AppliedFix, error) {
	return AppliedFix{FixID: f.ID + "-fix", FindingID: f.ID, FilePath: f.FilePath, Success: !fx.fail}, nil
}

func newTestOrchestrator(t *testing.T, fetcher *fakeFetcher, reviewer Reviewer, fixer Fixer) (*Orchestrator, *Store) {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(dir)
	waiter := checkwaiter.New(fetcher, checkwaiter.Config{})
	detector := botdetect.New(dir, "auto-claude-bot")
	overrides := override.New(dir)
	logger, err := audit.NewLogger(dir)
	require.NoError(t, err)

	return NewOrchestrator(Deps{
		Store:     store,
		Waiter:    waiter,
		Detector:  detector,
		Overrides: overrides,
		Audit:     logger,
		Reviewer:  reviewer,
		Fixer:     fixer,
	}), store
}

func TestOrchestrator_NoFindingsReachesReadyToMerge(t *testing.T) {
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 10, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	o, _ := newTestOrchestrator(t, fetcher, &fakeReviewer{}, &fakeFixer{})

	_, err := o.Start(10, "acme/widgets", "https://example.invalid/pull/10", "auto-claude/fix-10", "alice", nil)
	require.NoError(t, err)

	final, err := o.Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToMerge, final.Status)
}

func TestOrchestrator_FindingsGetFixedThenRechecked(t *testing.T) {
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 11, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	reviewer := &fakeReviewer{findings: []Finding{{ID: "f1", FilePath: "a.go", Description: "bug"}}}
	o, store := newTestOrchestrator(t, fetcher, reviewer, &fakeFixer{})

	_, err := o.Start(11, "acme/widgets", "https://example.invalid/pull/11", "auto-claude/fix-11", "alice", nil)
	require.NoError(t, err)

	final, err := o.Run(context.Background(), 11)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusReadyToMerge, StatusMaxIterationsReached}, final.Status)

	loaded, err := store.Load(11)
	require.NoError(t, err)
	require.NotEmpty(t, loaded.AppliedFixes)
	assert.True(t, loaded.AppliedFixes[0].Success)
}

func TestOrchestrator_BotAuthoredPRSkipsStraightToReadyToMerge(t *testing.T) {
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 12, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	o, _ := newTestOrchestrator(t, fetcher, &fakeReviewer{}, &fakeFixer{})

	_, err := o.Start(12, "acme/widgets", "https://example.invalid/pull/12", "auto-claude/fix-12", "auto-claude-bot", nil)
	require.NoError(t, err)

	final, err := o.Run(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, StatusReadyToMerge, final.Status)
}

func TestOrchestrator_CIFailureSeedsFindingsForFixerDirectly(t *testing.T) {
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 14, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "failure"}},
	}
	o, store := newTestOrchestrator(t, fetcher, &fakeReviewer{}, &fakeFixer{})

	_, err := o.Start(14, "acme/widgets", "u", "b", "alice", nil)
	require.NoError(t, err)

	final, err := o.Run(context.Background(), 14)
	require.NoError(t, err)
	assert.Contains(t, []Status{StatusReadyToMerge, StatusMaxIterationsReached}, final.Status)

	loaded, err := store.Load(14)
	require.NoError(t, err)
	require.NotEmpty(t, loaded.AppliedFixes, "CI failure should be fixed without going through Reviewer")
}

type denyAll struct{}

func (denyAll) IsAuthorized(string) bool { return false }

func TestOrchestrator_UnauthorizedTriggerFailsOrchestration(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 15, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	waiter := checkwaiter.New(fetcher, checkwaiter.Config{})
	detector := botdetect.New(dir, "auto-claude-bot")
	logger, err := audit.NewLogger(dir)
	require.NoError(t, err)

	o := NewOrchestrator(Deps{
		Store:      store,
		Waiter:     waiter,
		Detector:   detector,
		Overrides:  override.New(dir),
		Audit:      logger,
		Reviewer:   &fakeReviewer{},
		Fixer:      &fakeFixer{},
		Authorizer: denyAll{},
	})

	_, err = o.Start(15, "acme/widgets", "u", "b", "mallory", nil)
	require.NoError(t, err)

	final, err := o.Run(context.Background(), 15)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
}

func TestSemaphore_LimitsConcurrency(t *testing.T) {
	sem := NewSemaphore(1)
	ctx := context.Background()
	require.NoError(t, sem.Acquire(ctx))

	released := make(chan struct{})
	go func() {
		sem.Release()
		close(released)
	}()
	<-released

	require.NoError(t, sem.Acquire(ctx))
	sem.Release()
}

func TestOrchestrator_StartIsIdempotentForActiveReview(t *testing.T) {
	fetcher := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 13, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Status: "in_progress"}},
	}
	o, _ := newTestOrchestrator(t, fetcher, &fakeReviewer{}, &fakeFixer{})

	first, err := o.Start(13, "acme/widgets", "u", "b", "alice", nil)
	require.NoError(t, err)

	second, err := o.Start(13, "acme/widgets", "u", "b", "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
}
