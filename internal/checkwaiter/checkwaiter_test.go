package checkwaiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclaude/internal/ghclient"
)

type fakeFetcher struct {
	mu        sync.Mutex
	pr        *ghclient.PRInfo
	checks    []ghclient.CheckRun
	comments  []ghclient.IssueComment
	pollCount int
	onPoll    func(n int)
}

func (f *fakeFetcher) GetPR(ctx context.Context, number int) (*ghclient.PRInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if f.onPoll != nil {
		f.onPoll(f.pollCount)
	}
	cp := *f.pr
	return &cp, nil
}

func (f *fakeFetcher) ListChecks(ctx context.Context, ref string) ([]ghclient.CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ghclient.CheckRun, len(f.checks))
	copy(out, f.checks)
	return out, nil
}

func (f *fakeFetcher) ListIssueComments(ctx context.Context, number int) ([]ghclient.IssueComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ghclient.IssueComment, len(f.comments))
	copy(out, f.comments)
	return out, nil
}

func baseConfig() Config {
	return Config{
		CITimeout:        200 * time.Millisecond,
		BotTimeout:       100 * time.Millisecond,
		BasePollInterval: 5 * time.Millisecond,
		BackoffBase:      5 * time.Millisecond,
		BackoffCap:       20 * time.Millisecond,
	}
}

func TestWait_SucceedsWhenAllChecksPassAndNoBots(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultSuccess, res.Result)
	assert.Equal(t, "sha1", res.FinalHeadSHA)
}

func TestWait_CIFailureReturnsFailures(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "failure"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultCIFailed, res.Result)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "build", res.Failures[0].Name)
}

func TestWait_CITimeoutWhenChecksNeverComplete(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Status: "in_progress"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultCITimeout, res.Result)
}

func TestWait_PRClosedReturnsImmediately(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "closed", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultPRClosed, res.Result)
}

func TestWait_PRMergedReturnsImmediately(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "closed", Merged: true, HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultPRMerged, res.Result)
}

func TestWait_ForcePushDetected(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha-new"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	w := New(f, baseConfig())
	res := w.Wait(context.Background(), 1, nil, "sha-old")
	assert.Equal(t, ResultForcePush, res.Result)
	assert.Equal(t, "sha-new", res.FinalHeadSHA)
}

func TestWait_BotTimeoutProceedsAsSuccess(t *testing.T) {
	f := &fakeFetcher{
		pr:       &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks:   []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
		comments: nil,
	}
	cfg := baseConfig()
	cfg.BotTimeout = 15 * time.Millisecond
	w := New(f, cfg)
	res := w.Wait(context.Background(), 1, []string{"review-bot"}, "sha1")
	assert.Equal(t, ResultSuccess, res.Result)
	assert.True(t, res.BotTimedOut)
}

func TestWait_WaitsForBotCommentThenSucceeds(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Conclusion: "success"}},
	}
	// onPoll runs inside GetPR, which already holds f.mu.
	f.onPoll = func(n int) {
		if n >= 3 {
			f.comments = []ghclient.IssueComment{{Author: "review-bot", CreatedAt: time.Now()}}
		}
	}
	cfg := baseConfig()
	cfg.BotTimeout = 500 * time.Millisecond
	w := New(f, cfg)
	res := w.Wait(context.Background(), 1, []string{"review-bot"}, "sha1")
	assert.Equal(t, ResultSuccess, res.Result)
	assert.False(t, res.BotTimedOut)
}

func TestWait_CancelStopsLoop(t *testing.T) {
	f := &fakeFetcher{
		pr:     &ghclient.PRInfo{Number: 1, State: "open", HeadSHA: "sha1"},
		checks: []ghclient.CheckRun{{Name: "build", Status: "in_progress"}},
	}
	cfg := baseConfig()
	cfg.CITimeout = time.Hour
	w := New(f, cfg)

	go func() {
		time.Sleep(20 * time.Millisecond)
		w.Cancel()
	}()

	res := w.Wait(context.Background(), 1, nil, "sha1")
	assert.Equal(t, ResultCancelled, res.Result)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	d := backoffDelay(10*time.Millisecond, 40*time.Millisecond, 10)
	assert.Equal(t, 40*time.Millisecond, d)
}

func TestClassifyCheckRun_LegacyStatusAPI(t *testing.T) {
	cs := classifyCheckRun(ghclient.CheckRun{Name: "ci/legacy", State: "success"})
	assert.Equal(t, StatusPassed, cs.Status)
}
