// Package checkwaiter polls the VCS until all CI checks and expected bot
// comments have concluded, or a timeout elapses, applying exponential
// backoff and a circuit breaker over the underlying API calls.
package checkwaiter

import (
	"context"
	"fmt"
	"time"

	"autoclaude/internal/breaker"
	"autoclaude/internal/ghclient"
)

// Result is the terminal classification of a wait loop.
type Result string

const (
	ResultSuccess     Result = "success"
	ResultCIFailed    Result = "ci_failed"
	ResultCITimeout   Result = "ci_timeout"
	ResultPRClosed    Result = "pr_closed"
	ResultPRMerged    Result = "pr_merged"
	ResultForcePush   Result = "force_push"
	ResultCircuitOpen Result = "circuit_open"
	ResultCancelled   Result = "cancelled"
)

// CheckStatus normalizes CI/bot status across GitHub's overlapping APIs.
type CheckStatus string

const (
	StatusPassed   CheckStatus = "passed"
	StatusFailed   CheckStatus = "failed"
	StatusPending  CheckStatus = "pending"
	StatusRunning  CheckStatus = "running"
	StatusSkipped  CheckStatus = "skipped"
	StatusTimedOut CheckStatus = "timed_out"
	StatusUnknown  CheckStatus = "unknown"
)

// CheckSnapshot is the classified state of one CI check at poll time.
type CheckSnapshot struct {
	Name   string
	Status CheckStatus
}

// BotSnapshot is the classified state of one expected bot comment.
type BotSnapshot struct {
	Name   string
	Status CheckStatus
}

// Config tunes the wait loop. Zero values fall back to the documented
// defaults.
type Config struct {
	CITimeout          time.Duration // default 30m
	BotTimeout         time.Duration // default 15m
	BasePollInterval   time.Duration // default 15s
	BackoffBase        time.Duration // default 15s
	BackoffCap         time.Duration // default 120s
	BreakerThreshold   int           // default 3
	BreakerResetWindow time.Duration // default 5m
}

func (c Config) withDefaults() Config {
	if c.CITimeout == 0 {
		c.CITimeout = 30 * time.Minute
	}
	if c.BotTimeout == 0 {
		c.BotTimeout = 15 * time.Minute
	}
	if c.BasePollInterval == 0 {
		c.BasePollInterval = 15 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 15 * time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 120 * time.Second
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = 3
	}
	if c.BreakerResetWindow == 0 {
		c.BreakerResetWindow = 5 * time.Minute
	}
	return c
}

// PRStatusFetcher is the narrow surface the waiter needs from the VCS
// client — factored out as an interface so tests can inject a fake without
// standing up a real GitHub client.
type PRStatusFetcher interface {
	GetPR(ctx context.Context, number int) (*ghclient.PRInfo, error)
	ListChecks(ctx context.Context, ref string) ([]ghclient.CheckRun, error)
	ListIssueComments(ctx context.Context, number int) ([]ghclient.IssueComment, error)
}

// Failure is one unresolved check recorded in the final result.
type Failure struct {
	Name   string
	Reason string
}

// WaitResult bundles the outcome of one wait_for_all_checks invocation.
type WaitResult struct {
	Result        Result
	CIChecks      []CheckSnapshot
	BotStatuses   []BotSnapshot
	Failures      []Failure
	ElapsedSeconds float64
	PollCount     int
	FinalHeadSHA  string
	PRState       string
	ErrorMessage  string
	BotTimedOut   bool
}

// Waiter drives one wait loop; it is not safe to reuse concurrently across
// two different PRs, matching the per-instance circuit breaker design.
type Waiter struct {
	client  PRStatusFetcher
	cfg     Config
	breaker *breaker.Breaker
	cancel  chan struct{}
}

// New returns a Waiter polling via client.
func New(client PRStatusFetcher, cfg Config) *Waiter {
	cfg = cfg.withDefaults()
	return &Waiter{
		client:  client,
		cfg:     cfg,
		breaker: breaker.New(cfg.BreakerThreshold, cfg.BreakerResetWindow),
		cancel:  make(chan struct{}),
	}
}

// Cancel wakes a sleeping wait loop and causes the next iteration to return
// ResultCancelled.
func (w *Waiter) Cancel() {
	select {
	case <-w.cancel:
	default:
		close(w.cancel)
	}
}

func classifyCheckRun(c ghclient.CheckRun) CheckSnapshot {
	status := StatusUnknown
	switch c.Conclusion {
	case "success":
		status = StatusPassed
	case "failure", "cancelled", "action_required":
		status = StatusFailed
	case "neutral", "skipped":
		status = StatusSkipped
	case "timed_out":
		status = StatusTimedOut
	case "":
		switch c.Status {
		case "queued", "in_progress":
			status = StatusRunning
		case "completed":
			status = StatusPassed
		default:
			switch c.State {
			case "success":
				status = StatusPassed
			case "pending":
				status = StatusPending
			case "failure", "error":
				status = StatusFailed
			default:
				status = StatusPending
			}
		}
	}
	name := c.Name
	return CheckSnapshot{Name: name, Status: status}
}

func (w *Waiter) fetchCIChecks(ctx context.Context, ref string) ([]CheckSnapshot, error) {
	runs, err := w.client.ListChecks(ctx, ref)
	if err != nil {
		return nil, err
	}
	out := make([]CheckSnapshot, 0, len(runs))
	for _, r := range runs {
		out = append(out, classifyCheckRun(r))
	}
	return out, nil
}

func (w *Waiter) fetchBotStatuses(ctx context.Context, prNumber int, expectedBots []string, sinceLastCheck time.Time) ([]BotSnapshot, error) {
	if len(expectedBots) == 0 {
		return nil, nil
	}
	comments, err := w.client.ListIssueComments(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	commented := map[string]bool{}
	for _, c := range comments {
		if !c.CreatedAt.Before(sinceLastCheck) {
			commented[c.Author] = true
		}
	}

	out := make([]BotSnapshot, 0, len(expectedBots))
	for _, bot := range expectedBots {
		status := StatusPending
		if commented[bot] {
			status = StatusPassed
		}
		out = append(out, BotSnapshot{Name: bot, Status: status})
	}
	return out, nil
}

func allCIComplete(checks []CheckSnapshot) bool {
	for _, c := range checks {
		if c.Status == StatusPending || c.Status == StatusRunning {
			return false
		}
	}
	return true
}

func anyCIFailed(checks []CheckSnapshot) bool {
	for _, c := range checks {
		if c.Status == StatusFailed || c.Status == StatusTimedOut {
			return true
		}
	}
	return false
}

func allBotsResponded(bots []BotSnapshot) bool {
	for _, b := range bots {
		if b.Status == StatusPending {
			return false
		}
	}
	return true
}

func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Wait polls until all CI checks complete and all expected bots have
// responded (or the bot timeout elapses, which is informational-only and
// does not fail the wait), or a terminal condition (closed/merged,
// force-push, circuit-open, CI timeout, cancellation) is hit.
func (w *Waiter) Wait(ctx context.Context, prNumber int, expectedBots []string, initialHeadSHA string) WaitResult {
	start := time.Now()
	ciStart := start
	var botStart time.Time
	ciCompleted := false
	botsResponded := len(expectedBots) == 0
	attempt := 0
	failStreak := 0
	currentHeadSHA := initialHeadSHA
	prState := "open"
	var ciChecks []CheckSnapshot
	var botStatuses []BotSnapshot
	var lastBotPoll time.Time

	for {
		select {
		case <-w.cancel:
			return WaitResult{Result: ResultCancelled, CIChecks: ciChecks, BotStatuses: botStatuses, PollCount: attempt, ElapsedSeconds: time.Since(start).Seconds()}
		case <-ctx.Done():
			return WaitResult{Result: ResultCancelled, CIChecks: ciChecks, BotStatuses: botStatuses, PollCount: attempt, ElapsedSeconds: time.Since(start).Seconds(), ErrorMessage: ctx.Err().Error()}
		default:
		}

		if !ciCompleted && time.Since(ciStart) >= w.cfg.CITimeout {
			return WaitResult{
				Result:         ResultCITimeout,
				CIChecks:       ciChecks,
				BotStatuses:    botStatuses,
				Failures:       []Failure{{Name: "ci_timeout", Reason: fmt.Sprintf("CI did not complete within %s", w.cfg.CITimeout)}},
				ElapsedSeconds: time.Since(start).Seconds(),
				PollCount:      attempt,
				FinalHeadSHA:   currentHeadSHA,
				PRState:        prState,
			}
		}
		if ciCompleted && !botsResponded && !botStart.IsZero() && time.Since(botStart) >= w.cfg.BotTimeout {
			// Bot timeout is informational-only: proceed anyway.
			return w.finish(ResultSuccess, ciChecks, botStatuses, start, attempt, currentHeadSHA, prState, true)
		}

		err := w.breaker.Allow()
		if err != nil {
			return WaitResult{
				Result:         ResultCircuitOpen,
				CIChecks:       ciChecks,
				BotStatuses:    botStatuses,
				ElapsedSeconds: time.Since(start).Seconds(),
				PollCount:      attempt,
				PRState:        prState,
				ErrorMessage:   err.Error(),
			}
		}

		pr, pollErr := w.client.GetPR(ctx, prNumber)
		if pollErr != nil {
			w.breaker.RecordFailure()
			attempt++
			failStreak++
			if !w.sleepBackoff(ctx, failStreak) {
				return WaitResult{Result: ResultCancelled, CIChecks: ciChecks, BotStatuses: botStatuses, PollCount: attempt, ElapsedSeconds: time.Since(start).Seconds()}
			}
			continue
		}
		w.breaker.RecordSuccess()
		failStreak = 0
		prState = pr.State
		if pr.Merged {
			return WaitResult{Result: ResultPRMerged, CIChecks: ciChecks, BotStatuses: botStatuses, ElapsedSeconds: time.Since(start).Seconds(), PollCount: attempt, PRState: "merged", ErrorMessage: "PR was merged during wait"}
		}
		if pr.State == "closed" {
			return WaitResult{Result: ResultPRClosed, CIChecks: ciChecks, BotStatuses: botStatuses, ElapsedSeconds: time.Since(start).Seconds(), PollCount: attempt, PRState: "closed", ErrorMessage: "PR was closed during wait"}
		}
		if initialHeadSHA != "" && pr.HeadSHA != "" && pr.HeadSHA != currentHeadSHA {
			old := currentHeadSHA
			return WaitResult{
				Result:         ResultForcePush,
				CIChecks:       ciChecks,
				BotStatuses:    botStatuses,
				ElapsedSeconds: time.Since(start).Seconds(),
				PollCount:      attempt,
				FinalHeadSHA:   pr.HeadSHA,
				PRState:        prState,
				ErrorMessage:   fmt.Sprintf("force push detected: %s -> %s", old, pr.HeadSHA),
			}
		}
		currentHeadSHA = pr.HeadSHA

		checks, checksErr := w.fetchCIChecks(ctx, currentHeadSHA)
		if checksErr == nil {
			ciChecks = checks
		}

		if !ciCompleted && allCIComplete(ciChecks) {
			ciCompleted = true
			botStart = time.Now()
			lastBotPoll = time.Time{}
		}

		if ciCompleted && len(expectedBots) > 0 {
			bots, botErr := w.fetchBotStatuses(ctx, prNumber, expectedBots, lastBotPoll)
			if botErr == nil {
				botStatuses = bots
				lastBotPoll = time.Now()
				botsResponded = allBotsResponded(botStatuses)
			}
		}

		if ciCompleted {
			if anyCIFailed(ciChecks) {
				return w.finishFailed(ciChecks, botStatuses, start, attempt, currentHeadSHA, prState)
			}
			if botsResponded {
				return w.finish(ResultSuccess, ciChecks, botStatuses, start, attempt, currentHeadSHA, prState, false)
			}
		}

		attempt++
		if !w.sleepSteady(ctx) {
			return WaitResult{Result: ResultCancelled, CIChecks: ciChecks, BotStatuses: botStatuses, PollCount: attempt, ElapsedSeconds: time.Since(start).Seconds()}
		}
	}
}

// sleepSteady waits the fixed base poll interval between successful polls.
func (w *Waiter) sleepSteady(ctx context.Context) bool {
	select {
	case <-time.After(w.cfg.BasePollInterval):
		return true
	case <-w.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

// sleepBackoff waits min(BackoffBase*2^failStreak, BackoffCap) between
// retries of a failed poll, per spec.md §4.11 point 9.
func (w *Waiter) sleepBackoff(ctx context.Context, failStreak int) bool {
	delay := backoffDelay(w.cfg.BackoffBase, w.cfg.BackoffCap, failStreak)
	select {
	case <-time.After(delay):
		return true
	case <-w.cancel:
		return false
	case <-ctx.Done():
		return false
	}
}

func (w *Waiter) finish(result Result, ciChecks []CheckSnapshot, botStatuses []BotSnapshot, start time.Time, attempt int, headSHA, prState string, botTimedOut bool) WaitResult {
	return WaitResult{
		Result:         result,
		CIChecks:       ciChecks,
		BotStatuses:    botStatuses,
		ElapsedSeconds: time.Since(start).Seconds(),
		PollCount:      attempt,
		FinalHeadSHA:   headSHA,
		PRState:        prState,
		BotTimedOut:    botTimedOut,
	}
}

func (w *Waiter) finishFailed(ciChecks []CheckSnapshot, botStatuses []BotSnapshot, start time.Time, attempt int, headSHA, prState string) WaitResult {
	var failures []Failure
	for _, c := range ciChecks {
		if c.Status == StatusFailed || c.Status == StatusTimedOut {
			failures = append(failures, Failure{Name: c.Name, Reason: string(c.Status)})
		}
	}
	return WaitResult{
		Result:         ResultCIFailed,
		CIChecks:       ciChecks,
		BotStatuses:    botStatuses,
		Failures:       failures,
		ElapsedSeconds: time.Since(start).Seconds(),
		PollCount:      attempt,
		FinalHeadSHA:   headSHA,
		PRState:        prState,
	}
}
