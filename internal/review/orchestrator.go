package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoclaude/internal/audit"
	"autoclaude/internal/botdetect"
	"autoclaude/internal/checkwaiter"
	"autoclaude/internal/override"
)

// Finding is one issue surfaced by an AI review pass. The orchestrator
// treats findings opaquely — the reviewer/fixer implementations live
// outside this package.
type Finding struct {
	ID          string
	FilePath    string
	Description string
	Severity    string
}

// Reviewer runs an AI review pass over the PR's current diff and returns
// findings that need fixing.
type Reviewer interface {
	Review(ctx context.Context, s *State) ([]Finding, error)
}

// Fixer applies a fix for one finding, returning the result to record.
type Fixer interface {
	Fix(ctx context.Context, s *State, f Finding) (AppliedFix, error)
}

// Authorizer gates who may trigger a review action, per the whitelist
// invariant: a denial fails the orchestration rather than silently
// skipping it.
type Authorizer interface {
	IsAuthorized(username string) bool
}

// AllowAll authorizes every user; the zero value for deployments that
// don't restrict who can trigger a review.
type AllowAll struct{}

// IsAuthorized always returns true.
func (AllowAll) IsAuthorized(string) bool { return true }

// WhitelistAuthorizer authorizes only usernames present in its set
// (case-insensitive), per spec.md §4.11's whitelist-of-users/roles
// invariant. An empty whitelist authorizes everyone, matching the
// unrestricted default deployment.
type WhitelistAuthorizer struct{ users map[string]bool }

// NewWhitelistAuthorizer builds a WhitelistAuthorizer from a username list.
func NewWhitelistAuthorizer(users []string) WhitelistAuthorizer {
	m := make(map[string]bool, len(users))
	for _, u := range users {
		m[strings.ToLower(u)] = true
	}
	return WhitelistAuthorizer{users: m}
}

// IsAuthorized reports whether username is on the whitelist.
func (w WhitelistAuthorizer) IsAuthorized(username string) bool {
	if len(w.users) == 0 {
		return true
	}
	return w.users[strings.ToLower(username)]
}

// Semaphore is a counting semaphore of n slots for bounding concurrent PR
// orchestrations. Acquire/Release are safe to call from multiple
// goroutines. Orchestrator does not acquire it and no other code in the
// module does either, so concurrent orchestrations are not bounded by it.
type Semaphore struct{ ch chan struct{} }

// NewSemaphore returns a Semaphore with n concurrent slots.
func NewSemaphore(n int) *Semaphore { return &Semaphore{ch: make(chan struct{}, n)} }

// Acquire blocks for a free slot or until ctx is cancelled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a previously acquired slot.
func (s *Semaphore) Release() { <-s.ch }

// Orchestrator drives one PR through the review→fix loop to a terminal
// state, persisting State after every significant transition so a crash
// mid-loop resumes exactly where it left off. It never merges a PR itself —
// StatusReadyToMerge always waits for human approval.
type Orchestrator struct {
	store      *Store
	waiter     *checkwaiter.Waiter
	detector   *botdetect.Detector
	overrides  *override.Manager
	auditLog   *audit.Logger
	reviewer   Reviewer
	fixer      Fixer
	authorizer Authorizer

	maxConsecutiveFailures int
}

// Deps bundles the Orchestrator's collaborators. Authorizer defaults to
// AllowAll when nil.
type Deps struct {
	Store      *Store
	Waiter     *checkwaiter.Waiter
	Detector   *botdetect.Detector
	Overrides  *override.Manager
	Audit      *audit.Logger
	Reviewer   Reviewer
	Fixer      Fixer
	Authorizer Authorizer
}

// NewOrchestrator returns an Orchestrator. MaxConsecutiveFailures defaults
// to 3, matching the cooling-off posture used elsewhere in the automation.
func NewOrchestrator(d Deps) *Orchestrator {
	auth := d.Authorizer
	if auth == nil {
		auth = AllowAll{}
	}
	return &Orchestrator{
		store:                  d.Store,
		waiter:                 d.Waiter,
		detector:               d.Detector,
		overrides:              d.Overrides,
		auditLog:               d.Audit,
		reviewer:               d.Reviewer,
		fixer:                  d.Fixer,
		authorizer:             auth,
		maxConsecutiveFailures: 3,
	}
}

// Start creates and persists fresh state for a PR review, or returns the
// existing state unchanged if one is already in flight.
func (o *Orchestrator) Start(prNumber int, repo, prURL, branchName, triggeredBy string, expectedBots []string) (*State, error) {
	existing, err := o.store.Load(prNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.IsActive() {
		return existing, nil
	}

	s := New(prNumber, repo, prURL, branchName)
	s.TriggeredBy = triggeredBy
	s.ExpectedBots = expectedBots
	if err := o.store.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Run drives the loop for a PR until it reaches a terminal status,
// resuming from disk if a prior run was interrupted. It never merges.
func (o *Orchestrator) Run(ctx context.Context, prNumber int) (*State, error) {
	s, err := o.store.Load(prNumber)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("review: no state for PR #%d, call Start first", prNumber)
	}

	op := o.auditLog.StartOperation("pr_review", audit.ActorAutomation).WithPR(prNumber).WithRepo(s.Repo)

	for s.ShouldContinue() {
		select {
		case <-ctx.Done():
			s.RecordError(ctx.Err().Error())
			_ = o.store.Save(s)
			op.Finish(audit.ResultFailure, ctx.Err().Error())
			return s, ctx.Err()
		default:
		}

		if err := o.step(ctx, s); err != nil {
			s.RecordError(err.Error())
			if s.ConsecutiveFailures >= o.maxConsecutiveFailures {
				s.MarkCompleted(StatusFailed)
			}
			if saveErr := o.store.Save(s); saveErr != nil {
				op.Finish(audit.ResultFailure, saveErr.Error())
				return s, saveErr
			}
			if s.Status == StatusFailed {
				op.Finish(audit.ResultFailure, err.Error())
				return s, nil
			}
			continue
		}
		s.ClearConsecutiveFailures()
		if err := o.store.Save(s); err != nil {
			op.Finish(audit.ResultFailure, err.Error())
			return s, err
		}
	}

	if s.CurrentIteration >= s.MaxIterations && s.Status.IsActive() {
		s.MarkCompleted(StatusMaxIterationsReached)
		_ = o.store.Save(s)
	}
	if s.CancellationRequested && s.Status.IsActive() {
		s.MarkCompleted(StatusCancelled)
		_ = o.store.Save(s)
	}

	op.Finish(audit.ResultSuccess, "")
	return s, nil
}

// step advances the state machine by exactly one transition, matching the
// source's single-responsibility phase methods (await checks, review, fix).
func (o *Orchestrator) step(ctx context.Context, s *State) error {
	switch s.Status {
	case StatusPending:
		return o.beginAwaitingChecks(s)
	case StatusAwaitingChecks:
		return o.awaitChecks(ctx, s)
	case StatusReviewing:
		return o.review(ctx, s)
	case StatusFixing:
		return o.fix(ctx, s)
	default:
		return nil
	}
}

func (o *Orchestrator) beginAwaitingChecks(s *State) error {
	s.Status = StatusAwaitingChecks
	return nil
}

func (o *Orchestrator) awaitChecks(ctx context.Context, s *State) error {
	res := o.waiter.Wait(ctx, s.PRNumber, s.ExpectedBots, s.LastKnownHeadSHA)
	s.LastKnownHeadSHA = res.FinalHeadSHA
	now := time.Now().UTC()
	s.CIChecksPolledAt = &now

	s.CIChecks = make([]CICheckResult, 0, len(res.CIChecks))
	for _, c := range res.CIChecks {
		s.CIChecks = append(s.CIChecks, CICheckResult{Name: c.Name, Status: CheckStatus(c.Status)})
	}
	s.ExternalBotStatuses = make([]ExternalBotStatus, 0, len(res.BotStatuses))
	for _, b := range res.BotStatuses {
		s.ExternalBotStatuses = append(s.ExternalBotStatuses, ExternalBotStatus{BotName: b.Name, Status: CheckStatus(b.Status)})
	}

	switch res.Result {
	case checkwaiter.ResultSuccess:
		s.CIAllPassed = true
		alreadyReviewedClean := s.LastReviewedHeadSHA != "" && s.LastReviewedHeadSHA == s.LastKnownHeadSHA && !s.HasPendingFindings()
		if alreadyReviewedClean {
			s.MarkCompleted(StatusReadyToMerge)
			return nil
		}
		s.Status = StatusReviewing
		return nil
	case checkwaiter.ResultCIFailed:
		s.CIAllPassed = false
		s.seedFindingsFromCIFailures(res.Failures)
		s.Status = StatusFixing
		return nil
	case checkwaiter.ResultPRMerged:
		s.MarkCompleted(StatusCompleted)
		return nil
	case checkwaiter.ResultPRClosed:
		s.MarkCompleted(StatusCancelled)
		return nil
	case checkwaiter.ResultForcePush:
		// Head moved: restart the wait from the new SHA rather than treat
		// it as an error.
		return nil
	case checkwaiter.ResultCancelled:
		s.RequestCancellation(s.CancelledBy)
		return nil
	case checkwaiter.ResultCITimeout, checkwaiter.ResultCircuitOpen:
		return fmt.Errorf("review: awaiting checks: %s", res.Result)
	default:
		return fmt.Errorf("review: awaiting checks: unexpected result %s", res.Result)
	}
}

// seedFindingsFromCIFailures turns check-waiter failures directly into
// pending findings so the fixer can act on a failing CI check without
// waiting on an AI review pass, per the awaiting_checks -> fixing edge.
func (s *State) seedFindingsFromCIFailures(failures []checkwaiter.Failure) {
	s.StartIteration()
	s.PendingFindingIDs = s.PendingFindingIDs[:0]
	findings := make([]Finding, 0, len(failures))
	for i, f := range failures {
		id := fmt.Sprintf("ci-%d-%s", i, f.Name)
		s.PendingFindingIDs = append(s.PendingFindingIDs, id)
		findings = append(findings, Finding{ID: id, Description: fmt.Sprintf("CI check %q: %s", f.Name, f.Reason), Severity: "ci_failure"})
	}
	s.findingsByID = findingsByID(findings)
}

func (o *Orchestrator) review(ctx context.Context, s *State) error {
	if !o.authorizer.IsAuthorized(s.TriggeredBy) {
		s.MarkCompleted(StatusFailed)
		return fmt.Errorf("review: %q is not authorized to trigger a review", s.TriggeredBy)
	}

	dec, err := o.detector.ShouldSkipReview(botdetect.Candidate{
		PRNumber:       s.PRNumber,
		Author:         s.TriggeredBy,
		LastCommitUser: s.TriggeredBy,
		HeadSHA:        s.LastKnownHeadSHA,
	})
	if err != nil {
		return err
	}
	if dec.Skip {
		s.MarkCompleted(StatusReadyToMerge)
		return nil
	}

	s.StartIteration()
	findings, err := o.reviewer.Review(ctx, s)
	if err != nil {
		return err
	}
	s.PendingFindingIDs = s.PendingFindingIDs[:0]
	for _, f := range findings {
		s.PendingFindingIDs = append(s.PendingFindingIDs, f.ID)
	}
	if err := o.detector.MarkReviewed(s.PRNumber, s.LastKnownHeadSHA); err != nil {
		return err
	}
	s.LastReviewedHeadSHA = s.LastKnownHeadSHA

	if !s.HasPendingFindings() {
		s.CompleteIteration(0, 0, "passed", "completed", "")
		s.MarkCompleted(StatusReadyToMerge)
		return nil
	}
	s.findingsByID = findingsByID(findings)
	s.Status = StatusFixing
	return nil
}

func (o *Orchestrator) fix(ctx context.Context, s *State) error {
	fixed := 0
	var stillUnresolvable []string
	for _, id := range append([]string(nil), s.PendingFindingIDs...) {
		finding, ok := s.findingsByID[id]
		if !ok {
			continue
		}
		applied, err := o.fixer.Fix(ctx, s, finding)
		if err != nil {
			applied = AppliedFix{FixID: id, FindingID: id, Success: false, Error: err.Error()}
		}
		s.AddAppliedFix(applied)
		if applied.Success {
			fixed++
		} else {
			stillUnresolvable = append(stillUnresolvable, id)
		}
	}
	s.UnresolvableFindingIDs = append(s.UnresolvableFindingIDs, stillUnresolvable...)
	s.PendingFindingIDs = stillUnresolvable
	s.CompleteIteration(len(s.findingsByID), fixed, "", "completed", "")
	if fixed == 0 {
		// Nothing applicable: all findings were unresolvable this round.
		s.MarkCompleted(StatusReadyToMerge)
		return nil
	}
	s.Status = StatusAwaitingChecks // re-poll CI against the fix commit
	return nil
}

func findingsByID(fs []Finding) map[string]Finding {
	m := make(map[string]Finding, len(fs))
	for _, f := range fs {
		m[f.ID] = f
	}
	return m
}
