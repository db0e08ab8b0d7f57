// Package engine reconciles upstream commits with the downstream branch and
// the downstream issue tracker.
//
// For every upstream commit the engine resolves the release it belongs to,
// finds the upstream and downstream issues that track it, and classifies it
// as TODO, DONE, INCOMPLETE, BLOCKED, SKIPPED or FAILED. Every side effect
// (cherry-picks, issue edits, issue clones) is proposed as a task and only
// carried out when the task ledger has it approved.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/backport/internal/build"
	"github.com/steveyegge/backport/internal/correlate"
	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/release"
	"github.com/steveyegge/backport/internal/tasks"
	"github.com/steveyegge/backport/internal/telemetry"
	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

const scopeName = "github.com/steveyegge/backport/engine"

// Repository is the working tree the engine cherry-picks into.
type Repository interface {
	Head(ctx context.Context) (string, error)
	CherryPick(ctx context.Context, id string) (bool, error)
	Commit(ctx context.Context, message string, author, committer git.Identity) (string, error)
	Push(ctx context.Context, remote, ref string) error
	ResetHard(ctx context.Context, ref string) error
	ChangedFiles(ctx context.Context, id string) ([]string, error)
}

// Validator builds and tests the working tree after a cherry-pick.
type Validator interface {
	Validate(ctx context.Context, tests []string) error
}

// Sink receives the classified commits of a run.
type Sink func(commits []*types.Commit) error

// Deps are the collaborators of an Engine.
type Deps struct {
	Repo        Repository
	Upstream    tracker.IssueTracker
	Downstream  tracker.IssueTracker
	Correlation *correlate.Result
	Ledger      *tasks.Ledger
	Validator   Validator          // nil disables build and test validation
	Tests       *build.TestMatcher // nil disables test detection
	Logger      *slog.Logger
}

// Options configure the decisions of an Engine.
type Options struct {
	Release     release.Version // candidate release of the run
	DefaultUser string
	Committer   git.Identity // defaults to the upstream committer

	ConfirmedUpstreamIssues   []string
	ExcludedUpstreamIssues    []string
	ConfirmedDownstreamIssues []string
	ExcludedDownstreamIssues  []string

	CustomerPriorityThreshold types.CustomerPriority
	SecurityImpactThreshold   types.SecurityImpact

	CheckIncomplete bool
	DryRun          bool

	NoBackportNeededLabel string
	TestedLabel           string
	NoTestingNeededLabel  string
	NoTrackingMarker      string
	ReadyState            string
	CloneLinkType         string
	UpstreamLinkBase      string // prefix turning an upstream key into a link, e.g. a browse URL

	PushRemote string // empty disables pushing
	PushRef    string
}

// Default option values.
const (
	DefaultNoBackportNeededLabel = "NO-BACKPORT-NEEDED"
	DefaultTestedLabel           = "tested"
	DefaultNoTestingNeededLabel  = "no-testing-needed"
	DefaultNoTrackingMarker      = "NO-JIRA"
	DefaultReadyState            = "Ready for QE"
	DefaultCloneLinkType         = "Cloners"
)

func (o *Options) setDefaults() {
	if o.NoBackportNeededLabel == "" {
		o.NoBackportNeededLabel = DefaultNoBackportNeededLabel
	}
	if o.TestedLabel == "" {
		o.TestedLabel = DefaultTestedLabel
	}
	if o.NoTestingNeededLabel == "" {
		o.NoTestingNeededLabel = DefaultNoTestingNeededLabel
	}
	if o.NoTrackingMarker == "" {
		o.NoTrackingMarker = DefaultNoTrackingMarker
	}
	if o.ReadyState == "" {
		o.ReadyState = DefaultReadyState
	}
	if o.CloneLinkType == "" {
		o.CloneLinkType = DefaultCloneLinkType
	}
}

// Engine classifies upstream commits. It is not safe for concurrent use:
// commits share one working tree and must be processed in order.
type Engine struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	confirmedUpstream   map[string]bool
	excludedUpstream    map[string]bool
	confirmedDownstream map[string]bool
	excludedDownstream  map[string]bool

	tracer  trace.Tracer
	commits metric.Int64Counter
}

// New returns an engine. Deps.Ledger defaults to a ledger approving nothing
// and Deps.Correlation to an empty result.
func New(deps Deps, opts Options) *Engine {
	opts.setDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Ledger == nil {
		deps.Ledger = tasks.NewLedger(nil, deps.Logger)
	}
	if deps.Correlation == nil {
		deps.Correlation, _ = correlate.New(deps.Logger).Correlate(nil, nil, opts.Release)
	}
	commits, _ := telemetry.Meter(scopeName).Int64Counter("bp.commits",
		metric.WithDescription("Upstream commits classified by state and reason"),
	)
	return &Engine{
		deps:                deps,
		opts:                opts,
		logger:              deps.Logger,
		confirmedUpstream:   toSet(opts.ConfirmedUpstreamIssues),
		excludedUpstream:    toSet(opts.ExcludedUpstreamIssues),
		confirmedDownstream: toSet(opts.ConfirmedDownstreamIssues),
		excludedDownstream:  toSet(opts.ExcludedDownstreamIssues),
		tracer:              telemetry.Tracer(scopeName),
		commits:             commits,
	}
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// Run processes commits in order and hands the classified commits to sink
// before returning, including when processing fails part way or panics.
func (e *Engine) Run(ctx context.Context, commits []git.Commit, sink Sink) (out []*types.Commit, err error) {
	defer func() {
		if sink == nil {
			return
		}
		if ferr := sink(out); ferr != nil && err == nil {
			err = fmt.Errorf("flush commits: %w", ferr)
		}
	}()

	for _, uc := range commits {
		if uc.IsMerge() {
			continue
		}
		c, err := e.Process(ctx, uc)
		if err != nil {
			return out, fmt.Errorf("process %s: %w", uc.ShortID(), err)
		}
		out = append(out, c)
	}
	return out, nil
}

// Process classifies one upstream commit. Errors are returned only for
// conditions that must abort the run, such as unknown workflow states or
// tracker failures; everything else is recorded on the commit.
func (e *Engine) Process(ctx context.Context, uc git.Commit) (c *types.Commit, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.commit", trace.WithAttributes(
		attribute.String("commit.id", uc.ID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			attrs := []attribute.KeyValue{
				attribute.String("commit.state", string(c.State)),
				attribute.String("commit.reason", string(c.Reason)),
			}
			span.SetAttributes(attrs...)
			e.commits.Add(ctx, 1, metric.WithAttributes(attrs...))
			e.logger.Info("classified commit", "commit", uc.ShortID(), "state", c.State, "reason", c.Reason, "summary", c.Summary)
		}
		span.End()
	}()

	c = &types.Commit{
		UpstreamCommit: uc.ID,
		State:          types.StateDone,
		Author:         authorOf(uc),
		Summary:        uc.ShortMessage,
	}
	if err := e.process(ctx, uc, c); err != nil {
		return nil, err
	}
	return c, nil
}

func authorOf(uc git.Commit) string {
	if uc.Author.Email != "" {
		return uc.Author.Email
	}
	return uc.Author.Name
}

// process holds the decision procedure. The commit starts out DONE; each
// branch either returns after classifying it or leaves it DONE.
func (e *Engine) process(ctx context.Context, uc git.Commit, c *types.Commit) error {
	corr := e.deps.Correlation
	entry, correlated := corr.Lookup(uc.ID)
	if correlated {
		c.DownstreamCommit = entry.Downstream.ID
	}

	if !correlated && e.revertedAway(uc.ID) {
		c.Classify(types.StateSkipped, types.ReasonUpstreamCommitReverted)
		return nil
	}

	effective := e.opts.Release
	if correlated {
		effective = entry.Release
	}
	c.Release = effective.String()

	keys := e.deps.Upstream.ParseIssueKeys(uc.ShortMessage)
	switch {
	case len(keys) == 0 && !correlated:
		c.Classify(types.StateSkipped, types.ReasonNoUpstreamIssue)
		return nil
	case len(keys) > 1 && !correlated:
		c.Classify(types.StateFailed, types.ReasonMultipleUpstreamIssues)
		return nil
	}

	var upstreamKey string
	var upstreamIssue *types.Issue
	if len(keys) > 0 {
		upstreamKey = keys[0]
		c.UpstreamIssue = upstreamKey
		issue, err := e.deps.Upstream.GetIssue(ctx, upstreamKey)
		if err != nil {
			return fmt.Errorf("get upstream issue %s: %w", upstreamKey, err)
		}
		if issue == nil && !correlated {
			c.Classify(types.StateFailed, types.ReasonUpstreamIssueNotFound)
			return nil
		}
		upstreamIssue = issue
	}

	c.Tests = e.affectedTests(ctx, uc)

	candidates, err := e.downstreamIssues(ctx, upstreamKey, upstreamIssue, entry, correlated)
	if err != nil {
		return err
	}
	selected := selectGroup(groupByRelease(candidates, e.logger), effective)
	if selected != nil {
		for _, issue := range selected.issues {
			c.AddDownstreamIssue(issue.Key)
		}
	}

	var selectedIssues []*types.Issue
	if selected != nil {
		selectedIssues = selected.issues
	}
	c.Assignee = e.resolveAssignee(ctx, uc, upstreamIssue, selectedIssues)

	requireReleaseIssues := effective.Patch > 0
	sameFamily := correlated && entry.Release.CompareWithoutQualifier(e.opts.Release) == 0

	w := &work{
		uc:          uc,
		commit:      c,
		effective:   effective,
		upstreamKey: upstreamKey,
		upstream:    upstreamIssue,
	}

	switch {
	case selected != nil && correlated:
		if !sameFamily {
			// A backport shipped in another release family needs no action.
			return nil
		}
		if selected.matches(effective) {
			return e.checkCompleteness(ctx, w, selected.issues)
		}
		if requireReleaseIssues {
			if !e.cloneDownstream(ctx, w, selected.issues) {
				c.Classify(types.StateIncomplete, types.ReasonNoIssuesWithRequiredRelease)
			}
		}
		return nil

	case selected != nil:
		if e.noBackportNeeded(candidates) {
			c.Classify(types.StateSkipped, types.ReasonNoBackportNeeded)
			return nil
		}
		if selected.matches(effective) {
			return e.backport(ctx, w, selected.issues)
		}
		if !e.anyRequired(candidates) {
			c.Classify(types.StateSkipped, types.ReasonDownstreamIssueNotSufficient)
			return nil
		}
		if !requireReleaseIssues {
			return e.backport(ctx, w, selected.issues)
		}
		// The clones link back to the upstream issue, so the next run
		// selects them and proposes the cherry-pick.
		if !e.cloneDownstream(ctx, w, selected.issues) {
			c.Classify(types.StateBlocked, types.ReasonNoIssuesWithRequiredRelease)
		}
		return nil

	case correlated:
		if sameFamily && e.opts.CheckIncomplete && !e.noTrackingNeeded(uc) {
			c.Classify(types.StateIncomplete, types.ReasonNoDownstreamIssues)
		}
		return nil

	default:
		if !e.upstreamRequired(upstreamKey, upstreamIssue) {
			c.Classify(types.StateSkipped, types.ReasonUpstreamIssueNotSufficient)
			return nil
		}
		c.Classify(types.StateBlocked, types.ReasonNoDownstreamIssues)
		e.cloneUpstream(ctx, w)
		return nil
	}
}

// work carries the per-commit values shared by the decision branches.
type work struct {
	uc          git.Commit
	commit      *types.Commit
	effective   release.Version
	upstreamKey string
	upstream    *types.Issue
}

// revertedAway reports whether id belongs to a revert chain whose net
// effect is already settled upstream: no member has been backported and
// the whole chain is upstream-only. The original commit of a chain with an
// odd number of members still carries a change and is not reverted away.
func (e *Engine) revertedAway(id string) bool {
	corr := e.deps.Correlation
	chain := corr.Chain(id)
	if chain == nil {
		return false
	}
	for _, member := range chain.IDs() {
		if _, ok := corr.Lookup(member); ok || !corr.IsUpstreamOnly(member) {
			return false
		}
	}
	return !(chain.NetEffect() && chain.Terminal() == id)
}

func (e *Engine) affectedTests(ctx context.Context, uc git.Commit) []string {
	if e.deps.Tests == nil || e.deps.Repo == nil {
		return nil
	}
	files, err := e.deps.Repo.ChangedFiles(ctx, uc.ID)
	if err != nil {
		e.logger.Warn("cannot list changed files", "commit", uc.ShortID(), "error", err)
		return nil
	}
	return e.deps.Tests.Tests(files)
}

// downstreamIssues gathers the downstream issues linked from the upstream
// issue, the ones linking back to it and, for correlated commits, the ones
// named on the backport's downstream trailer. Keys the downstream tracker
// cannot resolve are dropped.
func (e *Engine) downstreamIssues(ctx context.Context, upstreamKey string, upstream *types.Issue, entry correlate.Entry, correlated bool) ([]*types.Issue, error) {
	var keys []string
	seen := make(map[string]bool)
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	if upstream != nil {
		for _, link := range upstream.Links {
			for _, k := range e.deps.Downstream.ParseIssueKeys(link) {
				add(k)
			}
		}
	}
	if upstreamKey != "" {
		linked, err := e.deps.Downstream.LinkedIssues(ctx, upstreamKey)
		if err != nil {
			return nil, fmt.Errorf("downstream issues linked to %s: %w", upstreamKey, err)
		}
		for _, k := range linked {
			add(k)
		}
	}
	if correlated {
		for _, k := range git.DownstreamKeys(entry.Downstream.FullMessage) {
			add(k)
		}
	}

	issues := make([]*types.Issue, 0, len(keys))
	for _, k := range keys {
		issue, err := e.deps.Downstream.GetIssue(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("get downstream issue %s: %w", k, err)
		}
		if issue == nil {
			e.logger.Warn("dropping unknown downstream issue", "issue", k, "upstream", upstreamKey)
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// noBackportNeeded reports whether an issue for the candidate's major.minor
// stream declares that no backport is needed.
func (e *Engine) noBackportNeeded(issues []*types.Issue) bool {
	for _, issue := range issues {
		if !issue.HasLabel(e.opts.NoBackportNeededLabel) {
			continue
		}
		if v, ok := parseTargetRelease(issue.TargetRelease); ok && v.SameMinor(e.opts.Release) {
			return true
		}
	}
	return false
}

// anyRequired reports whether policy requires backporting for any issue.
func (e *Engine) anyRequired(issues []*types.Issue) bool {
	for _, issue := range issues {
		if e.required(issue) {
			return true
		}
	}
	return false
}

func (e *Engine) required(issue *types.Issue) bool {
	if !issue.IsBug() || e.excludedDownstream[issue.Key] {
		return false
	}
	return e.confirmedDownstream[issue.Key] ||
		(issue.Customer && issue.CustomerPriority >= e.opts.CustomerPriorityThreshold) ||
		(issue.Security && issue.SecurityImpact >= e.opts.SecurityImpactThreshold) ||
		issue.PatchLink
}

func (e *Engine) upstreamRequired(key string, issue *types.Issue) bool {
	if issue == nil {
		return false
	}
	if e.confirmedUpstream[key] {
		return true
	}
	return !e.excludedUpstream[key] && issue.IsBug()
}

func (e *Engine) noTrackingNeeded(uc git.Commit) bool {
	return containsWord(uc.ShortMessage, e.opts.NoTrackingMarker)
}

// resolveAssignee picks the first candidate the downstream tracker knows:
// the commit author and committer, the upstream issue's people, the
// selected downstream issues' people and finally the default user.
func (e *Engine) resolveAssignee(ctx context.Context, uc git.Commit, upstream *types.Issue, selected []*types.Issue) string {
	candidates := []string{uc.Author.Email, uc.Committer.Email}
	if upstream != nil {
		candidates = append(candidates, upstream.Assignee, upstream.Reporter, upstream.Creator)
	}
	for _, issue := range selected {
		candidates = append(candidates, issue.Assignee, issue.Reporter, issue.Creator)
	}

	dir, hasDir := tracker.As[tracker.UserDirectory](e.deps.Downstream)
	for _, user := range candidates {
		if user == "" {
			continue
		}
		if !hasDir {
			return user
		}
		ok, err := dir.UserExists(ctx, user)
		if err != nil {
			e.logger.Warn("cannot check user", "user", user, "error", err)
			continue
		}
		if ok {
			return user
		}
	}
	return e.opts.DefaultUser
}
