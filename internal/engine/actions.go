package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/steveyegge/backport/internal/git"
	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

// ErrConflict is the failure of a cherry-pick that does not apply cleanly.
var ErrConflict = errors.New("cherry-pick conflict")

// backport proposes the cherry-pick of the commit and, once it executed,
// checks the tracking issues. An unconfirmed cherry-pick leaves the commit
// TODO and a failed one FAILED.
func (e *Engine) backport(ctx context.Context, w *work, issues []*types.Issue) error {
	c := w.commit
	keys := make([]string, 0, len(issues))
	for _, issue := range issues {
		keys = append(keys, issue.Key)
		c.AddDownstreamIssue(issue.Key)
	}

	task := types.NewTask(types.TaskCherryPick, w.uc.ID, "")
	c.Tasks = append(c.Tasks, task)
	if !e.deps.Ledger.Apply(ctx, task, e.cherryPick(w, keys)) {
		if task.State == types.TaskFailed {
			c.Classify(types.StateFailed, types.ReasonCherryPickFailed)
		} else {
			c.Classify(types.StateTodo, types.ReasonNone)
		}
		return nil
	}
	c.DownstreamCommit = task.Result
	return e.checkCompleteness(ctx, w, issues)
}

// cherryPick returns the action applying the upstream commit to the working
// tree. Any failure after the pick started resets the tree to where it was.
func (e *Engine) cherryPick(w *work, downstreamKeys []string) func(context.Context) (string, error) {
	return func(ctx context.Context) (id string, err error) {
		repo := e.deps.Repo
		if repo == nil {
			return "", errors.New("no repository configured")
		}
		head, err := repo.Head(ctx)
		if err != nil {
			return "", err
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := repo.ResetHard(ctx, head); rerr != nil {
				err = errors.Join(err, fmt.Errorf("reset to %s: %w", head, rerr))
			}
		}()

		applied, err := repo.CherryPick(ctx, w.uc.ID)
		if err != nil {
			return "", err
		}
		if !applied {
			return "", ErrConflict
		}

		committer := e.opts.Committer
		if committer.Name == "" {
			committer = w.uc.Committer
		}
		message := git.BackportMessage(w.uc.FullMessage, w.uc.ID, downstreamKeys)
		if id, err = repo.Commit(ctx, message, w.uc.Author, committer); err != nil {
			return "", err
		}

		if e.deps.Validator != nil {
			if err = e.deps.Validator.Validate(ctx, w.commit.Tests); err != nil {
				return "", fmt.Errorf("validate %s: %w", w.uc.ShortID(), err)
			}
		}

		if e.opts.PushRemote != "" {
			if e.opts.DryRun {
				e.logger.Info("[dry-run] Would push", "remote", e.opts.PushRemote, "ref", e.opts.PushRef, "commit", id)
			} else if err = repo.Push(ctx, e.opts.PushRemote, e.opts.PushRef); err != nil {
				return "", err
			}
		}
		return id, nil
	}
}

// checkCompleteness proposes one task per gap in the tracking of each
// issue. The commit is DONE when every task executed.
func (e *Engine) checkCompleteness(ctx context.Context, w *work, issues []*types.Issue) error {
	if !e.opts.CheckIncomplete {
		return nil
	}
	ready, err := e.deps.Downstream.StateIndex(e.opts.ReadyState)
	if err != nil {
		return fmt.Errorf("ready state: %w", err)
	}

	dt := e.deps.Downstream
	target := w.effective.TargetRelease().String()
	complete := true
	apply := func(typ types.TaskType, key, value string, action func(context.Context) error) {
		task := types.NewTask(typ, key, value)
		w.commit.Tasks = append(w.commit.Tasks, task)
		if !e.deps.Ledger.Apply(ctx, task, func(ctx context.Context) (string, error) {
			return "", action(ctx)
		}) {
			complete = false
		}
	}

	for _, issue := range issues {
		key := issue.Key
		if _, ok := parseTargetRelease(issue.TargetRelease); !ok {
			apply(types.TaskSetTargetRelease, key, target, func(ctx context.Context) error {
				return dt.SetTargetRelease(ctx, key, target)
			})
		}
		if q := w.effective.Qualifier; q != "" && !issue.HasLabel(q) {
			apply(types.TaskAddLabel, key, q, func(ctx context.Context) error {
				return dt.AddLabels(ctx, key, q)
			})
		}
		if w.upstreamKey != "" && !issue.HasUpstreamLink(w.upstreamKey) {
			link := e.upstreamLink(w.upstreamKey)
			apply(types.TaskAddUpstreamLink, key, link, func(ctx context.Context) error {
				return dt.AddUpstreamLinks(ctx, key, link)
			})
		}
		if len(w.commit.Tests) > 0 && !issue.HasLabel(e.opts.TestedLabel) && !issue.HasLabel(e.opts.NoTestingNeededLabel) {
			label := e.opts.TestedLabel
			apply(types.TaskAddLabel, key, label, func(ctx context.Context) error {
				return dt.AddLabels(ctx, key, label)
			})
		}
		idx, err := dt.StateIndex(issue.State)
		if err != nil {
			return fmt.Errorf("state of %s: %w", key, err)
		}
		if idx < ready {
			state := e.opts.ReadyState
			apply(types.TaskTransition, key, state, func(ctx context.Context) error {
				return dt.TransitionTo(ctx, key, state)
			})
		}
	}

	if !complete {
		w.commit.Classify(types.StateIncomplete, types.ReasonDownstreamIssueIncomplete)
	}
	return nil
}

func (e *Engine) upstreamLink(key string) string {
	return e.opts.UpstreamLinkBase + key
}

var releasePrefix = regexp.MustCompile(`^\[[0-9]+\.[0-9]+[^\]]*\]\s*`)

// cloneDownstream clones every issue for the effective release and reports
// whether all clones were created.
func (e *Engine) cloneDownstream(ctx context.Context, w *work, issues []*types.Issue) bool {
	target := w.effective.TargetRelease().String()
	all := true
	for _, issue := range issues {
		orig := issue
		task := types.NewTask(types.TaskCloneDownstreamIssue, orig.Key, target)
		w.commit.Tasks = append(w.commit.Tasks, task)
		ok := e.deps.Ledger.Apply(ctx, task, func(ctx context.Context) (string, error) {
			created, err := e.deps.Downstream.CreateIssue(ctx, tracker.CreateRequest{
				Summary:       fmt.Sprintf("[%s] %s", w.effective.MajorMinor(), releasePrefix.ReplaceAllString(orig.Summary, "")),
				Description:   orig.Description,
				Type:          orig.Type,
				Assignee:      w.commit.Assignee,
				TargetRelease: target,
				Labels:        e.releaseLabels(w),
				UpstreamLinks: e.cloneUpstreamLinks(w, orig),
			})
			if err != nil {
				return "", err
			}
			if err := e.deps.Downstream.LinkIssues(ctx, created.Key, orig.Key, e.opts.CloneLinkType); err != nil {
				return created.Key, fmt.Errorf("link clone %s to %s: %w", created.Key, orig.Key, err)
			}
			return created.Key, nil
		})
		if !ok {
			all = false
			continue
		}
		w.commit.AddDownstreamIssue(task.Result)
	}
	return all
}

// cloneUpstreamLinks returns the upstream links of a clone of orig. The
// clone always links the commit's upstream issue so that later runs find it
// through LinkedIssues.
func (e *Engine) cloneUpstreamLinks(w *work, orig *types.Issue) []string {
	links := slices.Clone(orig.UpstreamLinks)
	if w.upstreamKey != "" && !orig.HasUpstreamLink(w.upstreamKey) {
		links = append(links, e.upstreamLink(w.upstreamKey))
	}
	return links
}

// cloneUpstream proposes creating a downstream issue for the upstream issue.
func (e *Engine) cloneUpstream(ctx context.Context, w *work) {
	target := w.effective.TargetRelease().String()
	task := types.NewTask(types.TaskCloneUpstreamIssue, w.upstreamKey, target)
	w.commit.Tasks = append(w.commit.Tasks, task)
	up := w.upstream
	if e.deps.Ledger.Apply(ctx, task, func(ctx context.Context) (string, error) {
		created, err := e.deps.Downstream.CreateIssue(ctx, tracker.CreateRequest{
			Summary:       fmt.Sprintf("[%s] %s", w.effective.MajorMinor(), strings.TrimSpace(up.Summary)),
			Description:   up.Description,
			Type:          up.Type,
			Assignee:      w.commit.Assignee,
			TargetRelease: target,
			Labels:        e.releaseLabels(w),
			UpstreamLinks: []string{e.upstreamLink(w.upstreamKey)},
		})
		if err != nil {
			return "", err
		}
		return created.Key, nil
	}) {
		w.commit.AddDownstreamIssue(task.Result)
	}
}

func (e *Engine) releaseLabels(w *work) []string {
	if w.effective.Qualifier == "" {
		return nil
	}
	return []string{w.effective.Qualifier}
}
