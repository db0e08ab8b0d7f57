// Package github implements tracker.IssueTracker on top of GitHub issues,
// for upstream projects that track their work on GitHub.
//
// Issue keys have the form "#123". The target release of an issue is its
// milestone, upstream links are "Upstream: <link>" lines in the issue body,
// and the workflow is the two states "open" and "closed".
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-github/v69/github"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

func init() {
	tracker.Register("github", func() tracker.Plugin {
		return &Tracker{}
	})
}

// DefaultKeyPattern matches issue references such as "#123" or "(#123)".
const DefaultKeyPattern = `(?:^|[\s(\[,])(#[0-9]+)\b`

// Workflow is the GitHub issue state order.
var Workflow = tracker.Workflow{"open", "closed"}

const (
	upstreamPrefix       = "Upstream:"
	securityImpactPrefix = "security-impact/"
	customerPrefix       = "customer-priority/"
	searchPageSize       = 100
)

// Tracker implements tracker.Plugin for one GitHub repository.
type Tracker struct {
	Logger *slog.Logger

	client *github.Client
	owner  string
	repo   string
	parser *tracker.KeyParser
	store  *tracker.Store

	milestonesMu sync.Mutex
	milestones   map[string]int // title -> number
}

// New returns a tracker for owner/repo using client.
func New(client *github.Client, owner, repo string) *Tracker {
	t := &Tracker{client: client, owner: owner, repo: repo}
	t.parser, _ = tracker.NewKeyParser(DefaultKeyPattern)
	t.store = tracker.NewStore()
	return t
}

func (t *Tracker) Name() string { return "github" }

// Init reads project ("owner/repo"), token, url (GitHub Enterprise base
// URL) and key_pattern.
func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	project, err := cfg.GetRequired(tracker.CommonConfig.Project)
	if err != nil {
		return err
	}
	owner, repo, ok := strings.Cut(project, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("github project must be owner/repo, got %q", project)
	}

	client := github.NewClient(nil)
	if token := cfg.Get(tracker.CommonConfig.Token); token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL := cfg.Get(tracker.CommonConfig.URL); baseURL != "" {
		if client, err = client.WithEnterpriseURLs(baseURL, baseURL); err != nil {
			return fmt.Errorf("github url: %w", err)
		}
	}

	*t = *New(client, owner, repo)
	if pattern := cfg.Get(tracker.CommonConfig.KeyPattern); pattern != "" {
		if t.parser, err = tracker.NewKeyParser(pattern); err != nil {
			return err
		}
	}
	return nil
}

// Store returns the tracker's issue store.
func (t *Tracker) Store() *tracker.Store { return t.store }

func (t *Tracker) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// IssueNumber converts a key such as "#12", "12" or "owner/repo#12" to the
// issue number.
func IssueNumber(key string) (int, error) {
	if i := strings.LastIndex(key, "#"); i >= 0 {
		key = key[i+1:]
	}
	n, err := strconv.Atoi(key)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid github issue key %q", key)
	}
	return n, nil
}

// Key formats an issue number as a key.
func Key(number int) string {
	return "#" + strconv.Itoa(number)
}

// apiError converts go-github errors into tracker errors so that retry and
// not-found handling work the same way for every tracker.
func apiError(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &tracker.HTTPError{StatusCode: http.StatusTooManyRequests, Body: err.Error()}
	}
	if resp != nil && resp.StatusCode >= 400 {
		return &tracker.HTTPError{StatusCode: resp.StatusCode, Body: err.Error()}
	}
	return err
}

func (t *Tracker) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	if t.client == nil {
		return nil, tracker.ErrNotInitialized
	}
	number, err := IssueNumber(key)
	if err != nil {
		return nil, err
	}
	key = Key(number)
	if issue, known := t.store.Lookup(key); known {
		return issue, nil
	}

	gi, resp, err := t.client.Issues.Get(ctx, t.owner, t.repo, number)
	if err = apiError(resp, err); tracker.IsNotFound(err) {
		t.store.PutMissing(key)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	issue := toIssue(gi)
	t.store.Put(issue)
	return issue, nil
}

func (t *Tracker) ParseIssueKeys(text string) []string {
	if t.parser == nil {
		return nil
	}
	return t.parser.Parse(text)
}

func (t *Tracker) LinkedIssues(_ context.Context, upstreamKey string) ([]string, error) {
	if t.store == nil {
		return nil, tracker.ErrNotInitialized
	}
	return t.store.LinkedTo(upstreamKey), nil
}

// Load bulk-loads the issues matching a GitHub search query. The repository
// qualifier is added when the query does not name one.
func (t *Tracker) Load(ctx context.Context, query string) (int, error) {
	if t.client == nil {
		return 0, tracker.ErrNotInitialized
	}
	if !strings.Contains(query, "repo:") {
		query = strings.TrimSpace(fmt.Sprintf("repo:%s/%s %s", t.owner, t.repo, query))
	}
	if !strings.Contains(query, "is:issue") && !strings.Contains(query, "is:pr") {
		query += " is:issue"
	}

	issues, err := tracker.LoadPages(ctx, searchPageSize, func(ctx context.Context, startAt, size int) (tracker.Page[*github.Issue], error) {
		opts := &github.SearchOptions{ListOptions: github.ListOptions{Page: startAt/size + 1, PerPage: size}}
		res, resp, err := t.client.Search.Issues(ctx, query, opts)
		if err != nil {
			return tracker.Page[*github.Issue]{}, apiError(resp, err)
		}
		return tracker.Page[*github.Issue]{Items: res.Issues, Total: res.GetTotal()}, nil
	}, t.logger())
	if err != nil {
		return 0, fmt.Errorf("load %q: %w", query, err)
	}
	for _, gi := range issues {
		t.store.Put(toIssue(gi))
	}
	t.logger().Debug("loaded github issues", "repo", t.owner+"/"+t.repo, "count", len(issues))
	return len(issues), nil
}

func (t *Tracker) AddLabels(ctx context.Context, key string, labels ...string) error {
	number, err := IssueNumber(key)
	if err != nil {
		return err
	}
	_, resp, err := t.client.Issues.AddLabelsToIssue(ctx, t.owner, t.repo, number, labels)
	if err != nil {
		return fmt.Errorf("add labels to %s: %w", key, apiError(resp, err))
	}
	t.store.Update(Key(number), func(i *types.Issue) {
		for _, l := range labels {
			if !slices.Contains(i.Labels, l) {
				i.Labels = append(i.Labels, l)
			}
		}
	})
	return nil
}

// AddUpstreamLinks appends an "Upstream: <link>" line to the issue body for
// every link not already present.
func (t *Tracker) AddUpstreamLinks(ctx context.Context, key string, links ...string) error {
	number, err := IssueNumber(key)
	if err != nil {
		return err
	}
	gi, resp, err := t.client.Issues.Get(ctx, t.owner, t.repo, number)
	if err != nil {
		return fmt.Errorf("get issue %s: %w", key, apiError(resp, err))
	}
	body := gi.GetBody()
	existing := upstreamLinks(body)
	for _, l := range links {
		if slices.Contains(existing, l) {
			continue
		}
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += upstreamPrefix + " " + l + "\n"
		existing = append(existing, l)
	}
	if body == gi.GetBody() {
		return nil
	}
	if _, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, number, &github.IssueRequest{Body: github.Ptr(body)}); err != nil {
		return fmt.Errorf("edit issue %s: %w", key, apiError(resp, err))
	}
	t.store.Update(Key(number), func(i *types.Issue) {
		i.Description = body
		i.UpstreamLinks = existing
	})
	return nil
}

// milestone returns the number of the milestone titled title.
func (t *Tracker) milestone(ctx context.Context, title string) (int, error) {
	t.milestonesMu.Lock()
	defer t.milestonesMu.Unlock()
	if t.milestones == nil {
		t.milestones = make(map[string]int)
		opts := &github.MilestoneListOptions{State: "all", ListOptions: github.ListOptions{PerPage: 100}}
		for {
			ms, resp, err := t.client.Issues.ListMilestones(ctx, t.owner, t.repo, opts)
			if err != nil {
				t.milestones = nil
				return 0, fmt.Errorf("list milestones: %w", apiError(resp, err))
			}
			for _, m := range ms {
				t.milestones[m.GetTitle()] = m.GetNumber()
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	}
	number, ok := t.milestones[title]
	if !ok {
		return 0, fmt.Errorf("no milestone titled %q in %s/%s", title, t.owner, t.repo)
	}
	return number, nil
}

// SetTargetRelease sets the issue milestone to the one titled release.
func (t *Tracker) SetTargetRelease(ctx context.Context, key, release string) error {
	number, err := IssueNumber(key)
	if err != nil {
		return err
	}
	ms, err := t.milestone(ctx, release)
	if err != nil {
		return err
	}
	if _, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, number, &github.IssueRequest{Milestone: github.Ptr(ms)}); err != nil {
		return fmt.Errorf("edit issue %s: %w", key, apiError(resp, err))
	}
	t.store.Update(Key(number), func(i *types.Issue) { i.TargetRelease = release })
	return nil
}

func (t *Tracker) TransitionTo(ctx context.Context, key, state string) error {
	idx, err := Workflow.Index(state)
	if err != nil {
		return err
	}
	number, err := IssueNumber(key)
	if err != nil {
		return err
	}
	if _, resp, err := t.client.Issues.Edit(ctx, t.owner, t.repo, number, &github.IssueRequest{State: github.Ptr(Workflow[idx])}); err != nil {
		return fmt.Errorf("edit issue %s: %w", key, apiError(resp, err))
	}
	t.store.Update(Key(number), func(i *types.Issue) { i.State = Workflow[idx] })
	return nil
}

func (t *Tracker) CreateIssue(ctx context.Context, req tracker.CreateRequest) (*types.Issue, error) {
	if t.client == nil {
		return nil, tracker.ErrNotInitialized
	}
	body := req.Description
	for _, l := range req.UpstreamLinks {
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += upstreamPrefix + " " + l + "\n"
	}
	ir := &github.IssueRequest{Title: github.Ptr(req.Summary), Body: github.Ptr(body)}
	labels := slices.Clone(req.Labels)
	if req.Type == types.IssueBug && !slices.Contains(labels, "bug") {
		labels = append(labels, "bug")
	}
	if len(labels) > 0 {
		ir.Labels = &labels
	}
	if req.Assignee != "" {
		ir.Assignee = github.Ptr(req.Assignee)
	}
	if req.TargetRelease != "" && req.TargetRelease != types.FutureGA {
		ms, err := t.milestone(ctx, req.TargetRelease)
		if err != nil {
			return nil, err
		}
		ir.Milestone = github.Ptr(ms)
	}

	gi, resp, err := t.client.Issues.Create(ctx, t.owner, t.repo, ir)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", apiError(resp, err))
	}
	issue := toIssue(gi)
	t.store.Put(issue)
	return issue, nil
}

// LinkIssues records the link as a comment on from; GitHub has no typed
// issue links.
func (t *Tracker) LinkIssues(ctx context.Context, from, to, linkType string) error {
	number, err := IssueNumber(from)
	if err != nil {
		return err
	}
	comment := &github.IssueComment{Body: github.Ptr(fmt.Sprintf("%s %s", linkType, to))}
	if _, resp, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, number, comment); err != nil {
		return fmt.Errorf("comment on %s: %w", from, apiError(resp, err))
	}
	t.store.Update(Key(number), func(i *types.Issue) {
		if !slices.Contains(i.Links, to) {
			i.Links = append(i.Links, to)
		}
	})
	return nil
}

func (t *Tracker) StateIndex(state string) (int, error) {
	return Workflow.Index(state)
}

func (t *Tracker) InitialState() string {
	return Workflow[0]
}

// UserExists reports whether a GitHub account named user exists.
func (t *Tracker) UserExists(ctx context.Context, user string) (bool, error) {
	_, resp, err := t.client.Users.Get(ctx, user)
	if err = apiError(resp, err); tracker.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func toIssue(gi *github.Issue) *types.Issue {
	issue := &types.Issue{
		Key:           Key(gi.GetNumber()),
		Type:          types.IssueOther,
		State:         gi.GetState(),
		Summary:       gi.GetTitle(),
		Description:   gi.GetBody(),
		UpstreamLinks: upstreamLinks(gi.GetBody()),
		TargetRelease: gi.GetMilestone().GetTitle(),
		PatchLink:     gi.IsPullRequest(),
		Assignee:      gi.GetAssignee().GetLogin(),
		Reporter:      gi.GetUser().GetLogin(),
		Creator:       gi.GetUser().GetLogin(),
	}
	for _, l := range gi.Labels {
		name := l.GetName()
		issue.Labels = append(issue.Labels, name)

		lower := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lower, securityImpactPrefix):
			if s, err := types.ParseSecurityImpact(name[len(securityImpactPrefix):]); err == nil {
				issue.SecurityImpact = s
				issue.Security = s > types.SecurityImpactNone
			}
		case strings.HasPrefix(lower, customerPrefix):
			if p, err := types.ParseCustomerPriority(name[len(customerPrefix):]); err == nil {
				issue.CustomerPriority = p
				issue.Customer = p > types.CustomerPriorityNone
			}
		case issue.Type == types.IssueOther:
			lower = strings.TrimPrefix(lower, "type: ")
			lower = strings.TrimPrefix(lower, "kind/")
			issue.Type = types.ParseIssueType(lower)
		}
	}
	return issue
}

// upstreamLinks extracts the links of "Upstream: <link>" body lines.
func upstreamLinks(body string) []string {
	var links []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if len(line) < len(upstreamPrefix) || !strings.EqualFold(line[:len(upstreamPrefix)], upstreamPrefix) {
			continue
		}
		for _, l := range strings.Fields(line[len(upstreamPrefix):]) {
			l = strings.TrimRight(l, ",")
			if l != "" && !slices.Contains(links, l) {
				links = append(links, l)
			}
		}
	}
	return links
}
