// Package jira implements tracker.IssueTracker for Jira Server and Jira
// Cloud. It serves as either role: the upstream project tracker (read only)
// or the downstream product tracker.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

func init() {
	tracker.Register("jira", func() tracker.Plugin {
		return &Tracker{}
	})
}

// pageSize is the maxResults requested per search page.
const pageSize = 100

// DefaultWorkflow is the state order assumed when none is configured.
var DefaultWorkflow = tracker.Workflow{"New", "Open", "To Do", "In Progress", "Review", "Ready for QE", "Verified", "Closed"}

// standardFields are requested for every issue.
var standardFields = []string{"summary", "description", "status", "issuetype", "assignee", "reporter", "creator", "labels", "issuelinks"}

// FieldMap names the Jira fields that carry backport data. Empty names
// disable the corresponding attribute.
type FieldMap struct {
	TargetRelease    string // "fixVersions" or a version-picker custom field
	UpstreamLink     string // text field listing upstream issue URLs or keys
	CustomerPriority string // select field with CustomerPriority names
	SecurityImpact   string // select field with SecurityImpact names
	PatchLink        string // any field; non-empty means a patch is linked
}

func (m FieldMap) ids() []string {
	var ids []string
	for _, id := range []string{m.TargetRelease, m.UpstreamLink, m.CustomerPriority, m.SecurityImpact, m.PatchLink} {
		if id != "" && !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tracker implements tracker.Plugin for Jira.
type Tracker struct {
	Logger *slog.Logger

	client   *Client
	store    *tracker.Store
	parser   *tracker.KeyParser
	project  string
	workflow tracker.Workflow
	fieldMap FieldMap

	usersMu sync.Mutex
	users   map[string]bool
}

func (t *Tracker) Name() string { return "jira" }

// Init configures the tracker from url, token, username, project,
// api_version, key_pattern, workflow and fields.* settings.
func (t *Tracker) Init(_ context.Context, cfg *tracker.Config) error {
	jiraURL, err := cfg.GetRequired(tracker.CommonConfig.URL)
	if err != nil {
		return err
	}
	token, err := cfg.GetRequired(tracker.CommonConfig.Token)
	if err != nil {
		return err
	}
	project, err := cfg.GetRequired(tracker.CommonConfig.Project)
	if err != nil {
		return err
	}

	t.client = NewClient(jiraURL, cfg.Get(tracker.CommonConfig.Username), token)
	t.client.APIVersion = cfg.GetDefault("api_version", "2")
	if t.client.APIVersion != "2" && t.client.APIVersion != "3" {
		return fmt.Errorf("unsupported jira api_version %q", t.client.APIVersion)
	}

	t.project = project
	pattern := cfg.GetDefault(tracker.CommonConfig.KeyPattern, tracker.ProjectKeyPattern(project))
	if t.parser, err = tracker.NewKeyParser(pattern); err != nil {
		return err
	}
	t.workflow = DefaultWorkflow
	if wf := cfg.GetList(tracker.CommonConfig.Workflow); len(wf) > 0 {
		t.workflow = wf
	}

	fields := cfg.GetMap(tracker.CommonConfig.Fields)
	t.fieldMap = FieldMap{
		TargetRelease:    "fixVersions",
		UpstreamLink:     fields["upstream_link"],
		CustomerPriority: fields["customer_priority"],
		SecurityImpact:   fields["security_impact"],
		PatchLink:        fields["patch_link"],
	}
	if f := fields["target_release"]; f != "" {
		t.fieldMap.TargetRelease = f
	}

	t.store = tracker.NewStore()
	t.users = make(map[string]bool)
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

func (t *Tracker) fields() []string {
	return append(slices.Clone(standardFields), t.fieldMap.ids()...)
}

// GetIssue returns the issue from the store, fetching it on a miss. A 404
// is remembered and reported as nil, nil.
func (t *Tracker) GetIssue(ctx context.Context, key string) (*types.Issue, error) {
	if t.client == nil {
		return nil, tracker.ErrNotInitialized
	}
	if issue, known := t.store.Lookup(key); known {
		return issue, nil
	}
	ji, err := t.client.GetIssue(ctx, key, t.fields())
	if tracker.IsNotFound(err) {
		t.store.PutMissing(key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	issue := t.toIssue(ji)
	t.store.Put(issue)
	return issue, nil
}

func (t *Tracker) ParseIssueKeys(text string) []string {
	if t.parser == nil {
		return nil
	}
	return t.parser.Parse(text)
}

// LinkedIssues returns stored issues whose upstream link field mentions
// upstreamKey. Issues are only known after Load or GetIssue.
func (t *Tracker) LinkedIssues(_ context.Context, upstreamKey string) ([]string, error) {
	if t.store == nil {
		return nil, tracker.ErrNotInitialized
	}
	return t.store.LinkedTo(upstreamKey), nil
}

// Load bulk-loads the issues matching jql into the store.
func (t *Tracker) Load(ctx context.Context, jql string) (int, error) {
	if t.client == nil {
		return 0, tracker.ErrNotInitialized
	}
	fields := t.fields()
	issues, err := tracker.LoadPages(ctx, pageSize, func(ctx context.Context, startAt, size int) (tracker.Page[Issue], error) {
		res, err := t.client.Search(ctx, jql, fields, startAt, size)
		if err != nil {
			return tracker.Page[Issue]{}, err
		}
		return tracker.Page[Issue]{Items: res.Issues, Total: res.Total}, nil
	}, t.logger())
	if err != nil {
		return 0, fmt.Errorf("load %q: %w", jql, err)
	}
	for i := range issues {
		t.store.Put(t.toIssue(&issues[i]))
	}
	t.logger().Debug("loaded jira issues", "project", t.project, "count", len(issues))
	return len(issues), nil
}

func (t *Tracker) AddLabels(ctx context.Context, key string, labels ...string) error {
	ops := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		ops = append(ops, map[string]string{"add": l})
	}
	if err := t.client.UpdateIssue(ctx, key, nil, map[string]any{"labels": ops}); err != nil {
		return err
	}
	t.store.Update(key, func(i *types.Issue) {
		for _, l := range labels {
			if !slices.Contains(i.Labels, l) {
				i.Labels = append(i.Labels, l)
			}
		}
	})
	return nil
}

// AddUpstreamLinks appends links to the upstream link field, keeping the
// links already recorded.
func (t *Tracker) AddUpstreamLinks(ctx context.Context, key string, links ...string) error {
	if t.fieldMap.UpstreamLink == "" {
		return fmt.Errorf("add upstream links to %s: fields.upstream_link not configured", key)
	}
	issue, err := t.GetIssue(ctx, key)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("add upstream links: issue %s not found", key)
	}
	merged := slices.Clone(issue.UpstreamLinks)
	for _, l := range links {
		if !slices.Contains(merged, l) {
			merged = append(merged, l)
		}
	}
	fields := map[string]any{t.fieldMap.UpstreamLink: strings.Join(merged, " ")}
	if err := t.client.UpdateIssue(ctx, key, fields, nil); err != nil {
		return err
	}
	t.store.Update(key, func(i *types.Issue) { i.UpstreamLinks = merged })
	return nil
}

func (t *Tracker) targetReleaseValue(release string) any {
	if t.fieldMap.TargetRelease == "fixVersions" {
		return []map[string]string{{"name": release}}
	}
	return map[string]string{"name": release}
}

func (t *Tracker) SetTargetRelease(ctx context.Context, key, release string) error {
	fields := map[string]any{t.fieldMap.TargetRelease: t.targetReleaseValue(release)}
	if err := t.client.UpdateIssue(ctx, key, fields, nil); err != nil {
		return err
	}
	t.store.Update(key, func(i *types.Issue) { i.TargetRelease = release })
	return nil
}

// TransitionTo moves the issue to state using the first available
// transition that leads there.
func (t *Tracker) TransitionTo(ctx context.Context, key, state string) error {
	if _, err := t.workflow.Index(state); err != nil {
		return err
	}
	transitions, err := t.client.Transitions(ctx, key)
	if err != nil {
		return err
	}
	for _, tr := range transitions {
		if strings.EqualFold(tr.To.Name, state) || strings.EqualFold(tr.Name, state) {
			if err := t.client.DoTransition(ctx, key, tr.ID); err != nil {
				return err
			}
			t.store.Update(key, func(i *types.Issue) { i.State = state })
			return nil
		}
	}
	return fmt.Errorf("no transition of %s leads to %q", key, state)
}

func (t *Tracker) CreateIssue(ctx context.Context, req tracker.CreateRequest) (*types.Issue, error) {
	if t.client == nil {
		return nil, tracker.ErrNotInitialized
	}
	issueType := string(req.Type)
	if req.Type == "" || req.Type == types.IssueOther {
		issueType = string(types.IssueTask)
	}
	fields := map[string]any{
		"project":   map[string]string{"key": t.project},
		"summary":   req.Summary,
		"issuetype": map[string]string{"name": issueType},
	}
	if req.Description != "" {
		if t.client.IsCloud() {
			fields["description"] = PlainTextToADF(req.Description)
		} else {
			fields["description"] = req.Description
		}
	}
	if len(req.Labels) > 0 {
		fields["labels"] = req.Labels
	}
	if req.Assignee != "" {
		if t.client.IsCloud() {
			fields["assignee"] = map[string]string{"accountId": req.Assignee}
		} else {
			fields["assignee"] = map[string]string{"name": req.Assignee}
		}
	}
	if req.TargetRelease != "" && req.TargetRelease != types.FutureGA {
		fields[t.fieldMap.TargetRelease] = t.targetReleaseValue(req.TargetRelease)
	}
	if len(req.UpstreamLinks) > 0 && t.fieldMap.UpstreamLink != "" {
		fields[t.fieldMap.UpstreamLink] = strings.Join(req.UpstreamLinks, " ")
	}

	key, err := t.client.CreateIssue(ctx, fields)
	if err != nil {
		return nil, err
	}
	t.store.Forget(key)
	issue, err := t.GetIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("created issue %s not found", key)
	}
	return issue, nil
}

func (t *Tracker) LinkIssues(ctx context.Context, from, to, linkType string) error {
	if err := t.client.LinkIssues(ctx, linkType, from, to); err != nil {
		return err
	}
	t.store.Update(from, func(i *types.Issue) {
		if !slices.Contains(i.Links, to) {
			i.Links = append(i.Links, to)
		}
	})
	t.store.Update(to, func(i *types.Issue) {
		if !slices.Contains(i.Links, from) {
			i.Links = append(i.Links, from)
		}
	})
	return nil
}

func (t *Tracker) StateIndex(state string) (int, error) {
	return t.workflow.Index(state)
}

// InitialState returns the first state of the configured workflow.
func (t *Tracker) InitialState() string {
	return t.workflow[0]
}

// UserExists reports whether Jira knows a user with the given name, account
// id or email address. Answers are cached for the tracker's lifetime.
func (t *Tracker) UserExists(ctx context.Context, user string) (bool, error) {
	t.usersMu.Lock()
	known, ok := t.users[user]
	t.usersMu.Unlock()
	if ok {
		return known, nil
	}

	found, err := t.client.SearchUsers(ctx, user)
	if err != nil {
		return false, err
	}
	exists := slices.ContainsFunc(found, func(u UserField) bool {
		return strings.EqualFold(u.Name, user) || u.AccountID == user || strings.EqualFold(u.EmailAddress, user)
	})

	t.usersMu.Lock()
	t.users[user] = exists
	t.usersMu.Unlock()
	return exists, nil
}

// toIssue converts a Jira issue into the tool's issue model.
func (t *Tracker) toIssue(ji *Issue) *types.Issue {
	f := &ji.Fields
	issue := &types.Issue{
		Key:         ji.Key,
		Summary:     f.Summary,
		Description: DescriptionToPlainText(f.Description),
		Labels:      slices.Clone(f.Labels),
		Assignee:    f.Assignee.Identifier(),
		Reporter:    f.Reporter.Identifier(),
		Creator:     f.Creator.Identifier(),
		Type:        types.IssueOther,
	}
	if f.Status != nil {
		issue.State = f.Status.Name
	}
	if f.IssueType != nil {
		issue.Type = types.ParseIssueType(f.IssueType.Name)
	}
	for _, l := range f.IssueLinks {
		switch {
		case l.InwardIssue != nil:
			issue.Links = append(issue.Links, l.InwardIssue.Key)
		case l.OutwardIssue != nil:
			issue.Links = append(issue.Links, l.OutwardIssue.Key)
		}
	}

	m := t.fieldMap
	issue.TargetRelease = versionName(f.Custom[m.TargetRelease])
	if m.UpstreamLink != "" {
		issue.UpstreamLinks = splitLinks(textValue(f.Custom[m.UpstreamLink]))
	}
	if m.CustomerPriority != "" {
		p, err := types.ParseCustomerPriority(optionValue(f.Custom[m.CustomerPriority]))
		if err != nil {
			t.logger().Warn("ignoring customer priority", "issue", ji.Key, "error", err)
		}
		issue.CustomerPriority = p
		issue.Customer = p > types.CustomerPriorityNone
	}
	if m.SecurityImpact != "" {
		s, err := types.ParseSecurityImpact(optionValue(f.Custom[m.SecurityImpact]))
		if err != nil {
			t.logger().Warn("ignoring security impact", "issue", ji.Key, "error", err)
		}
		issue.SecurityImpact = s
		issue.Security = s > types.SecurityImpactNone
	}
	if m.PatchLink != "" {
		issue.PatchLink = isSet(f.Custom[m.PatchLink])
	}
	return issue
}

// versionName reads a version field: a list of {"name"} objects (the first
// one wins), a single object, or a plain string.
func versionName(raw json.RawMessage) string {
	if !isSet(raw) {
		return ""
	}
	var list []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return list[0].Name
	}
	var single struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Name != "" {
		return single.Name
	}
	return textValue(raw)
}

// optionValue reads a select field: {"value": "High"}, {"name": "High"}
// or a plain string.
func optionValue(raw json.RawMessage) string {
	if !isSet(raw) {
		return ""
	}
	var opt struct {
		Value string `json:"value"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(raw, &opt); err == nil {
		if opt.Value != "" {
			return opt.Value
		}
		return opt.Name
	}
	return textValue(raw)
}

// textValue reads a string or string-array field.
func textValue(raw json.RawMessage) string {
	if !isSet(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, " ")
	}
	return ""
}

func splitLinks(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
}

func isSet(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != `""` && v != "[]"
}
