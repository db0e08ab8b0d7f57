package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/backport/internal/tracker"
	"github.com/steveyegge/backport/internal/types"
)

// mapStore is a tracker.ConfigStore backed by maps.
type mapStore struct {
	values map[string]string
	maps   map[string]map[string]string
}

func (m mapStore) GetString(key string) string { return m.values[key] }

func (m mapStore) GetStringSlice(key string) []string {
	if v := m.values[key]; v != "" {
		return strings.Split(v, ",")
	}
	return nil
}

func (m mapStore) GetStringMapString(key string) map[string]string { return m.maps[key] }

// fakeJira is a minimal Jira REST API.
type fakeJira struct {
	mu       sync.Mutex
	issues   map[string]map[string]any
	requests []string
	bodies   []map[string]any
}

func newFakeJira() *fakeJira {
	return &fakeJira{issues: make(map[string]map[string]any)}
}

func (f *fakeJira) add(key string, fields map[string]any) {
	f.issues[key] = fields
}

func (f *fakeJira) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
		f.bodies = append(f.bodies, body)
	}

	path := strings.TrimPrefix(r.URL.Path, "/rest/api/2/")
	switch {
	case r.Method == http.MethodGet && path == "search":
		keys := make([]string, 0, len(f.issues))
		for k := range f.issues {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		var page []map[string]any
		for i := startAt; i < len(keys) && i < startAt+maxResults; i++ {
			page = append(page, map[string]any{"key": keys[i], "fields": f.issues[keys[i]]})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"startAt": startAt, "total": len(keys), "issues": page})
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/transitions"):
		_ = json.NewEncoder(w).Encode(map[string]any{"transitions": []map[string]any{
			{"id": "11", "name": "Start", "to": map[string]string{"name": "In Progress"}},
			{"id": "31", "name": "Ready", "to": map[string]string{"name": "Ready for QE"}},
		}})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/transitions"):
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "issue/"):
		key := strings.TrimPrefix(path, "issue/")
		fields, ok := f.issues[key]
		if !ok {
			http.Error(w, `{"errorMessages":["Issue Does Not Exist"]}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"key": key, "fields": fields})
	case r.Method == http.MethodPut && strings.HasPrefix(path, "issue/"):
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && path == "issue":
		key := fmt.Sprintf("ENTMQBR-%d", 100+len(f.issues))
		fields := body["fields"].(map[string]any)
		f.issues[key] = map[string]any{
			"summary":   fields["summary"],
			"issuetype": fields["issuetype"],
			"status":    map[string]string{"name": "New"},
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "1", "key": key})
	case r.Method == http.MethodPost && path == "issueLink":
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet && path == "user/search":
		if r.URL.Query().Get("username") == "alice" {
			_ = json.NewEncoder(w).Encode([]map[string]string{{"name": "alice"}})
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]string{})
	case path == "flaky":
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		http.NotFound(w, r)
	}
}

func newTestTracker(t *testing.T, f *fakeJira) *Tracker {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)

	cfg := tracker.NewConfig("downstream", mapStore{
		values: map[string]string{
			"downstream.url":      server.URL,
			"downstream.token":    "secret",
			"downstream.username": "bot",
			"downstream.project":  "ENTMQBR",
		},
		maps: map[string]map[string]string{
			"downstream.fields": {
				"target_release":    "customfield_1",
				"upstream_link":     "customfield_2",
				"customer_priority": "customfield_3",
				"security_impact":   "customfield_4",
				"patch_link":        "customfield_5",
			},
		},
	})
	tr := &Tracker{}
	if err := tr.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return tr
}

func sampleFields() map[string]any {
	return map[string]any{
		"summary":       "Broker crash",
		"description":   "Steps to reproduce",
		"status":        map[string]string{"name": "In Progress"},
		"issuetype":     map[string]string{"name": "Bug"},
		"assignee":      map[string]string{"name": "alice"},
		"reporter":      map[string]string{"name": "bob"},
		"labels":        []string{"customer"},
		"issuelinks":    []map[string]any{{"type": map[string]string{"name": "Cloners"}, "outwardIssue": map[string]string{"key": "ENTMQBR-9"}}},
		"customfield_1": map[string]string{"name": "AMQ 7.10.0.GA"},
		"customfield_2": "https://issues.apache.org/jira/browse/ARTEMIS-7",
		"customfield_3": map[string]string{"value": "High"},
		"customfield_4": nil,
		"customfield_5": "https://github.com/apache/activemq-artemis/pull/1",
	}
}

func TestRegistered(t *testing.T) {
	tr, err := tracker.NewTracker("jira")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Name() != "jira" {
		t.Errorf("Name() = %q, want %q", tr.Name(), "jira")
	}
}

func TestInitRequiresURL(t *testing.T) {
	t.Setenv("DOWNSTREAM_URL", "")
	err := (&Tracker{}).Init(context.Background(), tracker.NewConfig("downstream", mapStore{}))
	if err == nil || !strings.Contains(err.Error(), "DOWNSTREAM_URL") {
		t.Errorf("Init() error = %v", err)
	}
}

func TestGetIssueConvertsFields(t *testing.T) {
	f := newFakeJira()
	f.add("ENTMQBR-1", sampleFields())
	tr := newTestTracker(t, f)

	got, err := tr.GetIssue(context.Background(), "ENTMQBR-1")
	if err != nil {
		t.Fatal(err)
	}
	want := &types.Issue{
		Key:              "ENTMQBR-1",
		Type:             types.IssueBug,
		State:            "In Progress",
		Summary:          "Broker crash",
		Description:      "Steps to reproduce",
		Labels:           []string{"customer"},
		Links:            []string{"ENTMQBR-9"},
		UpstreamLinks:    []string{"https://issues.apache.org/jira/browse/ARTEMIS-7"},
		TargetRelease:    "AMQ 7.10.0.GA",
		Customer:         true,
		CustomerPriority: types.CustomerPriorityHigh,
		PatchLink:        true,
		Assignee:         "alice",
		Reporter:         "bob",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetIssue mismatch (-want +got):\n%s", diff)
	}

	// The second lookup is served from the store.
	if _, err := tr.GetIssue(context.Background(), "ENTMQBR-1"); err != nil {
		t.Fatal(err)
	}
	if n := len(f.requests); n != 1 {
		t.Errorf("made %d requests, want 1", n)
	}
}

func TestGetIssueMissing(t *testing.T) {
	tr := newTestTracker(t, newFakeJira())

	got, err := tr.GetIssue(context.Background(), "ENTMQBR-404")
	if err != nil || got != nil {
		t.Fatalf("GetIssue(missing) = %v, %v", got, err)
	}
	if _, known := tr.Store().Lookup("ENTMQBR-404"); !known {
		t.Error("missing key was not remembered")
	}
}

func TestLoadAndLinkedIssues(t *testing.T) {
	f := newFakeJira()
	for i := 0; i < 250; i++ {
		fields := map[string]any{"summary": fmt.Sprint("issue ", i), "status": map[string]string{"name": "New"}}
		if i%100 == 0 {
			fields["customfield_2"] = "ARTEMIS-7"
		}
		f.add(fmt.Sprintf("ENTMQBR-%d", i), fields)
	}
	tr := newTestTracker(t, f)

	n, err := tr.Load(context.Background(), "project = ENTMQBR")
	if err != nil {
		t.Fatal(err)
	}
	if n != 250 || tr.Store().Len() != 250 {
		t.Errorf("loaded %d, store has %d", n, tr.Store().Len())
	}
	linked, _ := tr.LinkedIssues(context.Background(), "ARTEMIS-7")
	if diff := cmp.Diff([]string{"ENTMQBR-0", "ENTMQBR-100", "ENTMQBR-200"}, linked); diff != "" {
		t.Errorf("LinkedIssues mismatch (-want +got):\n%s", diff)
	}
}

func TestMutationsUpdateStore(t *testing.T) {
	f := newFakeJira()
	f.add("ENTMQBR-1", sampleFields())
	tr := newTestTracker(t, f)
	ctx := context.Background()
	if _, err := tr.GetIssue(ctx, "ENTMQBR-1"); err != nil {
		t.Fatal(err)
	}

	if err := tr.AddLabels(ctx, "ENTMQBR-1", "tested"); err != nil {
		t.Fatal(err)
	}
	if err := tr.AddUpstreamLinks(ctx, "ENTMQBR-1", "ARTEMIS-8"); err != nil {
		t.Fatal(err)
	}
	if err := tr.SetTargetRelease(ctx, "ENTMQBR-1", "AMQ 7.10.1.GA"); err != nil {
		t.Fatal(err)
	}
	if err := tr.TransitionTo(ctx, "ENTMQBR-1", "Ready for QE"); err != nil {
		t.Fatal(err)
	}

	got, _ := tr.GetIssue(ctx, "ENTMQBR-1")
	if !got.HasLabel("tested") || !got.HasUpstreamLink("ARTEMIS-8") || !got.HasUpstreamLink("ARTEMIS-7") {
		t.Errorf("issue after updates = %+v", got)
	}
	if got.TargetRelease != "AMQ 7.10.1.GA" || got.State != "Ready for QE" {
		t.Errorf("target release %q, state %q", got.TargetRelease, got.State)
	}

	wantBodies := []map[string]any{
		{"update": map[string]any{"labels": []any{map[string]any{"add": "tested"}}}},
		{"fields": map[string]any{"customfield_2": "https://issues.apache.org/jira/browse/ARTEMIS-7 ARTEMIS-8"}},
		{"fields": map[string]any{"customfield_1": map[string]any{"name": "AMQ 7.10.1.GA"}}},
		{"transition": map[string]any{"id": "31"}},
	}
	if diff := cmp.Diff(wantBodies, f.bodies); diff != "" {
		t.Errorf("request bodies mismatch (-want +got):\n%s", diff)
	}
}

func TestTransitionUnknownState(t *testing.T) {
	tr := newTestTracker(t, newFakeJira())
	if err := tr.TransitionTo(context.Background(), "ENTMQBR-1", "Limbo"); err == nil {
		t.Error("expected error for unknown state")
	}
	if _, err := tr.StateIndex("Limbo"); err == nil {
		t.Error("StateIndex(Limbo) should fail")
	}
}

func TestCreateAndLinkIssue(t *testing.T) {
	f := newFakeJira()
	f.add("ENTMQBR-1", sampleFields())
	tr := newTestTracker(t, f)
	ctx := context.Background()

	issue, err := tr.CreateIssue(ctx, tracker.CreateRequest{
		Summary:       "[7.10.1] Broker crash",
		Type:          types.IssueBug,
		Assignee:      "alice",
		TargetRelease: "7.10.1.GA",
		Labels:        []string{"backport"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if issue.Key != "ENTMQBR-101" || issue.Type != types.IssueBug {
		t.Errorf("created issue = %+v", issue)
	}
	if _, err := tr.GetIssue(ctx, "ENTMQBR-1"); err != nil {
		t.Fatal(err)
	}
	if err := tr.LinkIssues(ctx, issue.Key, "ENTMQBR-1", "Cloners"); err != nil {
		t.Fatal(err)
	}
	orig, _ := tr.GetIssue(ctx, "ENTMQBR-1")
	if !contains(orig.Links, issue.Key) {
		t.Errorf("links of original = %v", orig.Links)
	}

	fields := f.bodies[0]["fields"].(map[string]any)
	if fields["assignee"].(map[string]any)["name"] != "alice" {
		t.Errorf("assignee = %v", fields["assignee"])
	}
	if fields["customfield_1"].(map[string]any)["name"] != "7.10.1.GA" {
		t.Errorf("target release = %v", fields["customfield_1"])
	}
}

func TestUserExists(t *testing.T) {
	f := newFakeJira()
	tr := newTestTracker(t, f)
	ctx := context.Background()

	for _, tt := range []struct {
		user string
		want bool
	}{{"alice", true}, {"mallory", false}, {"alice", true}} {
		got, err := tr.UserExists(ctx, tt.user)
		if err != nil || got != tt.want {
			t.Errorf("UserExists(%q) = %v, %v", tt.user, got, err)
		}
	}
	if n := len(f.requests); n != 2 {
		t.Errorf("made %d requests, want 2 (answers are cached)", n)
	}
}

func TestHTTPErrorsAreTyped(t *testing.T) {
	f := newFakeJira()
	tr := newTestTracker(t, f)
	_, err := tr.client.doRequest(context.Background(), http.MethodGet, tr.client.endpoint("flaky", nil), nil)
	if !tracker.IsRetryable(err) {
		t.Errorf("error %v should be retryable", err)
	}
}

func TestDescriptionToPlainText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"null", `null`, ""},
		{"string", `"plain"`, "plain"},
		{"adf", string(PlainTextToADF("line one\n\nline two")), "line one\n\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescriptionToPlainText(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("DescriptionToPlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFieldValueHelpers(t *testing.T) {
	if got := versionName(json.RawMessage(`[{"name":"7.10.0.GA"},{"name":"7.11.0.GA"}]`)); got != "7.10.0.GA" {
		t.Errorf("versionName(list) = %q", got)
	}
	if got := versionName(json.RawMessage(`[]`)); got != "" {
		t.Errorf("versionName(empty) = %q", got)
	}
	if got := optionValue(json.RawMessage(`"Urgent"`)); got != "Urgent" {
		t.Errorf("optionValue(string) = %q", got)
	}
	if diff := cmp.Diff([]string{"A-1", "A-2"}, splitLinks("A-1,\nA-2 ")); diff != "" {
		t.Errorf("splitLinks mismatch (-want +got):\n%s", diff)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
