package jira

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/backport/internal/tracker"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of a Jira issue. Fields the tool does
// not model explicitly (custom fields, fixVersions when a custom target
// release field is configured) are kept raw in Custom.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF (Atlassian Document Format) or plain text
	Status      *StatusField    `json:"status"`
	IssueType   *IssueTypeField `json:"issuetype"`
	Assignee    *UserField      `json:"assignee"`
	Reporter    *UserField      `json:"reporter"`
	Creator     *UserField      `json:"creator"`
	Labels      []string        `json:"labels"`
	IssueLinks  []IssueLink     `json:"issuelinks"`

	Custom map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps every field raw in Custom.
func (f *IssueFields) UnmarshalJSON(data []byte) error {
	type plain IssueFields
	if err := json.Unmarshal(data, (*plain)(f)); err != nil {
		return err
	}
	return json.Unmarshal(data, &f.Custom)
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IssueTypeField represents a Jira issue type.
type IssueTypeField struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserField represents a Jira user. Jira Server identifies users by Name,
// Jira Cloud by AccountID.
type UserField struct {
	Name         string `json:"name,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Identifier returns the id Jira accepts when assigning the user.
func (u *UserField) Identifier() string {
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.AccountID
}

// IssueLink is one entry of the issuelinks field.
type IssueLink struct {
	ID           string        `json:"id,omitempty"`
	Type         IssueLinkType `json:"type"`
	InwardIssue  *LinkedIssue  `json:"inwardIssue,omitempty"`
	OutwardIssue *LinkedIssue  `json:"outwardIssue,omitempty"`
}

// IssueLinkType names a link type such as "Cloners".
type IssueLinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward,omitempty"`
	Outward string `json:"outward,omitempty"`
}

// LinkedIssue is the issue on the other end of a link.
type LinkedIssue struct {
	Key string `json:"key"`
}

// Transition is a workflow transition available on an issue.
type Transition struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	To   StatusField `json:"to"`
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Username   string
	APIToken   string
	APIVersion string // "2" (Server/Data Center) or "3" (Cloud)
	HTTPClient *http.Client
}

// NewClient creates a new Jira client for REST API version 2.
func NewClient(url, username, apiToken string) *Client {
	return &Client{
		URL:        strings.TrimSuffix(url, "/"),
		Username:   username,
		APIToken:   apiToken,
		APIVersion: "2",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IsCloud reports whether the client speaks the v3 API, which uses ADF
// descriptions and account ids.
func (c *Client) IsCloud() bool {
	return c.APIVersion == "3"
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := fmt.Sprintf("%s/rest/api/%s/%s", c.URL, c.APIVersion, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Search runs one page of a JQL query.
func (c *Client) Search(ctx context.Context, jql string, fields []string, startAt, maxResults int) (*SearchResult, error) {
	params := url.Values{
		"jql":        {jql},
		"fields":     {strings.Join(fields, ",")},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}

	body, err := c.doRequest(ctx, http.MethodGet, c.endpoint("search", params), nil)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return &result, nil
}

// GetIssue fetches a single Jira issue by key (e.g., "PROJ-123").
func (c *Client) GetIssue(ctx context.Context, key string, fields []string) (*Issue, error) {
	apiURL := c.endpoint("issue/"+url.PathEscape(key), url.Values{"fields": {strings.Join(fields, ",")}})

	body, err := c.doRequest(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return &issue, nil
}

// CreateIssue creates a new issue and returns its key.
// fields should include "project", "summary", "issuetype", and optionally other fields.
func (c *Client) CreateIssue(ctx context.Context, fields map[string]any) (string, error) {
	data, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.endpoint("issue", nil), data)
	if err != nil {
		return "", fmt.Errorf("create issue: %w", err)
	}

	// Create response only returns id, key, self.
	var created struct {
		ID   string `json:"id"`
		Key  string `json:"key"`
		Self string `json:"self"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("parse create response: %w", err)
	}
	return created.Key, nil
}

// UpdateIssue updates an existing Jira issue by key. fields replaces field
// values; update applies operations such as {"labels": [{"add": "x"}]}.
func (c *Client) UpdateIssue(ctx context.Context, key string, fields, update map[string]any) error {
	payload := make(map[string]any)
	if len(fields) > 0 {
		payload["fields"] = fields
	}
	if len(update) > 0 {
		payload["update"] = update
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPut, c.endpoint("issue/"+url.PathEscape(key), nil), data); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

// Transitions lists the transitions currently available on an issue.
func (c *Client) Transitions(ctx context.Context, key string) ([]Transition, error) {
	body, err := c.doRequest(ctx, http.MethodGet, c.endpoint("issue/"+url.PathEscape(key)+"/transitions", nil), nil)
	if err != nil {
		return nil, fmt.Errorf("get transitions of %s: %w", key, err)
	}
	var result struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse transitions response: %w", err)
	}
	return result.Transitions, nil
}

// DoTransition executes the transition with the given id.
func (c *Client) DoTransition(ctx context.Context, key, transitionID string) error {
	data, _ := json.Marshal(map[string]any{"transition": map[string]string{"id": transitionID}})
	if _, err := c.doRequest(ctx, http.MethodPost, c.endpoint("issue/"+url.PathEscape(key)+"/transitions", nil), data); err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	return nil
}

// LinkIssues creates a link of linkType from inward to outward.
func (c *Client) LinkIssues(ctx context.Context, linkType, inward, outward string) error {
	data, _ := json.Marshal(IssueLink{
		Type:         IssueLinkType{Name: linkType},
		InwardIssue:  &LinkedIssue{Key: inward},
		OutwardIssue: &LinkedIssue{Key: outward},
	})
	if _, err := c.doRequest(ctx, http.MethodPost, c.endpoint("issueLink", nil), data); err != nil {
		return fmt.Errorf("link %s to %s: %w", inward, outward, err)
	}
	return nil
}

// SearchUsers finds users matching query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]UserField, error) {
	param := "username"
	if c.IsCloud() {
		param = "query"
	}
	body, err := c.doRequest(ctx, http.MethodGet, c.endpoint("user/search", url.Values{param: {query}}), nil)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	var users []UserField
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, fmt.Errorf("parse user search response: %w", err)
	}
	return users, nil
}

// doRequest executes an authenticated HTTP request and returns the response
// body. Non-2xx responses are returned as *tracker.HTTPError.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body []byte) ([]byte, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("jira URL not configured")
	}
	if c.APIToken == "" {
		return nil, fmt.Errorf("jira API token not configured")
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	c.setAuth(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "bp/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// PUT returns 204 No Content on success
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &tracker.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// setAuth sets the appropriate authentication header on the request.
func (c *Client) setAuth(req *http.Request) {
	if c.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.APIToken))
		req.Header.Set("Authorization", "Basic "+auth)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian Document Format).
// Jira v3 API returns descriptions as ADF JSON, not plain text.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var doc struct {
		Type    string `json:"type"`
		Content []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"content"`
	}

	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		// Not ADF - treat as plain text string
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return string(raw)
	}

	var parts []string
	for _, block := range doc.Content {
		var line []string
		for _, inline := range block.Content {
			if inline.Text != "" {
				line = append(line, inline.Text)
			}
		}
		parts = append(parts, strings.Join(line, ""))
	}

	return strings.Join(parts, "\n")
}

// PlainTextToADF converts plain text to Jira's ADF (Atlassian Document Format).
func PlainTextToADF(text string) json.RawMessage {
	if text == "" {
		return nil
	}

	var content []any
	for _, para := range strings.Split(text, "\n") {
		inline := []any{}
		if para != "" {
			inline = append(inline, map[string]any{"type": "text", "text": para})
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": inline,
		})
	}

	data, _ := json.Marshal(map[string]any{
		"type":    "doc",
		"version": 1,
		"content": content,
	})
	return data
}
