package tracker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// jiraTimeLayout is the timestamp format of the Jira REST API.
const jiraTimeLayout = "2006-01-02T15:04:05.000-0700"

// JiraProvider files findings as Jira issues. Projects are Jira project keys.
type JiraProvider struct {
	httpc     *resty.Client
	baseURL   string
	issueType string
}

// NewJira creates a JiraProvider authenticating with username and API token.
func NewJira(cfg config.JiraConfig) (*JiraProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("jira url is required")
	}
	base := strings.TrimRight(cfg.URL, "/")
	httpc := resty.New()
	httpc.SetBaseURL(base)
	httpc.SetBasicAuth(cfg.Username, cfg.Token)
	httpc.SetHeader("Accept", "application/json")
	httpc.SetTimeout(30 * time.Second)

	issueType := cfg.IssueType
	if issueType == "" {
		issueType = "Bug"
	}
	return &JiraProvider{httpc: httpc, baseURL: base, issueType: issueType}, nil
}

func (j *JiraProvider) Name() string { return "jira" }

type jiraFields struct {
	Project     *jiraKey  `json:"project,omitempty"`
	IssueType   *jiraName `json:"issuetype,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Status      *jiraName `json:"status,omitempty"`
	Created     string    `json:"created,omitempty"`
	Updated     string    `json:"updated,omitempty"`
}

type jiraKey struct {
	Key string `json:"key"`
}

type jiraName struct {
	Name string `json:"name"`
}

type jiraIssue struct {
	ID     string     `json:"id"`
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

func (j *JiraProvider) CreateIssue(ctx context.Context, project string, in IssueInput) (Issue, error) {
	var created jiraIssue
	resp, err := j.httpc.R().
		SetContext(ctx).
		SetBody(map[string]any{"fields": jiraFields{
			Project:     &jiraKey{Key: project},
			IssueType:   &jiraName{Name: j.issueType},
			Summary:     in.Title,
			Description: in.Body,
			Labels:      jiraLabels(in.Labels),
		}}).
		SetResult(&created).
		Post("/rest/api/2/issue")
	if err != nil {
		return Issue{}, fmt.Errorf("creating Jira issue in %s: %w", project, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return Issue{}, fmt.Errorf("%d on creating Jira issue in %s: %s", resp.StatusCode(), project, resp.String())
	}
	if in.Closed {
		if err := j.comment(ctx, created.Key, closedComment); err != nil {
			return Issue{}, err
		}
	}
	return j.get(ctx, created.Key)
}

func (j *JiraProvider) UpdateIssue(ctx context.Context, project, key string, in IssueInput) (Issue, error) {
	resp, err := j.httpc.R().
		SetContext(ctx).
		SetBody(map[string]any{"fields": map[string]any{
			"summary":     in.Title,
			"description": in.Body,
		}}).
		Put("/rest/api/2/issue/" + key)
	if err != nil {
		return Issue{}, fmt.Errorf("updating Jira issue %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusNoContent && resp.StatusCode() != http.StatusOK {
		return Issue{}, fmt.Errorf("%d on updating Jira issue %s: %s", resp.StatusCode(), key, resp.String())
	}
	if in.Closed {
		if err := j.comment(ctx, key, closedComment); err != nil {
			return Issue{}, err
		}
	}
	return j.get(ctx, key)
}

// closedComment is posted in place of a workflow transition.
const closedComment = "The finding linked to this issue is no longer active."

func (j *JiraProvider) comment(ctx context.Context, key, body string) error {
	resp, err := j.httpc.R().
		SetContext(ctx).
		SetBody(map[string]string{"body": body}).
		Post("/rest/api/2/issue/" + key + "/comment")
	if err != nil {
		return fmt.Errorf("commenting on Jira issue %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("%d on commenting on Jira issue %s", resp.StatusCode(), key)
	}
	return nil
}

func (j *JiraProvider) get(ctx context.Context, key string) (Issue, error) {
	var issue jiraIssue
	resp, err := j.httpc.R().
		SetContext(ctx).
		SetQueryParam("fields", "status,created,updated").
		SetResult(&issue).
		Get("/rest/api/2/issue/" + key)
	if err != nil {
		return Issue{}, fmt.Errorf("getting Jira issue %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Issue{}, fmt.Errorf("%d on getting Jira issue %s", resp.StatusCode(), key)
	}
	out := Issue{
		Key: issue.Key,
		URL: j.baseURL + "/browse/" + issue.Key,
	}
	if issue.Fields.Status != nil {
		out.State = issue.Fields.Status.Name
	}
	out.CreatedAt, _ = time.Parse(jiraTimeLayout, issue.Fields.Created)
	out.UpdatedAt, _ = time.Parse(jiraTimeLayout, issue.Fields.Updated)
	return out, nil
}

// jiraLabels replaces spaces, which Jira rejects in labels.
func jiraLabels(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.Join(strings.Fields(l), "_"); l != "" {
			out = append(out, l)
		}
	}
	return out
}
