package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// GitLabProvider files findings as GitLab issues. Projects are the path with
// namespace, e.g. "group/sub/project".
type GitLabProvider struct {
	client *gitlab.Client
}

// NewGitLab creates a GitLabProvider from the given configuration.
func NewGitLab(cfg config.GitLabConfig) (*GitLabProvider, error) {
	opts := []gitlab.ClientOptionFunc{}
	if cfg.Host != "" && cfg.Host != "gitlab.com" {
		base := fmt.Sprintf("https://%s/api/v4/", cfg.Host)
		opts = append(opts, gitlab.WithBaseURL(base))
	}
	return newGitLab(cfg.Token, opts...)
}

func newGitLab(token string, opts ...gitlab.ClientOptionFunc) (*GitLabProvider, error) {
	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GitLab client: %w", err)
	}
	return &GitLabProvider{client: client}, nil
}

func (g *GitLabProvider) Name() string { return "gitlab" }

func (g *GitLabProvider) CreateIssue(ctx context.Context, project string, in IssueInput) (Issue, error) {
	project = strings.Trim(project, "/")
	opts := &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(in.Title),
		Description: gitlab.Ptr(in.Body),
	}
	if len(in.Labels) > 0 {
		labels := gitlab.LabelOptions(in.Labels)
		opts.Labels = &labels
	}
	issue, _, err := g.client.Issues.CreateIssue(project, opts, gitlab.WithContext(ctx))
	if err != nil {
		return Issue{}, fmt.Errorf("creating GitLab issue on %s: %w", project, err)
	}
	if in.Closed {
		return g.UpdateIssue(ctx, project, strconv.FormatInt(issue.IID, 10), in)
	}
	return convertGitLabIssue(issue), nil
}

func (g *GitLabProvider) UpdateIssue(ctx context.Context, project, key string, in IssueInput) (Issue, error) {
	project = strings.Trim(project, "/")
	iid, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return Issue{}, fmt.Errorf("invalid GitLab issue iid %q", key)
	}
	event := "reopen"
	if in.Closed {
		event = "close"
	}
	issue, _, err := g.client.Issues.UpdateIssue(project, iid, &gitlab.UpdateIssueOptions{
		Title:       gitlab.Ptr(in.Title),
		Description: gitlab.Ptr(in.Body),
		StateEvent:  gitlab.Ptr(event),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return Issue{}, fmt.Errorf("updating GitLab issue %s#%d: %w", project, iid, err)
	}
	return convertGitLabIssue(issue), nil
}

func convertGitLabIssue(i *gitlab.Issue) Issue {
	out := Issue{
		Key:   strconv.FormatInt(i.IID, 10),
		URL:   i.WebURL,
		State: i.State,
	}
	if i.CreatedAt != nil {
		out.CreatedAt = *i.CreatedAt
	}
	if i.UpdatedAt != nil {
		out.UpdatedAt = *i.UpdatedAt
	}
	return out
}
