package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// GitHubProvider files findings as GitHub issues. Projects are "owner/repo".
type GitHubProvider struct {
	client *gogithub.Client
}

// NewGitHub creates a GitHubProvider from the given configuration.
func NewGitHub(cfg config.GitHubConfig) (*GitHubProvider, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	client := gogithub.NewClient(tc)

	// Support GitHub Enterprise by overriding the base URL.
	if cfg.Host != "" && cfg.Host != "github.com" {
		base := fmt.Sprintf("https://%s/api/v3/", cfg.Host)
		upload := fmt.Sprintf("https://%s/api/uploads/", cfg.Host)
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("configuring GitHub enterprise URLs: %w", err)
		}
	}
	return &GitHubProvider{client: client}, nil
}

func (g *GitHubProvider) Name() string { return "github" }

func (g *GitHubProvider) CreateIssue(ctx context.Context, project string, in IssueInput) (Issue, error) {
	owner, repo, err := splitOwnerRepo(project)
	if err != nil {
		return Issue{}, err
	}
	req := &gogithub.IssueRequest{
		Title: gogithub.Ptr(in.Title),
		Body:  gogithub.Ptr(in.Body),
	}
	if len(in.Labels) > 0 {
		req.Labels = &in.Labels
	}
	issue, _, err := g.client.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return Issue{}, fmt.Errorf("creating issue on %s: %w", project, err)
	}
	if in.Closed {
		return g.UpdateIssue(ctx, project, strconv.Itoa(issue.GetNumber()), in)
	}
	return convertGitHubIssue(issue), nil
}

func (g *GitHubProvider) UpdateIssue(ctx context.Context, project, key string, in IssueInput) (Issue, error) {
	owner, repo, err := splitOwnerRepo(project)
	if err != nil {
		return Issue{}, err
	}
	number, err := strconv.Atoi(key)
	if err != nil {
		return Issue{}, fmt.Errorf("invalid GitHub issue number %q", key)
	}
	state := "open"
	if in.Closed {
		state = "closed"
	}
	issue, _, err := g.client.Issues.Edit(ctx, owner, repo, number, &gogithub.IssueRequest{
		Title: gogithub.Ptr(in.Title),
		Body:  gogithub.Ptr(in.Body),
		State: gogithub.Ptr(state),
	})
	if err != nil {
		return Issue{}, fmt.Errorf("updating issue %s#%d: %w", project, number, err)
	}
	return convertGitHubIssue(issue), nil
}

func convertGitHubIssue(i *gogithub.Issue) Issue {
	return Issue{
		Key:       strconv.Itoa(i.GetNumber()),
		URL:       i.GetHTMLURL(),
		State:     i.GetState(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
	}
}

func splitOwnerRepo(project string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.Trim(project, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("GitHub project must be owner/repo, got %q", project)
	}
	return owner, repo, nil
}
