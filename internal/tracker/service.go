package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Service resolves a finding's product tracker and talks to its provider.
type Service struct {
	store     Store
	providers map[string]Provider
	now       func() time.Time
}

// NewService builds providers for every configured tracker. GitHub and
// GitLab providers are keyed by host so a product tracker project may be
// written as "host/owner/repo" to pick a self-hosted instance.
func NewService(store Store, cfg config.TrackersConfig) (*Service, error) {
	s := NewServiceWithProviders(store)
	for _, gh := range cfg.GitHub {
		p, err := NewGitHub(gh)
		if err != nil {
			return nil, err
		}
		s.register(providerKey("github", firstNonEmpty(gh.Host, "github.com")), p)
	}
	for _, gl := range cfg.GitLab {
		p, err := NewGitLab(gl)
		if err != nil {
			return nil, err
		}
		s.register(providerKey("gitlab", firstNonEmpty(gl.Host, "gitlab.com")), p)
	}
	if cfg.Jira.URL != "" {
		p, err := NewJira(cfg.Jira)
		if err != nil {
			return nil, err
		}
		s.register("jira", p)
	}
	return s, nil
}

// NewServiceWithProviders returns a Service using the given providers, keyed
// by provider name.
func NewServiceWithProviders(store Store, providers ...Provider) *Service {
	s := &Service{store: store, providers: map[string]Provider{}, now: time.Now}
	for _, p := range providers {
		s.register(p.Name(), p)
	}
	return s
}

func (s *Service) register(key string, p Provider) {
	if _, ok := s.providers[key]; ok {
		slog.Warn("tracker: duplicate provider configuration ignored", "provider", key)
		return
	}
	s.providers[key] = p
	// The first instance of a provider also serves projects without a host.
	if _, ok := s.providers[p.Name()]; !ok {
		s.providers[p.Name()] = p
	}
}

func providerKey(name, host string) string {
	return name + ":" + strings.ToLower(host)
}

// resolve picks the provider and the provider-local project name.
func (s *Service) resolve(pt models.ProductTracker) (Provider, string, error) {
	project := strings.Trim(pt.Project, "/")
	if pt.Provider != "jira" {
		if host, rest, ok := strings.Cut(project, "/"); ok && strings.Contains(host, ".") {
			if p, ok := s.providers[providerKey(pt.Provider, host)]; ok {
				return p, rest, nil
			}
			return nil, "", fmt.Errorf("%w: no %s credentials for host %s", ErrNotConfigured, pt.Provider, host)
		}
	}
	p, ok := s.providers[pt.Provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: no %s credentials", ErrNotConfigured, pt.Provider)
	}
	return p, project, nil
}

// Issue returns the tracker link of f, or nil when f was never pushed.
func (s *Service) Issue(ctx context.Context, f models.Finding) (*models.TrackerIssue, error) {
	if f.ID == 0 {
		return nil, nil
	}
	ti, err := s.store.GetTrackerIssue(ctx, f.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading tracker issue of finding %d: %w", f.ID, err)
	}
	return &ti, nil
}

// IssueURL returns "" when f has no linked issue.
func (s *Service) IssueURL(ctx context.Context, f models.Finding) (string, error) {
	ti, err := s.Issue(ctx, f)
	if err != nil || ti == nil {
		return "", err
	}
	return ti.URL, nil
}

// CreationTime is when the linked issue was created, nil without one.
func (s *Service) CreationTime(ctx context.Context, f models.Finding) (*time.Time, error) {
	ti, err := s.Issue(ctx, f)
	if err != nil || ti == nil {
		return nil, err
	}
	return parseStamp(ti.CreatedAt), nil
}

// ChangeTime is when the linked issue was last updated, nil without one.
func (s *Service) ChangeTime(ctx context.Context, f models.Finding) (*time.Time, error) {
	ti, err := s.Issue(ctx, f)
	if err != nil || ti == nil {
		return nil, err
	}
	return parseStamp(ti.UpdatedAt), nil
}

func parseStamp(v string) *time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}

// IsPushAllIssues reports whether the product of f pushes every finding.
func (s *Service) IsPushAllIssues(ctx context.Context, f models.Finding) (bool, error) {
	pt, err := s.store.ProductTrackerForFinding(ctx, f.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading tracker of finding %d: %w", f.ID, err)
	}
	return pt.Enabled && pt.PushAllIssues, nil
}

// Push creates the remote issue for f on first push and updates it after.
func (s *Service) Push(ctx context.Context, f models.Finding) error {
	pt, err := s.store.ProductTrackerForFinding(ctx, f.ID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !pt.Enabled) {
		return fmt.Errorf("%w for finding %d", ErrNotConfigured, f.ID)
	}
	if err != nil {
		return fmt.Errorf("loading tracker of finding %d: %w", f.ID, err)
	}
	provider, project, err := s.resolve(pt)
	if err != nil {
		return err
	}

	in := issueInput(f)
	link, err := s.Issue(ctx, f)
	if err != nil {
		return err
	}

	var issue Issue
	if link != nil && link.Provider == pt.Provider && link.Project == pt.Project {
		issue, err = provider.UpdateIssue(ctx, project, link.IssueKey, in)
	} else {
		issue, err = provider.CreateIssue(ctx, project, in)
	}
	if err != nil {
		return err
	}

	now := s.now().UTC()
	ti := models.TrackerIssue{
		FindingID: f.ID,
		Provider:  pt.Provider,
		Project:   pt.Project,
		IssueKey:  issue.Key,
		URL:       issue.URL,
		CreatedAt: stamp(issue.CreatedAt, now),
		UpdatedAt: stamp(issue.UpdatedAt, now),
	}
	if link != nil {
		ti.ID = link.ID
	}
	if err := s.store.SaveTrackerIssue(ctx, ti); err != nil {
		return fmt.Errorf("saving tracker issue of finding %d: %w", f.ID, err)
	}
	slog.Info("tracker: pushed finding", "finding_id", f.ID, "provider", pt.Provider, "issue", issue.Key)
	return nil
}

func stamp(t, fallback time.Time) string {
	if t.IsZero() {
		t = fallback
	}
	return t.UTC().Format(time.RFC3339)
}

func issueInput(f models.Finding) IssueInput {
	var b strings.Builder
	fmt.Fprintf(&b, "**Severity:** %s\n", f.Severity)
	if f.VulnID != "" {
		fmt.Fprintf(&b, "**Vulnerability:** %s\n", f.VulnID)
	}
	if f.CWE > 0 {
		fmt.Fprintf(&b, "**CWE:** CWE-%d\n", f.CWE)
	}
	if f.ComponentName != "" {
		fmt.Fprintf(&b, "**Component:** %s %s\n", f.ComponentName, f.ComponentVersion)
	}
	if f.FilePath != "" {
		if f.Line > 0 {
			fmt.Fprintf(&b, "**Location:** %s:%d\n", f.FilePath, f.Line)
		} else {
			fmt.Fprintf(&b, "**Location:** %s\n", f.FilePath)
		}
	}
	if d := strings.TrimSpace(f.Description); d != "" {
		fmt.Fprintf(&b, "\n%s\n", d)
	}
	if m := strings.TrimSpace(f.Mitigation); m != "" {
		fmt.Fprintf(&b, "\n**Mitigation**\n\n%s\n", m)
	}
	return IssueInput{
		Title:  fmt.Sprintf("[%s] %s", f.Severity, f.Title),
		Body:   b.String(),
		Labels: []string{"security", strings.ToLower(string(f.Severity))},
		Closed: !f.Active || f.IsMitigated,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
