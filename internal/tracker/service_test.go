package tracker

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

type memStore struct {
	trackers map[int64]models.ProductTracker
	issues   map[int64]models.TrackerIssue
}

func (m *memStore) ProductTrackerForFinding(_ context.Context, findingID int64) (models.ProductTracker, error) {
	pt, ok := m.trackers[findingID]
	if !ok {
		return models.ProductTracker{}, sql.ErrNoRows
	}
	return pt, nil
}

func (m *memStore) GetTrackerIssue(_ context.Context, findingID int64) (models.TrackerIssue, error) {
	ti, ok := m.issues[findingID]
	if !ok {
		return models.TrackerIssue{}, sql.ErrNoRows
	}
	return ti, nil
}

func (m *memStore) SaveTrackerIssue(_ context.Context, ti models.TrackerIssue) error {
	m.issues[ti.FindingID] = ti
	return nil
}

type fakeProvider struct {
	name    string
	created []string
	updated []string
	last    IssueInput
	err     error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateIssue(_ context.Context, project string, in IssueInput) (Issue, error) {
	p.created = append(p.created, project)
	p.last = in
	return Issue{Key: "1", URL: "https://tracker/" + project + "/1"}, p.err
}

func (p *fakeProvider) UpdateIssue(_ context.Context, project, key string, in IssueInput) (Issue, error) {
	p.updated = append(p.updated, project+"#"+key)
	p.last = in
	return Issue{Key: key, URL: "https://tracker/" + project + "/" + key, UpdatedAt: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)}, p.err
}

func newStore() *memStore {
	return &memStore{trackers: map[int64]models.ProductTracker{}, issues: map[int64]models.TrackerIssue{}}
}

func TestPushCreatesThenUpdates(t *testing.T) {
	store := newStore()
	store.trackers[1] = models.ProductTracker{Provider: "github", Project: "acme/web", Enabled: true}
	gh := &fakeProvider{name: "github"}
	svc := NewServiceWithProviders(store, gh)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	f := models.Finding{ID: 1, Title: "XSS", Severity: models.SeverityHigh, Active: true, FilePath: "a.go", Line: 3}
	require.NoError(t, svc.Push(ctx, f))
	assert.Equal(t, []string{"acme/web"}, gh.created)
	assert.Equal(t, "[High] XSS", gh.last.Title)
	assert.Contains(t, gh.last.Body, "a.go:3")
	assert.False(t, gh.last.Closed)

	url, err := svc.IssueURL(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, "https://tracker/acme/web/1", url)
	created, err := svc.CreationTime(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, 2024, created.Year())

	f.Active, f.IsMitigated = false, true
	require.NoError(t, svc.Push(ctx, f))
	assert.Equal(t, []string{"acme/web#1"}, gh.updated)
	assert.True(t, gh.last.Closed)
	changed, err := svc.ChangeTime(ctx, f)
	require.NoError(t, err)
	require.NotNil(t, changed)
	assert.Equal(t, 2, changed.Day())
}

func TestPushWithoutTracker(t *testing.T) {
	store := newStore()
	store.trackers[2] = models.ProductTracker{Provider: "jira", Project: "SEC", Enabled: false}
	svc := NewServiceWithProviders(store)

	err := svc.Push(context.Background(), models.Finding{ID: 1})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	err = svc.Push(context.Background(), models.Finding{ID: 2})
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestPushMissingCredentials(t *testing.T) {
	store := newStore()
	store.trackers[1] = models.ProductTracker{Provider: "gitlab", Project: "group/app", Enabled: true}
	svc := NewServiceWithProviders(store, &fakeProvider{name: "github"})
	assert.ErrorIs(t, svc.Push(context.Background(), models.Finding{ID: 1}), ErrNotConfigured)
}

func TestPushRoutesByHost(t *testing.T) {
	store := newStore()
	store.trackers[1] = models.ProductTracker{Provider: "gitlab", Project: "gitlab.corp.example/group/app", Enabled: true}
	public := &fakeProvider{name: "gitlab"}
	corp := &fakeProvider{name: "gitlab"}
	svc := NewServiceWithProviders(store)
	svc.register(providerKey("gitlab", "gitlab.com"), public)
	svc.register(providerKey("gitlab", "gitlab.corp.example"), corp)

	require.NoError(t, svc.Push(context.Background(), models.Finding{ID: 1, Active: true}))
	assert.Empty(t, public.created)
	assert.Equal(t, []string{"group/app"}, corp.created)
}

func TestPushProviderErrorIsReturned(t *testing.T) {
	store := newStore()
	store.trackers[1] = models.ProductTracker{Provider: "jira", Project: "SEC", Enabled: true}
	svc := NewServiceWithProviders(store, &fakeProvider{name: "jira", err: errors.New("502")})
	assert.Error(t, svc.Push(context.Background(), models.Finding{ID: 1}))
	assert.Empty(t, store.issues)
}

func TestIsPushAllIssues(t *testing.T) {
	store := newStore()
	store.trackers[1] = models.ProductTracker{Provider: "jira", PushAllIssues: true, Enabled: true}
	store.trackers[2] = models.ProductTracker{Provider: "jira", PushAllIssues: true, Enabled: false}
	svc := NewServiceWithProviders(store)
	ctx := context.Background()

	for id, want := range map[int64]bool{1: true, 2: false, 3: false} {
		got, err := svc.IsPushAllIssues(ctx, models.Finding{ID: id})
		require.NoError(t, err)
		assert.Equal(t, want, got, "finding %d", id)
	}
}

func TestIssueOfUnpushedFinding(t *testing.T) {
	svc := NewServiceWithProviders(newStore())
	ti, err := svc.Issue(context.Background(), models.Finding{ID: 9})
	require.NoError(t, err)
	assert.Nil(t, ti)
	url, err := svc.IssueURL(context.Background(), models.Finding{ID: 9})
	require.NoError(t, err)
	assert.Empty(t, url)
}
