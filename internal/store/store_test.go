package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/reqresp"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const stamp = "2024-03-01T12:00:00Z"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return New(db)
}

// seed creates product -> engagement -> test and returns their IDs.
func seed(t *testing.T, s *Store, name string) (productID, engagementID, testID int64) {
	t.Helper()
	ctx := context.Background()
	productID, err := s.InsertProduct(ctx, models.Product{Name: name, CreatedAt: stamp, UpdatedAt: stamp})
	require.NoError(t, err)
	engagementID, err = s.InsertEngagement(ctx, models.Engagement{
		ProductID: productID, Name: "CI", TargetStart: "2024-03-01", TargetEnd: "2024-03-31",
		Status: "In Progress", CreatedAt: stamp,
	})
	require.NoError(t, err)
	env, err := s.EnvironmentByName(ctx, "development")
	require.NoError(t, err)
	testID, err = s.CreateTest(ctx, models.Test{
		EngagementID: engagementID, Title: "grype", ScanType: "Anchore Grype", EnvironmentID: env.ID,
		TargetStart: "2024-03-01", TargetEnd: "2024-03-01", CreatedAt: stamp, UpdatedAt: stamp,
	})
	require.NoError(t, err)
	return productID, engagementID, testID
}

func finding(testID int64, title, hash string) models.Finding {
	return models.Finding{
		TestID: testID, Title: title, Severity: models.SeverityHigh, NumericalSeverity: "S1",
		HashCode: hash, Date: "2024-03-01", Active: true, Verified: true, CreatedAt: stamp, UpdatedAt: stamp,
	}
}

func TestEnvironmentsAreSeeded(t *testing.T) {
	s := newTestStore(t)
	envs, err := s.ListEnvironments(context.Background())
	require.NoError(t, err)
	var names []string
	for _, e := range envs {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"Development", "Default", "Lab", "Staging", "Production"}, names)

	_, err = s.EnvironmentByName(context.Background(), "Mars")
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
}

func TestProductNameIsUnique(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "web")
	_, err := s.InsertProduct(context.Background(), models.Product{Name: "web", CreatedAt: stamp, UpdatedAt: stamp})
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))
}

func TestEngagementDateOrder(t *testing.T) {
	s := newTestStore(t)
	pid, _, _ := seed(t, s, "web")
	_, err := s.InsertEngagement(context.Background(), models.Engagement{
		ProductID: pid, Name: "bad", TargetStart: "2024-04-02", TargetEnd: "2024-04-01", CreatedAt: stamp,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Your target start date exceeds your target end date")
}

func TestTagsKeepOrderAndReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, testID := seed(t, s, "web")
	id, err := s.InsertFinding(ctx, finding(testID, "XSS", "h1"))
	require.NoError(t, err)

	require.NoError(t, s.SetFindingTags(ctx, id, []string{"zeta", "alpha", "has space"}))
	f, err := s.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "has space"}, f.Tags)

	live := s.Live(EntityFinding, id, TagField)
	got, err := live.Append(ctx, []string{"alpha", "new"})
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "has space", "new"}, got)

	require.NoError(t, s.SetFindingTags(ctx, id, nil))
	names, err := live.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMatchEndpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, _ := seed(t, s, "web")
	other, _, _ := seed(t, s, "api")

	str := func(v string) *string { return &v }
	port := func(v int) *int { return &v }
	_, err := s.InsertEndpoint(ctx, models.Endpoint{ProductID: pid, Protocol: str("https"), Host: str("Example.com"), CreatedAt: stamp})
	require.NoError(t, err)
	_, err = s.InsertEndpoint(ctx, models.Endpoint{ProductID: pid, Protocol: str("https"), Host: str("example.com"), Port: port(8443), CreatedAt: stamp})
	require.NoError(t, err)
	_, err = s.InsertEndpoint(ctx, models.Endpoint{ProductID: other, Protocol: str("https"), Host: str("example.com"), CreatedAt: stamp})
	require.NoError(t, err)

	got, err := s.MatchEndpoints(ctx, models.EndpointQuery{
		ProductID: pid, Protocol: str("HTTPS"), Host: str("example.COM"), Port: port(443), PortOrNull: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "default port matches the stored NULL port")
	assert.Nil(t, got[0].Port)

	got, err = s.MatchEndpoints(ctx, models.EndpointQuery{ProductID: pid, Protocol: str("https"), Host: str("example.com"), Port: port(8443)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 8443, *got[0].Port)

	got, err = s.MatchEndpoints(ctx, models.EndpointQuery{ProductID: pid, Protocol: str("https"), Host: str("example.com"), Path: str("x")})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListFindingsFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, testID := seed(t, s, "web")
	_, _, otherTest := seed(t, s, "api")

	for _, title := range []string{"a", "b", "c"} {
		_, err := s.InsertFinding(ctx, finding(testID, title, title))
		require.NoError(t, err)
	}
	inactive := finding(otherTest, "d", "d")
	inactive.Active = false
	_, err := s.InsertFinding(ctx, inactive)
	require.NoError(t, err)

	all, total, err := s.ListFindings(ctx, FindingFilter{}, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Len(t, all, 2)

	active := true
	mine, total, err := s.ListFindings(ctx, FindingFilter{Active: &active, Products: []int64{pid}}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, f := range mine {
		assert.Equal(t, testID, f.TestID)
		assert.NotNil(t, f.Tags)
	}
}

func TestActiveEngagementFindingsExcludeTest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, engID, testID := seed(t, s, "web")
	_, err := s.InsertFinding(ctx, finding(testID, "old", "h-old"))
	require.NoError(t, err)

	got, err := s.ListActiveEngagementFindings(ctx, engID, "Anchore Grype", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.ListActiveEngagementFindings(ctx, engID, "Anchore Grype", testID)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = s.ListActiveEngagementFindings(ctx, engID, "Trivy Scan", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSimpleRiskAcceptanceFollowsProduct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, testID := seed(t, s, "web")

	ok, err := s.SimpleRiskAcceptance(ctx, testID)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := s.GetProduct(ctx, pid)
	require.NoError(t, err)
	p.EnableSimpleRiskAcceptance = true
	require.NoError(t, s.SaveProduct(ctx, p))

	ok, err = s.SimpleRiskAcceptance(ctx, testID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SimpleRiskAcceptance(ctx, 999)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestTrackerIssueLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, testID := seed(t, s, "web")
	fid, err := s.InsertFinding(ctx, finding(testID, "XSS", "h"))
	require.NoError(t, err)

	_, err = s.ProductTrackerForFinding(ctx, fid)
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	require.NoError(t, s.PutProductTracker(ctx, models.ProductTracker{
		ProductID: pid, Provider: "jira", Project: "SEC", Enabled: true, UpdatedAt: stamp,
	}))
	require.NoError(t, s.PutProductTracker(ctx, models.ProductTracker{
		ProductID: pid, Provider: "jira", Project: "SEC", PushAllIssues: true, Enabled: true, UpdatedAt: stamp,
	}))
	pt, err := s.ProductTrackerForFinding(ctx, fid)
	require.NoError(t, err)
	assert.True(t, pt.PushAllIssues)

	_, err = s.GetTrackerIssue(ctx, fid)
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	ti := models.TrackerIssue{FindingID: fid, Provider: "jira", Project: "SEC", IssueKey: "SEC-1", URL: "u", CreatedAt: stamp, UpdatedAt: stamp}
	require.NoError(t, s.SaveTrackerIssue(ctx, ti))
	ti.CreatedAt, ti.UpdatedAt = "2025-01-01T00:00:00Z", "2025-01-01T00:00:00Z"
	require.NoError(t, s.SaveTrackerIssue(ctx, ti))

	got, err := s.GetTrackerIssue(ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, stamp, got.CreatedAt)
	assert.Equal(t, "2025-01-01T00:00:00Z", got.UpdatedAt)
}

func TestCapturesAndNotes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, testID := seed(t, s, "web")
	fid, err := s.InsertFinding(ctx, finding(testID, "XSS", "h"))
	require.NoError(t, err)

	caps := s.Captures(fid)
	require.NoError(t, caps.Add(ctx, reqresp.Record{
		{Request: "GET / HTTP/1.1", Response: "HTTP/1.1 200 OK"},
		{Request: "POST /login HTTP/1.1", Response: "HTTP/1.1 302 Found"},
	}))
	rec, err := reqresp.Project(ctx, caps)
	require.NoError(t, err)
	require.Len(t, rec, 2)
	assert.Equal(t, "GET / HTTP/1.1", rec[0].Request)

	_, err = caps.ListCaptures(ctx, "request_base64")
	assert.Error(t, err)

	n, err := s.AddNote(ctx, models.Note{FindingID: fid, Entry: "triaged", Author: "alice"})
	require.NoError(t, err)
	n, err = s.EditNote(ctx, n, "triaged twice", "bob")
	require.NoError(t, err)
	got, err := s.GetNote(ctx, fid, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Edited)
	assert.Equal(t, "bob", got.Editor)
	require.NotNil(t, got.EditTime)

	_, err = s.GetNote(ctx, fid+1, n.ID)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
}

func TestDeleteFindingRemovesDependents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, testID := seed(t, s, "web")
	fid, err := s.InsertFinding(ctx, finding(testID, "XSS", "h"))
	require.NoError(t, err)
	host := "example.com"
	eid, err := s.InsertEndpoint(ctx, models.Endpoint{ProductID: pid, Host: &host, CreatedAt: stamp})
	require.NoError(t, err)
	require.NoError(t, s.LinkFindingEndpoint(ctx, fid, eid))
	require.NoError(t, s.LinkFindingEndpoint(ctx, fid, eid))
	ids, err := s.FindingEndpointIDs(ctx, fid)
	require.NoError(t, err)
	assert.Equal(t, []int64{eid}, ids)
	require.NoError(t, s.SetFindingTags(ctx, fid, []string{"x"}))

	require.NoError(t, s.DeleteFinding(ctx, fid))
	_, err = s.GetFinding(ctx, fid)
	assert.True(t, apierr.IsKind(err, apierr.KindNotFound))
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestFindingGroups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, testID := seed(t, s, "web")
	fid, err := s.InsertFinding(ctx, finding(testID, "XSS", "h"))
	require.NoError(t, err)

	g := models.FindingGroup{TestID: testID, Name: "lib-a", GroupBy: "component_name", CreatedAt: stamp}
	first, err := s.EnsureFindingGroup(ctx, g)
	require.NoError(t, err)
	second, err := s.EnsureFindingGroup(ctx, g)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.NoError(t, s.AddFindingGroupMember(ctx, first, fid))
	require.NoError(t, s.AddFindingGroupMember(ctx, first, fid))
}

func TestReplaceLanguages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid, _, _ := seed(t, s, "web")

	require.NoError(t, s.ReplaceLanguages(ctx, pid, []models.Language{{Language: "Go", Files: 3, Code: 300, CreatedAt: stamp}}))
	require.NoError(t, s.ReplaceLanguages(ctx, pid, []models.Language{
		{Language: "Go", Files: 4, Code: 400, CreatedAt: stamp},
		{Language: "YAML", Files: 1, Code: 20, CreatedAt: stamp},
	}))
	langs, err := s.ListLanguages(ctx, pid)
	require.NoError(t, err)
	require.Len(t, langs, 2)
	assert.Equal(t, "Go", langs[0].Language)
	assert.Equal(t, 400, langs[0].Code)
}
