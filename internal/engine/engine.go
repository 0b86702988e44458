// Package engine is the scan ingestion engine behind import and reimport:
// it parses reports, creates and reconciles findings and records each run.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const dateLayout = "2006-01-02"

// Store is the persistence the engine needs.
type Store interface {
	CreateTest(ctx context.Context, t models.Test) (int64, error)
	SaveTest(ctx context.Context, t models.Test) error
	SetTestTags(ctx context.Context, testID int64, names []string) error
	ListTestFindings(ctx context.Context, testID int64) ([]models.Finding, error)
	// ListActiveEngagementFindings returns active findings of scanType in the
	// engagement, excluding those of excludeTestID.
	ListActiveEngagementFindings(ctx context.Context, engagementID int64, scanType string, excludeTestID int64) ([]models.Finding, error)
	InsertFinding(ctx context.Context, f models.Finding) (int64, error)
	SaveFinding(ctx context.Context, f models.Finding) error
	LinkFindingEndpoint(ctx context.Context, findingID, endpointID int64) error
	EnsureFindingGroup(ctx context.Context, g models.FindingGroup) (int64, error)
	AddFindingGroupMember(ctx context.Context, groupID, findingID int64) error
	InsertTestImport(ctx context.Context, ti models.TestImport) (int64, error)
}

// Pusher sends findings to the product's external tracker.
type Pusher interface {
	Push(ctx context.Context, f models.Finding) error
}

// Summary describes one finished import or reimport.
type Summary struct {
	ImportType  string // import | reimport
	BatchID     string
	Test        models.Test
	ProductID   int64 // zero on reimport
	Total       int
	New         int
	Closed      int
	Reactivated int
	Untouched   int
	// NewFindings are the findings created by this run.
	NewFindings []models.Finding
}

// Observer is told about every finished run.
type Observer func(ctx context.Context, s Summary)

// Engine implements ingest.Engine.
type Engine struct {
	store     Store
	pusher    Pusher
	observers []Observer
	now       func() time.Time
	batchID   func() string
}

func New(store Store, pusher Pusher, observers ...Observer) *Engine {
	return &Engine{
		store:     store,
		pusher:    pusher,
		observers: observers,
		now:       time.Now,
		batchID:   uuid.NewString,
	}
}

var _ ingest.Engine = (*Engine)(nil)

// Import creates a test in the engagement holding the report's findings.
func (e *Engine) Import(ctx context.Context, p ingest.ImportParams) (ingest.ImportOutcome, error) {
	parsed, err := e.read(p.Options)
	if err != nil {
		return ingest.ImportOutcome{}, err
	}
	now := e.now().UTC()
	scanDate := p.ScanDate.Format(dateLayout)

	test := models.Test{
		EngagementID:  p.Engagement.ID,
		Title:         firstNonEmpty(p.TestTitle, p.ScanType.Name),
		ScanType:      p.ScanType.Name,
		EnvironmentID: p.Environment.ID,
		TargetStart:   scanDate,
		TargetEnd:     scanDate,
		Lead:          p.Lead,
		Version:       p.Version,
		BuildID:       p.BuildID,
		BranchTag:     p.BranchTag,
		CommitHash:    p.CommitHash,
		CreatedAt:     now.Format(time.RFC3339),
		UpdatedAt:     now.Format(time.RFC3339),
	}
	id, err := e.store.CreateTest(ctx, test)
	if err != nil {
		return ingest.ImportOutcome{}, fmt.Errorf("creating test: %w", err)
	}
	test.ID = id
	if len(p.Tags) > 0 {
		if err := e.store.SetTestTags(ctx, test.ID, p.Tags); err != nil {
			return ingest.ImportOutcome{}, fmt.Errorf("tagging test %d: %w", test.ID, err)
		}
		test.Tags = p.Tags
	}

	created := make([]models.Finding, 0, len(parsed))
	hashes := make(map[string]struct{}, len(parsed))
	for _, pf := range parsed {
		f, err := e.createFinding(ctx, test, p.Options, pf, now)
		if err != nil {
			return ingest.ImportOutcome{}, err
		}
		created = append(created, f)
		hashes[f.HashCode] = struct{}{}
	}
	if err := e.group(ctx, test, p.GroupBy, created, now); err != nil {
		return ingest.ImportOutcome{}, err
	}

	closed := 0
	if p.CloseOldFindings {
		old, err := e.store.ListActiveEngagementFindings(ctx, p.Engagement.ID, p.ScanType.Name, test.ID)
		if err != nil {
			return ingest.ImportOutcome{}, fmt.Errorf("listing old findings: %w", err)
		}
		if closed, err = e.closeMissing(ctx, old, hashes, now); err != nil {
			return ingest.ImportOutcome{}, err
		}
	}

	sum := Summary{
		ImportType: "import", Test: test, ProductID: p.Engagement.ProductID,
		Total: len(parsed), New: len(created), Closed: closed, NewFindings: created,
	}
	if err := e.record(ctx, &sum, scanDate, p.Labels, now); err != nil {
		return ingest.ImportOutcome{}, err
	}
	return ingest.ImportOutcome{Test: test, New: len(created), Closed: closed}, nil
}

// Reimport reconciles the test's findings with the report by hash_code.
func (e *Engine) Reimport(ctx context.Context, p ingest.ReimportParams) (ingest.ReimportOutcome, error) {
	parsed, err := e.read(p.Options)
	if err != nil {
		return ingest.ReimportOutcome{}, err
	}
	now := e.now().UTC()
	scanDate := p.ScanDate.Format(dateLayout)
	test := p.Test

	existing, err := e.store.ListTestFindings(ctx, test.ID)
	if err != nil {
		return ingest.ReimportOutcome{}, fmt.Errorf("listing findings of test %d: %w", test.ID, err)
	}
	byHash := make(map[string]models.Finding, len(existing))
	for _, f := range existing {
		if _, ok := byHash[f.HashCode]; !ok {
			byHash[f.HashCode] = f
		}
	}

	out := ingest.ReimportOutcome{Total: len(parsed)}
	var created []models.Finding
	seen := make(map[string]struct{}, len(parsed))
	for _, pf := range parsed {
		seen[pf.Fingerprint] = struct{}{}
		match, ok := byHash[pf.Fingerprint]
		switch {
		case !ok:
			f, err := e.createFinding(ctx, test, p.Options, pf, now)
			if err != nil {
				return out, err
			}
			created = append(created, f)
		case match.IsMitigated && !match.Duplicate && !match.FalseP && !match.RiskAccepted:
			match.Active, match.Verified = true, p.Verified
			match.IsMitigated, match.Mitigated = false, nil
			match.UpdatedAt = now.Format(time.RFC3339)
			if err := e.store.SaveFinding(ctx, match); err != nil {
				return out, fmt.Errorf("reactivating finding %d: %w", match.ID, err)
			}
			out.Reactivated++
			e.push(ctx, p.PushToJira, match)
		default:
			out.Untouched++
		}
	}
	out.New = len(created)
	if err := e.group(ctx, test, p.GroupBy, created, now); err != nil {
		return out, err
	}

	if p.CloseOldFindings {
		var active []models.Finding
		for _, f := range existing {
			if f.Active {
				active = append(active, f)
			}
		}
		if out.Closed, err = e.closeMissing(ctx, active, seen, now); err != nil {
			return out, err
		}
	}

	if p.Version != "" {
		test.Version = p.Version
	}
	if p.BuildID != "" {
		test.BuildID = p.BuildID
	}
	if p.BranchTag != "" {
		test.BranchTag = p.BranchTag
	}
	if p.CommitHash != "" {
		test.CommitHash = p.CommitHash
	}
	if scanDate > test.TargetEnd {
		test.TargetEnd = scanDate
	}
	test.UpdatedAt = now.Format(time.RFC3339)
	if err := e.store.SaveTest(ctx, test); err != nil {
		return out, fmt.Errorf("saving test %d: %w", test.ID, err)
	}
	if len(p.Tags) > 0 {
		if err := e.store.SetTestTags(ctx, test.ID, p.Tags); err != nil {
			return out, fmt.Errorf("tagging test %d: %w", test.ID, err)
		}
		test.Tags = p.Tags
	}
	out.Test = test

	sum := Summary{
		ImportType: "reimport", Test: test, Total: out.Total, New: out.New, Closed: out.Closed,
		Reactivated: out.Reactivated, Untouched: out.Untouched, NewFindings: created,
	}
	if err := e.record(ctx, &sum, scanDate, p.Labels, now); err != nil {
		return out, err
	}
	return out, nil
}

// read parses the uploaded report and applies the severity floor.
func (e *Engine) read(o ingest.Options) ([]Parsed, error) {
	if o.ScanType.Parser == "" {
		err := fmt.Errorf("%w: no parser available for scan type %q", ingest.ErrValue, o.ScanType.Name)
		slog.Warn("import: rejected scan", "scan_type", o.ScanType.Name, "error", err)
		return nil, err
	}
	if o.File == nil || o.File.Content == nil {
		return nil, fmt.Errorf("%w: scan type %q needs a report file", ingest.ErrValue, o.ScanType.Name)
	}
	data, err := io.ReadAll(o.File.Content)
	if err != nil {
		return nil, fmt.Errorf("reading report %s: %w", o.File.Name, err)
	}
	parsed, err := Parse(o.ScanType.Parser, data)
	if err != nil {
		slog.Warn("import: failed to parse report", "scan_type", o.ScanType.Name, "file", o.File.Name, "error", err)
		return nil, err
	}
	kept := parsed[:0]
	for _, pf := range parsed {
		if pf.Severity.AtLeast(o.MinimumSeverity) {
			kept = append(kept, pf)
		}
	}
	slog.Debug("import: parsed report", "scan_type", o.ScanType.Name, "parsed", len(parsed), "kept", len(kept))
	return Dedup(kept), nil
}

func (e *Engine) createFinding(ctx context.Context, test models.Test, o ingest.Options, pf Parsed, now time.Time) (models.Finding, error) {
	ts := now.Format(time.RFC3339)
	f := models.Finding{
		TestID:            test.ID,
		Title:             pf.Title,
		Description:       pf.Description,
		Severity:          pf.Severity,
		NumericalSeverity: pf.Severity.Numerical(),
		Mitigation:        pf.Mitigation,
		FilePath:          pf.FilePath,
		Line:              pf.Line,
		ComponentName:     pf.ComponentName,
		ComponentVersion:  pf.ComponentVersion,
		VulnID:            pf.VulnID,
		CWE:               pf.CWE,
		Scanner:           pf.Scanner,
		HashCode:          pf.Fingerprint,
		Date:              o.ScanDate.Format(dateLayout),
		Active:            o.Active,
		Verified:          o.Verified,
		Reporter:          o.Lead,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
	if o.PushToJira {
		f.PushRequestedAt = &ts
	}
	id, err := e.store.InsertFinding(ctx, f)
	if err != nil {
		return f, fmt.Errorf("inserting finding %q: %w", f.Title, err)
	}
	f.ID = id
	for _, ep := range o.EndpointsToAdd {
		if err := e.store.LinkFindingEndpoint(ctx, f.ID, ep.ID); err != nil {
			return f, fmt.Errorf("linking finding %d to endpoint %d: %w", f.ID, ep.ID, err)
		}
	}
	e.push(ctx, o.PushToJira, f)
	return f, nil
}

func (e *Engine) push(ctx context.Context, requested bool, f models.Finding) {
	if !requested || e.pusher == nil {
		return
	}
	if err := e.pusher.Push(ctx, f); err != nil {
		slog.Warn("tracker: push failed", "finding_id", f.ID, "error", err)
	}
}

// closeMissing mitigates every finding whose hash is not in keep.
func (e *Engine) closeMissing(ctx context.Context, candidates []models.Finding, keep map[string]struct{}, now time.Time) (int, error) {
	ts := now.Format(time.RFC3339)
	closed := 0
	for _, f := range candidates {
		if _, ok := keep[f.HashCode]; ok {
			continue
		}
		f.Active, f.IsMitigated, f.Mitigated, f.UpdatedAt = false, true, &ts, ts
		if err := e.store.SaveFinding(ctx, f); err != nil {
			return closed, fmt.Errorf("closing finding %d: %w", f.ID, err)
		}
		closed++
	}
	return closed, nil
}

// groupKey returns the finding group name for strategy, or "" to skip.
func groupKey(strategy string, f models.Finding) string {
	switch strategy {
	case "component_name":
		return f.ComponentName
	case "component_name+component_version":
		if f.ComponentName == "" {
			return ""
		}
		return f.ComponentName + ":" + f.ComponentVersion
	case "file_path":
		return f.FilePath
	case "finding_title":
		return f.Title
	default:
		return ""
	}
}

func (e *Engine) group(ctx context.Context, test models.Test, strategy string, fs []models.Finding, now time.Time) error {
	if strategy == "" {
		return nil
	}
	groups := map[string]int64{}
	for _, f := range fs {
		name := groupKey(strategy, f)
		if name == "" {
			continue
		}
		gid, ok := groups[name]
		if !ok {
			var err error
			gid, err = e.store.EnsureFindingGroup(ctx, models.FindingGroup{
				TestID: test.ID, Name: name, GroupBy: strategy, CreatedAt: now.Format(time.RFC3339),
			})
			if err != nil {
				return fmt.Errorf("creating finding group %q: %w", name, err)
			}
			groups[name] = gid
		}
		if err := e.store.AddFindingGroupMember(ctx, gid, f.ID); err != nil {
			return fmt.Errorf("grouping finding %d: %w", f.ID, err)
		}
	}
	return nil
}

// record writes the test_imports row and notifies observers.
func (e *Engine) record(ctx context.Context, s *Summary, scanDate string, l ingest.Labels, now time.Time) error {
	s.BatchID = e.batchID()
	_, err := e.store.InsertTestImport(ctx, models.TestImport{
		TestID:      s.Test.ID,
		BatchID:     s.BatchID,
		ImportType:  s.ImportType,
		ScanDate:    scanDate,
		Total:       s.Total,
		New:         s.New,
		Closed:      s.Closed,
		Reactivated: s.Reactivated,
		Untouched:   s.Untouched,
		Version:     l.Version,
		BuildID:     l.BuildID,
		BranchTag:   l.BranchTag,
		CommitHash:  l.CommitHash,
		CreatedAt:   now.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("recording %s of test %d: %w", s.ImportType, s.Test.ID, err)
	}
	for _, obs := range e.observers {
		obs(ctx, *s)
	}
	return nil
}
