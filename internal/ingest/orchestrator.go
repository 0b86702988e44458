// Package ingest validates scan import and reimport requests and hands them
// to the ingestion engine.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Failure classes the engine reports for bad scan input. Engine errors
// wrapping either are client errors.
var (
	ErrSyntax = errors.New("malformed scan report")
	ErrValue  = errors.New("invalid scan value")
)

const dateLayout = "2006-01-02"

// GroupByOptions are the accepted finding grouping strategies.
var GroupByOptions = []string{"component_name", "component_name+component_version", "file_path", "finding_title"}

// Upload is a report file attached to a request.
type Upload struct {
	Name    string
	Size    int64
	Content io.Reader
}

// Labels are the build coordinates recorded on the test.
type Labels struct {
	Version    string `json:"version,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	BranchTag  string `json:"branch_tag,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// ImportRequest is a decoded import-scan request. Pointer members are
// optional and take their defaults when nil.
type ImportRequest struct {
	ScanType         string
	ScanDate         string
	MinimumSeverity  string
	Active           *bool
	Verified         *bool
	EngagementID     int64
	Lead             string
	Environment      string
	EndpointToAdd    *int64
	Tags             *tags.Collection
	CloseOldFindings *bool
	PushToJira       bool
	GroupBy          string
	TestTitle        string
	Labels
	File *Upload
}

// ReimportRequest is a decoded reimport-scan request.
type ReimportRequest struct {
	ScanType         string
	ScanDate         string
	MinimumSeverity  string
	Active           *bool
	Verified         *bool
	TestID           int64
	Lead             string
	EndpointToAdd    *int64
	Tags             *tags.Collection
	CloseOldFindings *bool
	PushToJira       bool
	GroupBy          string
	Labels
	File *Upload
}

// Options are the normalised parameters shared by both engine calls.
type Options struct {
	ScanType         ScanType
	ScanDate         time.Time
	MinimumSeverity  models.SeverityLevel
	Active           bool
	Verified         bool
	Lead             string
	Tags             tags.Collection
	EndpointsToAdd   []models.Endpoint
	CloseOldFindings bool
	PushToJira       bool
	GroupBy          string
	Labels
	File *Upload
}

// ImportParams is the single engine call for an import.
type ImportParams struct {
	Options
	Engagement  models.Engagement
	Environment models.Environment
	TestTitle   string
}

// ReimportParams is the single engine call for a reimport.
type ReimportParams struct {
	Options
	Test models.Test
}

// ImportOutcome is what the engine returns from an import.
type ImportOutcome struct {
	Test   models.Test
	New    int
	Closed int
}

// ReimportOutcome is what the engine returns from a reimport.
type ReimportOutcome struct {
	Test        models.Test
	Total       int
	New         int
	Closed      int
	Reactivated int
	Untouched   int
}

// Engine ingests parsed scan reports.
type Engine interface {
	Import(ctx context.Context, p ImportParams) (ImportOutcome, error)
	Reimport(ctx context.Context, p ReimportParams) (ReimportOutcome, error)
}

// Lookup resolves the objects a request refers to. Missing objects are
// reported as apierr NotFound errors.
type Lookup interface {
	EnvironmentByName(ctx context.Context, name string) (models.Environment, error)
	GetEngagement(ctx context.Context, id int64) (models.Engagement, error)
	GetTest(ctx context.Context, id int64) (models.Test, error)
	GetEndpoint(ctx context.Context, id int64) (models.Endpoint, error)
}

// ImportResult is returned to the client after an import.
type ImportResult struct {
	TestID          int64           `json:"test"`
	EngagementID    int64           `json:"engagement"`
	ScanType        string          `json:"scan_type"`
	ScanDate        string          `json:"scan_date"`
	MinimumSeverity string          `json:"minimum_severity"`
	Environment     string          `json:"environment"`
	Tags            tags.Collection `json:"tags"`
	New             int             `json:"new_findings"`
	Closed          int             `json:"closed_findings"`
	Labels
}

// ReimportResult is returned to the client after a reimport.
type ReimportResult struct {
	TestID          int64           `json:"test"`
	ScanType        string          `json:"scan_type"`
	ScanDate        string          `json:"scan_date"`
	MinimumSeverity string          `json:"minimum_severity"`
	Tags            tags.Collection `json:"tags"`
	Total           int             `json:"total_findings"`
	New             int             `json:"new_findings"`
	Closed          int             `json:"closed_findings"`
	Reactivated     int             `json:"reactivated_findings"`
	Untouched       int             `json:"untouched_findings"`
	Labels
}

// Orchestrator validates requests and forwards them to the Engine.
type Orchestrator struct {
	engine   Engine
	lookup   Lookup
	registry *Registry
	cfg      config.ImportConfig
	now      func() time.Time
}

func NewOrchestrator(engine Engine, lookup Lookup, registry *Registry, cfg config.ImportConfig) *Orchestrator {
	if cfg.DefaultEnvironment == "" {
		cfg.DefaultEnvironment = config.DefaultEnvironmentName
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = config.DefaultMaxFileSizeMB
	}
	return &Orchestrator{engine: engine, lookup: lookup, registry: registry, cfg: cfg, now: time.Now}
}

// Registry returns the scan-type registry requests are checked against.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Import validates req and runs a new import into its engagement.
func (o *Orchestrator) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.EngagementID == 0 {
		return nil, apierr.MissingField("engagement", "This field is required.")
	}
	opts, err := o.options(ctx, common{
		scanType: req.ScanType, scanDate: req.ScanDate, dateRequired: false,
		minimumSeverity: req.MinimumSeverity, active: req.Active, verified: req.Verified,
		endpointToAdd: req.EndpointToAdd, tags: req.Tags, closeOld: req.CloseOldFindings,
		closeOldDefault: false, groupBy: req.GroupBy, file: req.File,
	})
	if err != nil {
		return nil, err
	}
	opts.Lead, opts.PushToJira, opts.Labels = req.Lead, req.PushToJira, req.Labels

	envName := req.Environment
	if envName == "" {
		envName = o.cfg.DefaultEnvironment
	}
	env, err := o.lookup.EnvironmentByName(ctx, envName)
	if err != nil {
		return nil, err
	}
	eng, err := o.lookup.GetEngagement(ctx, req.EngagementID)
	if err != nil {
		return nil, err
	}

	out, err := o.engine.Import(ctx, ImportParams{Options: opts, Engagement: eng, Environment: env, TestTitle: req.TestTitle})
	if err != nil {
		return nil, ingestionError(err)
	}
	slog.Info("import: scan imported", "test_id", out.Test.ID, "scan_type", opts.ScanType.Name,
		"new", out.New, "closed", out.Closed)
	return &ImportResult{
		TestID:          out.Test.ID,
		EngagementID:    eng.ID,
		ScanType:        opts.ScanType.Name,
		ScanDate:        opts.ScanDate.Format(dateLayout),
		MinimumSeverity: string(opts.MinimumSeverity),
		Environment:     env.Name,
		Tags:            opts.Tags,
		New:             out.New,
		Closed:          out.Closed,
		Labels:          opts.Labels,
	}, nil
}

// Reimport validates req and reconciles the target test against the report.
func (o *Orchestrator) Reimport(ctx context.Context, req ReimportRequest) (*ReimportResult, error) {
	if req.TestID == 0 {
		return nil, apierr.MissingField("test", "This field is required.")
	}
	opts, err := o.options(ctx, common{
		scanType: req.ScanType, scanDate: req.ScanDate, dateRequired: true,
		minimumSeverity: req.MinimumSeverity, active: req.Active, verified: req.Verified,
		endpointToAdd: req.EndpointToAdd, tags: req.Tags, closeOld: req.CloseOldFindings,
		closeOldDefault: true, groupBy: req.GroupBy, file: req.File,
	})
	if err != nil {
		return nil, err
	}
	opts.Lead, opts.PushToJira, opts.Labels = req.Lead, req.PushToJira, req.Labels

	test, err := o.lookup.GetTest(ctx, req.TestID)
	if err != nil {
		return nil, err
	}

	out, err := o.engine.Reimport(ctx, ReimportParams{Options: opts, Test: test})
	if err != nil {
		return nil, ingestionError(err)
	}
	slog.Info("import: scan reimported", "test_id", out.Test.ID, "scan_type", opts.ScanType.Name,
		"total", out.Total, "new", out.New, "closed", out.Closed,
		"reactivated", out.Reactivated, "untouched", out.Untouched)
	return &ReimportResult{
		TestID:          out.Test.ID,
		ScanType:        opts.ScanType.Name,
		ScanDate:        opts.ScanDate.Format(dateLayout),
		MinimumSeverity: string(opts.MinimumSeverity),
		Tags:            opts.Tags,
		Total:           out.Total,
		New:             out.New,
		Closed:          out.Closed,
		Reactivated:     out.Reactivated,
		Untouched:       out.Untouched,
		Labels:          opts.Labels,
	}, nil
}

type common struct {
	scanType        string
	scanDate        string
	dateRequired    bool
	minimumSeverity string
	active          *bool
	verified        *bool
	endpointToAdd   *int64
	tags            *tags.Collection
	closeOld        *bool
	closeOldDefault bool
	groupBy         string
	file            *Upload
}

func (o *Orchestrator) options(ctx context.Context, c common) (Options, error) {
	var opts Options

	if c.scanType == "" {
		return opts, apierr.MissingField("scan_type", "This field is required.")
	}
	st, ok := o.registry.Lookup(c.scanType)
	if !ok {
		return opts, apierr.Validation("scan_type", fmt.Sprintf("%q is not a valid choice.", c.scanType))
	}
	opts.ScanType = st

	if c.file == nil && st.RequiresFile {
		return opts, apierr.New(apierr.KindMissingFile,
			fmt.Sprintf("Uploading a Report File is required for %s", st.Name)).WithField("file")
	}
	if c.file != nil && c.file.Size > o.cfg.MaxFileSizeBytes() {
		return opts, apierr.New(apierr.KindFileTooLarge,
			fmt.Sprintf("Report file is too large. Maximum supported size is %d MB", o.cfg.MaxFileSizeMB)).
			WithField("file")
	}
	opts.File = c.file

	today := o.now()
	opts.ScanDate = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case c.scanDate != "":
		d, err := time.Parse(dateLayout, c.scanDate)
		if err != nil {
			return opts, apierr.Validation("scan_date", "Date has wrong format. Use YYYY-MM-DD.")
		}
		if d.After(opts.ScanDate) {
			return opts, apierr.New(apierr.KindInvalidDate, "The date cannot be in the future!").WithField("scan_date")
		}
		opts.ScanDate = d
	case c.dateRequired:
		return opts, apierr.MissingField("scan_date", "This field is required.")
	}

	opts.MinimumSeverity = models.SeverityInfo
	if c.minimumSeverity != "" {
		sev, ok := models.ParseSeverity(c.minimumSeverity)
		if !ok {
			return opts, apierr.Validation("minimum_severity", fmt.Sprintf("%q is not a valid choice.", c.minimumSeverity))
		}
		opts.MinimumSeverity = sev
	}

	if c.groupBy != "" && !validGroupBy(c.groupBy) {
		return opts, apierr.Validation("group_by", fmt.Sprintf("%q is not a valid choice.", c.groupBy))
	}
	opts.GroupBy = c.groupBy

	opts.Active, opts.Verified = boolOr(c.active, true), boolOr(c.verified, true)
	opts.CloseOldFindings = boolOr(c.closeOld, c.closeOldDefault)
	opts.Tags = tags.Collection{}
	if c.tags != nil {
		opts.Tags = *c.tags
	}

	if c.endpointToAdd != nil {
		ep, err := o.lookup.GetEndpoint(ctx, *c.endpointToAdd)
		if err != nil {
			if apierr.IsKind(err, apierr.KindNotFound) {
				return opts, apierr.Validation("endpoint_to_add",
					fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", *c.endpointToAdd))
			}
			return opts, err
		}
		opts.EndpointsToAdd = []models.Endpoint{ep}
	}
	return opts, nil
}

// ingestionError turns the engine's syntax and value failures into a client
// error carrying the original message. Anything else is a server fault.
func ingestionError(err error) error {
	if errors.Is(err, ErrSyntax) || errors.Is(err, ErrValue) {
		return apierr.New(apierr.KindIngestion, err.Error()).Wrap(err)
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	return fmt.Errorf("ingesting scan: %w", err)
}

func validGroupBy(v string) bool {
	for _, g := range GroupByOptions {
		if g == v {
			return true
		}
	}
	return false
}

func boolOr(v *bool, d bool) bool {
	if v == nil {
		return d
	}
	return *v
}
