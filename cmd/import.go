package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/engine"
	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/internal/notify"
	"github.com/CosmoTheDev/ctrlscan-api/internal/store"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tracker"
	"github.com/CosmoTheDev/ctrlscan-api/internal/vcs"
	"github.com/spf13/cobra"
)

// importFlags are shared by import and reimport.
type importFlags struct {
	scanType         string
	file             string
	scanDate         string
	minimumSeverity  string
	active           bool
	verified         bool
	lead             string
	endpointToAdd    int64
	tags             []string
	closeOldFindings bool
	pushToJira       bool
	groupBy          string
	labels           ingest.Labels
	gitDir           string
	output           string
}

var (
	importOpts     importFlags
	importEngageID int64
	importEnv      string
	importTitle    string

	reimportOpts   importFlags
	reimportTestID int64
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a scan report into an engagement",
	Long: `Parses a scanner report and creates a new test in the engagement with one
finding per accepted result. Use --git-dir to record the commit and branch
of a local checkout on the test.

Example:
  ctrlscan-api import --engagement 3 --scan-type "Anchore Grype" --file grype.json --git-dir .`,
	RunE: runImport,
}

var reimportCmd = &cobra.Command{
	Use:   "reimport",
	Short: "Reconcile a scan report against an existing test",
	Long: `Matches the report's findings against the test: matches are kept or
reactivated, unmatched report entries become new findings and, unless
--close-old-findings=false, findings missing from the report are mitigated.`,
	RunE: runReimport,
}

func bindImportFlags(cmd *cobra.Command, f *importFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.scanType, "scan-type", "", "scan type name (see GET /api/v2/scan_types)")
	fl.StringVarP(&f.file, "file", "f", "", "report file to ingest")
	fl.StringVar(&f.scanDate, "scan-date", "", "date of the scan, YYYY-MM-DD (default today)")
	fl.StringVar(&f.minimumSeverity, "minimum-severity", "", "drop findings below this severity (default Info)")
	fl.BoolVar(&f.active, "active", true, "mark new findings active")
	fl.BoolVar(&f.verified, "verified", true, "mark new findings verified")
	fl.StringVar(&f.lead, "lead", "", "lead user recorded on the test")
	fl.Int64Var(&f.endpointToAdd, "endpoint", 0, "endpoint ID linked to every imported finding")
	fl.StringSliceVar(&f.tags, "tag", nil, "tag applied to the test (repeatable)")
	fl.BoolVar(&f.closeOldFindings, "close-old-findings", false, "mitigate findings missing from the report")
	fl.BoolVar(&f.pushToJira, "push-to-jira", false, "push new findings to the product's tracker")
	fl.StringVar(&f.groupBy, "group-by", "", "group findings by component_name, file_path, ...")
	fl.StringVar(&f.labels.Version, "build-version", "", "version label recorded on the test")
	fl.StringVar(&f.labels.BuildID, "build-id", "", "build ID recorded on the test")
	fl.StringVar(&f.labels.BranchTag, "branch-tag", "", "branch or tag recorded on the test")
	fl.StringVar(&f.labels.CommitHash, "commit-hash", "", "commit hash recorded on the test")
	fl.StringVar(&f.gitDir, "git-dir", "", "read commit and branch labels from this git checkout")
	fl.StringVarP(&f.output, "output", "o", "table", "output format: table, json or yaml")
	_ = cmd.MarkFlagRequired("scan-type")
}

func init() {
	bindImportFlags(importCmd, &importOpts)
	importCmd.Flags().Int64Var(&importEngageID, "engagement", 0, "engagement ID receiving the new test")
	importCmd.Flags().StringVar(&importEnv, "environment", "", "development environment name (default from config)")
	importCmd.Flags().StringVar(&importTitle, "test-title", "", "title of the new test")
	_ = importCmd.MarkFlagRequired("engagement")

	bindImportFlags(reimportCmd, &reimportOpts)
	reimportCmd.Flags().Int64Var(&reimportTestID, "test", 0, "test ID to reconcile")
	_ = reimportCmd.MarkFlagRequired("test")
}

// boolFlag is nil unless the flag was given, so the server default applies.
func boolFlag(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

// resolve fills labels from --git-dir without overriding explicit flags,
// and opens the report file.
func (f *importFlags) resolve() (*ingest.Upload, func(), error) {
	if f.gitDir != "" {
		head, err := vcs.ReadHead(f.gitDir)
		if err != nil {
			return nil, nil, err
		}
		if f.labels.CommitHash == "" {
			f.labels.CommitHash = head.Commit
		}
		if f.labels.BranchTag == "" {
			f.labels.BranchTag = head.BranchTag()
		}
		slog.Debug("import: labels from git", "commit", head.Commit, "branch_tag", head.BranchTag())
	}
	if err := validOutput(f.output); err != nil {
		return nil, nil, err
	}
	if f.file == "" {
		return nil, func() {}, nil
	}
	fh, err := os.Open(f.file)
	if err != nil {
		return nil, nil, fmt.Errorf("opening report: %w", err)
	}
	info, err := fh.Stat()
	if err != nil {
		_ = fh.Close()
		return nil, nil, fmt.Errorf("reading report: %w", err)
	}
	up := &ingest.Upload{Name: filepath.Base(f.file), Size: info.Size(), Content: fh}
	return up, func() { _ = fh.Close() }, nil
}

func (f *importFlags) tagSet() (*tags.Collection, error) {
	if len(f.tags) == 0 {
		return nil, nil
	}
	c, err := tags.Parse(tags.List(f.tags))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// newOrchestrator wires the ingestion pipeline the same way the server does,
// notifying synchronously since the process exits right after.
func newOrchestrator(cfg *config.Config, db database.DB) (*ingest.Orchestrator, error) {
	st := store.New(db)
	trk, err := tracker.NewService(st, cfg.Trackers)
	if err != nil {
		return nil, fmt.Errorf("configuring trackers: %w", err)
	}
	registry, err := ingest.LoadRegistry(cfg.Import.ScanTypesFile)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewDispatcher(cfg.Notify)
	eng := engine.New(st, trk, func(ctx context.Context, s engine.Summary) {
		if !notifier.IsAnyConfigured() {
			return
		}
		notifier.Notify(ctx, notify.Event{
			Type:      notify.EventScanAdded,
			Title:     fmt.Sprintf("%s: %s", s.Test.ScanType, s.Test.Title),
			Body:      fmt.Sprintf("%d new, %d closed, %d reactivated, %d untouched", s.New, s.Closed, s.Reactivated, s.Untouched),
			ProductID: s.ProductID,
			TestID:    s.Test.ID,
		})
	})
	return ingest.NewOrchestrator(eng, st, registry, cfg.Import), nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	f := &importOpts
	upload, closeFile, err := f.resolve()
	if err != nil {
		return err
	}
	defer closeFile()
	tagSet, err := f.tagSet()
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	orch, err := newOrchestrator(cfg, db)
	if err != nil {
		return err
	}

	var endpoint *int64
	if f.endpointToAdd > 0 {
		endpoint = &f.endpointToAdd
	}
	res, err := orch.Import(ctx, ingest.ImportRequest{
		ScanType:         f.scanType,
		ScanDate:         f.scanDate,
		MinimumSeverity:  f.minimumSeverity,
		Active:           boolFlag(cmd, "active", f.active),
		Verified:         boolFlag(cmd, "verified", f.verified),
		EngagementID:     importEngageID,
		Lead:             f.lead,
		Environment:      importEnv,
		EndpointToAdd:    endpoint,
		Tags:             tagSet,
		CloseOldFindings: boolFlag(cmd, "close-old-findings", f.closeOldFindings),
		PushToJira:       f.pushToJira,
		GroupBy:          f.groupBy,
		TestTitle:        importTitle,
		Labels:           f.labels,
		File:             upload,
	})
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), f.output, "Scan imported", res, [][]string{
		{"Test", strconv.FormatInt(res.TestID, 10)},
		{"Engagement", strconv.FormatInt(res.EngagementID, 10)},
		{"Scan type", res.ScanType},
		{"Scan date", res.ScanDate},
		{"Environment", res.Environment},
		{"New findings", strconv.Itoa(res.New)},
		{"Closed findings", strconv.Itoa(res.Closed)},
		{"Commit", res.CommitHash},
		{"Branch/tag", res.BranchTag},
	})
}

func runReimport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	f := &reimportOpts
	upload, closeFile, err := f.resolve()
	if err != nil {
		return err
	}
	defer closeFile()
	tagSet, err := f.tagSet()
	if err != nil {
		return err
	}
	if f.scanDate == "" {
		return fmt.Errorf("--scan-date is required for reimport")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	orch, err := newOrchestrator(cfg, db)
	if err != nil {
		return err
	}

	var endpoint *int64
	if f.endpointToAdd > 0 {
		endpoint = &f.endpointToAdd
	}
	res, err := orch.Reimport(ctx, ingest.ReimportRequest{
		ScanType:         f.scanType,
		ScanDate:         f.scanDate,
		MinimumSeverity:  f.minimumSeverity,
		Active:           boolFlag(cmd, "active", f.active),
		Verified:         boolFlag(cmd, "verified", f.verified),
		TestID:           reimportTestID,
		Lead:             f.lead,
		EndpointToAdd:    endpoint,
		Tags:             tagSet,
		CloseOldFindings: boolFlag(cmd, "close-old-findings", f.closeOldFindings),
		PushToJira:       f.pushToJira,
		GroupBy:          f.groupBy,
		Labels:           f.labels,
		File:             upload,
	})
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), f.output, "Scan reimported", res, [][]string{
		{"Test", strconv.FormatInt(res.TestID, 10)},
		{"Scan type", res.ScanType},
		{"Scan date", res.ScanDate},
		{"Total", strconv.Itoa(res.Total)},
		{"New", strconv.Itoa(res.New)},
		{"Closed", strconv.Itoa(res.Closed)},
		{"Reactivated", strconv.Itoa(res.Reactivated)},
		{"Untouched", strconv.Itoa(res.Untouched)},
	})
}
