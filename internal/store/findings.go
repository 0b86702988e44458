package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const findingColumns = `f.id, f.test_id, f.title, f.description, f.severity, f.numerical_severity,
	f.mitigation, f.impact, f.file_path, f.line, f.component_name, f.component_version,
	f.vuln_id, f.cwe, f.scanner, f.hash_code, f.date, f.active, f.verified, f.duplicate,
	f.false_p, f.risk_accepted, f.is_mitigated, f.mitigated, f.push_requested_at,
	f.reporter, f.created_at, f.updated_at`

// FindingFilter narrows ListFindings. Zero members do not filter.
type FindingFilter struct {
	TestID       int64
	EngagementID int64
	Active       *bool
	Severity     models.SeverityLevel
	// Products restricts the result to findings of these products.
	Products []int64
}

func (ff FindingFilter) where() (string, []any) {
	var conds []string
	var args []any
	if ff.TestID > 0 {
		conds = append(conds, "f.test_id = ?")
		args = append(args, ff.TestID)
	}
	if ff.EngagementID > 0 {
		conds = append(conds, "t.engagement_id = ?")
		args = append(args, ff.EngagementID)
	}
	if ff.Active != nil {
		conds = append(conds, "f.active = ?")
		args = append(args, *ff.Active)
	}
	if ff.Severity != "" {
		conds = append(conds, "f.severity = ?")
		args = append(args, string(ff.Severity))
	}
	if len(ff.Products) > 0 {
		conds = append(conds, "e.product_id IN ("+placeholders(len(ff.Products))+")")
		args = append(args, int64Args(ff.Products)...)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const findingJoins = ` FROM findings f
	JOIN tests t ON t.id = f.test_id
	JOIN engagements e ON e.id = t.engagement_id`

func (s *Store) ListFindings(ctx context.Context, ff FindingFilter, pg Page) ([]models.Finding, int, error) {
	where, args := ff.where()
	total, err := s.count(ctx, "SELECT COUNT(*) AS n"+findingJoins+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting findings: %w", err)
	}
	limit, limitArgs := pg.clause()
	var out []models.Finding
	if err := s.db.Select(ctx, &out,
		"SELECT "+findingColumns+findingJoins+where+" ORDER BY f.numerical_severity, f.id"+limit,
		append(args, limitArgs...)...); err != nil {
		return nil, 0, fmt.Errorf("listing findings: %w", err)
	}
	if err := s.attachFindingTags(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) attachFindingTags(ctx context.Context, fs []models.Finding) error {
	ids := make([]int64, len(fs))
	for i, f := range fs {
		ids[i] = f.ID
	}
	byID, err := s.tagsFor(ctx, EntityFinding, ids)
	if err != nil {
		return err
	}
	for i := range fs {
		fs[i].Tags = nonNil(byID[fs[i].ID])
	}
	return nil
}

func (s *Store) GetFinding(ctx context.Context, id int64) (models.Finding, error) {
	var f models.Finding
	if err := s.db.Get(ctx, &f, "SELECT "+findingColumns+" FROM findings f WHERE f.id = ?", id); err != nil {
		return f, notFound(err, "Finding", id)
	}
	names, err := s.Tags(ctx, EntityFinding, id, TagField)
	if err != nil {
		return f, err
	}
	f.Tags = names
	return f, nil
}

// ProductOfFinding returns the product a finding belongs to.
func (s *Store) ProductOfFinding(ctx context.Context, findingID int64) (int64, error) {
	var row struct {
		ProductID int64 `db:"product_id"`
	}
	err := s.db.Get(ctx, &row, "SELECT e.product_id"+findingJoins+" WHERE f.id = ?", findingID)
	if err != nil {
		return 0, notFound(err, "Finding", findingID)
	}
	return row.ProductID, nil
}

func (s *Store) InsertFinding(ctx context.Context, f models.Finding) (int64, error) {
	return s.db.Insert(ctx, "findings", f)
}

func (s *Store) SaveFinding(ctx context.Context, f models.Finding) error {
	return s.db.Update(ctx, "findings", f, "id = ?", f.ID)
}

func (s *Store) SetFindingTags(ctx context.Context, id int64, names []string) error {
	return s.SetTags(ctx, EntityFinding, id, TagField, names)
}

// DeleteFinding removes a finding with its tags and links.
func (s *Store) DeleteFinding(ctx context.Context, id int64) error {
	return s.deleteAll(ctx, "finding", id,
		"DELETE FROM tags WHERE entity_type = '"+EntityFinding+"' AND entity_id = ?",
		"DELETE FROM finding_endpoints WHERE finding_id = ?",
		"DELETE FROM finding_group_members WHERE finding_id = ?",
		"DELETE FROM request_responses WHERE finding_id = ?",
		"DELETE FROM notes WHERE finding_id = ?",
		"DELETE FROM tracker_issues WHERE finding_id = ?",
		"DELETE FROM findings WHERE id = ?",
	)
}

// ListTestFindings returns every finding of a test in id order.
func (s *Store) ListTestFindings(ctx context.Context, testID int64) ([]models.Finding, error) {
	var out []models.Finding
	if err := s.db.Select(ctx, &out,
		"SELECT "+findingColumns+" FROM findings f WHERE f.test_id = ? ORDER BY f.id", testID); err != nil {
		return nil, fmt.Errorf("listing findings of test %d: %w", testID, err)
	}
	return out, nil
}

func (s *Store) ListActiveEngagementFindings(ctx context.Context, engagementID int64, scanType string, excludeTestID int64) ([]models.Finding, error) {
	var out []models.Finding
	err := s.db.Select(ctx, &out, "SELECT "+findingColumns+` FROM findings f
		JOIN tests t ON t.id = f.test_id
		WHERE t.engagement_id = ? AND t.scan_type = ? AND t.id <> ? AND f.active = ?
		ORDER BY f.id`, engagementID, scanType, excludeTestID, true)
	if err != nil {
		return nil, fmt.Errorf("listing findings of engagement %d: %w", engagementID, err)
	}
	return out, nil
}

type findingEndpoint struct {
	FindingID  int64 `db:"finding_id"`
	EndpointID int64 `db:"endpoint_id"`
	Mitigated  bool  `db:"mitigated"`
}

func (s *Store) LinkFindingEndpoint(ctx context.Context, findingID, endpointID int64) error {
	n, err := s.count(ctx,
		"SELECT COUNT(*) AS n FROM finding_endpoints WHERE finding_id = ? AND endpoint_id = ?", findingID, endpointID)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.Insert(ctx, "finding_endpoints", findingEndpoint{FindingID: findingID, EndpointID: endpointID})
	return err
}

// FindingEndpointIDs lists the endpoints linked to a finding.
func (s *Store) FindingEndpointIDs(ctx context.Context, findingID int64) ([]int64, error) {
	var rows []findingEndpoint
	if err := s.db.Select(ctx, &rows,
		"SELECT finding_id, endpoint_id, mitigated FROM finding_endpoints WHERE finding_id = ? ORDER BY endpoint_id",
		findingID); err != nil {
		return nil, fmt.Errorf("listing endpoints of finding %d: %w", findingID, err)
	}
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.EndpointID
	}
	return out, nil
}
