package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const productColumns = `id, name, description, enable_simple_risk_acceptance, created_at, updated_at`

// ListProducts pages through products. A non-empty only restricts the
// result to those IDs.
func (s *Store) ListProducts(ctx context.Context, only []int64, pg Page) ([]models.Product, int, error) {
	where, args := "", []any{}
	if len(only) > 0 {
		where = " WHERE id IN (" + placeholders(len(only)) + ")"
		args = int64Args(only)
	}
	total, err := s.count(ctx, "SELECT COUNT(*) AS n FROM products"+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting products: %w", err)
	}
	limit, limitArgs := pg.clause()
	var out []models.Product
	if err := s.db.Select(ctx, &out,
		"SELECT "+productColumns+" FROM products"+where+" ORDER BY id"+limit,
		append(args, limitArgs...)...); err != nil {
		return nil, 0, fmt.Errorf("listing products: %w", err)
	}
	if err := s.attachProductTags(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) attachProductTags(ctx context.Context, ps []models.Product) error {
	ids := make([]int64, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	byID, err := s.tagsFor(ctx, EntityProduct, ids)
	if err != nil {
		return err
	}
	for i := range ps {
		ps[i].Tags = nonNil(byID[ps[i].ID])
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (models.Product, error) {
	var p models.Product
	if err := s.db.Get(ctx, &p, "SELECT "+productColumns+" FROM products WHERE id = ?", id); err != nil {
		return p, notFound(err, "Product", id)
	}
	t, err := s.Tags(ctx, EntityProduct, id, TagField)
	if err != nil {
		return p, err
	}
	p.Tags = t
	return p, nil
}

// InsertProduct rejects a duplicate name with a Duplicate error.
func (s *Store) InsertProduct(ctx context.Context, p models.Product) (int64, error) {
	if err := s.uniqueProductName(ctx, p.Name, 0); err != nil {
		return 0, err
	}
	id, err := s.db.Insert(ctx, "products", p)
	if err != nil {
		return 0, fmt.Errorf("inserting product: %w", err)
	}
	return id, nil
}

func (s *Store) SaveProduct(ctx context.Context, p models.Product) error {
	if err := s.uniqueProductName(ctx, p.Name, p.ID); err != nil {
		return err
	}
	if err := s.db.Update(ctx, "products", p, "id = ?", p.ID); err != nil {
		return fmt.Errorf("saving product %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) uniqueProductName(ctx context.Context, name string, self int64) error {
	n, err := s.count(ctx, "SELECT COUNT(*) AS n FROM products WHERE name = ? AND id <> ?", name, self)
	if err != nil {
		return fmt.Errorf("checking product name: %w", err)
	}
	if n > 0 {
		return apierr.New(apierr.KindDuplicate, "Product with this name already exists.").WithField("name")
	}
	return nil
}

func (s *Store) SetProductTags(ctx context.Context, id int64, names []string) error {
	return s.SetTags(ctx, EntityProduct, id, TagField, names)
}

// SimpleRiskAcceptance reports whether the product owning testID allows
// accepting risk directly on a finding.
func (s *Store) SimpleRiskAcceptance(ctx context.Context, testID int64) (bool, error) {
	var row struct {
		Enabled bool `db:"enable_simple_risk_acceptance"`
	}
	err := s.db.Get(ctx, &row, `SELECT p.enable_simple_risk_acceptance
		FROM tests t
		JOIN engagements e ON e.id = t.engagement_id
		JOIN products p ON p.id = e.product_id
		WHERE t.id = ?`, testID)
	if err != nil {
		return false, notFound(err, "Test", testID)
	}
	return row.Enabled, nil
}

// --- trackers ---

const trackerColumns = `id, product_id, provider, project, push_all_issues, enabled, updated_at`

// GetProductTracker returns sql.ErrNoRows (as NotFound) when none is set.
func (s *Store) GetProductTracker(ctx context.Context, productID int64) (models.ProductTracker, error) {
	var pt models.ProductTracker
	err := s.db.Get(ctx, &pt, "SELECT "+trackerColumns+" FROM product_trackers WHERE product_id = ?", productID)
	if err != nil {
		return pt, notFound(err, "Tracker", productID)
	}
	return pt, nil
}

// PutProductTracker creates or replaces the tracker of a product.
func (s *Store) PutProductTracker(ctx context.Context, pt models.ProductTracker) error {
	pt.ID = 0
	if err := s.db.Upsert(ctx, "product_trackers", pt, []string{"product_id"}); err != nil {
		return fmt.Errorf("saving tracker of product %d: %w", pt.ProductID, err)
	}
	return nil
}

func (s *Store) ProductTrackerForFinding(ctx context.Context, findingID int64) (models.ProductTracker, error) {
	var pt models.ProductTracker
	err := s.db.Get(ctx, &pt, `SELECT pt.id, pt.product_id, pt.provider, pt.project,
		       pt.push_all_issues, pt.enabled, pt.updated_at
		FROM findings f
		JOIN tests t ON t.id = f.test_id
		JOIN engagements e ON e.id = t.engagement_id
		JOIN product_trackers pt ON pt.product_id = e.product_id
		WHERE f.id = ?`, findingID)
	return pt, err
}

const trackerIssueColumns = `id, finding_id, provider, project, issue_key, url, created_at, updated_at`

func (s *Store) GetTrackerIssue(ctx context.Context, findingID int64) (models.TrackerIssue, error) {
	var ti models.TrackerIssue
	err := s.db.Get(ctx, &ti, "SELECT "+trackerIssueColumns+" FROM tracker_issues WHERE finding_id = ?", findingID)
	return ti, err
}

// SaveTrackerIssue keeps the original creation time of an existing link.
func (s *Store) SaveTrackerIssue(ctx context.Context, ti models.TrackerIssue) error {
	existing, err := s.GetTrackerIssue(ctx, ti.FindingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ti.ID = 0
		if _, err := s.db.Insert(ctx, "tracker_issues", ti); err != nil {
			return fmt.Errorf("inserting tracker issue: %w", err)
		}
		return nil
	case err != nil:
		return err
	}
	ti.ID = existing.ID
	if existing.IssueKey == ti.IssueKey && existing.Provider == ti.Provider {
		ti.CreatedAt = existing.CreatedAt
	}
	return s.db.Update(ctx, "tracker_issues", ti, "id = ?", ti.ID)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
