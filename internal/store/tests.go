package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const testColumns = `id, engagement_id, title, scan_type, environment_id, target_start, target_end,
	lead_user, version, build_id, branch_tag, commit_hash, created_at, updated_at`

func (s *Store) GetTest(ctx context.Context, id int64) (models.Test, error) {
	var t models.Test
	if err := s.db.Get(ctx, &t, "SELECT "+testColumns+" FROM tests WHERE id = ?", id); err != nil {
		return t, notFound(err, "Test", id)
	}
	names, err := s.Tags(ctx, EntityTest, id, TagField)
	if err != nil {
		return t, err
	}
	t.Tags = names
	return t, nil
}

// ProductOfTest returns the product a test belongs to.
func (s *Store) ProductOfTest(ctx context.Context, testID int64) (int64, error) {
	var row struct {
		ProductID int64 `db:"product_id"`
	}
	err := s.db.Get(ctx, &row, `SELECT e.product_id FROM tests t
		JOIN engagements e ON e.id = t.engagement_id WHERE t.id = ?`, testID)
	if err != nil {
		return 0, notFound(err, "Test", testID)
	}
	return row.ProductID, nil
}

func (s *Store) CreateTest(ctx context.Context, t models.Test) (int64, error) {
	id, err := s.db.Insert(ctx, "tests", t)
	if err != nil {
		return 0, fmt.Errorf("inserting test: %w", err)
	}
	return id, nil
}

func (s *Store) SaveTest(ctx context.Context, t models.Test) error {
	if err := s.db.Update(ctx, "tests", t, "id = ?", t.ID); err != nil {
		return fmt.Errorf("saving test %d: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SetTestTags(ctx context.Context, id int64, names []string) error {
	return s.SetTags(ctx, EntityTest, id, TagField, names)
}

const testImportColumns = `id, test_id, batch_id, import_type, scan_date, total, new, closed,
	reactivated, untouched, version, build_id, branch_tag, commit_hash, created_at`

func (s *Store) InsertTestImport(ctx context.Context, ti models.TestImport) (int64, error) {
	id, err := s.db.Insert(ctx, "test_imports", ti)
	if err != nil {
		return 0, fmt.Errorf("inserting test import: %w", err)
	}
	return id, nil
}

// ListTestImports returns the import history of a test, newest first.
func (s *Store) ListTestImports(ctx context.Context, testID int64) ([]models.TestImport, error) {
	var out []models.TestImport
	if err := s.db.Select(ctx, &out,
		"SELECT "+testImportColumns+" FROM test_imports WHERE test_id = ? ORDER BY id DESC", testID); err != nil {
		return nil, fmt.Errorf("listing imports of test %d: %w", testID, err)
	}
	return out, nil
}

// EnsureFindingGroup returns the group of the test with g's name and
// strategy, creating it when missing.
func (s *Store) EnsureFindingGroup(ctx context.Context, g models.FindingGroup) (int64, error) {
	var existing models.FindingGroup
	err := s.db.Get(ctx, &existing,
		`SELECT id, test_id, name, group_by, created_at FROM finding_groups
		 WHERE test_id = ? AND name = ? AND group_by = ?`, g.TestID, g.Name, g.GroupBy)
	switch {
	case err == nil:
		return existing.ID, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("loading finding group %q: %w", g.Name, err)
	}
	id, err := s.db.Insert(ctx, "finding_groups", g)
	if err != nil {
		return 0, fmt.Errorf("inserting finding group %q: %w", g.Name, err)
	}
	return id, nil
}

type groupMember struct {
	GroupID   int64 `db:"group_id"`
	FindingID int64 `db:"finding_id"`
}

func (s *Store) AddFindingGroupMember(ctx context.Context, groupID, findingID int64) error {
	n, err := s.count(ctx,
		"SELECT COUNT(*) AS n FROM finding_group_members WHERE group_id = ? AND finding_id = ?", groupID, findingID)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.Insert(ctx, "finding_group_members", groupMember{GroupID: groupID, FindingID: findingID})
	return err
}
