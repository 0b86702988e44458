package store

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/database"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
)

// Entity types in the tags table.
const (
	EntityProduct    = "product"
	EntityEngagement = "engagement"
	EntityTest       = "test"
	EntityFinding    = "finding"
	EntityEndpoint   = "endpoint"
)

// TagField is the only tag field entities carry today.
const TagField = "tags"

type tagRow struct {
	ID         int64  `db:"id"`
	EntityType string `db:"entity_type"`
	EntityID   int64  `db:"entity_id"`
	Field      string `db:"field"`
	Position   int    `db:"position"`
	Name       string `db:"name"`
}

// SetTags replaces the tag field of an entity, keeping the given order.
func (s *Store) SetTags(ctx context.Context, entityType string, entityID int64, field string, names []string) error {
	return s.db.InTx(ctx, func(q database.Querier) error {
		return setTags(ctx, q, entityType, entityID, field, names)
	})
}

func setTags(ctx context.Context, q database.Querier, entityType string, entityID int64, field string, names []string) error {
	if err := q.Exec(ctx,
		`DELETE FROM tags WHERE entity_type = ? AND entity_id = ? AND field = ?`,
		entityType, entityID, field); err != nil {
		return fmt.Errorf("clearing %s %d %s: %w", entityType, entityID, field, err)
	}
	for i, name := range names {
		if name == "" {
			continue
		}
		if _, err := q.Insert(ctx, "tags", tagRow{
			EntityType: entityType, EntityID: entityID, Field: field, Position: i, Name: name,
		}); err != nil {
			return fmt.Errorf("tagging %s %d: %w", entityType, entityID, err)
		}
	}
	return nil
}

// Tags reads a tag field back in position order.
func (s *Store) Tags(ctx context.Context, entityType string, entityID int64, field string) ([]string, error) {
	var rows []tagRow
	if err := s.db.Select(ctx, &rows,
		`SELECT id, entity_type, entity_id, field, position, name FROM tags
		 WHERE entity_type = ? AND entity_id = ? AND field = ? ORDER BY position, id`,
		entityType, entityID, field); err != nil {
		return nil, fmt.Errorf("listing tags of %s %d: %w", entityType, entityID, err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out, nil
}

// tagsFor loads the default tag field of many entities at once.
func (s *Store) tagsFor(ctx context.Context, entityType string, ids []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []tagRow
	args := append([]any{entityType, TagField}, int64Args(ids)...)
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf(`SELECT id, entity_type, entity_id, field, position, name FROM tags
		 WHERE entity_type = ? AND field = ? AND entity_id IN (%s) ORDER BY entity_id, position, id`,
		placeholders(len(ids)))
	if err := s.db.Select(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing %s tags: %w", entityType, err)
	}
	for _, r := range rows {
		out[r.EntityID] = append(out[r.EntityID], r.Name)
	}
	return out, nil
}

// LiveTags is the stored tag collection of one entity field.
type LiveTags struct {
	s          *Store
	entityType string
	entityID   int64
	field      string
}

var _ tags.LiveCollection = LiveTags{}

// Live returns the stored tag collection of an entity field.
func (s *Store) Live(entityType string, entityID int64, field string) LiveTags {
	return LiveTags{s: s, entityType: entityType, entityID: entityID, field: field}
}

func (l LiveTags) List(ctx context.Context) ([]string, error) {
	return l.s.Tags(ctx, l.entityType, l.entityID, l.field)
}

// Append adds names that are not already present.
func (l LiveTags) Append(ctx context.Context, names []string) ([]string, error) {
	current, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(current))
	for _, n := range current {
		seen[n] = struct{}{}
	}
	for _, n := range names {
		if _, ok := seen[n]; ok || n == "" {
			continue
		}
		seen[n] = struct{}{}
		current = append(current, n)
	}
	if err := l.s.SetTags(ctx, l.entityType, l.entityID, l.field, current); err != nil {
		return nil, err
	}
	return current, nil
}
