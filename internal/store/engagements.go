package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const engagementColumns = `id, product_id, name, description, target_start, target_end, status,
	lead_user, version, build_id, branch_tag, commit_hash, created_at`

func (s *Store) GetEngagement(ctx context.Context, id int64) (models.Engagement, error) {
	var e models.Engagement
	if err := s.db.Get(ctx, &e, "SELECT "+engagementColumns+" FROM engagements WHERE id = ?", id); err != nil {
		return e, notFound(err, "Engagement", id)
	}
	t, err := s.Tags(ctx, EntityEngagement, id, TagField)
	if err != nil {
		return e, err
	}
	e.Tags = t
	return e, nil
}

// InsertEngagement rejects a start date after the end date. Dates are
// YYYY-MM-DD so they order as strings.
func (s *Store) InsertEngagement(ctx context.Context, e models.Engagement) (int64, error) {
	if e.TargetStart > e.TargetEnd {
		return 0, apierr.Validation("target_start", "Your target start date exceeds your target end date")
	}
	id, err := s.db.Insert(ctx, "engagements", e)
	if err != nil {
		return 0, fmt.Errorf("inserting engagement: %w", err)
	}
	return id, nil
}

func (s *Store) SetEngagementTags(ctx context.Context, id int64, names []string) error {
	return s.SetTags(ctx, EntityEngagement, id, TagField, names)
}

// ListEnvironments returns the development environments by name.
func (s *Store) ListEnvironments(ctx context.Context) ([]models.Environment, error) {
	var out []models.Environment
	if err := s.db.Select(ctx, &out, "SELECT id, name FROM development_environments ORDER BY name"); err != nil {
		return nil, fmt.Errorf("listing environments: %w", err)
	}
	return out, nil
}

// EnvironmentByName matches case-insensitively. An unknown name is a
// validation error on the request's environment field.
func (s *Store) EnvironmentByName(ctx context.Context, name string) (models.Environment, error) {
	var env models.Environment
	err := s.db.Get(ctx, &env,
		"SELECT id, name FROM development_environments WHERE LOWER(name) = ?",
		strings.ToLower(strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return env, apierr.Validation("environment", fmt.Sprintf("Environment %q does not exist.", name)).Wrap(err)
	}
	if err != nil {
		return env, fmt.Errorf("loading environment %q: %w", name, err)
	}
	return env, nil
}
