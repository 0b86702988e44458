package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const endpointColumns = `id, product_id, protocol, userinfo, host, port, path, query, fragment, created_at`

// MatchEndpoints finds endpoints with the identity of q. Protocol and host
// compare case-insensitively; nil components match NULL only.
func (s *Store) MatchEndpoints(ctx context.Context, q models.EndpointQuery) ([]models.Endpoint, error) {
	conds := []string{"product_id = ?"}
	args := []any{q.ProductID}
	str := func(col string, v *string, fold bool) {
		switch {
		case v == nil:
			conds = append(conds, col+" IS NULL")
		case fold:
			conds = append(conds, "LOWER("+col+") = ?")
			args = append(args, strings.ToLower(*v))
		default:
			conds = append(conds, col+" = ?")
			args = append(args, *v)
		}
	}
	str("protocol", q.Protocol, true)
	str("userinfo", q.Userinfo, false)
	str("host", q.Host, true)
	str("path", q.Path, false)
	str("query", q.Query, false)
	str("fragment", q.Fragment, false)
	switch {
	case q.Port == nil:
		conds = append(conds, "port IS NULL")
	case q.PortOrNull:
		conds = append(conds, "(port = ? OR port IS NULL)")
		args = append(args, *q.Port)
	default:
		conds = append(conds, "port = ?")
		args = append(args, *q.Port)
	}

	var out []models.Endpoint
	if err := s.db.Select(ctx, &out,
		"SELECT "+endpointColumns+" FROM endpoints WHERE "+strings.Join(conds, " AND ")+" ORDER BY id",
		args...); err != nil {
		return nil, fmt.Errorf("matching endpoints: %w", err)
	}
	return out, nil
}

func (s *Store) GetEndpoint(ctx context.Context, id int64) (models.Endpoint, error) {
	var e models.Endpoint
	if err := s.db.Get(ctx, &e, "SELECT "+endpointColumns+" FROM endpoints WHERE id = ?", id); err != nil {
		return e, notFound(err, "Endpoint", id)
	}
	names, err := s.Tags(ctx, EntityEndpoint, id, TagField)
	if err != nil {
		return e, err
	}
	e.Tags = names
	return e, nil
}

// ListEndpoints pages through endpoints, optionally of one product and
// restricted to the given products.
func (s *Store) ListEndpoints(ctx context.Context, productID int64, only []int64, pg Page) ([]models.Endpoint, int, error) {
	var conds []string
	var args []any
	if productID > 0 {
		conds = append(conds, "product_id = ?")
		args = append(args, productID)
	}
	if len(only) > 0 {
		conds = append(conds, "product_id IN ("+placeholders(len(only))+")")
		args = append(args, int64Args(only)...)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	total, err := s.count(ctx, "SELECT COUNT(*) AS n FROM endpoints"+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting endpoints: %w", err)
	}
	limit, limitArgs := pg.clause()
	var out []models.Endpoint
	if err := s.db.Select(ctx, &out,
		"SELECT "+endpointColumns+" FROM endpoints"+where+" ORDER BY id"+limit,
		append(args, limitArgs...)...); err != nil {
		return nil, 0, fmt.Errorf("listing endpoints: %w", err)
	}
	ids := make([]int64, len(out))
	for i, e := range out {
		ids[i] = e.ID
	}
	byID, err := s.tagsFor(ctx, EntityEndpoint, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Tags = nonNil(byID[out[i].ID])
	}
	return out, total, nil
}

func (s *Store) InsertEndpoint(ctx context.Context, e models.Endpoint) (int64, error) {
	return s.db.Insert(ctx, "endpoints", e)
}

func (s *Store) SaveEndpoint(ctx context.Context, e models.Endpoint) error {
	return s.db.Update(ctx, "endpoints", e, "id = ?", e.ID)
}

func (s *Store) SetEndpointTags(ctx context.Context, id int64, names []string) error {
	return s.SetTags(ctx, EntityEndpoint, id, TagField, names)
}

func (s *Store) DeleteEndpoint(ctx context.Context, id int64) error {
	return s.deleteAll(ctx, "endpoint", id,
		"DELETE FROM tags WHERE entity_type = '"+EntityEndpoint+"' AND entity_id = ?",
		"DELETE FROM finding_endpoints WHERE endpoint_id = ?",
		"DELETE FROM endpoints WHERE id = ?",
	)
}
