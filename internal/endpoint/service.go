package endpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/taggable"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Store persists endpoints.
type Store interface {
	Repository
	InsertEndpoint(ctx context.Context, e models.Endpoint) (int64, error)
	SaveEndpoint(ctx context.Context, e models.Endpoint) error
	SetEndpointTags(ctx context.Context, endpointID int64, names []string) error
}

// Service validates and writes endpoints with their tags.
type Service struct {
	store    Store
	resolver *Resolver
	adapter  *taggable.Adapter[models.Endpoint, write]
	now      func() time.Time
}

// write is a Patch already resolved against the stored instance.
type write struct {
	ep   models.Endpoint
	tags *tags.Collection
}

func NewService(store Store) *Service {
	s := &Service{store: store, resolver: NewResolver(store), now: time.Now}
	s.adapter = taggable.New[models.Endpoint, write](entityStore{s}, taggable.Field[write]{
		Name: "tags",
		Pop: func(w *write) (tags.Collection, bool) {
			if w.tags == nil {
				return nil, false
			}
			c := *w.tags
			w.tags = nil
			return c, true
		},
	})
	return s
}

// Create validates p as a new endpoint and stores it.
func (s *Service) Create(ctx context.Context, p Patch) (models.Endpoint, error) {
	ep, err := s.resolver.Validate(ctx, Create, p, nil)
	if err != nil {
		return ep, err
	}
	return s.adapter.Create(ctx, write{ep: ep, tags: p.Tags})
}

// Update validates p against existing and saves it. kind is Update or
// PartialUpdate.
func (s *Service) Update(ctx context.Context, kind Kind, existing models.Endpoint, p Patch) (models.Endpoint, error) {
	ep, err := s.resolver.Validate(ctx, kind, p, &existing)
	if err != nil {
		return existing, err
	}
	return s.adapter.Update(ctx, existing, write{ep: ep, tags: p.Tags})
}

type entityStore struct{ s *Service }

func (e entityStore) Create(ctx context.Context, w write) (models.Endpoint, error) {
	ep := w.ep
	ep.CreatedAt = e.s.now().UTC().Format(time.RFC3339)
	id, err := e.s.store.InsertEndpoint(ctx, ep)
	if err != nil {
		return ep, fmt.Errorf("inserting endpoint: %w", err)
	}
	ep.ID = id
	return ep, nil
}

func (e entityStore) Update(ctx context.Context, existing models.Endpoint, w write) (models.Endpoint, error) {
	ep := w.ep
	ep.ID, ep.CreatedAt, ep.Tags = existing.ID, existing.CreatedAt, existing.Tags
	if err := e.s.store.SaveEndpoint(ctx, ep); err != nil {
		return existing, fmt.Errorf("saving endpoint %d: %w", ep.ID, err)
	}
	return ep, nil
}

func (e entityStore) SetTags(ctx context.Context, ep models.Endpoint, _ string, names tags.Collection) (models.Endpoint, error) {
	if err := e.s.store.SetEndpointTags(ctx, ep.ID, names); err != nil {
		return ep, fmt.Errorf("tagging endpoint %d: %w", ep.ID, err)
	}
	ep.Tags = names
	return ep, nil
}
