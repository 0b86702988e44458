// Package taggable wraps entity writes so tag fields are held aside while the
// entity is persisted and applied only once it exists.
package taggable

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
)

// Field declares one tag-bearing payload field of P. Pop removes the field
// from the payload and reports whether the client supplied it.
type Field[P any] struct {
	Name string
	Pop  func(p *P) (tags.Collection, bool)
}

// Store persists entities of type E from payloads of type P.
type Store[E, P any] interface {
	Create(ctx context.Context, p P) (E, error)
	Update(ctx context.Context, existing E, p P) (E, error)
	SetTags(ctx context.Context, entity E, field string, names tags.Collection) (E, error)
}

// Hook runs after the entity write and before tags are applied.
type Hook[E any] func(ctx context.Context, entity E) (E, error)

// Adapter routes create/update of a tagged entity through Store.
type Adapter[E, P any] struct {
	store  Store[E, P]
	fields []Field[P]
}

func New[E, P any](store Store[E, P], fields ...Field[P]) *Adapter[E, P] {
	return &Adapter[E, P]{store: store, fields: fields}
}

type held struct {
	field string
	names tags.Collection
}

func (a *Adapter[E, P]) pop(p *P) []held {
	var out []held
	for _, f := range a.fields {
		if names, ok := f.Pop(p); ok {
			out = append(out, held{field: f.Name, names: names})
		}
	}
	return out
}

// Create persists p and then its tags. A failed write applies no tags.
func (a *Adapter[E, P]) Create(ctx context.Context, p P, hooks ...Hook[E]) (E, error) {
	aside := a.pop(&p)
	entity, err := a.store.Create(ctx, p)
	if err != nil {
		return entity, err
	}
	return a.finish(ctx, entity, aside, hooks)
}

// Update persists p onto existing and then its tags.
func (a *Adapter[E, P]) Update(ctx context.Context, existing E, p P, hooks ...Hook[E]) (E, error) {
	aside := a.pop(&p)
	entity, err := a.store.Update(ctx, existing, p)
	if err != nil {
		return entity, err
	}
	return a.finish(ctx, entity, aside, hooks)
}

func (a *Adapter[E, P]) finish(ctx context.Context, entity E, aside []held, hooks []Hook[E]) (E, error) {
	var err error
	for _, h := range hooks {
		if entity, err = h(ctx, entity); err != nil {
			return entity, err
		}
	}
	for _, h := range aside {
		if entity, err = a.store.SetTags(ctx, entity, h.field, h.names); err != nil {
			return entity, fmt.Errorf("applying %s: %w", h.field, err)
		}
	}
	return entity, nil
}
