// Package endpoint normalises endpoint payloads and enforces that an
// endpoint identity is unique within its product.
package endpoint

import (
	"context"
	"fmt"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Kind is the request kind being validated.
type Kind int

const (
	Create Kind = iota
	Update
	PartialUpdate
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Update:
		return "update"
	case PartialUpdate:
		return "partial_update"
	default:
		return "unknown"
	}
}

// Opt is a payload member: Set reports presence, Value is nil for JSON null.
type Opt[T any] struct {
	Set   bool
	Value *T
}

// Some returns a present, non-null Opt.
func Some[T any](v T) Opt[T] { return Opt[T]{Set: true, Value: &v} }

func (o Opt[T]) or(fallback *T) *T {
	if o.Set {
		return o.Value
	}
	return fallback
}

// Patch is a decoded endpoint payload.
type Patch struct {
	Product  Opt[int64]
	Protocol Opt[string]
	Userinfo Opt[string]
	Host     Opt[string]
	Port     Opt[int]
	Path     Opt[string]
	Query    Opt[string]
	Fragment Opt[string]
	Tags     *tags.Collection
}

// Repository finds endpoints by identity.
type Repository interface {
	MatchEndpoints(ctx context.Context, q models.EndpointQuery) ([]models.Endpoint, error)
}

// Resolver validates endpoint writes.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ErrDuplicateMessage is returned when the identity is already taken.
const ErrDuplicateMessage = "It appears as though an endpoint with this data already exists for this product."

// Validate resolves p against existing (nil on create), cleans the result and
// checks identity uniqueness. On success the returned endpoint carries the
// cleaned components the caller must persist.
func (r *Resolver) Validate(ctx context.Context, kind Kind, p Patch, existing *models.Endpoint) (models.Endpoint, error) {
	var ep models.Endpoint
	switch kind {
	case Create, Update:
		if !p.Product.Set || p.Product.Value == nil {
			return ep, apierr.MissingField("product", "Product is required")
		}
		if kind == Update && existing != nil && *p.Product.Value != existing.ProductID {
			return ep, changeOfProduct()
		}
		ep = models.Endpoint{
			ProductID: *p.Product.Value,
			Protocol:  p.Protocol.Value,
			Userinfo:  p.Userinfo.Value,
			Host:      p.Host.Value,
			Port:      p.Port.Value,
			Path:      p.Path.Value,
			Query:     p.Query.Value,
			Fragment:  p.Fragment.Value,
		}
	case PartialUpdate:
		if existing == nil {
			return ep, fmt.Errorf("endpoint: partial update without an existing instance")
		}
		if p.Product.Set && (p.Product.Value == nil || *p.Product.Value != existing.ProductID) {
			return ep, changeOfProduct()
		}
		ep = models.Endpoint{
			ProductID: existing.ProductID,
			Protocol:  p.Protocol.or(existing.Protocol),
			Userinfo:  p.Userinfo.or(existing.Userinfo),
			Host:      p.Host.or(existing.Host),
			Port:      p.Port.or(existing.Port),
			Path:      p.Path.or(existing.Path),
			Query:     p.Query.or(existing.Query),
			Fragment:  p.Fragment.or(existing.Fragment),
		}
	default:
		return ep, fmt.Errorf("endpoint: unknown request kind %d", kind)
	}
	if existing != nil {
		ep.ID = existing.ID
		ep.CreatedAt = existing.CreatedAt
	}

	if err := Clean(&ep); err != nil {
		return ep, err
	}

	matches, err := r.repo.MatchEndpoints(ctx, IdentityQuery(ep))
	if err != nil {
		return ep, fmt.Errorf("matching endpoint identity: %w", err)
	}
	if conflicts(kind, matches, existing) {
		return ep, apierr.New(apierr.KindDuplicate, ErrDuplicateMessage).WithCode(apierr.CodeInvalid)
	}
	return ep, nil
}

func conflicts(kind Kind, matches []models.Endpoint, existing *models.Endpoint) bool {
	if kind == Create {
		return len(matches) > 0
	}
	switch len(matches) {
	case 0:
		return false
	case 1:
		return existing == nil || matches[0].ID != existing.ID
	default:
		return true
	}
}

func changeOfProduct() error {
	return apierr.New(apierr.KindForbiddenChange, "Change of product is not possible").WithField("product")
}
