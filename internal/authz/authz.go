// Package authz maps API tokens to users and answers permission checks.
package authz

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

// Permission names an action on a product.
type Permission string

const (
	View         Permission = "view"
	AddFinding   Permission = "add_finding"
	EditFinding  Permission = "edit_finding"
	AddEndpoint  Permission = "add_endpoint"
	EditEndpoint Permission = "edit_endpoint"
	ImportScan   Permission = "import_scan"
	AddNote      Permission = "add_note"
	AddProduct   Permission = "add_product"
	EditProduct  Permission = "edit_product"
)

// Role is ordered: each role holds every permission of the roles below it.
type Role int

const (
	Reader Role = iota + 1
	Writer
	Maintainer
	Owner
)

var roleNames = map[string]Role{
	"reader":     Reader,
	"writer":     Writer,
	"maintainer": Maintainer,
	"owner":      Owner,
}

func (r Role) String() string {
	for name, role := range roleNames {
		if role == r {
			return name
		}
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole accepts the lower-case role names.
func ParseRole(s string) (Role, error) {
	r, ok := roleNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// minRole is the lowest role granted each permission.
var minRole = map[Permission]Role{
	View:         Reader,
	AddFinding:   Writer,
	EditFinding:  Writer,
	AddEndpoint:  Writer,
	EditEndpoint: Writer,
	AddNote:      Writer,
	ImportScan:   Maintainer,
	EditProduct:  Maintainer,
	AddProduct:   Owner,
}

// User is the authenticated caller.
type User struct {
	Name string
	Role Role
	// Products limits the user to these product IDs; empty means all.
	Products  []int64
	Anonymous bool
}

// Restricted reports whether the user is limited to a product list.
func (u User) Restricted() bool { return len(u.Products) > 0 }

// CanSee reports whether productID is inside the user's product scope.
func (u User) CanSee(productID int64) bool {
	return !u.Restricted() || slices.Contains(u.Products, productID)
}

// Anonymous is the caller when no tokens are configured.
var Anonymous = User{Name: "anonymous", Role: Owner, Anonymous: true}

type tokenEntry struct {
	token []byte
	user  User
}

// Checker authenticates bearer tokens and evaluates permissions.
type Checker struct {
	tokens []tokenEntry
}

// NewChecker validates the configured tokens.
func NewChecker(cfg config.AuthConfig) (*Checker, error) {
	c := &Checker{}
	for i, t := range cfg.Tokens {
		if t.Token == "" {
			return nil, fmt.Errorf("auth.tokens[%d]: token is empty", i)
		}
		role, err := ParseRole(t.Role)
		if err != nil {
			return nil, fmt.Errorf("auth.tokens[%d]: %w", i, err)
		}
		c.tokens = append(c.tokens, tokenEntry{
			token: []byte(t.Token),
			user:  User{Name: t.Username, Role: role, Products: t.Products},
		})
	}
	return c, nil
}

// Open reports whether every request runs as Anonymous.
func (c *Checker) Open() bool { return len(c.tokens) == 0 }

// Authenticate resolves a bearer token.
func (c *Checker) Authenticate(token string) (User, error) {
	if c.Open() {
		return Anonymous, nil
	}
	if token == "" {
		return User{}, apierr.New(apierr.KindUnauthorized, "Authentication credentials were not provided.")
	}
	for _, e := range c.tokens {
		if subtle.ConstantTimeCompare(e.token, []byte(token)) == 1 {
			return e.user, nil
		}
	}
	return User{}, apierr.New(apierr.KindUnauthorized, "Invalid token.")
}

// HasPermission reports whether u may perform perm on the product scope.
// A zero scope is a global action such as creating a product.
func (c *Checker) HasPermission(_ context.Context, u User, scope int64, perm Permission) bool {
	need, ok := minRole[perm]
	if !ok || u.Role < need {
		return false
	}
	if scope == 0 {
		return perm == View || !u.Restricted()
	}
	return u.CanSee(scope)
}

// Require is HasPermission as an error.
func (c *Checker) Require(ctx context.Context, u User, scope int64, perm Permission) error {
	if c.HasPermission(ctx, u, scope, perm) {
		return nil
	}
	return apierr.New(apierr.KindForbidden, "You do not have permission to perform this action.")
}

type userKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}
