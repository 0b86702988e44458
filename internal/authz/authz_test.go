package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/config"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	c, err := NewChecker(config.AuthConfig{Tokens: []config.TokenConfig{
		{Token: "r", Username: "rita", Role: "reader"},
		{Token: "w", Username: "will", Role: "writer", Products: []int64{1}},
		{Token: "m", Username: "mia", Role: "Maintainer"},
		{Token: "o", Username: "oz", Role: "owner"},
	}})
	require.NoError(t, err)
	return c
}

func TestAuthenticate(t *testing.T) {
	c := newTestChecker(t)

	u, err := c.Authenticate("w")
	require.NoError(t, err)
	assert.Equal(t, "will", u.Name)
	assert.Equal(t, Writer, u.Role)

	_, err = c.Authenticate("")
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthorized))
	_, err = c.Authenticate("nope")
	assert.True(t, apierr.IsKind(err, apierr.KindUnauthorized))
}

func TestOpenCheckerIsAnonymousOwner(t *testing.T) {
	c, err := NewChecker(config.AuthConfig{})
	require.NoError(t, err)
	assert.True(t, c.Open())

	u, err := c.Authenticate("")
	require.NoError(t, err)
	assert.True(t, u.Anonymous)
	assert.True(t, c.HasPermission(context.Background(), u, 0, AddProduct))
}

func TestNewCheckerRejectsBadConfig(t *testing.T) {
	_, err := NewChecker(config.AuthConfig{Tokens: []config.TokenConfig{{Token: "x", Role: "admin"}}})
	assert.ErrorContains(t, err, "unknown role")
	_, err = NewChecker(config.AuthConfig{Tokens: []config.TokenConfig{{Role: "owner"}}})
	assert.ErrorContains(t, err, "token is empty")
}

func TestHasPermission(t *testing.T) {
	c := newTestChecker(t)
	ctx := context.Background()
	user := func(token string) User {
		u, err := c.Authenticate(token)
		require.NoError(t, err)
		return u
	}

	tests := []struct {
		token string
		scope int64
		perm  Permission
		want  bool
	}{
		{"r", 1, View, true},
		{"r", 1, AddFinding, false},
		{"w", 1, EditEndpoint, true},
		{"w", 2, View, false},
		{"w", 0, View, true},
		{"w", 1, ImportScan, false},
		{"m", 5, ImportScan, true},
		{"m", 0, AddProduct, false},
		{"o", 0, AddProduct, true},
		{"o", 3, Permission("launch_rockets"), false},
	}
	for _, tt := range tests {
		got := c.HasPermission(ctx, user(tt.token), tt.scope, tt.perm)
		assert.Equal(t, tt.want, got, "%s on %d with %s", tt.perm, tt.scope, tt.token)
	}

	err := c.Require(ctx, user("r"), 1, EditFinding)
	assert.Equal(t, 403, apierr.Status(err))
}

func TestUserContext(t *testing.T) {
	ctx := WithUser(context.Background(), User{Name: "x", Role: Reader})
	u, ok := UserFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "x", u.Name)

	_, ok = UserFrom(context.Background())
	assert.False(t, ok)
}
