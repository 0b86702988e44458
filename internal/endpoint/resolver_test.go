package endpoint

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

type memRepo struct {
	rows   []models.Endpoint
	nextID int64
}

func (m *memRepo) MatchEndpoints(_ context.Context, q models.EndpointQuery) ([]models.Endpoint, error) {
	var out []models.Endpoint
	for _, e := range m.rows {
		if e.ProductID != q.ProductID ||
			!eqFold(e.Protocol, q.Protocol) || !eq(e.Userinfo, q.Userinfo) ||
			!eqFold(e.Host, q.Host) || !eq(e.Path, q.Path) ||
			!eq(e.Query, q.Query) || !eq(e.Fragment, q.Fragment) {
			continue
		}
		switch {
		case q.Port == nil && e.Port != nil:
			continue
		case q.Port != nil && e.Port == nil && !q.PortOrNull:
			continue
		case q.Port != nil && e.Port != nil && *q.Port != *e.Port:
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memRepo) add(e models.Endpoint) models.Endpoint {
	m.nextID++
	e.ID = m.nextID
	m.rows = append(m.rows, e)
	return e
}

func eq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqFold(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.EqualFold(*a, *b)
}

func payload(product int64, protocol, userinfo, host string, port int, path, query, fragment string) Patch {
	return Patch{
		Product:  Some(product),
		Protocol: Some(protocol),
		Userinfo: Some(userinfo),
		Host:     Some(host),
		Port:     Some(port),
		Path:     Some(path),
		Query:    Some(query),
		Fragment: Some(fragment),
	}
}

func TestCreateTwiceInSameProductIsDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)

	first, err := r.Validate(ctx, Create, payload(1, "https", "", "a.com", 443, "/x", "", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "x", *first.Path)
	assert.Nil(t, first.Userinfo)
	repo.add(first)

	_, err = r.Validate(ctx, Create, payload(1, "https", "", "a.com", 443, "/x", "", ""), nil)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindDuplicate, e.Kind)
	assert.Equal(t, ErrDuplicateMessage, e.Message)

	other, err := r.Validate(ctx, Create, payload(2, "https", "", "a.com", 443, "/x", "", ""), nil)
	require.NoError(t, err)
	repo.add(other)
	_, err = r.Validate(ctx, Create, payload(3, "https", "", "a.com", 443, "/x", "", ""), nil)
	require.NoError(t, err)
}

func TestIdentityIsCaseInsensitiveForProtocolAndHost(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	repo.add(models.Endpoint{ProductID: 1, Protocol: strp("https"), Host: strp("a.com")})

	p := Patch{Product: Some(int64(1)), Protocol: Some("HTTPS"), Host: Some("A.COM")}
	_, err := r.Validate(ctx, Create, p, nil)
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))
}

func TestDefaultPortMatchesMissingPort(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	repo.add(models.Endpoint{ProductID: 1, Protocol: strp("https"), Host: strp("a.com")})

	p := Patch{Product: Some(int64(1)), Protocol: Some("https"), Host: Some("a.com"), Port: Some(443)}
	_, err := r.Validate(ctx, Create, p, nil)
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))

	p.Port = Some(8443)
	_, err = r.Validate(ctx, Create, p, nil)
	assert.NoError(t, err)
}

func TestMissingPortMatchesStoredDefaultPort(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	repo.add(models.Endpoint{ProductID: 1, Protocol: strp("https"), Host: strp("a.com"), Port: intp(443)})

	p := Patch{Product: Some(int64(1)), Protocol: Some("https"), Host: Some("a.com")}
	_, err := r.Validate(ctx, Create, p, nil)
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))

	p.Protocol = Some("http")
	_, err = r.Validate(ctx, Create, p, nil)
	assert.NoError(t, err)
}

func TestPartialUpdateSelfMatchIsAccepted(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	existing := repo.add(models.Endpoint{ProductID: 1, Protocol: strp("https"), Host: strp("a.com"), Path: strp("x")})

	got, err := r.Validate(ctx, PartialUpdate, Patch{Path: Some("/x")}, &existing)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Equal(t, "a.com", *got.Host)
	assert.Equal(t, "https", *got.Protocol)
}

func TestUpdateCollidingWithAnotherEndpoint(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	repo.add(models.Endpoint{ProductID: 1, Host: strp("a.com")})
	mine := repo.add(models.Endpoint{ProductID: 1, Host: strp("b.com")})

	_, err := r.Validate(ctx, PartialUpdate, Patch{Host: Some("a.com")}, &mine)
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))

	_, err = r.Validate(ctx, Update, Patch{Product: Some(int64(1)), Host: Some("c.com")}, &mine)
	assert.NoError(t, err)
}

func TestUpdateWithSeveralMatchesIsDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := &memRepo{}
	r := NewResolver(repo)
	mine := repo.add(models.Endpoint{ProductID: 1, Host: strp("a.com")})
	repo.add(models.Endpoint{ProductID: 1, Host: strp("a.com")})

	_, err := r.Validate(ctx, PartialUpdate, Patch{}, &mine)
	assert.True(t, apierr.IsKind(err, apierr.KindDuplicate))
}

func TestProductRules(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(&memRepo{})
	existing := models.Endpoint{ID: 9, ProductID: 1, Host: strp("a.com")}

	_, err := r.Validate(ctx, Create, Patch{Host: Some("a.com")}, nil)
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindMissingField, e.Kind)
	assert.Equal(t, "Product is required", e.Message)

	_, err = r.Validate(ctx, PartialUpdate, Patch{Product: Some(int64(2))}, &existing)
	assert.True(t, apierr.IsKind(err, apierr.KindForbiddenChange))

	_, err = r.Validate(ctx, Update, Patch{Product: Some(int64(2)), Host: Some("a.com")}, &existing)
	assert.True(t, apierr.IsKind(err, apierr.KindForbiddenChange))

	_, err = r.Validate(ctx, PartialUpdate, Patch{Product: Some(int64(1))}, &existing)
	assert.NoError(t, err)
}

func TestCleanRejectsBadShapes(t *testing.T) {
	cases := []struct {
		name  string
		ep    models.Endpoint
		field string
	}{
		{"no host", models.Endpoint{}, "host"},
		{"bad host", models.Endpoint{Host: strp("a b")}, "host"},
		{"bad protocol", models.Endpoint{Protocol: strp("1http"), Host: strp("a.com")}, "protocol"},
		{"bad userinfo", models.Endpoint{Userinfo: strp("a b"), Host: strp("a.com")}, "userinfo"},
		{"port range", models.Endpoint{Host: strp("a.com"), Port: intp(70000)}, "port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ep := tc.ep
			err := Clean(&ep)
			e, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, apierr.KindValidation, e.Kind)
			assert.Equal(t, tc.field, e.Field)
		})
	}
}

func TestCleanNormalises(t *testing.T) {
	ep := models.Endpoint{
		Host:     strp("10.0.0.1"),
		Path:     strp("//api/v1"),
		Query:    strp("?a=1"),
		Fragment: strp("#top"),
		Protocol: strp(""),
	}
	require.NoError(t, Clean(&ep))
	assert.Equal(t, "api/v1", *ep.Path)
	assert.Equal(t, "a=1", *ep.Query)
	assert.Equal(t, "top", *ep.Fragment)
	assert.Nil(t, ep.Protocol)

	mixed := models.Endpoint{Protocol: strp("HTTPS"), Host: strp("B.com")}
	require.NoError(t, Clean(&mixed))
	assert.Equal(t, "https", *mixed.Protocol)
	assert.Equal(t, "b.com", *mixed.Host)

	root := models.Endpoint{Host: strp("a.com"), Path: strp("/")}
	require.NoError(t, Clean(&root))
	assert.Nil(t, root.Path)
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }
