package reqresp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

func TestParseAcceptsStringAndDecoded(t *testing.T) {
	want := Record{{Request: "GET / HTTP/1.1", Response: "HTTP/1.1 200 OK"}}

	got, err := Parse(`[{"request":"GET / HTTP/1.1","response":"HTTP/1.1 200 OK"}]`)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = Parse([]any{map[string]any{"request": "GET / HTTP/1.1", "response": "HTTP/1.1 200 OK"}})
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	empty, err := Parse("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseFailsFast(t *testing.T) {
	cases := []struct {
		name string
		in   any
		code string
	}{
		{"bad json", "{nope", apierr.CodeInvalidJSON},
		{"object", map[string]any{}, apierr.CodeNotAList},
		{"element not a dict", []any{"x"}, apierr.CodeNotADict},
		{"missing response", []any{map[string]any{"request": "a"}}, apierr.CodeNotAString},
		{"number request", []any{
			map[string]any{"request": "a", "response": "b"},
			map[string]any{"request": 1.0, "response": "b"},
		}, apierr.CodeNotAString},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			assert.Nil(t, got)
			e, ok := apierr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.code, e.Code)
		})
	}
}

func TestPrinting(t *testing.T) {
	r := Record{{Request: "a", Response: "b"}}
	assert.Equal(t, `[{"request":"a","response":"b"}]`, r.String())
	assert.Equal(t, "[\n  {\n    \"request\": \"a\",\n    \"response\": \"b\"\n  }\n]", r.Indent())
	assert.Equal(t, "[]", Record(nil).String())
	assert.False(t, r.Equal(Record{{Request: "a", Response: "c"}}))
}

type fakeLister struct {
	captures []models.Capture
	order    []string
}

func (f *fakeLister) ListCaptures(_ context.Context, orderBy ...string) ([]models.Capture, error) {
	f.order = orderBy
	return f.captures, nil
}

func TestProjectDecodesCaptures(t *testing.T) {
	l := &fakeLister{captures: []models.Capture{
		Encode(7, Pair{Request: "req-1", Response: "resp-1"}),
		Encode(7, Pair{Request: "req-2", Response: "resp-2"}),
	}}
	got, err := Project(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, l.order)
	assert.Equal(t, Record{{"req-1", "resp-1"}, {"req-2", "resp-2"}}, got)

	_, err = Project(context.Background(), l, "-id")
	require.NoError(t, err)
	assert.Equal(t, []string{"-id"}, l.order)

	bad := &fakeLister{captures: []models.Capture{{ID: 3, RequestBase64: "%%%"}}}
	_, err = Project(context.Background(), bad)
	assert.Error(t, err)
}
