package tags

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
)

func TestRoundTrip(t *testing.T) {
	lists := [][]string{
		{},
		{"prod"},
		{"prod", "pci"},
		{"has space", "plain"},
		{"a,b", "c"},
		{`say "hi"`, "x"},
		{"dup", "dup"},
		{" padded ", "z"},
		{`"`},
	}
	for _, l := range lists {
		got, err := Parse(List(l))
		require.NoError(t, err)
		assert.Equal(t, Collection(l), got, "parse(list)")
		assert.Equal(t, Collection(l), Split(Render(l)), "split(render)")
	}
}

func TestParseJSONText(t *testing.T) {
	got, err := Parse(JSONText(`["one", "two words"]`))
	require.NoError(t, err)
	assert.Equal(t, Collection{"one", "two words"}, got)
	assert.Equal(t, `one, "two words"`, got.String())

	empty, err := Parse(JSONText(""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(JSONText("not json"))
	e, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindEncoding, e.Kind)
	assert.Equal(t, apierr.CodeInvalidJSON, e.Code)

	_, err = Parse(JSONText("[1,2]"))
	e, ok = apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.KindTypeMismatch, e.Kind)
	assert.Equal(t, apierr.CodeNotAString, e.Code)

	_, err = Parse(JSONText(`{"a":"b"}`))
	e, ok = apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeNotAList, e.Code)
	assert.Contains(t, e.Message, `"object"`)

	_, err = Parse(Value(42.0))
	e, ok = apierr.As(err)
	require.True(t, ok)
	assert.Contains(t, e.Message, `"number"`)

	_, err = Parse(Value([]any{"ok", true}))
	assert.True(t, apierr.IsKind(err, apierr.KindTypeMismatch))
}

func TestSplitSpaceDelimited(t *testing.T) {
	assert.Equal(t, Collection{"a", "b"}, Split("a b"))
	assert.Equal(t, Collection{"a b", "c"}, Split(`"a b", c`))
}

type liveTags []string

func (l liveTags) List(context.Context) ([]string, error) { return l, nil }

type brokenLive struct{}

func (brokenLive) List(context.Context) ([]string, error) { return nil, errors.New("db down") }

func TestExtract(t *testing.T) {
	ctx := context.Background()

	got, err := Extract(ctx, FromList([]string{"x"}))
	require.NoError(t, err)
	assert.Equal(t, Collection{"x"}, got)

	got, err = Extract(ctx, FromLive(liveTags{"a", "b"}))
	require.NoError(t, err)
	assert.Equal(t, Collection{"a", "b"}, got)

	got, err = Extract(ctx, FromRendered(`"a b", c`))
	require.NoError(t, err)
	assert.Equal(t, Collection{"a b", "c"}, got)

	_, err = Extract(ctx, FromLive(brokenLive{}))
	assert.Error(t, err)

	_, err = Extract(ctx, Source{})
	assert.ErrorIs(t, err, ErrConversion)
}
