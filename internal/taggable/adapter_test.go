package taggable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
)

type widget struct {
	ID   int64
	Name string
	Tags []string
}

type widgetPayload struct {
	Name string
	Tags *tags.Collection
}

type recordingStore struct {
	calls     []string
	failWrite bool
	seen      widgetPayload
}

func (s *recordingStore) Create(_ context.Context, p widgetPayload) (widget, error) {
	s.calls = append(s.calls, "create")
	s.seen = p
	if s.failWrite {
		return widget{}, errors.New("write failed")
	}
	return widget{ID: 1, Name: p.Name}, nil
}

func (s *recordingStore) Update(_ context.Context, existing widget, p widgetPayload) (widget, error) {
	s.calls = append(s.calls, "update")
	s.seen = p
	existing.Name = p.Name
	return existing, nil
}

func (s *recordingStore) SetTags(_ context.Context, w widget, field string, names tags.Collection) (widget, error) {
	s.calls = append(s.calls, "tags:"+field)
	w.Tags = names
	return w, nil
}

var tagField = Field[widgetPayload]{
	Name: "tags",
	Pop: func(p *widgetPayload) (tags.Collection, bool) {
		if p.Tags == nil {
			return nil, false
		}
		c := *p.Tags
		p.Tags = nil
		return c, true
	},
}

func TestCreateAppliesTagsAfterWrite(t *testing.T) {
	store := &recordingStore{}
	a := New[widget, widgetPayload](store, tagField)
	c := tags.Collection{"a", "b"}

	got, err := a.Create(context.Background(), widgetPayload{Name: "w", Tags: &c})
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "tags:tags"}, store.calls)
	assert.Nil(t, store.seen.Tags, "tag field must not reach the entity write")
	assert.Equal(t, []string{"a", "b"}, got.Tags)
}

func TestCreateFailureAppliesNoTags(t *testing.T) {
	store := &recordingStore{failWrite: true}
	a := New[widget, widgetPayload](store, tagField)
	c := tags.Collection{"a"}

	_, err := a.Create(context.Background(), widgetPayload{Tags: &c})
	require.Error(t, err)
	assert.Equal(t, []string{"create"}, store.calls)
}

func TestUpdateWithoutTagsSkipsTagWrite(t *testing.T) {
	store := &recordingStore{}
	a := New[widget, widgetPayload](store, tagField)

	got, err := a.Update(context.Background(), widget{ID: 5, Tags: []string{"keep"}}, widgetPayload{Name: "n"})
	require.NoError(t, err)
	assert.Equal(t, []string{"update"}, store.calls)
	assert.Equal(t, []string{"keep"}, got.Tags)
}

func TestHooksRunBetweenWriteAndTags(t *testing.T) {
	store := &recordingStore{}
	a := New[widget, widgetPayload](store, tagField)
	c := tags.Collection{"x"}
	hook := func(_ context.Context, w widget) (widget, error) {
		store.calls = append(store.calls, "hook")
		return w, nil
	}

	_, err := a.Update(context.Background(), widget{ID: 1}, widgetPayload{Tags: &c}, hook)
	require.NoError(t, err)
	assert.Equal(t, []string{"update", "hook", "tags:tags"}, store.calls)
}
