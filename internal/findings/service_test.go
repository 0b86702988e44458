package findings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// callLog records the order in which collaborators are invoked.
type callLog struct {
	calls []string
	saved map[int64]models.Finding
}

func (l *callLog) InsertFinding(_ context.Context, f models.Finding) (int64, error) {
	l.calls = append(l.calls, "insert")
	id := int64(len(l.saved) + 1)
	f.ID = id
	l.saved[id] = f
	return id, nil
}

func (l *callLog) SaveFinding(_ context.Context, f models.Finding) error {
	l.calls = append(l.calls, "save")
	l.saved[f.ID] = f
	return nil
}

func (l *callLog) SetFindingTags(_ context.Context, id int64, names []string) error {
	l.calls = append(l.calls, "tags")
	return nil
}

type fakeTracker struct {
	log      *callLog
	pushAll  bool
	pushErr  error
	pushedAt []models.Finding
}

func (t *fakeTracker) IsPushAllIssues(context.Context, models.Finding) (bool, error) {
	t.log.calls = append(t.log.calls, "policy")
	return t.pushAll, nil
}

func (t *fakeTracker) Push(_ context.Context, f models.Finding) error {
	t.log.calls = append(t.log.calls, "push")
	// The persisted row must already reflect the update.
	t.pushedAt = append(t.pushedAt, t.log.saved[f.ID])
	return t.pushErr
}

func newService(pushAll bool) (*Service, *callLog, *fakeTracker) {
	log := &callLog{saved: map[int64]models.Finding{}}
	tr := &fakeTracker{log: log, pushAll: pushAll}
	svc := NewService(log, &staticPolicy{enabled: true}, tr)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, log, tr
}

func str(s string) *string { return &s }
func i64(v int64) *int64   { return &v }

func TestUpdateSavesBeforePush(t *testing.T) {
	svc, log, tr := newService(false)
	existing := models.Finding{ID: 1, TestID: 2, Title: "old", Severity: models.SeverityLow, Active: true, Verified: true}
	log.saved[1] = existing

	got, err := svc.Update(context.Background(), PartialUpdate, existing, Payload{Title: str("new"), PushToJira: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"save", "save", "push"}, log.calls)
	require.Len(t, tr.pushedAt, 1)
	assert.Equal(t, "new", tr.pushedAt[0].Title)
	assert.NotNil(t, got.PushRequestedAt)
}

func TestUpdateAsksPolicyBeforeWrite(t *testing.T) {
	svc, log, _ := newService(true)
	existing := models.Finding{ID: 1, TestID: 2, Active: true, Verified: true}
	log.saved[1] = existing
	c := tags.Collection{"pci"}

	got, err := svc.Update(context.Background(), Update, existing, Payload{Tags: &c})
	require.NoError(t, err)
	assert.Equal(t, []string{"policy", "save", "save", "push", "tags"}, log.calls)
	assert.Equal(t, []string{"pci"}, got.Tags)
}

func TestUpdateWithoutPushNeverPushes(t *testing.T) {
	svc, log, _ := newService(false)
	existing := models.Finding{ID: 1, TestID: 2, Active: true, Verified: true}
	log.saved[1] = existing

	_, err := svc.Update(context.Background(), PartialUpdate, existing, Payload{Description: str("d")})
	require.NoError(t, err)
	assert.Equal(t, []string{"policy", "save"}, log.calls)
}

func TestCreateAsksPolicyAfterInsert(t *testing.T) {
	svc, log, tr := newService(true)
	c := tags.Collection{"a", "b"}

	got, err := svc.Create(context.Background(), Payload{
		TestID: i64(4), Title: str("XSS"), Severity: str("high"), Tags: &c,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"insert", "policy", "save", "push", "tags"}, log.calls)
	assert.Equal(t, models.SeverityHigh, got.Severity)
	assert.Equal(t, "S1", got.NumericalSeverity)
	assert.True(t, got.Active)
	assert.True(t, got.Verified)
	assert.Equal(t, "2026-03-01", got.Date)
	require.Len(t, tr.pushedAt, 1)
	assert.NotNil(t, tr.pushedAt[0].PushRequestedAt)
}

func TestCreateRejectedBeforeAnyWrite(t *testing.T) {
	svc, log, _ := newService(true)
	_, err := svc.Create(context.Background(), Payload{
		TestID: i64(4), Title: str("x"), Severity: str("Low"),
		Flags: Flags{Duplicate: b(true)},
	})
	assert.True(t, apierr.IsKind(err, apierr.KindStateConflict))
	assert.Empty(t, log.calls)

	_, err = svc.Create(context.Background(), Payload{Title: str("x"), Severity: str("Low")})
	assert.True(t, apierr.IsKind(err, apierr.KindMissingField))
}

func TestInvalidSeverityAbortsBeforeTags(t *testing.T) {
	svc, log, _ := newService(false)
	c := tags.Collection{"a"}
	_, err := svc.Create(context.Background(), Payload{
		TestID: i64(4), Title: str("x"), Severity: str("Spicy"), Tags: &c,
	})
	assert.True(t, apierr.IsKind(err, apierr.KindValidation))
	assert.NotContains(t, log.calls, "tags")
}

func TestPushFailureIsNotReturned(t *testing.T) {
	svc, log, tr := newService(false)
	tr.pushErr = errors.New("tracker down")
	existing := models.Finding{ID: 1, TestID: 2, Active: true, Verified: true}
	log.saved[1] = existing

	_, err := svc.Update(context.Background(), PartialUpdate, existing, Payload{PushToJira: true})
	assert.NoError(t, err)
}

func TestMitigationTimestamp(t *testing.T) {
	svc, log, _ := newService(false)
	existing := models.Finding{ID: 1, TestID: 2, Active: true, Verified: true}
	log.saved[1] = existing

	got, err := svc.Update(context.Background(), PartialUpdate, existing, Payload{IsMitigated: b(true), Flags: Flags{Active: b(false)}})
	require.NoError(t, err)
	require.NotNil(t, got.Mitigated)
	assert.Equal(t, "2026-03-01T12:00:00Z", *got.Mitigated)
	assert.False(t, got.Active)
}
