// Package findings validates finding writes and orders them with the
// external tracker push.
package findings

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/taggable"
	"github.com/CosmoTheDev/ctrlscan-api/internal/tags"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Payload is a decoded finding write. Nil members were not supplied.
type Payload struct {
	TestID           *int64
	Title            *string
	Description      *string
	Severity         *string
	Mitigation       *string
	Impact           *string
	FilePath         *string
	Line             *int
	ComponentName    *string
	ComponentVersion *string
	VulnID           *string
	CWE              *int
	Date             *string
	Reporter         string
	IsMitigated      *bool
	Flags

	// PushToJira asks for a tracker push after the write; it is never stored.
	PushToJira bool
	Tags       *tags.Collection

	state State
}

// Store persists findings.
type Store interface {
	InsertFinding(ctx context.Context, f models.Finding) (int64, error)
	SaveFinding(ctx context.Context, f models.Finding) error
	SetFindingTags(ctx context.Context, findingID int64, names []string) error
}

// Tracker is the part of the external tracker a finding write uses.
type Tracker interface {
	IsPushAllIssues(ctx context.Context, f models.Finding) (bool, error)
	Push(ctx context.Context, f models.Finding) error
}

// Service creates and updates findings.
type Service struct {
	store     Store
	validator *Validator
	tracker   Tracker
	adapter   *taggable.Adapter[models.Finding, Payload]
	now       func() time.Time
}

func NewService(store Store, policy PolicySource, tracker Tracker) *Service {
	s := &Service{
		store:     store,
		validator: NewValidator(policy),
		tracker:   tracker,
		now:       time.Now,
	}
	s.adapter = taggable.New[models.Finding, Payload](entityStore{s}, taggable.Field[Payload]{
		Name: "tags",
		Pop: func(p *Payload) (tags.Collection, bool) {
			if p.Tags == nil {
				return nil, false
			}
			c := *p.Tags
			p.Tags = nil
			return c, true
		},
	})
	return s
}

// Create validates p, writes the finding and its tags, and pushes it to the
// tracker when asked to or when the product pushes all issues.
func (s *Service) Create(ctx context.Context, p Payload) (models.Finding, error) {
	if p.TestID == nil {
		return models.Finding{}, apierr.MissingField("test", "This field is required.")
	}
	if p.Title == nil || *p.Title == "" {
		return models.Finding{}, apierr.MissingField("title", "This field is required.")
	}
	if p.Severity == nil {
		return models.Finding{}, apierr.MissingField("severity", "This field is required.")
	}
	state, err := s.validator.Validate(ctx, Create, p.Flags, *p.TestID, nil)
	if err != nil {
		return models.Finding{}, err
	}
	p.state = state

	// The push-all policy needs a stored finding, so it is asked after the first write.
	return s.adapter.Create(ctx, p, func(ctx context.Context, f models.Finding) (models.Finding, error) {
		push := p.PushToJira
		if !push {
			all, err := s.tracker.IsPushAllIssues(ctx, f)
			if err != nil {
				return f, fmt.Errorf("checking push-all-issues: %w", err)
			}
			push = all
		}
		if !push {
			return f, nil
		}
		return s.savePush(ctx, f)
	})
}

// Update validates p against existing, writes it and then pushes to the
// tracker if requested. kind is Update or PartialUpdate.
func (s *Service) Update(ctx context.Context, kind Kind, existing models.Finding, p Payload) (models.Finding, error) {
	state, err := s.validator.Validate(ctx, kind, p.Flags, existing.TestID, &existing)
	if err != nil {
		return existing, err
	}
	p.state = state

	push := p.PushToJira
	if !push {
		if push, err = s.tracker.IsPushAllIssues(ctx, existing); err != nil {
			return existing, fmt.Errorf("checking push-all-issues: %w", err)
		}
	}
	if !push {
		return s.adapter.Update(ctx, existing, p)
	}
	return s.adapter.Update(ctx, existing, p, s.savePush)
}

// savePush records that a push was requested, then pushes. Push failures
// are logged; the write stands.
func (s *Service) savePush(ctx context.Context, f models.Finding) (models.Finding, error) {
	ts := s.now().UTC().Format(time.RFC3339)
	f.PushRequestedAt = &ts
	if err := s.store.SaveFinding(ctx, f); err != nil {
		return f, fmt.Errorf("saving finding %d: %w", f.ID, err)
	}
	if err := s.tracker.Push(ctx, f); err != nil {
		slog.Warn("tracker: push failed", "finding_id", f.ID, "error", err)
	}
	return f, nil
}

// entityStore is the taggable.Store view of the service.
type entityStore struct{ s *Service }

func (e entityStore) Create(ctx context.Context, p Payload) (models.Finding, error) {
	now := e.s.now().UTC()
	f := models.Finding{
		TestID:    *p.TestID,
		Date:      now.Format("2006-01-02"),
		Reporter:  p.Reporter,
		CreatedAt: now.Format(time.RFC3339),
	}
	if err := p.apply(&f, now); err != nil {
		return f, err
	}
	p.state.Apply(&f)
	id, err := e.s.store.InsertFinding(ctx, f)
	if err != nil {
		return f, fmt.Errorf("inserting finding: %w", err)
	}
	f.ID = id
	return f, nil
}

func (e entityStore) Update(ctx context.Context, existing models.Finding, p Payload) (models.Finding, error) {
	f := existing
	if err := p.apply(&f, e.s.now().UTC()); err != nil {
		return existing, err
	}
	p.state.Apply(&f)
	if err := e.s.store.SaveFinding(ctx, f); err != nil {
		return existing, fmt.Errorf("saving finding %d: %w", f.ID, err)
	}
	return f, nil
}

func (e entityStore) SetTags(ctx context.Context, f models.Finding, _ string, names tags.Collection) (models.Finding, error) {
	if err := e.s.store.SetFindingTags(ctx, f.ID, names); err != nil {
		return f, err
	}
	f.Tags = names
	return f, nil
}

// apply copies the supplied non-flag members onto f.
func (p Payload) apply(f *models.Finding, now time.Time) error {
	if p.TestID != nil && f.ID != 0 && *p.TestID != f.TestID {
		return apierr.New(apierr.KindForbiddenChange, "Change of test is not possible").WithField("test")
	}
	if p.Severity != nil {
		sev, ok := models.ParseSeverity(*p.Severity)
		if !ok {
			return apierr.Validation("severity", fmt.Sprintf("%q is not a valid choice.", *p.Severity))
		}
		f.Severity = sev
		f.NumericalSeverity = sev.Numerical()
	}
	if p.Date != nil {
		if _, err := time.Parse("2006-01-02", *p.Date); err != nil {
			return apierr.Validation("date", "Date has wrong format. Use YYYY-MM-DD.")
		}
		f.Date = *p.Date
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&f.Title, p.Title)
	set(&f.Description, p.Description)
	set(&f.Mitigation, p.Mitigation)
	set(&f.Impact, p.Impact)
	set(&f.FilePath, p.FilePath)
	set(&f.ComponentName, p.ComponentName)
	set(&f.ComponentVersion, p.ComponentVersion)
	set(&f.VulnID, p.VulnID)
	if p.Line != nil {
		f.Line = *p.Line
	}
	if p.CWE != nil {
		f.CWE = *p.CWE
	}
	if p.IsMitigated != nil && *p.IsMitigated != f.IsMitigated {
		f.IsMitigated = *p.IsMitigated
		if f.IsMitigated {
			ts := now.Format(time.RFC3339)
			f.Mitigated = &ts
		} else {
			f.Mitigated = nil
		}
	}
	f.UpdatedAt = now.Format(time.RFC3339)
	return nil
}
