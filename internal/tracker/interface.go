// Package tracker pushes findings to external issue trackers and reads back
// the issue each finding is linked to.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// ErrNotConfigured is returned by Push when the finding's product has no
// enabled tracker or no credentials exist for its provider.
var ErrNotConfigured = errors.New("no issue tracker configured")

// Issue is the remote issue as a provider reports it.
type Issue struct {
	Key       string
	URL       string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IssueInput is what gets written to the remote issue.
type IssueInput struct {
	Title  string
	Body   string
	Labels []string
	// Closed asks the provider to close (or keep closed) the issue.
	Closed bool
}

// Provider is one issue tracker backend.
type Provider interface {
	Name() string
	CreateIssue(ctx context.Context, project string, in IssueInput) (Issue, error)
	UpdateIssue(ctx context.Context, project, key string, in IssueInput) (Issue, error)
}

// Store persists tracker configuration and finding links.
type Store interface {
	// ProductTrackerForFinding returns sql.ErrNoRows when the product of the
	// finding has no tracker row.
	ProductTrackerForFinding(ctx context.Context, findingID int64) (models.ProductTracker, error)
	// GetTrackerIssue returns sql.ErrNoRows when the finding was never pushed.
	GetTrackerIssue(ctx context.Context, findingID int64) (models.TrackerIssue, error)
	SaveTrackerIssue(ctx context.Context, ti models.TrackerIssue) error
}
