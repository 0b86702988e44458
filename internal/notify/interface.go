package notify

import "context"

// Event types.
const (
	EventScanAdded        = "scan_added"
	EventTrackerPushError = "tracker_push_failed"
)

// Event is a notification emitted by ctrlscan-api.
type Event struct {
	Type      string // "scan_added" | "tracker_push_failed"
	Title     string
	Body      string
	URL       string // optional link to the test or finding in the API
	Severity  string // highest severity involved, e.g. "High"; "" when not finding related
	ProductID int64
	TestID    int64
	Metadata  map[string]any
}

// Channel is implemented by each notification provider.
type Channel interface {
	Name() string
	IsConfigured() bool
	Send(ctx context.Context, evt Event) error
}
