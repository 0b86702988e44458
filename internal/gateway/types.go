package gateway

import (
	"time"

	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// SSEEvent is serialised as JSON and pushed over the GET /events SSE stream.
type SSEEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// errorBody is the JSON shape of every client-facing failure.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// findingView is a finding as the API represents it, with the linked
// tracker issue projected alongside.
type findingView struct {
	models.Finding
	DisplayStatus string     `json:"display_status"`
	Endpoints     []int64    `json:"endpoints"`
	JiraIssueURL  *string    `json:"jira_issue_url"`
	JiraCreation  *time.Time `json:"jira_creation"`
	JiraChange    *time.Time `json:"jira_change"`
}

// scanImportedPayload is the payload of the scan.imported SSE event.
type scanImportedPayload struct {
	Type        string `json:"type"`
	BatchID     string `json:"batch_id"`
	TestID      int64  `json:"test"`
	ProductID   int64  `json:"product"`
	ScanType    string `json:"scan_type"`
	Total       int    `json:"total"`
	New         int    `json:"new"`
	Closed      int    `json:"closed"`
	Reactivated int    `json:"reactivated"`
	Untouched   int    `json:"untouched"`
}

// clocEntry is one language row of a cloc --json report.
type clocEntry struct {
	Files   int `json:"nFiles"`
	Blank   int `json:"blank"`
	Comment int `json:"comment"`
	Code    int `json:"code"`
}
