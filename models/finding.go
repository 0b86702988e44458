package models

// Finding is a reported vulnerability instance tied to a Test.
type Finding struct {
	ID                int64         `db:"id"                 json:"id"`
	TestID            int64         `db:"test_id"            json:"test"`
	Title             string        `db:"title"              json:"title"`
	Description       string        `db:"description"        json:"description"`
	Severity          SeverityLevel `db:"severity"           json:"severity"`
	NumericalSeverity string        `db:"numerical_severity" json:"numerical_severity"`
	Mitigation        string        `db:"mitigation"         json:"mitigation"`
	Impact            string        `db:"impact"             json:"impact"`
	FilePath          string        `db:"file_path"          json:"file_path"`
	Line              int           `db:"line"               json:"line"`
	ComponentName     string        `db:"component_name"     json:"component_name"`
	ComponentVersion  string        `db:"component_version"  json:"component_version"`
	VulnID            string        `db:"vuln_id"            json:"vuln_id_from_tool"`
	CWE               int           `db:"cwe"                json:"cwe"`
	Scanner           string        `db:"scanner"            json:"scanner"`
	HashCode          string        `db:"hash_code"          json:"hash_code"`
	Date              string        `db:"date"               json:"date"`

	Active       bool    `db:"active"        json:"active"`
	Verified     bool    `db:"verified"      json:"verified"`
	Duplicate    bool    `db:"duplicate"     json:"duplicate"`
	FalseP       bool    `db:"false_p"       json:"false_p"`
	RiskAccepted bool    `db:"risk_accepted" json:"risk_accepted"`
	IsMitigated  bool    `db:"is_mitigated"  json:"is_mitigated"`
	Mitigated    *string `db:"mitigated"     json:"mitigated"`

	// PushRequestedAt is set by the write that asks for an external tracker push.
	PushRequestedAt *string `db:"push_requested_at" json:"-"`

	Reporter  string `db:"reporter"   json:"reporter"`
	CreatedAt string `db:"created_at" json:"created"`
	UpdatedAt string `db:"updated_at" json:"updated"`

	Tags []string `db:"-" json:"tags"`
}

// Status renders the display status the way list views show it.
func (f *Finding) Status() string {
	var parts []string
	switch {
	case f.Active:
		parts = append(parts, "Active")
	default:
		parts = append(parts, "Inactive")
	}
	if f.Verified {
		parts = append(parts, "Verified")
	}
	if f.IsMitigated {
		parts = append(parts, "Mitigated")
	}
	if f.FalseP {
		parts = append(parts, "False Positive")
	}
	if f.Duplicate {
		parts = append(parts, "Duplicate")
	}
	if f.RiskAccepted {
		parts = append(parts, "Risk Accepted")
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}

// Note is a free-text comment on a finding.
type Note struct {
	ID        int64   `db:"id"         json:"id"`
	FindingID int64   `db:"finding_id" json:"finding"`
	Entry     string  `db:"entry"      json:"entry"`
	Author    string  `db:"author"     json:"author"`
	Private   bool    `db:"private"    json:"private"`
	Edited    bool    `db:"edited"     json:"edited"`
	Editor    string  `db:"editor"     json:"editor"`
	EditTime  *string `db:"edit_time"  json:"edit_time"`
	CreatedAt string  `db:"created_at" json:"date"`
}

// Capture is one stored HTTP request/response pair attached to a finding.
// Both sides are stored base64-encoded.
type Capture struct {
	ID             int64  `db:"id"              json:"id"`
	FindingID      int64  `db:"finding_id"      json:"finding"`
	RequestBase64  string `db:"request_base64"  json:"-"`
	ResponseBase64 string `db:"response_base64" json:"-"`
}

// TrackerIssue links a finding to the issue created for it in an external tracker.
type TrackerIssue struct {
	ID        int64  `db:"id"         json:"id"`
	FindingID int64  `db:"finding_id" json:"finding"`
	Provider  string `db:"provider"   json:"provider"`
	Project   string `db:"project"    json:"project"`
	IssueKey  string `db:"issue_key"  json:"issue_key"`
	URL       string `db:"url"        json:"url"`
	CreatedAt string `db:"created_at" json:"created"`
	UpdatedAt string `db:"updated_at" json:"updated"`
}
