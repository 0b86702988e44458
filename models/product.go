package models

// Product is the top-level owner of engagements and endpoints.
type Product struct {
	ID          int64  `db:"id"          json:"id"`
	Name        string `db:"name"        json:"name"`
	Description string `db:"description" json:"description"`
	// EnableSimpleRiskAcceptance allows findings to be marked risk accepted
	// through the API without a formal risk acceptance.
	EnableSimpleRiskAcceptance bool   `db:"enable_simple_risk_acceptance" json:"enable_simple_risk_acceptance"`
	CreatedAt                  string `db:"created_at"                    json:"created"`
	UpdatedAt                  string `db:"updated_at"                    json:"updated"`

	Tags []string `db:"-" json:"tags"`
}

// ProductTracker binds a product to an external issue tracker project.
type ProductTracker struct {
	ID        int64  `db:"id"         json:"id"`
	ProductID int64  `db:"product_id" json:"product"`
	// Provider is "github", "gitlab" or "jira".
	Provider string `db:"provider" json:"provider"`
	// Project is "owner/repo", "group/project" or a Jira project key.
	Project       string `db:"project"         json:"project"`
	PushAllIssues bool   `db:"push_all_issues" json:"push_all_issues"`
	Enabled       bool   `db:"enabled"         json:"enabled"`
	UpdatedAt     string `db:"updated_at"      json:"updated"`
}

// Engagement groups tests for a product over a time window.
type Engagement struct {
	ID          int64  `db:"id"           json:"id"`
	ProductID   int64  `db:"product_id"   json:"product"`
	Name        string `db:"name"         json:"name"`
	Description string `db:"description"  json:"description"`
	TargetStart string `db:"target_start" json:"target_start"`
	TargetEnd   string `db:"target_end"   json:"target_end"`
	Status      string `db:"status"       json:"status"`
	Lead        string `db:"lead_user"    json:"lead"`
	Version     string `db:"version"      json:"version"`
	BuildID     string `db:"build_id"     json:"build_id"`
	BranchTag   string `db:"branch_tag"   json:"branch_tag"`
	CommitHash  string `db:"commit_hash"  json:"commit_hash"`
	CreatedAt   string `db:"created_at"   json:"created"`

	Tags []string `db:"-" json:"tags"`
}

// Environment is a named development environment a test ran against.
type Environment struct {
	ID   int64  `db:"id"   json:"id"`
	Name string `db:"name" json:"name"`
}

// Language is one row of a product's language breakdown (cloc output).
type Language struct {
	ID        int64  `db:"id"         json:"id"`
	ProductID int64  `db:"product_id" json:"product"`
	Language  string `db:"language"   json:"language"`
	Files     int    `db:"files"      json:"files"`
	Blank     int    `db:"blank"      json:"blank"`
	Comment   int    `db:"comment"    json:"comment"`
	Code      int    `db:"code"       json:"code"`
	CreatedAt string `db:"created_at" json:"created"`
}
