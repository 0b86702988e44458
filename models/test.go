package models

// Test is one scan run within an engagement.
type Test struct {
	ID            int64  `db:"id"             json:"id"`
	EngagementID  int64  `db:"engagement_id"  json:"engagement"`
	Title         string `db:"title"          json:"title"`
	ScanType      string `db:"scan_type"      json:"scan_type"`
	EnvironmentID int64  `db:"environment_id" json:"environment"`
	TargetStart   string `db:"target_start"   json:"target_start"`
	TargetEnd     string `db:"target_end"     json:"target_end"`
	Lead          string `db:"lead_user"      json:"lead"`
	Version       string `db:"version"        json:"version"`
	BuildID       string `db:"build_id"       json:"build_id"`
	BranchTag     string `db:"branch_tag"     json:"branch_tag"`
	CommitHash    string `db:"commit_hash"    json:"commit_hash"`
	CreatedAt     string `db:"created_at"     json:"created"`
	UpdatedAt     string `db:"updated_at"     json:"updated"`

	Tags []string `db:"-" json:"tags"`
}

// TestImport records the outcome of one import or reimport into a test.
type TestImport struct {
	ID          int64  `db:"id"          json:"id"`
	TestID      int64  `db:"test_id"     json:"test"`
	BatchID     string `db:"batch_id"    json:"batch_id"`
	ImportType  string `db:"import_type" json:"type"` // import|reimport
	ScanDate    string `db:"scan_date"   json:"scan_date"`
	Total       int    `db:"total"       json:"total"`
	New         int    `db:"new"         json:"new"`
	Closed      int    `db:"closed"      json:"closed"`
	Reactivated int    `db:"reactivated" json:"reactivated"`
	Untouched   int    `db:"untouched"   json:"untouched"`
	Version     string `db:"version"     json:"version"`
	BuildID     string `db:"build_id"    json:"build_id"`
	BranchTag   string `db:"branch_tag"  json:"branch_tag"`
	CommitHash  string `db:"commit_hash" json:"commit_hash"`
	CreatedAt   string `db:"created_at"  json:"created"`
}

// FindingGroup collects findings of a test sharing a grouping key.
type FindingGroup struct {
	ID        int64  `db:"id"         json:"id"`
	TestID    int64  `db:"test_id"    json:"test"`
	Name      string `db:"name"       json:"name"`
	GroupBy   string `db:"group_by"   json:"group_by"`
	CreatedAt string `db:"created_at" json:"created"`
}
