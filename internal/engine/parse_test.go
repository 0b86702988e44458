package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

const sarifReport = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "CodeQL", "rules": [
      {"id": "go/sql-injection", "shortDescription": {"text": "Database query built from user-controlled sources"}}
    ]}},
    "results": [{
      "ruleId": "go/sql-injection",
      "level": "error",
      "message": {"text": "This query depends on a user-provided value."},
      "locations": [{"physicalLocation": {
        "artifactLocation": {"uri": "./internal/db/query.go"},
        "region": {"startLine": 42}
      }}]
    }, {
      "ruleId": "CWE-79",
      "message": {"text": "Reflected XSS."}
    }]
  }]
}`

func TestParseSARIF(t *testing.T) {
	out, err := Parse("sarif", []byte(sarifReport))
	require.NoError(t, err)
	require.Len(t, out, 2)

	first := out[0]
	assert.Equal(t, "codeql", first.Scanner)
	assert.Equal(t, "Database query built from user-controlled sources", first.Title)
	assert.Equal(t, models.SeverityHigh, first.Severity)
	assert.Equal(t, "internal/db/query.go", first.FilePath)
	assert.Equal(t, 42, first.Line)
	assert.NotEmpty(t, first.Fingerprint)

	second := out[1]
	assert.Equal(t, "CWE-79", second.Title)
	assert.Equal(t, 79, second.CWE)
	assert.Equal(t, models.SeverityMedium, second.Severity, "missing level defaults to warning")
}

func TestParseSemgrep(t *testing.T) {
	report := `{"results": [{
		"check_id": "go.lang.security.audit.xss",
		"path": "web/handler.go",
		"start": {"line": 7},
		"extra": {
			"message": "Unescaped output",
			"severity": "WARNING",
			"fix": "html.EscapeString(v)",
			"metadata": {"cwe": ["CWE-79: Improper Neutralization"]}
		}
	}]}`
	out, err := Parse("semgrep", []byte(report))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityMedium, out[0].Severity)
	assert.Equal(t, 79, out[0].CWE)
	assert.Equal(t, 7, out[0].Line)
	assert.Contains(t, out[0].Mitigation, "html.EscapeString")
}

func TestParseGrypeUsesPURL(t *testing.T) {
	report := `{"matches": [{
		"vulnerability": {"id": "CVE-2021-44228", "severity": "Critical", "fix": {"versions": ["2.17.1", "2.15.0"]}},
		"artifact": {"name": "log4j-core", "version": "2.14.1",
			"purl": "pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1"}
	}]}`
	out, err := Parse("grype", []byte(report))
	require.NoError(t, err)
	require.Len(t, out, 1)
	f := out[0]
	assert.Equal(t, "org.apache.logging.log4j:log4j-core", f.ComponentName)
	assert.Equal(t, "2.14.1", f.ComponentVersion)
	assert.Equal(t, models.SeverityCritical, f.Severity)
	assert.Contains(t, f.Mitigation, "to version 2.15.0 or later")
	assert.Equal(t, "org.apache.logging.log4j:log4j-core@2.14.1", f.FilePath)
}

func TestParseTrivy(t *testing.T) {
	report := `{"Results": [{
		"Target": "go.sum",
		"Vulnerabilities": [{"VulnerabilityID": "CVE-2023-1", "PkgName": "golang.org/x/net",
			"InstalledVersion": "0.1.0", "FixedVersion": "0.7.0", "Severity": "HIGH", "CweIDs": ["CWE-400"]}],
		"Misconfigurations": [{"ID": "DS002", "Title": "Root user", "Severity": "LOW",
			"Resolution": "Add USER", "IacMetadata": {"StartLine": 3}}]
	}]}`
	out, err := Parse("trivy", []byte(report))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "sca", out[0].Kind)
	assert.Equal(t, 400, out[0].CWE)
	assert.Equal(t, "iac", out[1].Kind)
	assert.Equal(t, 3, out[1].Line)
	assert.Equal(t, models.SeverityLow, out[1].Severity)
}

func TestParseTrufflehogSkipsBadLines(t *testing.T) {
	report := "not json\n" +
		`{"DetectorName":"AWS","Verified":true,"SourceMetadata":{"Data":{"Git":{"file":"deploy/.env","line":4}}}}` + "\n"
	out, err := Parse("trufflehog", []byte(report))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.SeverityCritical, out[0].Severity)
	assert.Equal(t, "deploy/.env", out[0].FilePath)
	assert.Equal(t, 4, out[0].Line)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		parser string
		data   string
		want   error
	}{
		{"unknown parser", "nessus", `{}`, ingest.ErrValue},
		{"bad sarif", "sarif", `{`, ingest.ErrSyntax},
		{"semgrep without results", "semgrep", `{"version": "1"}`, ingest.ErrSyntax},
		{"grype not json", "grype", `<xml/>`, ingest.ErrSyntax},
		{"trufflehog only garbage", "trufflehog", "nope\nstill nope\n", ingest.ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.parser, []byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFingerprintIgnoresLineForCode(t *testing.T) {
	a := Parsed{Kind: "sast", Scanner: "semgrep", Title: "x", FilePath: "a.go", Line: 1, Description: "d"}
	b := a
	b.Line = 99
	assert.Equal(t, fingerprint(a), fingerprint(b))

	s := Parsed{Kind: "secrets", Scanner: "trufflehog", Title: "AWS", FilePath: ".env", Line: 1}
	s2 := s
	s2.Line = 2
	assert.NotEqual(t, fingerprint(s), fingerprint(s2))
}

func TestDedupKeepsFirst(t *testing.T) {
	in := []Parsed{
		{Title: "a", Fingerprint: "1"},
		{Title: "b", Fingerprint: "1"},
		{Title: "c", Fingerprint: "2"},
	}
	out := Dedup(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Title)
	assert.Equal(t, "c", out[1].Title)
}

func TestParseCWE(t *testing.T) {
	assert.Equal(t, 79, parseCWE("CWE-79"))
	assert.Equal(t, 89, parseCWE("cwe-89: SQL Injection"))
	assert.Equal(t, 22, parseCWE("22"))
	assert.Equal(t, 0, parseCWE("go/sql-injection"))
}
