package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"github.com/package-url/packageurl-go"

	"github.com/CosmoTheDev/ctrlscan-api/internal/ingest"
	"github.com/CosmoTheDev/ctrlscan-api/models"
)

// Parsed is a scanner-agnostic finding read from a report, before it is
// bound to a test.
type Parsed struct {
	Kind             string // sast | sca | iac | secrets
	Scanner          string
	Fingerprint      string
	Severity         models.SeverityLevel
	Title            string
	Description      string
	Mitigation       string
	FilePath         string
	Line             int
	ComponentName    string
	ComponentVersion string
	VulnID           string
	CWE              int
}

type parserFunc func(data []byte) ([]Parsed, error)

var parsers = map[string]parserFunc{
	"sarif":      parseSARIF,
	"semgrep":    parseSemgrep,
	"grype":      parseGrype,
	"trivy":      parseTrivy,
	"trufflehog": parseTrufflehog,
}

// Parse reads a report with the named parser. Malformed reports wrap
// ingest.ErrSyntax; an unknown parser wraps ingest.ErrValue.
func Parse(parser string, data []byte) ([]Parsed, error) {
	fn, ok := parsers[parser]
	if !ok {
		return nil, fmt.Errorf("%w: no parser available for %q", ingest.ErrValue, parser)
	}
	out, err := fn(data)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Fingerprint = fingerprint(out[i])
	}
	return out, nil
}

func syntaxError(format string, err error) error {
	return fmt.Errorf("%w: "+format+": %v", ingest.ErrSyntax, err)
}

func parseSARIF(data []byte) ([]Parsed, error) {
	report, err := sarif.FromBytes(data)
	if err != nil {
		return nil, syntaxError("invalid SARIF report", err)
	}
	var out []Parsed
	for _, run := range report.Runs {
		if run == nil {
			continue
		}
		tool := "sarif"
		rules := map[string]string{}
		if run.Tool.Driver != nil {
			if run.Tool.Driver.Name != "" {
				tool = strings.ToLower(run.Tool.Driver.Name)
			}
			for _, rule := range run.Tool.Driver.Rules {
				if rule == nil || rule.ShortDescription == nil || rule.ShortDescription.Text == nil {
					continue
				}
				rules[rule.ID] = *rule.ShortDescription.Text
			}
		}
		for _, res := range run.Results {
			if res == nil {
				continue
			}
			ruleID := deref(res.RuleID)
			p := Parsed{
				Kind:        "sast",
				Scanner:     tool,
				Severity:    sarifSeverity(deref(res.Level)),
				Title:       firstNonEmpty(rules[ruleID], ruleID, "SARIF finding"),
				Description: strings.TrimSpace(deref(res.Message.Text)),
				VulnID:      ruleID,
				CWE:         parseCWE(ruleID),
			}
			if len(res.Locations) > 0 && res.Locations[0] != nil && res.Locations[0].PhysicalLocation != nil {
				loc := res.Locations[0].PhysicalLocation
				if loc.ArtifactLocation != nil {
					p.FilePath = normalizePath(deref(loc.ArtifactLocation.URI))
				}
				if loc.Region != nil && loc.Region.StartLine != nil {
					p.Line = *loc.Region.StartLine
				}
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func sarifSeverity(level string) models.SeverityLevel {
	switch strings.ToLower(level) {
	case "error":
		return models.SeverityHigh
	case "warning", "":
		return models.SeverityMedium
	case "note":
		return models.SeverityLow
	default:
		return models.SeverityInfo
	}
}

func parseSemgrep(data []byte) ([]Parsed, error) {
	var payload struct {
		Results *[]struct {
			CheckID string `json:"check_id"`
			Path    string `json:"path"`
			Start   struct {
				Line int `json:"line"`
			} `json:"start"`
			Extra struct {
				Message  string `json:"message"`
				Severity string `json:"severity"`
				Fix      string `json:"fix"`
				Metadata struct {
					CWE json.RawMessage `json:"cwe"`
				} `json:"metadata"`
			} `json:"extra"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, syntaxError("invalid Semgrep JSON report", err)
	}
	if payload.Results == nil {
		return nil, fmt.Errorf("%w: Semgrep report has no results member", ingest.ErrSyntax)
	}
	out := make([]Parsed, 0, len(*payload.Results))
	for _, r := range *payload.Results {
		p := Parsed{
			Kind:        "sast",
			Scanner:     "semgrep",
			Severity:    semgrepSeverity(r.Extra.Severity),
			Title:       strings.TrimSpace(r.CheckID),
			Description: strings.TrimSpace(r.Extra.Message),
			FilePath:    normalizePath(r.Path),
			Line:        r.Start.Line,
			VulnID:      strings.TrimSpace(r.CheckID),
			CWE:         firstCWE(r.Extra.Metadata.CWE),
		}
		if fix := strings.TrimSpace(r.Extra.Fix); fix != "" {
			p.Mitigation = "Suggested fix:\n" + fix
		}
		out = append(out, p)
	}
	return out, nil
}

func semgrepSeverity(s string) models.SeverityLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return models.SeverityHigh
	case "WARNING":
		return models.SeverityMedium
	case "INFO":
		return models.SeverityLow
	default:
		return models.MapSeverity(s)
	}
}

// firstCWE reads metadata.cwe, which is either a string or a list of strings.
func firstCWE(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return parseCWE(one)
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return parseCWE(many[0])
	}
	return 0
}

func parseGrype(data []byte) ([]Parsed, error) {
	var payload struct {
		Matches *[]struct {
			Vulnerability struct {
				ID          string `json:"id"`
				Severity    string `json:"severity"`
				Description string `json:"description"`
				Fix         struct {
					Versions []string `json:"versions"`
				} `json:"fix"`
			} `json:"vulnerability"`
			Artifact struct {
				Name      string `json:"name"`
				Version   string `json:"version"`
				PURL      string `json:"purl"`
				Locations []struct {
					Path string `json:"path"`
				} `json:"locations"`
			} `json:"artifact"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, syntaxError("invalid Grype JSON report", err)
	}
	if payload.Matches == nil {
		return nil, fmt.Errorf("%w: Grype report has no matches member", ingest.ErrSyntax)
	}
	out := make([]Parsed, 0, len(*payload.Matches))
	for _, m := range *payload.Matches {
		name, version := componentFromPURL(m.Artifact.PURL, m.Artifact.Name, m.Artifact.Version)
		filePath := ""
		if len(m.Artifact.Locations) > 0 {
			filePath = normalizePath(m.Artifact.Locations[0].Path)
		}
		if filePath == "" {
			filePath = strings.Trim(name+"@"+version, "@")
		}
		id := strings.TrimSpace(m.Vulnerability.ID)
		out = append(out, Parsed{
			Kind:             "sca",
			Scanner:          "grype",
			Severity:         models.MapSeverity(m.Vulnerability.Severity),
			Title:            strings.Trim(id+" in "+name+":"+version, " :"),
			Description:      strings.TrimSpace(m.Vulnerability.Description),
			Mitigation:       upgradeAdvice(name, m.Vulnerability.Fix.Versions),
			FilePath:         filePath,
			ComponentName:    name,
			ComponentVersion: version,
			VulnID:           id,
		})
	}
	return out, nil
}

// componentFromPURL prefers the package URL's namespace/name and version
// over the artifact fields, which some catalogers leave bare.
func componentFromPURL(purl, name, version string) (string, string) {
	name, version = strings.TrimSpace(name), strings.TrimSpace(version)
	if purl == "" {
		return name, version
	}
	p, err := packageurl.FromString(purl)
	if err != nil {
		return name, version
	}
	full := p.Name
	if p.Namespace != "" {
		sep := "/"
		if p.Type == packageurl.TypeMaven {
			sep = ":"
		}
		full = p.Namespace + sep + p.Name
	}
	if version == "" {
		version = p.Version
	}
	return firstNonEmpty(full, name), version
}

func parseTrivy(data []byte) ([]Parsed, error) {
	var payload struct {
		Results *[]struct {
			Target          string `json:"Target"`
			Vulnerabilities []struct {
				VulnerabilityID  string   `json:"VulnerabilityID"`
				PkgName          string   `json:"PkgName"`
				InstalledVersion string   `json:"InstalledVersion"`
				FixedVersion     string   `json:"FixedVersion"`
				Severity         string   `json:"Severity"`
				Title            string   `json:"Title"`
				Description      string   `json:"Description"`
				CweIDs           []string `json:"CweIDs"`
			} `json:"Vulnerabilities"`
			Misconfigurations []struct {
				ID          string `json:"ID"`
				Title       string `json:"Title"`
				Description string `json:"Description"`
				Resolution  string `json:"Resolution"`
				Severity    string `json:"Severity"`
				IacMetadata struct {
					StartLine int `json:"StartLine"`
				} `json:"IacMetadata"`
			} `json:"Misconfigurations"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, syntaxError("invalid Trivy JSON report", err)
	}
	if payload.Results == nil {
		return nil, fmt.Errorf("%w: Trivy report has no Results member", ingest.ErrSyntax)
	}
	var out []Parsed
	for _, r := range *payload.Results {
		for _, v := range r.Vulnerabilities {
			cwe := 0
			if len(v.CweIDs) > 0 {
				cwe = parseCWE(v.CweIDs[0])
			}
			var fixes []string
			for _, f := range strings.Split(v.FixedVersion, ",") {
				if f = strings.TrimSpace(f); f != "" {
					fixes = append(fixes, f)
				}
			}
			out = append(out, Parsed{
				Kind:             "sca",
				Scanner:          "trivy",
				Severity:         models.MapSeverity(v.Severity),
				Title:            firstNonEmpty(strings.TrimSpace(v.VulnerabilityID+" "+v.PkgName), v.Title),
				Description:      firstNonEmpty(strings.TrimSpace(v.Description), strings.TrimSpace(v.Title)),
				Mitigation:       upgradeAdvice(v.PkgName, fixes),
				FilePath:         normalizePath(r.Target),
				ComponentName:    strings.TrimSpace(v.PkgName),
				ComponentVersion: strings.TrimSpace(v.InstalledVersion),
				VulnID:           strings.TrimSpace(v.VulnerabilityID),
				CWE:              cwe,
			})
		}
		for _, m := range r.Misconfigurations {
			title := firstNonEmpty(strings.TrimSpace(m.ID), strings.TrimSpace(m.Title), "trivy-misconfig")
			out = append(out, Parsed{
				Kind:        "iac",
				Scanner:     "trivy",
				Severity:    models.MapSeverity(m.Severity),
				Title:       title,
				Description: strings.TrimSpace(m.Description),
				Mitigation:  strings.TrimSpace(m.Resolution),
				FilePath:    normalizePath(r.Target),
				Line:        m.IacMetadata.StartLine,
				VulnID:      strings.TrimSpace(m.ID),
			})
		}
	}
	return out, nil
}

// parseTrufflehog reads JSON lines. Undecodable lines are skipped unless
// nothing in the report decodes.
func parseTrufflehog(data []byte) ([]Parsed, error) {
	var out []Parsed
	var bad int
	var lastErr error
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec struct {
			DetectorName   string         `json:"DetectorName"`
			Verified       bool           `json:"Verified"`
			SourceMetadata map[string]any `json:"SourceMetadata"`
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			bad++
			lastErr = err
			continue
		}
		file, lineNo := extractTrufflehogPathLine(rec.SourceMetadata)
		sev := models.SeverityMedium
		msg := "Unverified secret candidate"
		if rec.Verified {
			sev = models.SeverityCritical
			msg = "Verified secret detected"
		}
		out = append(out, Parsed{
			Kind:        "secrets",
			Scanner:     "trufflehog",
			Severity:    sev,
			Title:       firstNonEmpty(strings.TrimSpace(rec.DetectorName), "Secret"),
			Description: msg,
			Mitigation:  "Revoke the credential and remove it from history.",
			FilePath:    normalizePath(file),
			Line:        lineNo,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, syntaxError("reading Trufflehog report", err)
	}
	if len(out) == 0 && bad > 0 {
		return nil, syntaxError("invalid Trufflehog JSON lines", lastErr)
	}
	return out, nil
}

func extractTrufflehogPathLine(source map[string]any) (string, int) {
	if len(source) == 0 {
		return "", 0
	}
	if data, ok := source["Data"].(map[string]any); ok {
		if p, l := findPathLineInMap(data); p != "" || l != 0 {
			return p, l
		}
	}
	return findPathLineInMap(source)
}

// findPathLineInMap walks m breadth first for the first file and line keys.
func findPathLineInMap(m map[string]any) (string, int) {
	q := []any{m}
	var firstPath string
	var firstLine int
	for len(q) > 0 && (firstPath == "" || firstLine == 0) {
		cur := q[0]
		q = q[1:]
		switch x := cur.(type) {
		case map[string]any:
			for k, v := range x {
				switch strings.ToLower(strings.TrimSpace(k)) {
				case "file", "filepath", "path":
					if s, ok := v.(string); ok && firstPath == "" && strings.TrimSpace(s) != "" {
						firstPath = s
					}
				case "line", "linenumber", "line_number":
					if firstLine == 0 {
						firstLine = anyToInt(v)
					}
				}
				switch v.(type) {
				case map[string]any, []any:
					q = append(q, v)
				}
			}
		case []any:
			q = append(q, x...)
		}
	}
	return firstPath, firstLine
}

func anyToInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	default:
		return 0
	}
}

// parseCWE extracts the number from "CWE-79", "CWE-79: Improper ..." or "79".
func parseCWE(s string) int {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "CWE-") {
		s = s[4:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
