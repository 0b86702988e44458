package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// fingerprint is the hash_code reimport matches findings on. Line numbers
// only count for secrets so nearby edits do not churn code findings.
func fingerprint(p Parsed) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(p.Kind)),
		strings.ToLower(strings.TrimSpace(p.Scanner)),
		strings.ToLower(collapseSpace(p.Title)),
		strings.ToLower(strings.TrimSpace(p.ComponentName)),
		strings.ToLower(strings.TrimSpace(p.ComponentVersion)),
		strings.ToLower(strings.TrimSpace(p.FilePath)),
	}
	switch p.Kind {
	case "secrets":
		parts = append(parts, strconv.Itoa(p.Line))
	case "sast", "iac":
		parts = append(parts, strings.ToLower(collapseSpace(p.Description)))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Dedup keeps the first occurrence of each fingerprint.
func Dedup(in []Parsed) []Parsed {
	if len(in) == 0 {
		return nil
	}
	out := make([]Parsed, 0, len(in))
	seen := map[string]struct{}{}
	for _, p := range in {
		if p.Fingerprint == "" {
			continue
		}
		if _, ok := seen[p.Fingerprint]; ok {
			continue
		}
		seen[p.Fingerprint] = struct{}{}
		out = append(out, p)
	}
	return out
}

// upgradeAdvice names the lowest fixed version of pkg. When no version
// parses as semver the first listed one is used.
func upgradeAdvice(pkg string, fixed []string) string {
	if len(fixed) == 0 {
		return ""
	}
	var lowest *semver.Version
	for _, f := range fixed {
		v, err := semver.NewVersion(strings.TrimSpace(f))
		if err != nil {
			continue
		}
		if lowest == nil || v.LessThan(lowest) {
			lowest = v
		}
	}
	target := strings.TrimSpace(fixed[0])
	if lowest != nil {
		target = lowest.Original()
	}
	if pkg == "" {
		return fmt.Sprintf("Upgrade to version %s.", target)
	}
	return fmt.Sprintf("Upgrade %s to version %s or later. Fixed in: %s.", pkg, target, strings.Join(fixed, ", "))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// normalizePath makes report paths repository relative with forward slashes.
func normalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "file://")
	return strings.TrimPrefix(p, "./")
}
