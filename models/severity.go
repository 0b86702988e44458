package models

import "strings"

// SeverityLevel represents the severity of a security finding.
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "Critical"
	SeverityHigh     SeverityLevel = "High"
	SeverityMedium   SeverityLevel = "Medium"
	SeverityLow      SeverityLevel = "Low"
	SeverityInfo     SeverityLevel = "Info"
)

// Severities lists the accepted severity values, most severe first.
var Severities = []SeverityLevel{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Weight returns a numeric weight for sorting (higher = more severe).
func (s SeverityLevel) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Numerical returns the S0..S4 code stored alongside the severity.
func (s SeverityLevel) Numerical() string {
	switch s {
	case SeverityCritical:
		return "S0"
	case SeverityHigh:
		return "S1"
	case SeverityMedium:
		return "S2"
	case SeverityLow:
		return "S3"
	default:
		return "S4"
	}
}

func (s SeverityLevel) String() string {
	return string(s)
}

// AtLeast reports whether s is as severe as floor or more.
func (s SeverityLevel) AtLeast(floor SeverityLevel) bool {
	return s.Weight() >= floor.Weight()
}

// ParseSeverity accepts one of the canonical severity names, case-insensitively.
func ParseSeverity(raw string) (SeverityLevel, bool) {
	for _, s := range Severities {
		if strings.EqualFold(strings.TrimSpace(raw), string(s)) {
			return s, true
		}
	}
	return "", false
}

// MapSeverity normalises scanner-specific severity strings to SeverityLevel.
// Unknown values map to Info so they still pass the lowest severity floor.
func MapSeverity(raw string) SeverityLevel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CRITICAL":
		return SeverityCritical
	case "HIGH", "ERROR":
		return SeverityHigh
	case "MEDIUM", "MODERATE", "WARNING":
		return SeverityMedium
	case "LOW", "NOTE":
		return SeverityLow
	default:
		return SeverityInfo
	}
}
