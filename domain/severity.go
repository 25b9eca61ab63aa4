package domain

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Severity orders diagnostic events. The integer value is the wire encoding
// and the comparison order; both are pinned by the explicit constants below.
type Severity int

const (
	SeverityDebug       Severity = 0
	SeverityInformation Severity = 1
	SeverityWarning     Severity = 2
	SeverityError       Severity = 3
	SeverityCritical    Severity = 4
)

// ErrUnknownSeverity is returned for ordinals or names outside the enumeration
var ErrUnknownSeverity = errors.New("unknown severity")

var severityNames = map[Severity]string{
	SeverityDebug:       "Debug",
	SeverityInformation: "Information",
	SeverityWarning:     "Warning",
	SeverityError:       "Error",
	SeverityCritical:    "Critical",
}

// String returns the name of the severity
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "Severity(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is one of the defined severities
func (s Severity) Valid() bool {
	return s >= SeverityDebug && s <= SeverityCritical
}

// AtLeast reports whether s meets the threshold min
func (s Severity) AtLeast(min Severity) bool {
	return s >= min
}

// SeverityFromOrdinal converts a wire ordinal into a Severity
func SeverityFromOrdinal(ordinal int) (Severity, error) {
	s := Severity(ordinal)
	if !s.Valid() {
		return 0, errors.Wrapf(ErrUnknownSeverity, "ordinal %d", ordinal)
	}
	return s, nil
}

// ParseSeverity accepts an ordinal ("2") or a case-insensitive name ("warning").
// "info", "warn" and "crit" are accepted as short forms.
func ParseSeverity(value string) (Severity, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.Atoi(value); err == nil {
		return SeverityFromOrdinal(n)
	}

	switch strings.ToLower(value) {
	case "debug":
		return SeverityDebug, nil
	case "information", "info":
		return SeverityInformation, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical", "crit":
		return SeverityCritical, nil
	}

	return 0, errors.Wrapf(ErrUnknownSeverity, "%q", value)
}
