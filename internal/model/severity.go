package model

import "fmt"

// Severity is the estimated impact of a bugcheck.
//
// The levels are ordered so that comparisons and sorting work on the raw
// value. String and the text marshalers provide the JSON form.
type Severity int

const (
	// SeverityMedium is the default for stop codes with no known pattern.
	SeverityMedium Severity = iota

	// SeverityHigh covers driver and memory faults that usually recur
	// until the responsible component is fixed.
	SeverityHigh

	// SeverityCritical covers process death, security checks and hardware
	// errors.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// ParseSeverity converts the String form back into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "Medium":
		return SeverityMedium, nil
	case "High":
		return SeverityHigh, nil
	case "Critical":
		return SeverityCritical, nil
	default:
		return SeverityMedium, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
