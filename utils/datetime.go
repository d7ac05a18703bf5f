package utils

import (
	"fmt"
	"strings"
	"time"
)

// DatetimeFormats is the ordered table of layouts tried when parsing survey
// timestamps. Order matters for ambiguous day/month dates: first match wins,
// ISO first, then US before European.
var DatetimeFormats = []string{
	// Standard ISO formats
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"20060102150405",
	"200601021504",

	// ISO 8601 with T separator, with and without zone
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",

	// US formats
	"01-02-2006 15:04:05",
	"01-02-2006 15:04",
	"01-02-2006",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",

	// European formats
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",

	// Compact surveying formats
	"20060102",
	"02012006",
	"01022006",

	// Civil engineering formats with month names
	"02-Jan-2006 15:04:05",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
	"Jan-02-2006 15:04:05",
	"Jan-02-2006 15:04",
	"Jan-02-2006",

	// GPS year + day-of-year formats
	"2006-002 15:04:05",
	"2006-002 15:04",
	"2006-002",

	// Common variations
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",

	// 12-hour formats
	"2006-01-02 03:04:05 PM",
	"2006-01-02 03:04 PM",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 03:04 PM",
	"02/01/2006 03:04:05 PM",
	"02/01/2006 03:04 PM",

	// Explicit zone suffix
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04 MST",
}

// Field name keywords that mark likely datetime columns in survey data.
var datetimeFieldKeywords = []string{"date", "time", "dt", "datetime", "survey", "gps", "epoch"}

// UnparseableDatetimeError marks a feature whose resolution-key field could
// not be parsed. Non-fatal: the feature loses winner candidacy but is still
// trimmed if it loses.
type UnparseableDatetimeError struct {
	SourceLayer string
	FeatureID   string
	Value       string
}

func (e *UnparseableDatetimeError) Error() string {
	return fmt.Sprintf("unparseable datetime %q on feature %s/%s", e.Value, e.SourceLayer, e.FeatureID)
}

// CleanDatetimeValue normalizes an attribute value before parsing: trims
// whitespace and maps a trailing Z onto an explicit zone suffix.
func CleanDatetimeValue(value interface{}) string {
	var s string
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		s = v
	case float64:
		// Compact numeric timestamps like 20240115 arrive as JSON numbers
		s = fmt.Sprintf("%.0f", v)
	default:
		s = fmt.Sprintf("%v", v)
	}

	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
		if !strings.Contains(s, "T") {
			s = strings.TrimSpace(s[:len(s)-1]) + " UTC"
		}
	}
	return s
}

// ParseDatetimeLayout parses a cleaned value against one known layout.
func ParseDatetimeLayout(value, layout string) (time.Time, error) {
	return time.Parse(layout, value)
}

// ParseDatetime tries every known layout in table order and returns the
// parsed time plus the layout that matched.
func ParseDatetime(value interface{}) (time.Time, string, error) {
	cleaned := CleanDatetimeValue(value)
	if cleaned == "" {
		return time.Time{}, "", fmt.Errorf("empty datetime value")
	}

	for _, layout := range DatetimeFormats {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return t, layout, nil
		}
	}

	return time.Time{}, "", fmt.Errorf("no known layout matches %q", cleaned)
}

// detectionSampleSize and detectionThreshold mirror the field auto-detection
// rule: sample up to 10 values, accept a layout when more than 70% parse.
const (
	detectionSampleSize = 10
	detectionThreshold  = 0.7
)

// DetectDatetimeLayout finds the first layout that parses more than 70% of
// the sampled values.
func DetectDatetimeLayout(samples []string) (string, bool) {
	if len(samples) > detectionSampleSize {
		samples = samples[:detectionSampleSize]
	}
	if len(samples) == 0 {
		return "", false
	}

	for _, layout := range DatetimeFormats {
		validCount := 0
		for _, sample := range samples {
			if _, err := ParseDatetimeLayout(CleanDatetimeValue(sample), layout); err == nil {
				validCount++
			}
		}
		if float64(validCount)/float64(len(samples)) > detectionThreshold {
			return layout, true
		}
	}

	return "", false
}

// DetectDatetimeField scans a layer's schema for the resolution-key field.
// Fields whose names carry date/time keywords are tried first; when none of
// those yields a stable layout every field is tried in schema order.
func DetectDatetimeField(schema []string, sample func(field string) []string) (string, string, bool) {
	keyword := make([]string, 0)
	rest := make([]string, 0)
	for _, field := range schema {
		if isDatetimeFieldName(field) {
			keyword = append(keyword, field)
		} else {
			rest = append(rest, field)
		}
	}

	for _, fields := range [][]string{keyword, rest} {
		for _, field := range fields {
			if layout, ok := DetectDatetimeLayout(sample(field)); ok {
				return field, layout, true
			}
		}
	}

	return "", "", false
}

func isDatetimeFieldName(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range datetimeFieldKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
