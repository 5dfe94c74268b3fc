package schema

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Formats returns the primary format followed by the fallbacks, in order.
// A rule without any format parses free-form dates.
func (r *DateRule) Formats() []string {
	out := make([]string, 0, 1+len(r.Fallbacks))
	if strings.TrimSpace(r.Format) != "" {
		out = append(out, r.Format)
	}
	for _, f := range r.Fallbacks {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		out = append(out, FormatAuto)
	}
	return out
}

// Parse tries each format in order and reports false when none matches.
func (r *DateRule) Parse(value string) (time.Time, bool) {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return time.Time{}, false
	}
	for _, f := range r.Formats() {
		if t, ok := parseWith(f, value); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseWith(format, value string) (time.Time, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatAuto:
		t, err := dateparse.ParseIn(value, time.UTC)
		return t, err == nil
	case FormatISO:
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}

	layout, err := Layout(format)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
