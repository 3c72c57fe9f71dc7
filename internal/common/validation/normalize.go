package validation

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// countryAliases maps lower-cased spellings to canonical country names.
var countryAliases = map[string]string{
	"usa":                      "United States",
	"us":                       "United States",
	"u.s.":                     "United States",
	"u.s.a":                    "United States",
	"u.s.a.":                   "United States",
	"united states":            "United States",
	"united states of america": "United States",
	"america":                  "United States",
	"uk":                       "United Kingdom",
	"u.k.":                     "United Kingdom",
	"gb":                       "United Kingdom",
	"great britain":            "United Kingdom",
	"england":                  "United Kingdom",
	"united kingdom":           "United Kingdom",
	"india":                    "India",
	"in":                       "India",
	"bharat":                   "India",
	"uae":                      "United Arab Emirates",
	"u.a.e.":                   "United Arab Emirates",
	"united arab emirates":     "United Arab Emirates",
	"ca":                       "Canada",
	"canada":                   "Canada",
	"au":                       "Australia",
	"aus":                      "Australia",
	"australia":                "Australia",
	"sg":                       "Singapore",
	"singapore":                "Singapore",
	"de":                       "Germany",
	"deutschland":              "Germany",
	"germany":                  "Germany",
	"ng":                       "Nigeria",
	"nigeria":                  "Nigeria",
	"ke":                       "Kenya",
	"kenya":                    "Kenya",
	"za":                       "South Africa",
	"rsa":                      "South Africa",
	"south africa":             "South Africa",
	"global":                   "Global",
	"international":            "Global",
	"worldwide":                "Global",
}

var titleCaser = cases.Title(language.English)

// CanonicalCountry returns the canonical name for a country spelling.
// Unknown names are title-cased. Applying it twice is a no-op.
func CanonicalCountry(name string) string {
	trimmed := strings.Join(strings.Fields(name), " ")
	if canonical, ok := countryAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return titleCaser.String(trimmed)
}

// looksLikeDomain accepts bare hosts such as "example.com/apply".
func looksLikeDomain(s string) bool {
	if strings.ContainsAny(s, " \t\n") || strings.Contains(s, "://") {
		return false
	}
	host := s
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	return strings.Contains(host, ".") && !strings.HasPrefix(host, ".") && !strings.HasSuffix(host, ".")
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseTimestamp coerces a string or unix number (seconds or milliseconds)
// into a UTC instant.
func ParseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case float64:
		return fromUnix(t)
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f)
		}
	}
	return time.Time{}, false
}

func fromUnix(f float64) (time.Time, bool) {
	if f <= 0 {
		return time.Time{}, false
	}
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}
