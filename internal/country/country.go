// Package country maps ISO 3166 region codes to English display names.
//
// Profiles store the two-letter code; the search index stores both the code
// and the name so that "United States" finds a profile with country "us".
package country

import (
	"errors"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var ErrUnknown = errors.New("unknown country code")

var names = display.English.Regions()

// Normalize returns the canonical upper-case alpha-2 code for code. Empty
// input stays empty (the field is optional). Alpha-3 and numeric codes are
// accepted and converted.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", nil
	}
	region, err := language.ParseRegion(code)
	if err != nil || !region.IsCountry() {
		return "", ErrUnknown
	}
	return region.String(), nil
}

// Name returns the English name for a code, or "" when the code is empty or
// unknown.
func Name(code string) string {
	canonical, err := Normalize(code)
	if err != nil || canonical == "" {
		return ""
	}
	region := language.MustParseRegion(canonical)
	return names.Name(region)
}
