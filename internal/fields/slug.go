package fields

import (
	"regexp"
	"strings"
)

// slugPattern matches a valid stored slug value: lowercase ASCII
// alphanumerics plus underscore and hyphen.
var slugPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

var slugStripPattern = regexp.MustCompile(`[^a-z0-9\s_-]+`)

var slugSpacePattern = regexp.MustCompile(`\s+`)

// GenerateSlug derives a slug from a title: strip punctuation, lowercase,
// replace runs of whitespace with a single underscore.
func GenerateSlug(title string) string {
	s := strings.ToLower(title)
	s = slugStripPattern.ReplaceAllString(s, "")
	s = slugSpacePattern.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	return s
}

// ValidSlug reports whether s is already in canonical slug form.
func ValidSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}
