// Package sanitize implements the archive-filename helper from spec §6. It
// is reserved for the UI's filename cosmetics, but the core CLI driver uses
// it too when a user does not supply an explicit -o path.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	disallowed = regexp.MustCompile(`[^A-Za-z0-9 _\-\[\]]`)
	whitespace = regexp.MustCompile(`\s+`)
	digitsOnly = regexp.MustCompile(`^[0-9]+$`)
)

// ArchiveName sanitizes a user-supplied description into a safe base
// filename (without extension), per spec §6:
//   - lowercase
//   - "(" -> "[", ")" -> "]"
//   - strip anything outside [A-Za-z0-9 _-\[\]]
//   - collapse whitespace runs to a single "_"
//   - trim leading/trailing "_"
//   - "srtm_tiles" on empty input
//   - "srtm_" prefix when the result is only a count (all digits)
func ArchiveName(description string) string {
	s := strings.ToLower(description)
	s = strings.ReplaceAll(s, "(", "[")
	s = strings.ReplaceAll(s, ")", "]")
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")

	if s == "" {
		return "srtm_tiles"
	}
	if digitsOnly.MatchString(s) {
		return "srtm_" + s
	}
	return s
}
