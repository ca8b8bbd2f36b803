package scorer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// trailingAuthorityRe matches a parenthetical author citation at the end of
// a name, e.g. "Thunnus maccoyii (Castelnau, 1872)".
var trailingAuthorityRe = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

var folder = cases.Fold()

// StripAuthority removes one trailing parenthetical authority annotation.
func StripAuthority(name string) string {
	return trailingAuthorityRe.ReplaceAllString(name, "")
}

// Normalize prepares a scientific name for comparison:
//  1. Strip a trailing parenthetical authority
//  2. Unicode NFC, so precomposed and combining forms compare equal
//  3. Case fold
//  4. Trim and collapse internal whitespace
func Normalize(name string) string {
	name = StripAuthority(strings.TrimSpace(name))
	name = norm.NFC.String(name)
	name = folder.String(name)
	return strings.Join(strings.Fields(name), " ")
}

// Genus returns the first whitespace-delimited token of a normalized name.
func Genus(normalized string) string {
	genus, _, _ := strings.Cut(normalized, " ")
	return genus
}
