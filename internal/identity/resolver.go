package identity

import (
	"strings"
	"unicode"

	"ContrarianTracker/internal/domain"
	"ContrarianTracker/internal/ports"
)

// Resolver derives deterministic author identifiers from raw byline names
// using exact, normalized-string matching. Two raw names that normalize
// identically map to the same id; genuinely different spellings stay
// separate. No fuzzy matching.
type Resolver struct{}

var _ ports.AuthorResolver = (*Resolver)(nil)

// NewResolver returns the exact-match resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve normalizes the raw name and derives the slug identifier. Fails
// with InvalidAuthorNameError on empty or whitespace-only input.
func (r *Resolver) Resolve(rawName string) (string, error) {
	normalized := Normalize(rawName)
	if normalized == "" {
		return "", &domain.InvalidAuthorNameError{Raw: rawName}
	}
	return slugify(normalized), nil
}

// Normalize trims, collapses internal whitespace, and case-folds.
func Normalize(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}

// DisplayName collapses whitespace but keeps the original casing, for the
// human-readable profile column.
func DisplayName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// slugify replaces every non-alphanumeric rune with an underscore, one per
// rune so distinct normalized names keep distinct slugs, then trims edge
// underscores.
func slugify(normalized string) string {
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
