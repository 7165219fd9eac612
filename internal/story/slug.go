package story

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	unsafeChars   = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	hyphenRun     = regexp.MustCompile(`-+`)
	possessive    = regexp.MustCompile(`(\w)s\s`)
)

// Slugify derives the folder name for a title. The result contains only
// lowercase letters, digits, underscores and single hyphens, with no hyphen
// at either end. A title with nothing usable becomes "story".
func Slugify(title string) string {
	slug := strings.ToLower(title)
	slug = unsafeChars.ReplaceAllString(slug, "")
	slug = whitespaceRun.ReplaceAllString(slug, "-")
	slug = hyphenRun.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "story"
	}
	return slug
}

// TitleFromSlug approximates a readable title from a slug. Apostrophes and
// punctuation are lost by Slugify, so this is best-effort only: "lilys-dream"
// becomes "Lily's Dream", but so does every other word ending in s.
func TitleFromSlug(slug string) string {
	words := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	title := strings.Join(words, " ")
	return possessive.ReplaceAllString(title, "${1}'s ")
}
