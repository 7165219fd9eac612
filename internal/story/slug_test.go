package story

import (
	"regexp"
	"testing"
)

var slugShape = regexp.MustCompile(`^[\p{Ll}\p{Lo}\p{N}_]+(-[\p{Ll}\p{Lo}\p{N}_]+)*$`)

func TestSlugifyExamples(t *testing.T) {
	cases := map[string]string{
		"The Fox's Big Day!":           "the-foxs-big-day",
		"  Luna and the   Moon  ":      "luna-and-the-moon",
		"Sleepy -- Bear":               "sleepy-bear",
		"-Leading and trailing-":       "leading-and-trailing",
		"Tilly's Tea_Party (Part 2)":   "tillys-tea_party-part-2",
		"Café Dreams":                  "café-dreams",
		"!!!":                          "story",
		"Tabs\tand\nnewlines":          "tabs-and-newlines",
		"The Star-Catcher's Lantern.":  "the-star-catchers-lantern",
	}
	for title, want := range cases {
		if got := Slugify(title); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestSlugifyShapeAndIdempotence(t *testing.T) {
	titles := []string{
		"The Fox's Big Day!",
		"A -- B",
		"  ??? The Whispering Willow ???  ",
		"Owl & Pussycat: Round Two",
		"mIxEd CaSe",
	}
	for _, title := range titles {
		slug := Slugify(title)
		if !slugShape.MatchString(slug) {
			t.Errorf("Slugify(%q) = %q has unexpected shape", title, slug)
		}
		if again := Slugify(slug); again != slug {
			t.Errorf("Slugify not idempotent: %q -> %q", slug, again)
		}
		if Slugify(title) != slug {
			t.Errorf("Slugify(%q) not deterministic", title)
		}
	}
}

func TestTitleFromSlug(t *testing.T) {
	cases := map[string]string{
		"lilys-dream":       "Lily's Dream",
		"the-sleepy-dragon": "The Sleepy Dragon",
		"moon":              "Moon",
		"":                  "",
	}
	for slug, want := range cases {
		if got := TitleFromSlug(slug); got != want {
			t.Errorf("TitleFromSlug(%q) = %q, want %q", slug, got, want)
		}
	}
}
