package story

import (
	"fmt"
	"strings"
)

// Idea is a story title with its one-line premise.
type Idea struct {
	Title   string
	Premise string
}

// Segment is one narrative chunk of a story with its illustration and its
// offset within the narration, in seconds.
type Segment struct {
	Text  string  `json:"text"`
	Image string  `json:"image,omitempty"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Document is the story_segments.json sidecar of a story folder.
type Document struct {
	Title    string    `json:"title"`
	Premise  string    `json:"premise,omitempty"`
	Segments []Segment `json:"segments"`
}

// ImageName returns the image filename for the 1-based segment number n.
func ImageName(n int) string {
	return fmt.Sprintf("image_%d.png", n)
}

// FullText joins the title and the segment texts, in order, into the
// narration text written to story.txt.
func (d Document) FullText() string {
	parts := make([]string, 0, len(d.Segments)+1)
	if t := strings.TrimSpace(d.Title); t != "" {
		parts = append(parts, t)
	}
	for _, s := range d.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AssignImages sets image_<n>.png on every segment and reports whether
// anything changed.
func (d *Document) AssignImages() bool {
	changed := false
	for i := range d.Segments {
		name := ImageName(i + 1)
		if d.Segments[i].Image != name {
			d.Segments[i].Image = name
			changed = true
		}
	}
	return changed
}

// PlaceholderSegments returns n deterministic segments used when story
// generation fails.
func PlaceholderSegments(title string, n int) []Segment {
	segments := make([]Segment, n)
	for i := range segments {
		segments[i] = Segment{Text: fmt.Sprintf("Segment %d for the story about %s.", i+1, title)}
	}
	return segments
}
