package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bedtimestories/bedtime/internal/story"
)

func TestCreateUsesSlug(t *testing.T) {
	root := t.TempDir()
	f, err := Create(root, "The Fox's Big Day!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Slug() != "the-foxs-big-day" {
		t.Errorf("unexpected slug %q", f.Slug())
	}
	if info, err := os.Stat(f.Dir); err != nil || !info.IsDir() {
		t.Errorf("expected directory to exist: %v", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	f := Folder{Dir: t.TempDir()}
	doc := story.Document{
		Title:    "The Fox's Big Day!",
		Segments: []story.Segment{{Text: "a", Image: "image_1.png", Start: 0, End: 15}},
	}
	if err := f.WriteDocument(doc); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := f.ReadDocument()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Title != doc.Title || len(got.Segments) != 1 || got.Segments[0].End != 15 {
		t.Errorf("unexpected document %+v", got)
	}
}

func TestReadDocumentErrors(t *testing.T) {
	f := Folder{Dir: t.TempDir()}
	if _, err := f.ReadDocument(); !errors.Is(err, ErrNoDocument) {
		t.Errorf("expected ErrNoDocument, got %v", err)
	}

	os.WriteFile(f.Path(SegmentsFile), []byte("{not json"), 0o644)
	if _, err := f.ReadDocument(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	os.WriteFile(f.Path(SegmentsFile), []byte(`{"title": "x"}`), 0o644)
	if _, err := f.ReadDocument(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed for missing segments, got %v", err)
	}
}

func TestReadDocumentBareArray(t *testing.T) {
	f := Folder{Dir: t.TempDir()}
	os.WriteFile(f.Path(SegmentsFile), []byte(`[{"text": "one"}, {"text": "two"}]`), 0o644)
	doc, err := f.ReadDocument()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Segments) != 2 || doc.Title != "" {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestInspect(t *testing.T) {
	f := Folder{Dir: t.TempDir()}
	f.WriteDocument(story.Document{Segments: []story.Segment{{Text: "a"}, {Text: "b"}}})
	f.WriteText("   \n")
	f.WriteAudio(nil)
	f.WriteImage(2, []byte("png"))

	st := f.Inspect(2)
	if !st.HasDocument {
		t.Error("expected document")
	}
	if st.HasText {
		t.Error("blank story.txt should count as missing")
	}
	if st.HasAudio {
		t.Error("zero-byte audio should count as missing")
	}
	if len(st.MissingImages) != 1 || st.MissingImages[0] != 1 {
		t.Errorf("unexpected missing images %v", st.MissingImages)
	}
	if st.Complete() {
		t.Error("expected incomplete status")
	}

	f.WriteText("story")
	f.WriteAudio([]byte("mp3"))
	f.WriteImage(1, []byte("png"))
	if !f.Inspect(2).Complete() {
		t.Error("expected complete status")
	}
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"b-story", "a-story", "nested/deep-story", ".git", "empty"} {
		os.MkdirAll(filepath.Join(root, dir), 0o755)
	}
	for _, dir := range []string{"b-story", "a-story", "nested/deep-story", ".git"} {
		os.WriteFile(filepath.Join(root, dir, SegmentsFile), []byte(`{"segments": []}`), 0o644)
	}

	found, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var slugs []string
	for _, f := range found {
		slugs = append(slugs, f.Slug())
	}
	want := []string{"a-story", "b-story", "deep-story"}
	if len(slugs) != len(want) {
		t.Fatalf("expected %v, got %v", want, slugs)
	}
	for i := range want {
		if slugs[i] != want[i] {
			t.Errorf("expected %v, got %v", want, slugs)
		}
	}
}
