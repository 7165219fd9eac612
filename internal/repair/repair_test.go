package repair

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/config"
	"github.com/bedtimestories/bedtime/internal/database"
	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/timing"
)

const threeSegments = `{
  "segments": [
    {"text": "The owl woke up.", "image": "image_1.png", "start": 0, "end": 10},
    {"text": "The owl flew to the moon.", "image": "image_2.png", "start": 10, "end": 20},
    {"text": "The owl went back to sleep.", "image": "image_3.png", "start": 20, "end": 30}
  ]
}
`

type mockProvider struct {
	reply string
	err   error
	calls int
}

func (m *mockProvider) Chat(context.Context, llm.ChatRequest) (string, error) {
	m.calls++
	return m.reply, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

type mockImager struct {
	data  []byte
	err   error
	calls int
}

func (m *mockImager) Image(context.Context, string) ([]byte, error) {
	m.calls++
	return m.data, m.err
}

type mockSpeaker struct {
	data  []byte
	err   error
	calls int
	last  string
}

func (m *mockSpeaker) Speech(_ context.Context, text string) ([]byte, error) {
	m.calls++
	m.last = text
	return m.data, m.err
}

type fixture struct {
	cfg    *config.Config
	text   *mockProvider
	images *mockImager
	speech *mockSpeaker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.Delay = time.Second
	cfg.Timing.WordsPerMinute = 150
	cfg.Timing.MinSeconds = 30
	cfg.Output.Root = t.TempDir()
	return &fixture{
		cfg:    cfg,
		text:   &mockProvider{reply: "The Sleepy Fox\n\nOnce upon a time a fox yawned."},
		images: &mockImager{data: []byte("real-image")},
		speech: &mockSpeaker{data: []byte("mp3-bytes")},
	}
}

func (fx *fixture) repairer(db *database.DB, opts Options) *Repairer {
	clients := &llm.Clients{Text: fx.text, Images: fx.images, Speech: fx.speech}
	r := New(fx.cfg, db, clients, opts).WithRetrySleep(func(context.Context, time.Duration) error { return nil })
	r.Sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func (fx *fixture) folder(t *testing.T, slug, segmentsJSON string) artifact.Folder {
	t.Helper()
	f := artifact.Folder{Dir: filepath.Join(fx.cfg.Output.Root, slug)}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if segmentsJSON != "" {
		if err := os.WriteFile(f.Path(artifact.SegmentsFile), []byte(segmentsJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func TestScanRepairsJSONOnlyFolder(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "the-owl", threeSegments)

	res, err := fx.repairer(nil, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected 1 folder repaired, got %+v", res)
	}

	text, err := f.ReadText()
	if err != nil {
		t.Fatalf("expected story.txt: %v", err)
	}
	want := "The owl woke up.\n\nThe owl flew to the moon.\n\nThe owl went back to sleep."
	if text != want {
		t.Errorf("unexpected story text %q", text)
	}
	if fx.speech.last != want {
		t.Errorf("expected narration of story.txt, got %q", fx.speech.last)
	}

	st := f.Inspect(3)
	if !st.Complete() {
		t.Errorf("expected complete folder, got %+v", st)
	}
	data, _ := os.ReadFile(f.Path("image_2.png"))
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("expected placeholder PNG: %v", err)
	}
	if img.Bounds().Dx() != 800 || img.Bounds().Dy() != 600 {
		t.Errorf("unexpected placeholder size %v", img.Bounds())
	}
	if fx.images.calls != 0 {
		t.Errorf("placeholders should not call the image model, got %d calls", fx.images.calls)
	}

	raw, _ := os.ReadFile(f.Path(artifact.SegmentsFile))
	if string(raw) != threeSegments {
		t.Errorf("expected JSON untouched, got:\n%s", raw)
	}
}

func TestScanIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	fx.folder(t, "the-owl", threeSegments)
	r := fx.repairer(nil, Options{})

	if _, err := r.Scan(context.Background()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	calls := fx.speech.calls

	res, err := r.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if len(res.Actions) != 0 {
		t.Errorf("expected no changes on second scan, got %+v", res.Actions)
	}
	if fx.speech.calls != calls {
		t.Errorf("expected no narration on second scan")
	}
}

func TestScanFixesTimings(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "bad-timing", `{"title": "Bad Timing", "segments": [
		{"text": "one two three", "start": 0, "end": 0},
		{"text": "four five six", "start": 0, "end": 0}
	]}`)

	res, err := fx.repairer(nil, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Actions) == 0 || res.Actions[0].What != "timings" {
		t.Fatalf("expected timings to be fixed first, got %+v", res.Actions)
	}

	doc, err := f.ReadDocument()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !timing.Valid(doc.Segments) {
		t.Errorf("expected valid timings, got %+v", doc.Segments)
	}
	if doc.Segments[1].End != 30 {
		t.Errorf("expected 30s floor, got %v", doc.Segments[1].End)
	}
	if doc.Segments[1].Image != "image_2.png" {
		t.Errorf("expected image name assigned, got %q", doc.Segments[1].Image)
	}
	if doc.Title != "Bad Timing" {
		t.Errorf("expected title kept, got %q", doc.Title)
	}

	text, _ := f.ReadText()
	if want := "Bad Timing\n\none two three\n\nfour five six"; text != want {
		t.Errorf("expected titled story.txt %q, got %q", want, text)
	}
}

func TestScanRenamesImagesWithoutRetiming(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "odd-names", `{"segments": [
		{"text": "one two three", "image": "owl.png", "start": 0, "end": 7},
		{"text": "four five six", "image": "image_2.png", "start": 7, "end": 19}
	]}`)

	res, err := fx.repairer(nil, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var whats []string
	for _, a := range res.Actions {
		whats = append(whats, a.What)
	}
	if len(whats) == 0 || whats[0] != "image names" {
		t.Fatalf("expected image names fixed first, got %v", whats)
	}
	for _, w := range whats {
		if w == "timings" {
			t.Errorf("valid timings should not be rewritten, got %v", whats)
		}
	}

	doc, err := f.ReadDocument()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if doc.Segments[0].Image != "image_1.png" {
		t.Errorf("expected image_1.png, got %q", doc.Segments[0].Image)
	}
	if doc.Segments[0].End != 7 || doc.Segments[1].Start != 7 || doc.Segments[1].End != 19 {
		t.Errorf("expected original timings kept, got %+v", doc.Segments)
	}

	text, _ := f.ReadText()
	if text != "one two three\n\nfour five six" {
		t.Errorf("expected untitled story.txt to hold segments only, got %q", text)
	}
}

func TestScanSkipsMalformedFolder(t *testing.T) {
	fx := newFixture(t)
	fx.folder(t, "a-broken", `{"title": "no segments"}`)
	good := fx.folder(t, "b-good", threeSegments)

	res, err := fx.repairer(nil, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Succeeded != 1 {
		t.Errorf("expected one skipped and one repaired, got %+v", res)
	}
	if !good.Inspect(3).Complete() {
		t.Error("expected the good folder to be repaired")
	}
}

func TestScanNarrationFailureWritesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.speech.err = errors.New("quota exceeded")
	f := fx.folder(t, "the-owl", threeSegments)

	res, err := fx.repairer(nil, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("expected failed folder, got %+v", res)
	}
	if fx.speech.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", fx.speech.calls)
	}
	if _, err := os.Stat(f.Path(artifact.AudioFile)); !os.IsNotExist(err) {
		t.Error("expected no audio placeholder after failed narration")
	}
	if !f.Inspect(3).HasText {
		t.Error("expected text to be written before narration")
	}
}

func TestScanWithoutTextSkipsNarration(t *testing.T) {
	fx := newFixture(t)
	fx.folder(t, "blank", `{"segments": [{"text": "  ", "image": "image_1.png", "start": 0, "end": 30}]}`)

	res, _ := fx.repairer(nil, Options{}).Scan(context.Background())
	if fx.speech.calls != 0 {
		t.Errorf("expected no narration without text, got %d calls", fx.speech.calls)
	}
	if res.Failed != 1 {
		t.Errorf("expected audio step to fail, got %+v", res)
	}
}

func TestScanRealImages(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "the-owl", threeSegments)

	if _, err := fx.repairer(nil, Options{RealImages: true}).Scan(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fx.images.calls != 3 {
		t.Errorf("expected 3 image calls, got %d", fx.images.calls)
	}
	data, _ := os.ReadFile(f.Path("image_1.png"))
	if string(data) != "real-image" {
		t.Errorf("expected generated image, got %q", data)
	}
}

func TestScanRecordsRepairs(t *testing.T) {
	fx := newFixture(t)
	fx.folder(t, "the-owl", threeSegments)
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	res, err := fx.repairer(db, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repairs, err := db.GetRepairs("the-owl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// three images, story.txt and narration
	if len(repairs) != 5 {
		t.Errorf("expected 5 repairs, got %d", len(repairs))
	}
	if repairs[0].RunID != res.RunID {
		t.Errorf("expected repairs tied to run %s", res.RunID)
	}

	s, _ := db.GetStory("the-owl")
	if s == nil || s.Title != "The Owl" || s.DurationSeconds != 30 {
		t.Errorf("unexpected catalog entry %+v", s)
	}
}

func TestRebuildRewritesTextAndAudio(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "the-owl", threeSegments)
	f.WriteText("stale")
	f.WriteAudio([]byte("old"))

	res, err := fx.repairer(nil, Options{}).Rebuild(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", res)
	}
	text, _ := f.ReadText()
	if !strings.HasPrefix(text, "The owl woke up.") {
		t.Errorf("expected rebuilt text, got %q", text)
	}
	audio, _ := os.ReadFile(f.Path(artifact.AudioFile))
	if string(audio) != "mp3-bytes" {
		t.Errorf("expected new narration, got %q", audio)
	}
}

func TestRegenerateUpdatesTitle(t *testing.T) {
	fx := newFixture(t)
	f := fx.folder(t, "lilys-sleepy-fox", threeSegments)

	r := fx.repairer(nil, Options{})
	folders, err := r.Folders()
	if err != nil || len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d (%v)", len(folders), err)
	}

	res, err := r.Regenerate(context.Background(), folders)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("expected success, got %+v", res)
	}

	text, _ := f.ReadText()
	if text != fx.text.reply {
		t.Errorf("expected regenerated text, got %q", text)
	}
	doc, _ := f.ReadDocument()
	if doc.Title != "Lily's Sleepy Fox" {
		t.Errorf("expected title from slug, got %q", doc.Title)
	}
	if len(doc.Segments) != 3 {
		t.Errorf("expected segments preserved, got %d", len(doc.Segments))
	}
}

func TestRegenerateKeepsFolderOnWriterFailure(t *testing.T) {
	fx := newFixture(t)
	fx.text.err = errors.New("server error")
	f := fx.folder(t, "the-owl", threeSegments)
	f.WriteText("original")

	r := fx.repairer(nil, Options{})
	folders, _ := r.Folders()
	res, _ := r.Regenerate(context.Background(), folders)
	if res.Failed != 1 {
		t.Errorf("expected failure, got %+v", res)
	}
	text, _ := f.ReadText()
	if text != "original" {
		t.Errorf("expected story.txt untouched, got %q", text)
	}
	if fx.speech.calls != 0 {
		t.Error("expected no narration after writer failure")
	}
}
