package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bedtimestories/bedtime/internal/story"
)

// Files of a story folder.
const (
	TextFile     = "story.txt"
	SegmentsFile = "story_segments.json"
	AudioFile    = "story_audio.mp3"
)

// ErrNoDocument is returned when a folder has no story_segments.json.
var ErrNoDocument = errors.New("story_segments.json not found")

// ErrMalformed wraps decoding problems with story_segments.json.
var ErrMalformed = errors.New("malformed story_segments.json")

// Folder is one story's artifact set on disk.
type Folder struct {
	Dir string
}

// Create makes (or reuses) the folder for title under root.
func Create(root, title string) (Folder, error) {
	dir := filepath.Join(root, story.Slugify(title))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Folder{}, fmt.Errorf("creating story directory: %w", err)
	}
	return Folder{Dir: dir}, nil
}

// Slug returns the folder name.
func (f Folder) Slug() string {
	return filepath.Base(f.Dir)
}

// Path returns the path of a file inside the folder.
func (f Folder) Path(name string) string {
	return filepath.Join(f.Dir, name)
}

// ReadDocument loads story_segments.json. A bare JSON array is accepted as
// the segment list of an untitled document.
func (f Folder) ReadDocument() (story.Document, error) {
	data, err := os.ReadFile(f.Path(SegmentsFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return story.Document{}, ErrNoDocument
		}
		return story.Document{}, err
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var segments []story.Segment
		if err := json.Unmarshal(trimmed, &segments); err != nil {
			return story.Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return story.Document{Segments: segments}, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return story.Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := raw["segments"]; !ok {
		return story.Document{}, fmt.Errorf("%w: missing 'segments' key", ErrMalformed)
	}

	var doc story.Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return story.Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

// WriteDocument writes story_segments.json with two-space indentation.
func (f Folder) WriteDocument(doc story.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", SegmentsFile, err)
	}
	return f.write(SegmentsFile, append(data, '\n'))
}

// ReadText returns the contents of story.txt.
func (f Folder) ReadText() (string, error) {
	data, err := os.ReadFile(f.Path(TextFile))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteText writes story.txt.
func (f Folder) WriteText(text string) error {
	return f.write(TextFile, []byte(text))
}

// WriteImage writes image_<n>.png for the 1-based segment number n.
func (f Folder) WriteImage(n int, data []byte) error {
	return f.write(story.ImageName(n), data)
}

// WriteAudio writes story_audio.mp3.
func (f Folder) WriteAudio(data []byte) error {
	return f.write(AudioFile, data)
}

func (f Folder) write(name string, data []byte) error {
	if err := os.WriteFile(f.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// Status reports which artifacts of a folder are present.
type Status struct {
	HasDocument   bool
	HasText       bool
	HasAudio      bool
	MissingImages []int
}

// Complete reports whether nothing is missing.
func (s Status) Complete() bool {
	return s.HasDocument && s.HasText && s.HasAudio && len(s.MissingImages) == 0
}

// Inspect checks the folder for each artifact kind. Images are expected for
// segments 1..segments. Empty text and zero-byte audio (the failed-narration
// placeholder) count as missing.
func (f Folder) Inspect(segments int) Status {
	st := Status{
		HasDocument: exists(f.Path(SegmentsFile)),
		HasText:     nonEmpty(f.Path(TextFile)),
		HasAudio:    nonEmpty(f.Path(AudioFile)),
	}
	for n := 1; n <= segments; n++ {
		if !exists(f.Path(story.ImageName(n))) {
			st.MissingImages = append(st.MissingImages, n)
		}
	}
	return st
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}
	if strings.HasSuffix(path, ".txt") {
		data, err := os.ReadFile(path)
		return err == nil && strings.TrimSpace(string(data)) != ""
	}
	return true
}

// Discover walks root and returns every directory that holds a
// story_segments.json, at any depth, sorted by path.
func Discover(root string) ([]Folder, error) {
	var out []Folder
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == SegmentsFile && filepath.Dir(path) != root {
			out = append(out, Folder{Dir: filepath.Dir(path)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}
