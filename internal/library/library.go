package library

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/media"
	"github.com/bedtimestories/bedtime/internal/story"
	"github.com/bedtimestories/bedtime/internal/timing"
)

// Entry describes one story folder for the viewer.
type Entry struct {
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Premise      string    `json:"premise,omitempty"`
	Dir          string    `json:"-"`
	RelativePath string    `json:"path"`
	SegmentCount int       `json:"segment_count"`
	Images       []string  `json:"images"`
	HasText      bool      `json:"has_text"`
	HasAudio     bool      `json:"has_audio"`
	AudioSize    int64     `json:"audio_size"`
	Duration     float64   `json:"duration_seconds"`
	ValidTimings bool      `json:"valid_timings"`
	Complete     bool      `json:"complete"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Folder returns the artifact folder of the entry.
func (e Entry) Folder() artifact.Folder {
	return artifact.Folder{Dir: e.Dir}
}

var artifactExts = map[string]struct{}{
	".json": {},
	".txt":  {},
	".png":  {},
	".mp3":  {},
}

// Library is the viewer's index of story folders. Filesystem events under the
// output root trigger a debounced rescan, so a story written by generate or
// repair shows up without a restart.
type Library struct {
	root    string
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu      sync.RWMutex
	entries []Entry

	reindexMu    sync.Mutex
	reindexTimer *time.Timer
	reindexDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New indexes root and keeps watching it until Close.
func New(root string, debounce time.Duration, logger *log.Logger) (*Library, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.Default()
	}

	lib := &Library{
		root:         root,
		watcher:      watcher,
		logger:       logger,
		reindexDelay: debounce,
		done:         make(chan struct{}),
	}

	lib.watchTree(root)

	if err := lib.reindex(); err != nil {
		watcher.Close()
		return nil, err
	}

	lib.wg.Add(1)
	go lib.run()

	return lib, nil
}

// Scan indexes root once without watching it.
func Scan(root string, logger *log.Logger) ([]Entry, error) {
	if logger == nil {
		logger = log.Default()
	}
	l := &Library{root: root, logger: logger}
	if err := l.reindex(); err != nil {
		return nil, err
	}
	return l.List(), nil
}

// Close stops watching. Pending rescans are dropped. Safe to call twice.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		l.reindexMu.Lock()
		if l.reindexTimer != nil {
			l.reindexTimer.Stop()
			l.reindexTimer = nil
		}
		l.reindexMu.Unlock()

		l.closeErr = l.watcher.Close()
		l.wg.Wait()
	})
	return l.closeErr
}

// List returns a copy of the index, most recently written first.
func (l *Library) List() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Get returns the story with the given slug.
func (l *Library) Get(slug string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.Slug == slug {
			return e, true
		}
	}
	return Entry{}, false
}

func (l *Library) run() {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Printf("fsnotify: %v", err)
		case <-l.done:
			return
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create) && isDir(event.Name):
		l.watchTree(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if !isArtifact(event.Name) {
			return
		}
	default:
		// chmod
		return
	}
	l.queueReindex()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (l *Library) reindex() error {
	folders, err := artifact.Discover(l.root)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(folders))
	for _, f := range folders {
		entry, err := l.buildEntry(f)
		if err != nil {
			l.logger.Printf("skipping %s: %v", f.Dir, err)
			continue
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].RelativePath < entries[j].RelativePath
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.logger.Printf("indexed %d stories under %s", len(entries), l.root)
	return nil
}

func (l *Library) buildEntry(f artifact.Folder) (Entry, error) {
	doc, err := f.ReadDocument()
	if err != nil {
		return Entry{}, err
	}

	rel, err := filepath.Rel(l.root, f.Dir)
	if err != nil {
		rel = f.Slug()
	}

	st := f.Inspect(len(doc.Segments))
	e := Entry{
		Slug:         f.Slug(),
		Title:        strings.TrimSpace(doc.Title),
		Premise:      doc.Premise,
		Dir:          f.Dir,
		RelativePath: filepath.ToSlash(rel),
		SegmentCount: len(doc.Segments),
		HasText:      st.HasText,
		HasAudio:     st.HasAudio,
		ValidTimings: timing.Valid(doc.Segments),
		Complete:     st.Complete(),
	}

	missing := make(map[int]bool, len(st.MissingImages))
	for _, n := range st.MissingImages {
		missing[n] = true
	}
	e.Images = []string{}
	for n := 1; n <= len(doc.Segments); n++ {
		if !missing[n] {
			e.Images = append(e.Images, story.ImageName(n))
		}
	}

	if info, err := os.Stat(f.Path(artifact.SegmentsFile)); err == nil {
		e.UpdatedAt = info.ModTime().UTC()
	}

	if st.HasAudio {
		audio, err := media.ProbeAudio(f.Path(artifact.AudioFile))
		if err != nil {
			l.logger.Printf("audio probe error for %s: %v", f.Dir, err)
		}
		e.AudioSize = audio.Size
		e.Duration = audio.DurationSeconds
		if e.Title == "" {
			e.Title = audio.Title
		}
	}
	if e.Duration == 0 && len(doc.Segments) > 0 {
		e.Duration = doc.Segments[len(doc.Segments)-1].End
	}
	// Older folders have an untitled JSON and an untagged narration.
	if e.Title == "" {
		e.Title = story.TitleFromSlug(e.Slug)
	}

	return e, nil
}

func (l *Library) queueReindex() {
	select {
	case <-l.done:
		return
	default:
	}

	l.reindexMu.Lock()
	defer l.reindexMu.Unlock()

	if l.reindexTimer != nil {
		l.reindexTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(l.reindexDelay, func() {
		if err := l.reindex(); err != nil {
			l.logger.Printf("reindex failed: %v", err)
		}

		l.reindexMu.Lock()
		if l.reindexTimer == timer {
			l.reindexTimer = nil
		}
		l.reindexMu.Unlock()
	})

	l.reindexTimer = timer
}

// watchTree adds path and every directory below it; fsnotify is not recursive.
func (l *Library) watchTree(path string) {
	filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			l.logger.Printf("cannot walk %s: %v", p, err)
			return nil
		}

		if d.IsDir() {
			if err := l.watcher.Add(p); err != nil {
				l.logger.Printf("cannot watch %s: %v", p, err)
			}
		}
		return nil
	})
}

func isArtifact(path string) bool {
	_, ok := artifactExts[strings.ToLower(filepath.Ext(path))]
	return ok
}
