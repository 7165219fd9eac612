package repair

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/config"
	"github.com/bedtimestories/bedtime/internal/database"
	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/media"
	"github.com/bedtimestories/bedtime/internal/retry"
	"github.com/bedtimestories/bedtime/internal/story"
	"github.com/bedtimestories/bedtime/internal/timing"
)

// Placeholder size for images filled in by repair.
const (
	placeholderWidth  = 800
	placeholderHeight = 600
)

const imagePrompt = "Create a colorful, child-friendly illustration for a bedtime story titled '%s'. Scene: %s"

var errNoText = errors.New("no story text to narrate")

// Options controls the maintenance commands.
type Options struct {
	// RealImages requests missing illustrations from the image model
	// instead of writing solid placeholders.
	RealImages      bool
	FolderDelay     time.Duration
	RegenerateDelay time.Duration
}

// Action is one change made to a story folder.
type Action struct {
	Slug string
	What string
}

// Result summarises a maintenance run.
type Result struct {
	RunID     string
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Actions   []Action
}

// Repairer inspects story folders and fixes what is missing or inconsistent.
type Repairer struct {
	root     string
	db       *database.DB
	text     llm.Provider
	composer *story.Composer
	images   llm.Imager
	speech   llm.Speaker
	policy   retry.Policy
	strategy timing.Strategy
	opts     Options

	// Sleep is used for the pause between folders. Nil means retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a repairer over cfg.Output.Root. db may be nil.
func New(cfg *config.Config, db *database.DB, clients *llm.Clients, opts Options) *Repairer {
	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}
	return &Repairer{
		root:     cfg.Output.Root,
		db:       db,
		text:     clients.Text,
		composer: story.NewComposer(clients.Text, policy),
		images:   clients.Images,
		speech:   clients.Speech,
		policy:   policy,
		// Repairs always use the canonical word-rate estimate.
		strategy: timing.WordRate{WordsPerMinute: cfg.Timing.WordsPerMinute, MinSeconds: cfg.Timing.MinSeconds},
		opts:     opts,
	}
}

// WithRetrySleep replaces the sleep used between retry attempts.
func (r *Repairer) WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) *Repairer {
	r.policy.Sleep = sleep
	r.composer = story.NewComposer(r.text, r.policy)
	return r
}

// Folders returns every story folder under the output root.
func (r *Repairer) Folders() ([]artifact.Folder, error) {
	folders, err := artifact.Discover(r.root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", r.root, err)
	}
	return folders, nil
}

// Scan applies the narrowest repair to every story folder: timings and
// image names, then missing images, then story.txt, then narration. A
// folder that is already complete is not written to.
func (r *Repairer) Scan(ctx context.Context) (*Result, error) {
	return r.each(ctx, "repair", r.opts.FolderDelay, r.repairFolder)
}

// Rebuild rewrites story.txt from the segments and re-narrates every folder.
func (r *Repairer) Rebuild(ctx context.Context) (*Result, error) {
	return r.each(ctx, "process", r.opts.FolderDelay, r.rebuildFolder)
}

// Regenerate writes a new free-form story for each folder's title,
// re-narrates it and stores the title in story_segments.json.
func (r *Repairer) Regenerate(ctx context.Context, folders []artifact.Folder) (*Result, error) {
	return r.run(ctx, "regenerate", folders, r.opts.RegenerateDelay, r.regenerateFolder)
}

type folderFunc func(ctx context.Context, f artifact.Folder, doc story.Document) ([]string, error)

func (r *Repairer) each(ctx context.Context, kind string, delay time.Duration, fn folderFunc) (*Result, error) {
	folders, err := r.Folders()
	if err != nil {
		return nil, err
	}
	return r.run(ctx, kind, folders, delay, fn)
}

func (r *Repairer) run(ctx context.Context, kind string, folders []artifact.Folder, delay time.Duration, fn folderFunc) (*Result, error) {
	res := &Result{}
	if r.db != nil {
		id, err := r.db.StartRun(kind)
		if err != nil {
			log.Printf("Warning: failed to record run: %v", err)
		}
		res.RunID = id
	}
	log.Printf("Found %d story folders in %s", len(folders), r.root)

	var runErr error
	for i, f := range folders {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		log.Printf("[%d/%d] %s", i+1, len(folders), f.Slug())
		res.Processed++

		doc, err := f.ReadDocument()
		if err != nil {
			log.Printf("Skipping %s: %v", f.Slug(), err)
			res.Skipped++
			continue
		}
		if len(doc.Segments) == 0 {
			log.Printf("Skipping %s: no segments", f.Slug())
			res.Skipped++
			continue
		}

		actions, err := fn(ctx, f, doc)
		for _, a := range actions {
			res.Actions = append(res.Actions, Action{Slug: f.Slug(), What: a})
			r.recordAction(res.RunID, f.Slug(), a)
		}
		if err != nil {
			log.Printf("Error processing %s: %v", f.Slug(), err)
			res.Failed++
		} else {
			res.Succeeded++
		}
		r.recordStory(f)

		if i < len(folders)-1 && delay > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				runErr = err
				break
			}
		}
	}

	if r.db != nil && res.RunID != "" {
		if err := r.db.FinishRun(res.RunID, res.Processed, res.Succeeded, res.Failed+res.Skipped); err != nil {
			log.Printf("Warning: failed to finish run: %v", err)
		}
	}
	return res, runErr
}

func (r *Repairer) repairFolder(ctx context.Context, f artifact.Folder, doc story.Document) ([]string, error) {
	var actions []string
	title := displayTitle(f, doc)

	renamed := doc.AssignImages()
	retimed := !timing.Valid(doc.Segments)
	if retimed {
		log.Printf("Fixing segment timings for %s", f.Slug())
		timing.Retime(doc.Segments, r.strategy)
		actions = append(actions, "timings")
	}
	if renamed {
		log.Printf("Fixing image names for %s", f.Slug())
		actions = append(actions, "image names")
	}
	if renamed || retimed {
		if err := f.WriteDocument(doc); err != nil {
			return actions, err
		}
	}

	st := f.Inspect(len(doc.Segments))
	for _, n := range st.MissingImages {
		if err := r.writeImage(ctx, f, title, n, doc.Segments[n-1].Text); err != nil {
			return actions, err
		}
		actions = append(actions, story.ImageName(n))
	}

	if !st.HasText {
		text := doc.FullText()
		if strings.TrimSpace(text) == "" {
			log.Printf("Cannot create %s for %s: segments have no text", artifact.TextFile, f.Slug())
		} else {
			if err := f.WriteText(text); err != nil {
				return actions, err
			}
			log.Printf("Created %s for %s", artifact.TextFile, f.Slug())
			actions = append(actions, artifact.TextFile)
		}
	}

	if !st.HasAudio {
		if err := r.narrate(ctx, f); err != nil {
			return actions, err
		}
		actions = append(actions, artifact.AudioFile)
	}
	return actions, nil
}

func (r *Repairer) writeImage(ctx context.Context, f artifact.Folder, title string, n int, scene string) error {
	if r.opts.RealImages && r.images != nil {
		data, ok := retry.Attempt(ctx, r.policy, fmt.Sprintf("Image %d for %s", n, f.Slug()),
			func(ctx context.Context) ([]byte, error) {
				return r.images.Image(ctx, fmt.Sprintf(imagePrompt, title, scene))
			}, nil)
		if ok {
			return f.WriteImage(n, data)
		}
		log.Printf("Falling back to placeholder for %s", story.ImageName(n))
	}

	data, err := media.PlaceholderPNG(placeholderWidth, placeholderHeight, media.MidnightBlue)
	if err != nil {
		return err
	}
	log.Printf("Created placeholder image: %s", f.Path(story.ImageName(n)))
	return f.WriteImage(n, data)
}

// narrate synthesises story_audio.mp3 from story.txt. A failed narration is
// reported and nothing is written.
func (r *Repairer) narrate(ctx context.Context, f artifact.Folder) error {
	text, err := f.ReadText()
	if err != nil || strings.TrimSpace(text) == "" {
		return fmt.Errorf("cannot generate audio: %w", errNoText)
	}
	if r.speech == nil {
		return fmt.Errorf("no speech client configured")
	}

	log.Printf("Generating audio for %s...", f.Slug())
	audio, ok := retry.Attempt(ctx, r.policy, fmt.Sprintf("Narration for %s", f.Slug()),
		func(ctx context.Context) ([]byte, error) {
			return r.speech.Speech(ctx, text)
		}, nil)
	if !ok {
		return fmt.Errorf("narration failed for %s", f.Slug())
	}
	if err := f.WriteAudio(audio); err != nil {
		return err
	}
	log.Printf("Created %s for %s", artifact.AudioFile, f.Slug())
	return nil
}

func (r *Repairer) rebuildFolder(ctx context.Context, f artifact.Folder, doc story.Document) ([]string, error) {
	var actions []string
	text := doc.FullText()
	if strings.TrimSpace(text) == "" {
		return nil, errNoText
	}
	if err := f.WriteText(text); err != nil {
		return nil, err
	}
	actions = append(actions, artifact.TextFile)

	if err := r.narrate(ctx, f); err != nil {
		return actions, err
	}
	return append(actions, artifact.AudioFile), nil
}

func (r *Repairer) regenerateFolder(ctx context.Context, f artifact.Folder, doc story.Document) ([]string, error) {
	title := displayTitle(f, doc)
	log.Printf("Story title: %q", title)

	text, err := r.composer.Write(ctx, title)
	if err != nil {
		return nil, err
	}
	if err := f.WriteText(text); err != nil {
		return nil, err
	}
	actions := []string{artifact.TextFile}

	if err := r.narrate(ctx, f); err != nil {
		return actions, err
	}
	actions = append(actions, artifact.AudioFile)

	if doc.Title != title {
		doc.Title = title
		if err := f.WriteDocument(doc); err != nil {
			log.Printf("Note: could not update title in %s: %v", artifact.SegmentsFile, err)
			return actions, nil
		}
		actions = append(actions, "title")
	}
	return actions, nil
}

func (r *Repairer) recordAction(runID, slug, action string) {
	if r.db == nil || runID == "" {
		return
	}
	if err := r.db.InsertRepair(runID, slug, action); err != nil {
		log.Printf("Warning: failed to record repair: %v", err)
	}
}

// recordStory re-reads the folder so the catalog reflects what is on disk.
func (r *Repairer) recordStory(f artifact.Folder) {
	if r.db == nil {
		return
	}
	doc, err := f.ReadDocument()
	if err != nil {
		return
	}
	s := database.Story{
		Slug:         f.Slug(),
		Title:        displayTitle(f, doc),
		Folder:       f.Dir,
		SegmentCount: len(doc.Segments),
	}
	if doc.Premise != "" {
		s.Premise = &doc.Premise
	}
	if n := len(doc.Segments); n > 0 {
		s.DurationSeconds = doc.Segments[n-1].End
	}
	if err := r.db.UpsertStory(s); err != nil {
		log.Printf("Warning: failed to record story %s: %v", f.Slug(), err)
	}
}

func (r *Repairer) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

// displayTitle prefers the stored title and reverses the slug otherwise.
func displayTitle(f artifact.Folder, doc story.Document) string {
	if t := strings.TrimSpace(doc.Title); t != "" {
		return t
	}
	return story.TitleFromSlug(f.Slug())
}
