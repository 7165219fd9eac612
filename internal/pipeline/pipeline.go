package pipeline

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/bedtimestories/bedtime/internal/artifact"
	"github.com/bedtimestories/bedtime/internal/config"
	"github.com/bedtimestories/bedtime/internal/database"
	"github.com/bedtimestories/bedtime/internal/ideas"
	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/media"
	"github.com/bedtimestories/bedtime/internal/retry"
	"github.com/bedtimestories/bedtime/internal/story"
	"github.com/bedtimestories/bedtime/internal/timing"
)

const imagePrompt = "Create a colorful, child-friendly illustration for a bedtime story titled '%s'. Scene: %s"

// Size of the solid placeholder written when an illustration cannot be generated.
const placeholderSize = 1024

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID     string
	Steps     []StepResult
	Succeeded int
	Failed    int
}

// Pipeline generates complete story folders: ideas, segmented text,
// one illustration per segment and one narration per story.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	text     llm.Provider
	ideas    *ideas.Source
	composer *story.Composer
	images   llm.Imager
	speech   llm.Speaker
	policy   retry.Policy
	strategy timing.Strategy

	// Sleep is used for the pause between stories. Nil means retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates a new pipeline. db may be nil, in which case nothing is
// recorded in the catalog.
func New(cfg *config.Config, db *database.DB, clients *llm.Clients) *Pipeline {
	policy := Policy(cfg)
	return &Pipeline{
		cfg:      cfg,
		db:       db,
		text:     clients.Text,
		ideas:    ideas.NewSource(clients.Text, policy),
		composer: story.NewComposer(clients.Text, policy),
		images:   clients.Images,
		speech:   clients.Speech,
		policy:   policy,
		strategy: timing.ForName(cfg.Timing.Strategy, cfg.Timing.WordsPerMinute, cfg.Timing.MinSeconds, cfg.Timing.SegmentSeconds),
	}
}

// Policy returns the retry policy shared by every remote call.
func Policy(cfg *config.Config) retry.Policy {
	return retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Delay: cfg.Retry.Delay}
}

// WithRetrySleep replaces the sleep used between retry attempts.
func (p *Pipeline) WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) *Pipeline {
	p.policy.Sleep = sleep
	p.ideas = ideas.NewSource(p.text, p.policy)
	p.composer = story.NewComposer(p.text, p.policy)
	return p
}

// Run generates count stories of segments segments each.
func (p *Pipeline) Run(ctx context.Context, count, segments int) *Result {
	r := &Result{}
	if p.db != nil {
		id, err := p.db.StartRun("generate")
		if err != nil {
			log.Printf("Warning: failed to record run: %v", err)
		}
		r.RunID = id
	}

	log.Printf("Step 1/2: Generating %d story ideas...", count)
	list, ok := p.ideas.Generate(ctx, count)
	summary := fmt.Sprintf("%d ideas", len(list))
	if !ok {
		summary += " (placeholder list)"
	}
	r.Steps = append(r.Steps, StepResult{Name: "Ideas", Summary: summary})

	log.Println("Step 2/2: Generating stories...")
	for i, idea := range list {
		if err := ctx.Err(); err != nil {
			r.Steps = append(r.Steps, StepResult{Name: "Stories", Err: err})
			break
		}

		log.Printf("[%d/%d] %s", i+1, len(list), idea.Title)
		step := p.generateStory(ctx, idea, segments)
		r.Steps = append(r.Steps, step)
		if step.Err != nil {
			r.Failed++
		} else {
			r.Succeeded++
		}
		if ctx.Err() != nil {
			break
		}

		if i < len(list)-1 {
			d := p.pause()
			log.Printf("Waiting %s before next story...", d.Round(time.Millisecond))
			if err := p.sleep(ctx, d); err != nil {
				r.Steps = append(r.Steps, StepResult{Name: "Stories", Err: err})
				break
			}
		}
	}

	if p.db != nil && r.RunID != "" {
		if err := p.db.FinishRun(r.RunID, r.Succeeded+r.Failed, r.Succeeded, r.Failed); err != nil {
			log.Printf("Warning: failed to finish run: %v", err)
		}
	}
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(count, segments int) *Result {
	r := &Result{}
	root := p.cfg.Output.Root

	existing, _ := artifact.Discover(root)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Ideas",
		Summary: fmt.Sprintf("[dry-run] Would request %d story ideas", count),
	})
	r.Steps = append(r.Steps, StepResult{
		Name: "Stories",
		Summary: fmt.Sprintf("[dry-run] Would write %d stories of %d segments into %s (%d stories already there)",
			count, segments, root, len(existing)),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Assets",
		Summary: fmt.Sprintf("[dry-run] Would request %d images and %d narrations", count*segments, count),
	})
	return r
}

// generateStory produces one story folder. Remote failures degrade to
// placeholders; only filesystem errors fail the step. Cancellation stops
// before the next remote call and leaves whatever is missing for repair.
func (p *Pipeline) generateStory(ctx context.Context, idea story.Idea, segments int) StepResult {
	fallbacks := 0

	doc, ok := p.composer.Compose(ctx, idea, segments)
	if err := ctx.Err(); err != nil {
		return StepResult{Name: idea.Title, Err: err}
	}
	if !ok {
		fallbacks++
	}
	doc.AssignImages()
	total := timing.Retime(doc.Segments, p.strategy)

	folder, err := artifact.Create(p.cfg.Output.Root, doc.Title)
	if err != nil {
		return StepResult{Name: doc.Title, Err: err}
	}
	text := doc.FullText()
	if err := folder.WriteText(text); err != nil {
		return StepResult{Name: doc.Title, Err: err}
	}
	if err := folder.WriteDocument(doc); err != nil {
		return StepResult{Name: doc.Title, Err: err}
	}

	for i, seg := range doc.Segments {
		if err := ctx.Err(); err != nil {
			return p.interrupted(folder, doc, err)
		}
		n := i + 1
		label := fmt.Sprintf("Image %d/%d for '%s'", n, len(doc.Segments), doc.Title)
		data, ok := retry.Attempt(ctx, p.policy, label, func(ctx context.Context) ([]byte, error) {
			return p.images.Image(ctx, fmt.Sprintf(imagePrompt, doc.Title, seg.Text))
		}, nil)
		if !ok && ctx.Err() != nil {
			return p.interrupted(folder, doc, ctx.Err())
		}
		if !ok {
			fallbacks++
			data, err = media.PlaceholderPNG(placeholderSize, placeholderSize, media.LightGray)
			if err != nil {
				return StepResult{Name: doc.Title, Err: err}
			}
		}
		if err := folder.WriteImage(n, data); err != nil {
			return StepResult{Name: doc.Title, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return p.interrupted(folder, doc, err)
	}
	audio, ok := retry.Attempt(ctx, p.policy, fmt.Sprintf("Narration for '%s'", doc.Title),
		func(ctx context.Context) ([]byte, error) {
			return p.speech.Speech(ctx, text)
		}, []byte{})
	if !ok && ctx.Err() != nil {
		return p.interrupted(folder, doc, ctx.Err())
	}
	if !ok {
		fallbacks++
		log.Printf("Writing empty narration for '%s'; run repair later", doc.Title)
	}
	if err := folder.WriteAudio(audio); err != nil {
		return StepResult{Name: doc.Title, Err: err}
	}

	if ok && p.cfg.Timing.UseAudioDuration {
		if secs, err := media.MP3Duration(audio); err != nil {
			log.Printf("Could not measure narration for '%s': %v", doc.Title, err)
		} else {
			total = timing.Retime(doc.Segments, timing.Measured{Seconds: secs, Fallback: p.strategy})
			if err := folder.WriteDocument(doc); err != nil {
				return StepResult{Name: doc.Title, Err: err}
			}
		}
	}

	p.record(folder, doc, total, fallbacks)

	summary := fmt.Sprintf("%d segments, %.1fs narration", len(doc.Segments), total)
	if fallbacks > 0 {
		summary += fmt.Sprintf(", %d placeholders", fallbacks)
	}
	log.Printf("Saved story to %s", folder.Dir)
	return StepResult{Name: doc.Title, Summary: summary}
}

func (p *Pipeline) interrupted(folder artifact.Folder, doc story.Document, err error) StepResult {
	log.Printf("Stopped '%s' partway; repair can finish %s", doc.Title, folder.Dir)
	return StepResult{Name: doc.Title, Err: err}
}

func (p *Pipeline) record(folder artifact.Folder, doc story.Document, total float64, fallbacks int) {
	if p.db == nil {
		return
	}
	var premise *string
	if doc.Premise != "" {
		premise = &doc.Premise
	}
	err := p.db.UpsertStory(database.Story{
		Slug:            folder.Slug(),
		Title:           doc.Title,
		Premise:         premise,
		Folder:          folder.Dir,
		SegmentCount:    len(doc.Segments),
		DurationSeconds: total,
		Fallbacks:       fallbacks,
	})
	if err != nil {
		log.Printf("Warning: failed to record story %s: %v", folder.Slug(), err)
	}
}

// pause picks the delay between stories, uniformly in [min, max].
func (p *Pipeline) pause() time.Duration {
	lo, hi := p.cfg.Pacing.StoryDelayMin, p.cfg.Pacing.StoryDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)+1))
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}
