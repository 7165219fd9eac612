package story

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/retry"
)

const writerSystem = "You are a talented children's story writer."

const segmentedPrompt = `Write a bedtime story titled "%s" based on this premise: %s

The story should be 300-400 words total, divided into exactly %d segments of roughly equal length.

Format your response as a JSON object with the following structure:
{
  "title": "The story title",
  "segments": [
    { "text": "First segment text..." },
    { "text": "Second segment text..." }
  ]
}

Make sure each segment logically flows into the next and together they form a complete, engaging bedtime story with a beginning, middle, and end.
The story should be child-friendly, warm, and end on a positive, peaceful note suitable for bedtime.
Each segment should be 30-40 words.`

const freeformPrompt = `Write a short bedtime story for children titled "%s".

Requirements:
- Around 300 words in length
- Appropriate for children aged 4-8
- Warm, gentle tone suitable for bedtime
- Include a beginning, middle, and end
- End with a positive, peaceful resolution
- Use simple language but vivid descriptions
- Incorporate gentle life lessons or positive values

Format the story in clear paragraphs with the title at the top.`

var errNoSegments = errors.New("response contained no segments")

// Composer turns ideas into story text using a text provider.
type Composer struct {
	provider llm.Provider
	policy   retry.Policy
}

// NewComposer creates a new story composer.
func NewComposer(provider llm.Provider, policy retry.Policy) *Composer {
	return &Composer{provider: provider, policy: policy}
}

// Compose asks for a story split into n segments. It never fails: after the
// retry policy is exhausted it returns placeholder segments and false.
func (c *Composer) Compose(ctx context.Context, idea Idea, n int) (Document, bool) {
	log.Printf("Generating story: '%s'...", idea.Title)

	fallback := Document{
		Title:    idea.Title,
		Premise:  idea.Premise,
		Segments: PlaceholderSegments(idea.Title, n),
	}
	if c.provider == nil {
		log.Println("No text provider available, using placeholder story")
		return fallback, false
	}

	doc, ok := retry.Attempt(ctx, c.policy, fmt.Sprintf("Story generation for '%s'", idea.Title),
		func(ctx context.Context) (Document, error) {
			return c.requestSegments(ctx, idea, n)
		}, fallback)
	return doc, ok
}

func (c *Composer) requestSegments(ctx context.Context, idea Idea, n int) (Document, error) {
	text, err := c.provider.Chat(ctx, llm.ChatRequest{
		System:      writerSystem,
		Prompt:      fmt.Sprintf(segmentedPrompt, idea.Title, idea.Premise, n),
		Temperature: 0.7,
		MaxTokens:   1200,
		JSON:        true,
	})
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := llm.ParseJSONInto(text, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing story JSON: %w", err)
	}

	segments := doc.Segments[:0]
	for _, s := range doc.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			segments = append(segments, Segment{Text: t})
		}
	}
	if len(segments) == 0 {
		return Document{}, errNoSegments
	}
	if len(segments) != n {
		log.Printf("Asked for %d segments, got %d", n, len(segments))
	}

	doc.Segments = segments
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.Title == "" {
		doc.Title = idea.Title
	}
	doc.Premise = idea.Premise
	return doc, nil
}

// Write asks for a free-form story for title. Unlike Compose there is no
// placeholder: an empty result with an error means every attempt failed.
func (c *Composer) Write(ctx context.Context, title string) (string, error) {
	if c.provider == nil {
		return "", fmt.Errorf("no text provider available")
	}

	text, ok := retry.Attempt(ctx, c.policy, fmt.Sprintf("Story writing for '%s'", title),
		func(ctx context.Context) (string, error) {
			out, err := c.provider.Chat(ctx, llm.ChatRequest{
				System:      writerSystem,
				Prompt:      fmt.Sprintf(freeformPrompt, title),
				Temperature: 0.7,
				MaxTokens:   800,
			})
			if err != nil {
				return "", err
			}
			out = strings.TrimSpace(out)
			if out == "" {
				return "", llm.ErrEmptyResponse
			}
			return out, nil
		}, "")
	if !ok {
		return "", fmt.Errorf("story for %q could not be generated", title)
	}
	log.Printf("Generated story (%d words)", len(strings.Fields(text)))
	return text, nil
}
