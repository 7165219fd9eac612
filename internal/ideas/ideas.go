package ideas

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/retry"
	"github.com/bedtimestories/bedtime/internal/story"
)

const authorSystem = "You are a creative children's book author."

const ideasPrompt = `Generate %d unique, creative, and wholesome bedtime story ideas for children ages 4-8. Each idea should be exactly 1 sentence with a title in quotes followed by a brief premise. Make them varied in themes (adventure, friendship, animals, fantasy, etc.) and suitable for bedtime reading. Format as a numbered list.`

var (
	strictIdea   = regexp.MustCompile(`\d+\.\s+"([^"]+)":\s*([^\n]+)`)
	numberedLine = regexp.MustCompile(`^\s*\d+[.)]`)
	quoted       = regexp.MustCompile(`"([^"]+)"`)
	curlyQuotes  = strings.NewReplacer("“", `"`, "”", `"`)
)

// Parse extracts up to n ideas from a numbered list of `"Title": premise`
// lines. It always returns exactly n ideas: missing ones are filled with
// sequentially numbered placeholders.
func Parse(text string, n int) []story.Idea {
	if n <= 0 {
		return nil
	}
	text = curlyQuotes.Replace(strings.ReplaceAll(text, "\r\n", "\n"))

	found := parseStrict(text)
	if len(found) < n {
		if loose := parseLoose(text); len(loose) > len(found) {
			found = loose
		}
	}

	if len(found) > n {
		found = found[:n]
	}
	for i := len(found); i < n; i++ {
		found = append(found, placeholder(i+1))
	}
	return found
}

func parseStrict(text string) []story.Idea {
	var out []story.Idea
	for _, m := range strictIdea.FindAllStringSubmatch(text, -1) {
		title := strings.TrimSpace(m[1])
		if title == "" {
			continue
		}
		out = append(out, story.Idea{Title: title, Premise: strings.TrimSpace(m[2])})
	}
	return out
}

func parseLoose(text string) []story.Idea {
	var out []story.Idea
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" || !numberedLine.MatchString(line) {
			continue
		}
		loc := quoted.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		title := strings.TrimSpace(line[loc[2]:loc[3]])
		if title == "" {
			continue
		}
		premise := line[loc[1]:]
		if i := strings.Index(premise, `"`); i >= 0 {
			premise = premise[:i]
		}
		premise = strings.TrimSpace(premise)
		premise = strings.TrimSpace(strings.TrimLeft(premise, ":-–—"))
		out = append(out, story.Idea{Title: title, Premise: premise})
	}
	return out
}

func placeholder(i int) story.Idea {
	return story.Idea{
		Title:   fmt.Sprintf("The Adventure of Sammy %d", i),
		Premise: fmt.Sprintf("A simple story about adventure %d", i),
	}
}

// Fallback returns n placeholder ideas.
func Fallback(n int) []story.Idea {
	return Parse("", n)
}

// Source asks a text provider for story ideas.
type Source struct {
	provider llm.Provider
	policy   retry.Policy
}

// NewSource creates a new idea source.
func NewSource(provider llm.Provider, policy retry.Policy) *Source {
	return &Source{provider: provider, policy: policy}
}

// Generate returns exactly n ideas. When every attempt fails the placeholder
// list is returned and the second result is false.
func (s *Source) Generate(ctx context.Context, n int) ([]story.Idea, bool) {
	log.Println("Generating story ideas...")
	if s.provider == nil {
		log.Println("No text provider available, using placeholder ideas")
		return Fallback(n), false
	}

	return retry.Attempt(ctx, s.policy, "Story idea generation", func(ctx context.Context) ([]story.Idea, error) {
		text, err := s.provider.Chat(ctx, llm.ChatRequest{
			System:      authorSystem,
			Prompt:      fmt.Sprintf(ideasPrompt, n),
			Temperature: 0.9,
			MaxTokens:   500,
		})
		if err != nil {
			return nil, err
		}
		return Parse(text, n), nil
	}, Fallback(n))
}
