package llm

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bedtimestories/bedtime/internal/config"
)

// Clients bundles the three kinds of generation calls the pipeline makes.
type Clients struct {
	Text   Provider
	Images Imager
	Speech Speaker
}

// New builds generation clients from configuration. It fails before any
// network call when the API credential is missing.
func New(cfg *config.Config) (*Clients, error) {
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}

	openai := NewOpenAIClient(cfg.OpenAI.BaseURL, key)
	openai.ChatModel = cfg.Text.Model
	openai.ImageModel = cfg.Image.Model
	openai.ImageSize = cfg.Image.Size
	openai.ImageQuality = cfg.Image.Quality
	openai.SpeechModel = cfg.Speech.Model
	openai.Voice = cfg.Speech.Voice

	var ollama *OllamaProvider
	if strings.EqualFold(cfg.Text.Provider, "ollama") {
		ollama = NewOllamaProvider(cfg.Text.OllamaModel, cfg.Text.OllamaURL)
	}

	text := CreateProvider(cfg.Text.Provider, ollama, openai)
	if text == nil {
		return nil, fmt.Errorf("no text provider available")
	}

	return &Clients{Text: text, Images: openai, Speech: openai}, nil
}

// Check is the outcome of probing one kind of model access.
type Check struct {
	Name string
	OK   bool
	Err  error
}

// Verify makes one minimal request of each kind and reports which succeeded.
func Verify(ctx context.Context, c *Clients) []Check {
	var checks []Check

	reply, err := c.Text.Chat(ctx, ChatRequest{
		Prompt:    "Hello, please respond with the word 'success' only.",
		MaxTokens: 10,
	})
	if err == nil && !strings.Contains(strings.ToLower(reply), "success") {
		err = fmt.Errorf("unexpected reply %q", reply)
	}
	checks = append(checks, Check{Name: "Text model", OK: err == nil, Err: err})

	img, err := c.Images.Image(ctx, "A simple blue dot on a white background, minimalist")
	if err == nil && len(img) == 0 {
		err = ErrEmptyResponse
	}
	checks = append(checks, Check{Name: "Image model", OK: err == nil, Err: err})

	audio, err := c.Speech.Speech(ctx, "This is a test of the text to speech API.")
	if err == nil && len(audio) == 0 {
		err = ErrEmptyResponse
	}
	checks = append(checks, Check{Name: "Speech model", OK: err == nil, Err: err})

	for _, ch := range checks {
		if ch.Err != nil {
			log.Printf("%s check failed: %v", ch.Name, ch.Err)
		}
	}
	return checks
}
