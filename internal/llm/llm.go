package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ChatRequest is a single system + user completion request.
type ChatRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider to constrain output to a JSON object.
	JSON bool
}

// Provider is the interface for text-completion providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	IsConfigured() bool
}

// Imager synthesises an illustration and returns the encoded image bytes.
type Imager interface {
	Image(ctx context.Context, prompt string) ([]byte, error)
}

// Speaker synthesises narration and returns the encoded audio bytes.
type Speaker interface {
	Speech(ctx context.Context, text string) ([]byte, error)
}

func messages(req ChatRequest) []map[string]string {
	var msgs []map[string]string
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	return append(msgs, map[string]string{"role": "user", "content": req.Prompt})
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Chat sends a request to Ollama and returns the response.
func (o *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": messages(req),
		"stream":   false,
		"options": map[string]any{
			"num_predict": req.MaxTokens,
			"temperature": req.Temperature,
		},
	}
	if req.JSON {
		body["format"] = "json"
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", "", body, &result); err != nil {
		return "", fmt.Errorf("ollama API error: %w", err)
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return result.Message.Content, nil
}

// OpenAIClient talks to an OpenAI-compatible API for chat, image and speech.
type OpenAIClient struct {
	BaseURL string
	APIKey  string

	ChatModel    string
	ImageModel   string
	ImageSize    string
	ImageQuality string
	SpeechModel  string
	Voice        string

	client *http.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		ChatModel:    "gpt-4",
		ImageModel:   "dall-e-3",
		ImageSize:    "1024x1024",
		ImageQuality: "standard",
		SpeechModel:  "tts-1",
		Voice:        "nova",
		client:       &http.Client{Timeout: 180 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (o *OpenAIClient) IsConfigured() bool {
	return o.APIKey != ""
}

// Chat sends a chat completion request and returns the first choice.
func (o *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":       o.ChatModel,
		"messages":    messages(req),
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/chat/completions", o.APIKey, body, &result); err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	if strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return result.Choices[0].Message.Content, nil
}

// Image requests one illustration and returns its bytes, downloading the
// hosted URL when the API does not inline the payload.
func (o *OpenAIClient) Image(ctx context.Context, prompt string) ([]byte, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":   o.ImageModel,
		"prompt":  prompt,
		"size":    o.ImageSize,
		"quality": o.ImageQuality,
		"n":       1,
	}

	var result struct {
		Data []struct {
			URL     string `json:"url"`
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/images/generations", o.APIKey, body, &result); err != nil {
		return nil, fmt.Errorf("OpenAI image error: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no images in OpenAI response")
	}

	item := result.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decoding image payload: %w", err)
		}
		return data, nil
	}
	if item.URL == "" {
		return nil, fmt.Errorf("image response has neither url nor b64_json")
	}
	return o.download(ctx, item.URL)
}

// Speech synthesises narration for text and returns the audio stream bytes.
func (o *OpenAIClient) Speech(ctx context.Context, text string) ([]byte, error) {
	if o.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text to narrate")
	}

	data, err := json.Marshal(map[string]any{
		"model": o.SpeechModel,
		"voice": o.Voice,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/audio/speech", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAI speech error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI speech returned %d: %s", resp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyResponse
	}
	return audio, nil
}

func (o *OpenAIClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CreateProvider creates the text provider based on configuration. Ollama
// is preferred when requested and reachable; OpenAI is the fallback.
func CreateProvider(provider string, ollama *OllamaProvider, openai *OpenAIClient) Provider {
	if strings.ToLower(provider) == "ollama" && ollama != nil {
		if ollama.IsConfigured() {
			log.Printf("Using Ollama with model: %s", ollama.Model)
			return ollama
		}
		log.Println("Ollama not available, trying OpenAI fallback...")
	}

	if openai != nil && openai.IsConfigured() {
		log.Printf("Using OpenAI with model: %s", openai.ChatModel)
		return openai
	}

	log.Println("No LLM provider available. Check Ollama is running or set OPENAI_API_KEY.")
	return nil
}
