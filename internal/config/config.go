package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrMissingAPIKey is returned when the generation API credential is not set.
var ErrMissingAPIKey = errors.New("API key not set")

type Config struct {
	OpenAI     OpenAI     `yaml:"openai"`
	Text       Text       `yaml:"text"`
	Image      Image      `yaml:"image"`
	Speech     Speech     `yaml:"speech"`
	Generation Generation `yaml:"generation"`
	Retry      Retry      `yaml:"retry"`
	Pacing     Pacing     `yaml:"pacing"`
	Timing     Timing     `yaml:"timing"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
}

type OpenAI struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
}

type Text struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

type Image struct {
	Model   string `yaml:"model"`
	Size    string `yaml:"size"`
	Quality string `yaml:"quality"`
}

type Speech struct {
	Model string `yaml:"model"`
	Voice string `yaml:"voice"`
}

type Generation struct {
	Stories  int `yaml:"stories"`
	Segments int `yaml:"segments"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type Pacing struct {
	StoryDelayMin   time.Duration `yaml:"story_delay_min"`
	StoryDelayMax   time.Duration `yaml:"story_delay_max"`
	FolderDelay     time.Duration `yaml:"folder_delay"`
	RegenerateDelay time.Duration `yaml:"regenerate_delay"`
}

type Timing struct {
	Strategy         string  `yaml:"strategy"`
	WordsPerMinute   float64 `yaml:"words_per_minute"`
	MinSeconds       float64 `yaml:"min_seconds"`
	SegmentSeconds   float64 `yaml:"segment_seconds"`
	UseAudioDuration bool    `yaml:"use_audio_duration"`
}

type Output struct {
	Root    string `yaml:"root"`
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

// ConfigDir returns the XDG config directory for bedtime.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "bedtime")
}

// DataDir returns the XDG data directory for bedtime.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "bedtime")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/bedtime/config.yaml > ./config.yaml.
// An empty path with a nil error means the embedded defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads .env, then parses the config YAML at path (or the embedded
// defaults when path is empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data := DefaultConfigYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		data = b
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		OpenAI: OpenAI{
			APIKeyEnv: "OPENAI_API_KEY",
			BaseURL:   "https://api.openai.com/v1",
		},
		Text: Text{
			Provider:    "openai",
			Model:       "gpt-4",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "qwen2.5:7b",
		},
		Image:      Image{Model: "dall-e-3", Size: "1024x1024", Quality: "standard"},
		Speech:     Speech{Model: "tts-1", Voice: "nova"},
		Generation: Generation{Stories: 10, Segments: 10},
		Retry:      Retry{MaxAttempts: 3, Delay: 2 * time.Second},
		Pacing: Pacing{
			StoryDelayMin:   5 * time.Second,
			StoryDelayMax:   15 * time.Second,
			FolderDelay:     2 * time.Second,
			RegenerateDelay: 5 * time.Second,
		},
		Timing: Timing{
			Strategy:       "words",
			WordsPerMinute: 150,
			MinSeconds:     30,
			SegmentSeconds: 5,
		},
		Output: Output{Root: filepath.Join("public", "output")},
		Server: Server{Port: 8000},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Pacing.StoryDelayMax < cfg.Pacing.StoryDelayMin {
		cfg.Pacing.StoryDelayMax = cfg.Pacing.StoryDelayMin
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TTS_VOICE"); v != "" {
		c.Speech.Voice = v
	}
	if v := os.Getenv("TTS_MODEL"); v != "" {
		c.Speech.Model = v
	}
	if v := os.Getenv("BEDTIME_OUTPUT_DIR"); v != "" {
		c.Output.Root = v
	}
}

// APIKey returns the generation API credential from the environment.
func (c *Config) APIKey() (string, error) {
	name := c.OpenAI.APIKeyEnv
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	key := os.Getenv(name)
	if key == "" {
		return "", fmt.Errorf("%w: set %s in the environment or a .env file", ErrMissingAPIKey, name)
	}
	return key, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
