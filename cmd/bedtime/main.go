package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bedtimestories/bedtime/internal/config"
	"github.com/bedtimestories/bedtime/internal/database"
	"github.com/bedtimestories/bedtime/internal/library"
	"github.com/bedtimestories/bedtime/internal/llm"
	"github.com/bedtimestories/bedtime/internal/pipeline"
	"github.com/bedtimestories/bedtime/internal/repair"
	"github.com/bedtimestories/bedtime/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bedtime",
	Short:   "Illustrated, narrated bedtime stories",
	Long:    "bedtime writes children's bedtime stories with a generative-AI API, illustrates and narrates them, and keeps the story folders in repair.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("bedtime", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/bedtime/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Set OPENAI_API_KEY in your environment or a .env file before generating stories.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		version, err := db.SchemaVersion()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}

		fmt.Printf("Output: %s\n", cfg.Output.Root)
		fmt.Printf("Catalog: %s (schema v%d)\n\n", db.Path(), version)
		fmt.Println("Stories:")
		fmt.Printf("  Recorded: %d\n", stats.Stories)
		fmt.Printf("  With placeholders: %d\n", stats.StoriesWithFallbacks)
		fmt.Println("\nMaintenance:")
		fmt.Printf("  Runs: %d\n", stats.Runs)
		fmt.Printf("  Repairs: %d\n", stats.Repairs)

		runs, err := db.GetRecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				started := ""
				if r.StartedAt != nil {
					started = *r.StartedAt
				}
				fmt.Printf("  %s  %-10s %d ok, %d failed\n", started, r.Kind, r.Succeeded, r.Failed)
			}
		}

		if _, err := cfg.APIKey(); err != nil {
			fmt.Printf("\nWarning: %v\n", err)
		}
		return nil
	},
}

// --- generate command ---

var (
	storyCount   int
	segmentCount int
	dryRun       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new stories: ideas -> text -> images -> narration",
	RunE: func(cmd *cobra.Command, args []string) error {
		count := cfg.Generation.Stories
		if cmd.Flags().Changed("stories") {
			count = storyCount
		}
		segments := cfg.Generation.Segments
		if cmd.Flags().Changed("segments") {
			segments = segmentCount
		}
		if count < 1 || segments < 1 {
			return fmt.Errorf("--stories and --segments must be at least 1")
		}

		clients, err := llm.New(cfg)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe := pipeline.New(cfg, db, clients)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(count, segments)
		} else {
			ctx, stop := signalContext()
			defer stop()
			fmt.Printf("Generating %d stories with %d segments each...\n", count, segments)
			result = pipe.Run(ctx, count, segments)
		}

		for _, step := range result.Steps {
			fmt.Printf("\n%s\n", step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			fmt.Printf("\nGenerated %d stories (%d failed) in %s\n", result.Succeeded, result.Failed, cfg.Output.Root)
			fmt.Println("Run 'bedtime serve' to view them.")
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().IntVar(&storyCount, "stories", 10, "Number of stories to generate")
	generateCmd.Flags().IntVar(&segmentCount, "segments", 10, "Number of segments per story")
	generateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
}

// --- maintenance commands ---

var realImages bool

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Fix timings and fill in missing images, text and narration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(repair.Options{RealImages: realImages}, func(ctx context.Context, r *repair.Repairer) (*repair.Result, error) {
			return r.Scan(ctx)
		})
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Rewrite story.txt from the segments and re-narrate every story",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(repair.Options{}, func(ctx context.Context, r *repair.Repairer) (*repair.Result, error) {
			return r.Rebuild(ctx)
		})
	},
}

var assumeYes bool

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Write new stories for every existing title (overwrites story.txt and narration)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMaintenance(repair.Options{}, func(ctx context.Context, r *repair.Repairer) (*repair.Result, error) {
			folders, err := r.Folders()
			if err != nil {
				return nil, err
			}
			if len(folders) == 0 {
				fmt.Printf("No story folders found in %s\n", cfg.Output.Root)
				return &repair.Result{}, nil
			}

			fmt.Printf("Found %d story folders to process.\n", len(folders))
			fmt.Println("IMPORTANT: Existing story files will be overwritten!")
			if !assumeYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Regenerate stories for %d folders?", len(folders))) {
				fmt.Println("Operation cancelled.")
				return &repair.Result{}, nil
			}
			return r.Regenerate(ctx, folders)
		})
	},
}

func init() {
	repairCmd.Flags().BoolVar(&realImages, "real-images", false, "Generate missing images with the image model instead of placeholders")
	regenerateCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask for confirmation")
}

func runMaintenance(opts repair.Options, run func(ctx context.Context, r *repair.Repairer) (*repair.Result, error)) error {
	clients, err := llm.New(cfg)
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfg.Output.Root); err != nil {
		return fmt.Errorf("output directory %s: %w", cfg.Output.Root, err)
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	opts.FolderDelay = cfg.Pacing.FolderDelay
	opts.RegenerateDelay = cfg.Pacing.RegenerateDelay
	r := repair.New(cfg, db, clients, opts)

	ctx, stop := signalContext()
	defer stop()

	result, err := run(ctx, r)
	if result != nil {
		printMaintenance(result)
	}
	return err
}

func printMaintenance(r *repair.Result) {
	if r.Processed == 0 {
		return
	}
	fmt.Println("\nSummary:")
	fmt.Printf("  Processed: %d\n", r.Processed)
	fmt.Printf("  Succeeded: %d\n", r.Succeeded)
	fmt.Printf("  Skipped: %d\n", r.Skipped)
	fmt.Printf("  Failed: %d\n", r.Failed)

	if len(r.Actions) == 0 {
		fmt.Println("\nNo changes made.")
		return
	}
	fmt.Println("\nChanges:")
	for _, a := range r.Actions {
		fmt.Printf("  %s: %s\n", a.Slug, a.What)
	}
}

// confirm asks a y/N question and reports whether the answer was yes.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/N): ", question)
	reader := bufio.NewReader(in)
	answer, _ := reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

// --- verify command ---

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the API key can reach the text, image and speech models",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := cfg.APIKey()
		if err != nil {
			return err
		}
		fmt.Printf("API key: %s...\n", mask(key))

		clients, err := llm.New(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		failed := 0
		for _, c := range llm.Verify(ctx, clients) {
			state := "SUCCESS"
			if !c.OK {
				state = "FAILED"
				failed++
			}
			fmt.Printf("  %s access: %s\n", c.Name, state)
		}

		if failed > 0 {
			return fmt.Errorf("%d of 3 checks failed; check your API key and model access", failed)
		}
		fmt.Println("\nAll checks passed. Your API key has access to all required models.")
		return nil
	},
}

func mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8]
}

// --- list command ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List story folders and what they are missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.Output.Root); err != nil {
			fmt.Printf("No stories yet (%s does not exist).\n", cfg.Output.Root)
			return nil
		}

		entries, err := library.Scan(cfg.Output.Root, log.New(io.Discard, "", 0))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No stories found. Generate some with: bedtime generate")
			return nil
		}

		placeholders := catalogPlaceholders()

		incomplete := 0
		for _, e := range entries {
			if !e.Complete {
				incomplete++
			}
			fmt.Printf("  %-40s %2d parts  %s\n", e.RelativePath, e.SegmentCount, describeEntry(e, placeholders[e.Slug]))
		}
		fmt.Printf("\n%d stories, %d incomplete\n", len(entries), incomplete)
		if incomplete > 0 {
			fmt.Println("Run 'bedtime repair' to fix them.")
		}
		return nil
	},
}

// catalogPlaceholders maps slugs to the placeholder count recorded at
// generation. A missing catalog just means no annotations.
func catalogPlaceholders() map[string]int {
	out := map[string]int{}
	db, err := openDB()
	if err != nil {
		return out
	}
	defer db.Close()

	stories, err := db.ListStories()
	if err != nil {
		log.Printf("Warning: reading catalog: %v", err)
		return out
	}
	for _, s := range stories {
		out[s.Slug] = s.Fallbacks
	}
	return out
}

func describeEntry(e library.Entry, placeholders int) string {
	state := "ok"
	if !e.Complete {
		var missing []string
		if !e.HasText {
			missing = append(missing, "text")
		}
		if !e.HasAudio {
			missing = append(missing, "audio")
		}
		if n := e.SegmentCount - len(e.Images); n > 0 {
			missing = append(missing, fmt.Sprintf("%d images", n))
		}
		state = "missing " + strings.Join(missing, ", ")
	}
	if !e.ValidTimings {
		state += " (bad timings)"
	}
	if placeholders > 0 {
		state += fmt.Sprintf(" [%d placeholders]", placeholders)
	}
	return state
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local story viewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		if err := os.MkdirAll(cfg.Output.Root, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		lib, err := library.New(cfg.Output.Root, 500*time.Millisecond, log.Default())
		if err != nil {
			return fmt.Errorf("watching %s: %w", cfg.Output.Root, err)
		}
		defer lib.Close()

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, lib, db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "bedtime.db")
	return database.Open(dbPath)
}
