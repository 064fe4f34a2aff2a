package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/config"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "toolscout",
	Short:   "Track AI tools mentioned on YouTube and Telegram",
	Long:    "toolscout ingests YouTube videos and Telegram posts, extracts the tools they mention with an LLM and keeps retrying analyses that failed.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init, version and help
		switch cmd.Name() {
		case "init", "version", "help":
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
		logger, err = newLogger()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(repairsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(mcpCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("toolscout", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/toolscout/",
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
		fmt.Println("Edit it to choose the LLM provider and the API key environment variables.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Storage: %s\n\n", cfg.Storage.Driver)
		fmt.Println("Sources:")
		fmt.Printf("  Total: %d\n", stats.Sources)
		fmt.Printf("  Healthy: %d\n", stats.Healthy)
		fmt.Printf("  Needing repair: %d\n", stats.NeedsRepair)
		fmt.Printf("  Fallback analyses: %d\n", stats.Fallback)
		fmt.Println("\nChannels:")
		fmt.Printf("  Tracked: %d\n", stats.Channels)
		return nil
	},
}

// --- add command ---

var addType string

var addCmd = &cobra.Command{
	Use:   "add <url>",
	Short: "Ingest a video, post or channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline.ProcessSourceURL(ctx, args[0], addType)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVarP(&addType, "type", "t", "", "Source kind for ambiguous input (youtube, telegram)")
}

func printResult(res *pipeline.Result) {
	fmt.Printf("%s (%s)\n", res.Message, res.Type)
	for _, ir := range res.Results {
		line := fmt.Sprintf("  %-12s %s", ir.Status, ir.ID)
		if ir.Title != "" {
			line += "  " + ir.Title
		}
		fmt.Println(line)
		switch {
		case ir.Error != "":
			fmt.Printf("               error: %s\n", ir.Error)
		case len(ir.DetectedApps) > 0:
			var names []string
			for _, app := range ir.DetectedApps {
				names = append(names, app.Name)
			}
			fmt.Printf("               tools: %s\n", strings.Join(names, ", "))
		}
	}
}

// --- refresh command ---

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Retry failed analyses and rescan a few channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep := a.refresher.RunOnce(ctx)
		for i, step := range rep.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(rep.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		fmt.Printf("\nRun %s finished in %s", rep.RunID, rep.Duration.Round(time.Millisecond))
		if rep.BudgetExhausted {
			fmt.Print(" (time budget exhausted)")
		}
		fmt.Println()
		return nil
	},
}

// --- channels and repairs commands ---

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List tracked channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		channels, err := store.ListChannels(ctx)
		if err != nil {
			return err
		}
		if len(channels) == 0 {
			fmt.Println("No channels tracked yet. Add one with: toolscout add <channel url>")
			return nil
		}
		for _, ch := range channels {
			scanned := "never"
			if !ch.LastScannedAt.IsZero() {
				scanned = ch.LastScannedAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("  %-30s %-9s scanned %s  %s\n", ch.Key, ch.Kind, scanned, ch.URL)
		}
		return nil
	},
}

var repairsLimit int

var repairsCmd = &cobra.Command{
	Use:   "repairs",
	Short: "List records queued for another analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		sources, err := store.QuerySources(ctx, "needs_repair", true, repairsLimit)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("Nothing to repair.")
			return nil
		}
		for _, s := range sources {
			reason := "no tools found"
			if s.IsFallback {
				reason = "analysis failed"
			}
			fmt.Printf("  %-40s attempts %-2d %s\n", s.ID, s.RepairAttempts, reason)
		}
		return nil
	},
}

func init() {
	repairsCmd.Flags().IntVarP(&repairsLimit, "limit", "n", 50, "Maximum number of records")
}
