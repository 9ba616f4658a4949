package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/animerec/internal/apperr"
	"github.com/TobiSchelling/animerec/internal/config"
	"github.com/TobiSchelling/animerec/internal/database"
	"github.com/TobiSchelling/animerec/internal/logging"
	"github.com/TobiSchelling/animerec/internal/pipeline"
	"github.com/TobiSchelling/animerec/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", apperr.Message(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "animerec",
	Short:         "Anime recommendations from your MyAnimeList history",
	Long:          "animerec merges the AniList catalog with a public MyAnimeList list and ranks unwatched titles by content similarity to what the user rated.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return initLogging(config.Logging{})
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return initLogging(cfg.Logging)
	},
}

func initLogging(lc config.Logging) error {
	level := lc.Level
	if verbose {
		level = "debug"
	}
	return logging.Init(logging.Config{Level: level, Format: lc.Format})
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(blacklistCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("animerec", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/animerec/",
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
		fmt.Println("Edit it to change the quality threshold, cache TTL or server address.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog, run and blacklist status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		st, err := pipeline.New(cfg, db).Status()
		if err != nil {
			return fmt.Errorf("getting status: %w", err)
		}

		fmt.Printf("Data directory: %s\n\n", st.DataDir)
		fmt.Println("Catalog:")
		if st.CatalogAge == "" {
			fmt.Println("  Not fetched yet. Run 'animerec fetch'.")
		} else {
			state := "stale"
			if st.CatalogFresh {
				state = "fresh"
			}
			fmt.Printf("  Age: %s (%s)\n", st.CatalogAge, state)
		}
		if st.LastRefresh != nil {
			fmt.Printf("  Last refresh: %d items from %d pages\n", st.LastRefresh.Items, st.LastRefresh.Pages)
		}
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", st.Runs.TotalRuns)
		fmt.Printf("  Successful: %d (%d cached)\n", st.Runs.SuccessfulRuns, st.Runs.CachedRuns)
		fmt.Printf("  Failed: %d\n", st.Runs.FailedRuns)
		fmt.Printf("  Users: %d\n", st.Runs.DistinctUsers)
		fmt.Println("\nBlacklist:")
		fmt.Printf("  Entries: %d\n", st.BlacklistSize)
		return nil
	},
}

// --- pipeline step commands ---

var forceFetch bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the AniList catalog if it is missing or stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.Timeout)
		defer cancel()
		return printSteps(pipeline.New(cfg, db).EnsureCatalog(ctx, forceFetch))
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&forceFetch, "force", false, "Fetch even if the catalog is fresh")
}

var importCmd = &cobra.Command{
	Use:   "import <username>",
	Short: "Import a user's MyAnimeList history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pipeline.ValidateUsername(args[0]); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Pipeline.Timeout)
		defer cancel()
		return printSteps(pipeline.New(cfg, nil).ImportHistory(ctx, args[0]))
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <username>",
	Short: "Merge the catalog with an imported history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pipeline.ValidateUsername(args[0]); err != nil {
			return err
		}
		return printSteps(pipeline.New(cfg, nil).Merge(args[0]))
	},
}

func printSteps(steps ...pipeline.StepResult) error {
	for i, step := range steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
			return step.Err
		}
		fmt.Printf("  %s\n", step.Summary)
	}
	return nil
}

// --- recommend command ---

var (
	topN           int
	jsonOutput     bool
	refreshResults bool
	offline        bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <username>",
	Short: "Recommend unwatched titles for a MyAnimeList user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := pipeline.New(cfg, db)
		var resp *pipeline.Response
		if offline {
			resp, err = svc.RecommendStored(args[0], topN)
		} else {
			resp, err = svc.Recommend(cmd.Context(), pipeline.Request{
				Username: args[0],
				TopN:     topN,
				Refresh:  refreshResults,
			})
		}
		if jsonOutput {
			if err != nil {
				printJSON(pipeline.NewErrorResponse(err))
				return err
			}
			return printJSON(resp)
		}
		if err != nil {
			return err
		}

		printSteps(resp.Steps...)
		printRecommendations(resp)
		return nil
	},
}

func init() {
	recommendCmd.Flags().IntVarP(&topN, "top-n", "n", 0, "Number of recommendations (default from config, max 100)")
	recommendCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the structured result as JSON")
	recommendCmd.Flags().BoolVar(&refreshResults, "refresh", false, "Ignore cached results")
	recommendCmd.Flags().BoolVar(&offline, "offline", false, "Rank from the tables stored by the last fetch, import and merge")
	recommendCmd.MarkFlagsMutuallyExclusive("offline", "refresh")
}

func printRecommendations(resp *pipeline.Response) {
	st := resp.Statistics
	fmt.Printf("\n%s: %d titles on list, %d rated, %d favorites (score >= %d)\n",
		resp.Username, st.UserListSize, st.RatedCount, st.FavoritesCount, st.FavoriteThreshold)
	if len(st.TopGenres) > 0 {
		names := make([]string, len(st.TopGenres))
		for i, g := range st.TopGenres {
			names[i] = fmt.Sprintf("%s (%d)", g.Name, g.Count)
		}
		fmt.Printf("Favorite genres: %s\n", strings.Join(names, ", "))
	}

	if len(resp.Recommendations) == 0 {
		fmt.Println("\nNo recommendations: every qualifying title is watched or blacklisted.")
		return
	}

	fmt.Printf("\nTop %d recommendations:\n\n", resp.Count)
	for i, r := range resp.Recommendations {
		fmt.Printf("%3d. %s  [%d]\n", i+1, r.Title, r.PrimaryID)
		fmt.Printf("     score %.4f  quality %.0f  %s  %s\n",
			r.HybridScore, r.QualityScore, r.MediaType, strings.Join(r.Genres, ", "))
		if r.ExternalURL != "" {
			fmt.Printf("     %s\n", r.ExternalURL)
		}
	}
	cached := ""
	if resp.Cached {
		cached = ", cached"
	}
	fmt.Printf("\nDone in %s%s.\n", resp.ProcessingTime, cached)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, cfg.Server, pipeline.New(cfg, db), cfg.Cache.TTL)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- blacklist command ---

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Manage titles that are never recommended",
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blacklisted AniList ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := pipeline.New(cfg, nil).Blacklist()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("Blacklist is empty. Add ids with: animerec blacklist add <id>...")
			return nil
		}
		fmt.Printf("Blacklisted ids (%d):\n", len(ids))
		for _, id := range ids {
			fmt.Printf("  %d\n", id)
		}
		return nil
	},
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add <id>...",
	Short: "Add AniList ids to the blacklist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		added, err := pipeline.New(cfg, nil).AddToBlacklist(ids...)
		if err != nil {
			return err
		}
		fmt.Printf("Added %d of %d ids\n", len(added), len(ids))
		return nil
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove AniList ids from the blacklist",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		removed, err := pipeline.New(cfg, nil).RemoveFromBlacklist(ids...)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d of %d ids\n", len(removed), len(ids))
		return nil
	},
}

func init() {
	blacklistCmd.AddCommand(blacklistListCmd)
	blacklistCmd.AddCommand(blacklistAddCmd)
	blacklistCmd.AddCommand(blacklistRemoveCmd)
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil || id <= 0 {
			return nil, apperr.Errorf(apperr.KindInput, apperr.StageRequest, "invalid id: %s", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DatabasePath()).Msg("Failed to open database")
		return nil, err
	}
	return db, nil
}
