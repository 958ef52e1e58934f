package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ohengcom/shaking-news/internal/feed"
	"github.com/ohengcom/shaking-news/internal/update"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagLang    string
	flagRefresh bool
	flagConfig  string
	flagEnvFile string
)

var rootCmd = &cobra.Command{
	Use:   "shaking-news",
	Short: "News headline aggregator with a persistent cache",
	Long: `shaking-news fetches headlines from configured news sources, normalizes
their payloads and keeps them in a bounded, persistent cache.

Run without a subcommand to print the current headlines.`,
	SilenceUsage: true,
	RunE:         runNews,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "path to a .env file with API keys")
	rootCmd.Flags().StringVar(&flagLang, "lang", "", "language for default sources (zh or en)")
	rootCmd.Flags().BoolVar(&flagRefresh, "refresh", false, "bypass the cache and fetch every source")

	versionCmd.Flags().BoolVar(&flagCheckUpdate, "check", false, "check for a newer release")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(preloadCmd)
	rootCmd.AddCommand(cacheCmd)
}

var flagCheckUpdate bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "shaking-news %s (commit: %s, built: %s)\n", version, commit, date)
		if !flagCheckUpdate {
			return nil
		}

		client := feed.NewHTTPClient(feed.HTTPOptions{RetryMax: 1})
		rel, err := update.Latest(cmd.Context(), client, update.ReleasesURL, version)
		if err != nil {
			return err
		}
		if rel == nil {
			fmt.Fprintln(out, "You are running the latest release.")
			return nil
		}
		fmt.Fprintf(out, "Version %s is available: %s\n", rel.Version, rel.URL)
		return nil
	},
}

func runNews(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if flagLang != "" {
		if flagLang != "zh" && flagLang != "en" {
			return fmt.Errorf("invalid --lang %q: must be zh or en", flagLang)
		}
		a.cfg.Language = flagLang
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for _, src := range a.cfg.ActiveSources() {
		res := a.fetcher.FetchSource(ctx, src.URL, src.Name, !flagRefresh)
		fmt.Fprintf(out, "== %s ==\n", res.FeedTitle)
		for _, title := range res.Titles() {
			fmt.Fprintf(out, "  %s\n", title)
		}
	}
	return nil
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
