package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ohengcom/shaking-news/internal/config"
	"github.com/ohengcom/shaking-news/internal/preload"
)

var flagPreloadConfigured bool

var preloadCmd = &cobra.Command{
	Use:   "preload",
	Short: "Run one preload cycle now",
	Long: `Warm the cache for every source that has no fresh entry, within the daily
request budget. By default the built-in preload sources are used; pass
--configured to warm the sources from the config file instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		var sources []config.Source
		if flagPreloadConfigured {
			sources = a.cfg.EffectiveSources()
		}

		pre := a.newPreloader()
		report, err := pre.ForceRun(cmd.Context(), sources)
		if err != nil {
			return fmt.Errorf("preloading: %w", err)
		}

		out := cmd.OutOrStdout()
		printReport(out, report)
		st := pre.Status()
		fmt.Fprintf(out, "Requests today: %d/%d\n", st.DailyRequestCount, st.MaxDailyRequests)
		fmt.Fprintf(out, "Cache: %d entries, %s\n", st.CacheStats.TotalEntries, formatBytes(st.CacheStats.TotalSizeBytes))
		return nil
	},
}

func init() {
	preloadCmd.Flags().BoolVar(&flagPreloadConfigured, "configured", false, "preload the configured sources instead of the built-in set")
}

func printReport(w io.Writer, r preload.Report) {
	fmt.Fprintf(w, "Cycle %s: %d request(s) in %s\n", r.CycleID, r.Requests, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, name := range r.Fetched {
		fmt.Fprintf(w, "  fetched  %s\n", name)
	}
	for _, name := range sortedKeys(r.Skipped) {
		fmt.Fprintf(w, "  skipped  %s (%s)\n", name, r.Skipped[name])
	}
	for _, name := range sortedKeys(r.Failed) {
		fmt.Fprintf(w, "  failed   %s: %s\n", name, r.Failed[name])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
