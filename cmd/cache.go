package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ohengcom/shaking-news/internal/cache"
	"github.com/ohengcom/shaking-news/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the local cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.store.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Storage: %s %s\n", a.cfg.Storage.Driver, a.cfg.StorageDSN())
		fmt.Fprintf(out, "Entries: %d\n", st.TotalEntries)
		fmt.Fprintf(out, "Size: %s\n", formatBytes(st.TotalSizeBytes))
		fmt.Fprintf(out, "Hit rate: %.1f%% (%d hits, %d misses)\n", st.HitRate*100, st.Hits, st.Misses)
		if st.OldestEntryTime != nil {
			fmt.Fprintf(out, "Oldest: %s\n", st.OldestEntryTime.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Newest: %s\n", st.NewestEntryTime.Local().Format(time.DateTime))
		}
		return nil
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.store.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSIZE\tEXPIRES\tPAYLOAD")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				truncate(e.Key, 60),
				formatBytes(e.SizeBytes),
				e.ExpiresAt.Local().Format(time.DateTime),
				truncate(string(e.Payload), 40))
		}
		return tw.Flush()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.store.Stats().TotalEntries
		a.store.Clear()
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entr%s.\n", n, plural(n, "y", "ies"))
		return nil
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove one cached entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.Delete(args[0]) {
			return fmt.Errorf("no cache entry %q", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
		return nil
	},
}

var (
	flagCacheEnabled    bool
	flagCacheMaxEntries int
	flagCacheMaxSizeMB  int
	flagCacheTTL        string
)

var cacheConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the cache limits",
	Long: `Without flags, print the cache configuration. With flags, apply the change
to the stored cache (evicting or clearing entries as needed) and save it to
the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := cacheUpdateFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := a.store.UpdateConfig(u); err != nil {
			return err
		}
		if u != (cache.ConfigUpdate{}) {
			if err := saveCacheConfig(a.cfg, a.store.Config()); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
		}

		c := a.store.Config()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Enabled: %t\n", c.Enabled)
		fmt.Fprintf(out, "Max entries: %d\n", c.MaxEntries)
		fmt.Fprintf(out, "Max size: %s\n", formatBytes(c.MaxSizeBytes))
		fmt.Fprintf(out, "Default TTL: %s\n", c.DefaultTTL)
		return nil
	},
}

func init() {
	f := cacheConfigCmd.Flags()
	f.BoolVar(&flagCacheEnabled, "enabled", true, "enable or disable the cache")
	f.IntVar(&flagCacheMaxEntries, "max-entries", 0, "maximum number of entries")
	f.IntVar(&flagCacheMaxSizeMB, "max-size-mb", 0, "maximum total size in megabytes")
	f.StringVar(&flagCacheTTL, "ttl", "", "default entry lifetime (e.g., 15m, 1d)")

	cacheCmd.AddCommand(cacheStatsCmd, cacheListCmd, cacheClearCmd, cacheDeleteCmd, cacheConfigCmd)
}

// cacheUpdateFromFlags builds a partial update from the flags that were
// explicitly set.
func cacheUpdateFromFlags(cmd *cobra.Command) (cache.ConfigUpdate, error) {
	var u cache.ConfigUpdate
	f := cmd.Flags()
	if f.Changed("enabled") {
		u.Enabled = &flagCacheEnabled
	}
	if f.Changed("max-entries") {
		u.MaxEntries = &flagCacheMaxEntries
	}
	if f.Changed("max-size-mb") {
		b := int64(flagCacheMaxSizeMB) << 20
		u.MaxSizeBytes = &b
	}
	if f.Changed("ttl") {
		d, err := config.ParseDuration(flagCacheTTL)
		if err != nil {
			return u, fmt.Errorf("invalid --ttl value: %w", err)
		}
		u.DefaultTTL = &d
	}
	return u, nil
}

func saveCacheConfig(cfg *config.Config, c cache.Config) error {
	cfg.Cache.Enabled = c.Enabled
	cfg.Cache.MaxEntries = c.MaxEntries
	cfg.Cache.MaxSizeMB = int(c.MaxSizeBytes >> 20)
	cfg.Cache.DefaultTTL = c.DefaultTTL.String()
	return config.Save(flagConfig, cfg)
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
