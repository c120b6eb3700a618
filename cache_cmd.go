package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	evictMax int

	cacheCmd = &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached audio",
		Args:  cobra.NoArgs,
	}

	cacheInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show cache location and size",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openCache()
			if err != nil {
				return err
			}
			st, err := m.Stats()
			if err != nil {
				return err
			}
			limit := "none"
			if cfg.Cache.MaxSize > 0 {
				limit = humanize.IBytes(uint64(cfg.Cache.MaxBytes())) //nolint:gosec
			}
			fmt.Printf("%s %s\n", keyword("Directory:"), st.Dir)
			fmt.Printf("%s %d (%d files)\n", keyword("Entries:  "), st.Entries, st.Files)
			fmt.Printf("%s %s of %s\n", keyword("Size:     "), humanize.IBytes(uint64(st.Size)), limit) //nolint:gosec
			return nil
		},
	}

	cacheLsCmd = &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List cached audio, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openCache()
			if err != nil {
				return err
			}
			entries, err := m.Entries()
			if err != nil {
				return err
			}
			for _, e := range entries {
				marks := ""
				if e.HasTimepoints() {
					marks = "timed"
				}
				fmt.Printf("%-40s %10s  %-16s %s\n", e.ID, humanize.IBytes(uint64(e.Size)), humanize.Time(e.ModTime), faint(marks)) //nolint:gosec
			}
			return nil
		},
	}

	cacheRmCmd = &cobra.Command{
		Use:   "rm ID...",
		Short: "Delete cached audio and its timepoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			m, err := openCache()
			if err != nil {
				return err
			}
			for _, id := range args {
				if !m.Exists(id) {
					fmt.Printf("%s %s\n", errorText("not cached"), id)
					continue
				}
				if err := m.Delete(id); err != nil {
					return err
				}
				fmt.Printf("%s %s\n", keyword("deleted"), id)
			}
			return nil
		},
	}

	cacheClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openCache()
			if err != nil {
				return err
			}
			n, err := m.Clear()
			fmt.Printf("Deleted %s.\n", humanize.Comma(int64(n))+" "+plural(n, "file"))
			return err
		},
	}

	cacheEvictCmd = &cobra.Command{
		Use:   "evict",
		Short: "Delete the oldest audio until the cache fits its limit",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m, err := openCache()
			if err != nil {
				return err
			}
			limit := cfg.Cache.MaxBytes()
			if evictMax >= 0 {
				limit = int64(evictMax) << 20
			}
			n, err := m.EvictToLimit(limit)
			if err != nil {
				return err
			}
			fmt.Printf("Evicted %d %s, %s left.\n", n, plural(n, "file"), humanize.IBytes(uint64(m.TotalSize()))) //nolint:gosec
			return nil
		},
	}
)

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

func init() {
	cacheEvictCmd.Flags().IntVar(&evictMax, "max", -1, "size limit in MB (default cache.max_size)")
	cacheCmd.AddCommand(cacheInfoCmd, cacheLsCmd, cacheRmCmd, cacheClearCmd, cacheEvictCmd)
}
