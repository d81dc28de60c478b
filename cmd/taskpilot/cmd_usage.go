package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"taskpilot/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show accumulated model token usage",
	Args:  cobra.NoArgs,
	RunE:  showUsage,
}

func showUsage(cmd *cobra.Command, args []string) error {
	a, err := newApp(commandContext(cmd), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	renderUsage(cmd.OutOrStdout(), a.usage.Stats())
	return nil
}

func renderUsage(w io.Writer, stats usage.AggregatedStats) {
	s := newStyles(w)
	fmt.Fprintf(w, "%s %d requests, %d model calls (%d hit the turn limit)\n",
		s.Bold.Render("Usage:"), stats.Requests, stats.ModelCalls, stats.Exhausted)
	fmt.Fprintf(w, "Tokens: %d in / %d out / %d total\n", stats.Total.Input, stats.Total.Output, stats.Total.Total)

	section := func(title string, m map[string]usage.TokenCounts) {
		if len(m) == 0 {
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, s.Muted.Render(title))
		for _, k := range keys {
			fmt.Fprintf(w, "  %-24s %d\n", k, m[k].Total)
		}
	}
	section("by provider", stats.ByProvider)
	section("by model", stats.ByModel)
	section("by day", stats.ByDay)
}
