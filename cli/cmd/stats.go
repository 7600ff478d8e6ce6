package cmd

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/evalfactory/evalfactory/cli/render"
	"github.com/evalfactory/evalfactory/cli/tui"
	"github.com/evalfactory/evalfactory/store"
	"github.com/evalfactory/evalfactory/types"
)

// StatsCommand returns the stats command.
// Stats are derived from the result store; nothing is executed.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show aggregated result store statistics",
		Flags:  ReadOnlyFlags(),
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	results, err := store.Open(c.String("store"))
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}

	stats := aggregate(results.All())

	if c.Bool("tui") {
		return tui.RunStatsTUI(stats)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(stats)
}

// aggregate folds stored records into display statistics.
func aggregate(records []*types.ResultRecord) *tui.StoreStats {
	stats := &tui.StoreStats{
		Reasons:         make(map[string]int),
		Classifications: make(map[string]int),
	}
	for _, rec := range records {
		stats.Total++
		stats.Rounds += rec.Rounds
		if rec.Accepted() {
			stats.Accepted++
		} else {
			stats.Failed++
			if rec.Reason != "" {
				stats.Reasons[string(rec.Reason)]++
			}
		}
		if rec.Validation != nil && rec.Validation.Classification != "" {
			stats.Classifications[string(rec.Validation.Classification)]++
		}
	}
	return stats
}

// sortedCounts renders a counter map as sorted "name: N" lines.
func sortedCounts(counts map[string]int64) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%s: %d", name, counts[name]))
	}
	return out
}
