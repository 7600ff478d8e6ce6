package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/evalfactory/evalfactory/cli/render"
	"github.com/evalfactory/evalfactory/store"
)

// listRow is the thin per-record slice the list command renders.
type listRow struct {
	InstanceID     string    `json:"instance_id"`
	Repo           string    `json:"repo"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	Classification string    `json:"classification,omitempty"`
	Rounds         int       `json:"rounds"`
	FinishedAt     time.Time `json:"finished_at"`
}

// ListCommand returns the list command.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List result store records",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status: accepted, failed",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of records to return (0 = no limit)",
			},
		),
		Action: listAction,
	}
}

func listAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for the list command", 1)
	}

	results, err := store.Open(c.String("store"))
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}

	statusFilter := c.String("status")
	limit := c.Int("limit")

	rows := make([]listRow, 0, results.Len())
	for _, rec := range results.All() {
		if statusFilter != "" && string(rec.Status) != statusFilter {
			continue
		}
		row := listRow{
			InstanceID: rec.InstanceID,
			Repo:       rec.Repo,
			Status:     string(rec.Status),
			Reason:     string(rec.Reason),
			Rounds:     rec.Rounds,
			FinishedAt: rec.FinishedAt,
		}
		if rec.Validation != nil {
			row.Classification = string(rec.Validation.Classification)
		}
		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(rows)
}
