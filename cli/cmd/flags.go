// Package cmd provides CLI commands for the evalfactory binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// StoreFlag points read-only commands at the result store.
	StoreFlag = &cli.StringFlag{
		Name:  "store",
		Usage: "Path to the result store (JSONL)",
		Value: "results.jsonl",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (stats only)",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can give an explicit error
// instead of a generic "flag not defined" one.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		StoreFlag,
		TUIFlag,
	}
}
