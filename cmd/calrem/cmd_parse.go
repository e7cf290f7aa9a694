/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/calrem/internal/calendar"
	"github.com/friendsincode/calrem/internal/server"
	"github.com/friendsincode/calrem/internal/storage"
	"github.com/friendsincode/calrem/internal/todo"
)

var (
	parseFile string
	parseTodo bool
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Print the parsed calendar or to-do list as JSON",
	Long: `Parse a calendar (or, with --todo, a to-do list) and print the result
in the same JSON shape the HTTP API serves.

Without --file the configured object is read from storage.

Examples:
  calrem parse --file ./calendar.txt
  calrem parse --file - < calendar.txt
  calrem parse --todo
`,
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseFile, "file", "f", "", "Read a local file instead of storage (- for stdin)")
	parseCmd.Flags().BoolVar(&parseTodo, "todo", false, "Parse the to-do list instead of the calendar")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	text, err := readParseInput(cmd)
	if err != nil {
		return err
	}

	var out any
	if parseTodo {
		out = todo.Records(todo.Parse(text))
	} else {
		entries := calendar.Parse(text)
		if entries == nil {
			entries = []calendar.Entry{}
		}
		out = entries
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readParseInput(cmd *cobra.Command) (string, error) {
	switch parseFile {
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	case "":
	default:
		data, err := os.ReadFile(parseFile)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if err := loadConfig(); err != nil {
		return "", err
	}
	store, err := server.BuildStore(cmd.Context(), cfg, logger)
	if err != nil {
		return "", err
	}
	key := cfg.CalendarKey
	if parseTodo {
		key = cfg.TodoKey
	}
	return storage.NewTextSource(store).GetText(cmd.Context(), key)
}
