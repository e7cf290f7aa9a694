/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package todo parses the plain-text to-do list.
package todo

import "strings"

// Sentinel ends the list of open items; everything after it is finished.
const Sentinel = "--- Ferdig ---"

// Todo is a to-do item as served by the query API.
type Todo struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Parse returns the trimmed, non-blank lines before the sentinel line.
func Parse(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == Sentinel {
			break
		}
		items = append(items, line)
	}
	return items
}

// Records wraps parsed items for the query API. Items are marked done, which
// the frontend uses to select what it scrolls.
func Records(items []string) []Todo {
	out := make([]Todo, len(items))
	for i, item := range items {
		out[i] = Todo{Description: item, Done: true}
	}
	return out
}
