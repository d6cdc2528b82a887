/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ansiRegex matches ANSI escape sequences for stripping from strings.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// VisibleLen returns the visible length of a string, excluding ANSI escape
// codes, so colored cells still align.
func VisibleLen(s string) int {
	return len(ansiRegex.ReplaceAllString(s, ""))
}

// PadRight pads a string to the specified visible width, accounting for
// ANSI codes. A string already >= width is returned unchanged.
func PadRight(s string, width int) string {
	visible := VisibleLen(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

// OutputFormat represents the output format type.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatPlain OutputFormat = "plain"
)

// ParseOutputFormat parses a string into an OutputFormat.
func ParseOutputFormat(s string) OutputFormat {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "plain":
		return FormatPlain
	default:
		return FormatTable
	}
}

// ioMarker prefixes rows that belong to I/O-task ranks in table output.
const ioMarker = "●"

// Table renders per-rank report rows as an aligned text table, JSON, or
// plain tab-separated lines. Rows marked with MarkIORow belong to
// I/O-task ranks and are called out in every format: the text renderer
// prefixes them with a colored marker, JSON and plain output carry an
// io_task field, so "which ranks touch the backend" survives whichever
// way the output is consumed.
type Table struct {
	headers []string
	rows    [][]string
	ioRows  map[int]bool
	format  OutputFormat
}

// NewTable creates a new table with the given headers.
func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		ioRows:  make(map[int]bool),
		format:  FormatTable,
	}
}

// SetFormat sets the output format.
func (t *Table) SetFormat(format OutputFormat) {
	t.format = format
}

// AddRow adds a row to the table.
func (t *Table) AddRow(values ...string) {
	t.rows = append(t.rows, values)
}

// MarkIORow flags the most recently added row as belonging to an
// I/O-task rank.
func (t *Table) MarkIORow() {
	if len(t.rows) > 0 {
		t.ioRows[len(t.rows)-1] = true
	}
}

// Print outputs the table in the configured format.
func (t *Table) Print() {
	switch t.format {
	case FormatJSON:
		t.printJSON()
	case FormatPlain:
		t.printPlain()
	default:
		t.printTable()
	}
}

// columnWidths sizes each column to its widest header or cell, by
// visible length.
func (t *Table) columnWidths() []int {
	numCols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > numCols {
			numCols = len(row)
		}
	}
	widths := make([]int, numCols)
	for i, h := range t.headers {
		widths[i] = VisibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := VisibleLen(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	return widths
}

func (t *Table) printTable() {
	if len(t.rows) == 0 {
		fmt.Println("(no rows)")
		return
	}
	widths := t.columnWidths()

	// Two-column gutter, a marker column up front, and a dimmed rule
	// under the header.
	var b strings.Builder
	if len(t.headers) > 0 {
		b.WriteString("  ")
		for i, h := range t.headers {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(colorize(Bold, PadRight(h, widths[i])))
		}
		fmt.Println(b.String())

		ruleWidth := 0
		for i, w := range widths {
			if i > 0 {
				ruleWidth += 2
			}
			ruleWidth += w
		}
		fmt.Println("  " + Dimmed(strings.Repeat("─", ruleWidth)))
	}

	for r, row := range t.rows {
		b.Reset()
		if t.ioRows[r] {
			b.WriteString(colorize(Green, ioMarker) + " ")
		} else {
			b.WriteString("  ")
		}
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			if i < len(widths) {
				cell = PadRight(cell, widths[i])
			}
			b.WriteString(cell)
		}
		fmt.Println(b.String())
	}
	if len(t.ioRows) > 0 {
		fmt.Printf("(%d rows, %d on I/O ranks)\n", len(t.rows), len(t.ioRows))
	} else {
		fmt.Printf("(%d rows)\n", len(t.rows))
	}
}

func (t *Table) printJSON() {
	result := make([]map[string]string, len(t.rows))
	for r, row := range t.rows {
		rowMap := make(map[string]string, len(row)+1)
		for i, val := range row {
			if i < len(t.headers) {
				rowMap[t.headers[i]] = val
			} else {
				rowMap[fmt.Sprintf("col%d", i)] = val
			}
		}
		if t.ioRows[r] {
			rowMap["io_task"] = "true"
		}
		result[r] = rowMap
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		PrintError("Failed to format JSON: %v", err)
		return
	}
	fmt.Println(string(data))
}

func (t *Table) printPlain() {
	for r, row := range t.rows {
		line := strings.Join(row, "\t")
		if t.ioRows[r] {
			line += "\tio_task"
		}
		fmt.Println(line)
	}
}
