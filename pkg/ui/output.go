// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package ui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Table is a two-column key/value listing
type Table struct {
	Rows [][2]string
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{}
}

// AddRow appends a row
func (t *Table) AddRow(key, value string) {
	t.Rows = append(t.Rows, [2]string{key, value})
}

// Print writes the table with aligned values
func (t *Table) Print(w io.Writer) {
	width := 0
	for _, row := range t.Rows {
		width = max(width, len(row[0]))
	}
	for _, row := range t.Rows {
		fmt.Fprintf(w, "%s:%s %s\n", row[0], strings.Repeat(" ", width-len(row[0])), row[1])
	}
}

// PrintJSON writes v as indented JSON
func PrintJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// WaitForEnter prints a prompt and blocks until a line (or EOF) is read
func WaitForEnter(in io.Reader, out io.Writer) {
	fmt.Fprint(out, "Press ENTER to exit...")
	_, _ = bufio.NewReader(in).ReadString('\n')
}
