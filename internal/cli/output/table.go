// Package output provides output formatting utilities for gridctl
// commands.
package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a
// table.
type TableRenderer interface {
	// Headers returns the column headers for the table.
	Headers() []string
	// Rows returns the data rows for the table.
	Rows() [][]string
}

// PrintTable writes data as a borderless, left-aligned table.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}

	table.Render()
	return nil
}

// SimpleTable prints a key-value table without headers, used for detail
// views like "gridctl stat".
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := tablewriter.NewWriter(w)

	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}

	table.Render()
	return nil
}
