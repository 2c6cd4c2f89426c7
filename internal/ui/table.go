package ui

import (
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// NewTable returns a table rendering to w with the given header
func NewTable(w io.Writer, header ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if !color.NoColor {
		t.Style().Color.Header = text.Colors{text.Bold}
	}

	row := make(table.Row, len(header))
	for i, h := range header {
		row[i] = h
	}
	t.AppendHeader(row)
	return t
}

// AlignRight right-aligns the given 1-based columns
func AlignRight(t table.Writer, columns ...int) {
	cfgs := make([]table.ColumnConfig, len(columns))
	for i, c := range columns {
		cfgs[i] = table.ColumnConfig{Number: c, Align: text.AlignRight}
	}
	t.SetColumnConfigs(cfgs)
}
