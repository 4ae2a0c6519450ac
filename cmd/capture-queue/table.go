package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/zombor/expense-capture/internal/capture"
)

func renderTable(headers []string, rows [][]string, rightAligned map[int]bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if rightAligned[i] {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// queueTable lists items newest first
func queueTable(items []*capture.Item, now time.Time) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		captured := item.CapturedAt()
		rows = append(rows, []string{
			item.ID,
			item.MimeType,
			humanize.Bytes(uint64(item.Size())),
			captured.Format(time.DateTime),
			humanize.RelTime(captured, now, "ago", "from now"),
		})
	}
	return renderTable(
		[]string{"ID", "Type", "Size", "Captured", "Age"},
		rows,
		map[int]bool{2: true},
	)
}

// itemTable describes a single item
func itemTable(item *capture.Item, now time.Time) string {
	captured := item.CapturedAt()
	return renderTable(
		[]string{"Field", "Value"},
		[][]string{
			{"ID", item.ID},
			{"Type", item.MimeType},
			{"Size", humanize.Bytes(uint64(item.Size()))},
			{"Captured", captured.Format(time.RFC3339)},
			{"Age", humanize.RelTime(captured, now, "ago", "from now")},
		},
		nil,
	)
}
