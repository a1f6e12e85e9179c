package main

import (
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sarchlab/bebop/ipc"
	"github.com/sarchlab/bebop/npu"
)

func printTable(w io.Writer, title string, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows(rows)
	t.Render()
}

func linkRows(s ipc.Stats) []table.Row {
	return []table.Row{
		{"connects", s.Connects},
		{"commands", s.Commands},
		{"failures", s.Failures},
		{"dma reads", s.DMAReads},
		{"dma writes", s.DMAWrites},
	}
}

func serverRows(s npu.ServerStats) []table.Row {
	return []table.Row{
		{"sessions", s.Sessions},
		{"commands", s.Commands},
		{"failures", s.Failures},
		{"dma reads", s.DMAReads},
		{"dma writes", s.DMAWrites},
	}
}
