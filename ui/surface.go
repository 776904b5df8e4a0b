package ui

import (
	"io"

	"labdash/export"
)

// Surface abstracts the console so the tview dashboard and the headless
// printer are interchangeable. Implementations must be safe for concurrent
// calls from the refresh loop, export listeners and the log fanout.
type Surface interface {
	WaitReady()
	Stop()
	SetStats(lines []string)
	SetOverview(view Overview)
	SetExportStatus(st export.Status)
	AppendSystem(line string)
	SystemWriter() io.Writer
}

var (
	_ Surface = (*Dashboard)(nil)
	_ Surface = (*Headless)(nil)
)
