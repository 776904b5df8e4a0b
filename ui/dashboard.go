package ui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"labdash/compose"
	"labdash/config"
	"labdash/export"
	"labdash/selection"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	pageOverview = "overview"
	pageExport   = "export"
	pageActivity = "activity"
	pageHelp     = "help"

	exportLabel        = "Export"
	exportRunningLabel = "Exporting..."

	defaultPanelWidth = 60
	activityMaxEvents = 500
	activityMaxBytes  = 256 * 1024
	activityMaxLine   = 4096
)

// ExportDeps connects the export page to the request controller and the
// form state it submits.
type ExportDeps struct {
	Controller *export.Controller
	Selection  *selection.State
}

// Dashboard is the page-based tview console: the composed overview, the
// export form, and an activity log.
type Dashboard struct {
	app       *tview.Application
	pages     *tview.Pages
	scheduler *frameScheduler
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}

	mu             sync.Mutex
	overview       Overview
	statsLines     []string
	exportStatus   export.Status
	clearedThrough string
	onClearCharts  func()

	overviewRoot *tview.Flex
	header       *tview.TextView
	charts       *tview.Flex
	side         *tview.Flex
	statsView    *tview.TextView
	boxes        map[string]*panelBox
	focus        panelFocus
	layoutPrint  uint64
	layoutBuilt  bool

	exportRoot     *tview.Flex
	form           *tview.Form
	experiments    *tview.DropDown
	experimentOpts []string
	exportButton   *tview.Button
	feedback       *tview.TextView

	activity *tview.TextView
	events   *activityLog
	scratch  []ActivityEvent

	deps      ExportDeps
	pageOrder []string
	pageIndex int
	helpShown bool
}

// NewDashboard builds the console and starts drawing.
func NewDashboard(cfg config.UIConfig, deps ExportDeps) *Dashboard {
	app := tview.NewApplication()
	d := buildDashboard(app, cfg.TargetFPS, deps)

	var once sync.Once
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		once.Do(func() { close(d.ready) })
		return false
	})
	d.installKeybindings()
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.pages, 0, 1, true).
		AddItem(buildFooter(), 1, 0, false)
	app.SetRoot(root, true)
	d.showPage(pageOverview)

	d.scheduler.Start()
	go func() {
		if err := app.Run(); err != nil {
			log.Printf("UI: tview error: %v", err)
		}
	}()
	return d
}

// buildDashboard lays out every page without starting the application, so
// a nil app yields a dashboard whose updates run inline.
func buildDashboard(app *tview.Application, targetFPS int, deps ExportDeps) *Dashboard {
	ctx, cancel := context.WithCancel(context.Background())
	if deps.Selection == nil {
		deps.Selection = selection.NewState("")
	}
	d := &Dashboard{
		app:       app,
		pages:     tview.NewPages(),
		metrics:   NewMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		boxes:     make(map[string]*panelBox),
		events:    newActivityLog(activityMaxEvents, activityMaxBytes, activityMaxLine),
		deps:      deps,
		pageOrder: []string{pageOverview, pageExport, pageActivity},
	}
	d.scheduler = newFrameScheduler(app, targetFPS, 100*time.Millisecond, d.metrics.ObserveRender)

	d.header = newBoxedTextView("Experiment")
	d.charts = tview.NewFlex().SetDirection(tview.FlexRow)
	d.side = tview.NewFlex().SetDirection(tview.FlexRow)
	d.statsView = newBoxedTextView("Stats")
	setBoxText(d.header, renderMetadata(d.overview.Metadata, false))
	setBoxText(d.statsView, "waiting for first refresh")
	body := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(d.charts, 0, 3, false).
		AddItem(d.side, 0, 2, false)
	d.overviewRoot = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.header, 3, 0, false).
		AddItem(body, 0, 1, false).
		AddItem(d.statsView, 7, 0, false)

	d.buildExportPage()

	d.activity = newBoxedTextView("Activity")
	d.activity.SetScrollable(true)

	d.pages.AddPage(pageOverview, d.overviewRoot, true, true)
	d.pages.AddPage(pageExport, d.exportRoot, true, false)
	d.pages.AddPage(pageActivity, d.activity, true, false)
	d.pages.AddPage(pageHelp, buildHelpOverlay(), true, false)
	return d
}

func (d *Dashboard) buildExportPage() {
	d.form = tview.NewForm()
	d.form.SetBorder(true).SetTitle(accentText("Export datasets")).SetTitleAlign(tview.AlignLeft)
	d.form.SetBorderColor(uiBorderColor)

	current := d.deps.Selection.Snapshot()
	d.experiments = tview.NewDropDown().SetLabel("Experiment ")
	d.setExperimentOptions([]string{current.Experiment}, current.Experiment)
	d.form.AddFormItem(d.experiments)

	for _, kind := range selection.AllDatasetKinds() {
		d.form.AddCheckbox(kind.Label(), current.Datasets.Get(kind), func(checked bool) {
			d.deps.Selection.Set(kind, checked)
		})
	}
	d.form.AddButton(exportLabel, d.submitExport)
	d.exportButton = d.form.GetButton(d.form.GetButtonCount() - 1)

	d.feedback = newBoxedTextView("Status")
	d.feedback.SetWrap(true)
	setBoxText(d.feedback, export.Feedback(export.Status{}))

	d.exportRoot = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(d.form, 0, 1, true).
		AddItem(d.feedback, 5, 0, false)
}

// submitExport runs the request off the UI goroutine; the controller's
// listener brings the outcome back through SetExportStatus. Stopping the
// dashboard does not cancel the request: the owner closes the controller.
func (d *Dashboard) submitExport() {
	ctrl := d.deps.Controller
	if ctrl == nil {
		d.AppendSystem("Export: no controller configured")
		return
	}
	sel := d.deps.Selection.Snapshot()
	go func() {
		if _, err := ctrl.Submit(context.WithoutCancel(d.ctx), sel); err != nil {
			switch {
			case errors.Is(err, export.ErrInFlight):
				d.AppendSystem("Export: already running, request ignored")
			case errors.Is(err, export.ErrClosed), errors.Is(err, context.Canceled):
			default:
				d.AppendSystem("Export: " + err.Error())
			}
		}
	}()
}

func (d *Dashboard) setExperimentOptions(names []string, current string) {
	opts := make([]string, 0, len(names)+1)
	if current != "" && !slices.Contains(names, current) {
		opts = append(opts, current)
	}
	opts = append(opts, names...)
	d.experimentOpts = opts
	d.experiments.SetOptions(opts, func(text string, _ int) {
		d.deps.Selection.SetExperiment(text)
	})
	if idx := slices.Index(opts, current); idx >= 0 {
		d.experiments.SetCurrentOption(idx)
	}
}

func (d *Dashboard) syncExperimentOptions(names []string) {
	if len(names) == 0 {
		return
	}
	current := d.deps.Selection.Snapshot().Experiment
	want := names
	if current != "" && !slices.Contains(names, current) {
		want = append([]string{current}, names...)
	}
	if slices.Equal(want, d.experimentOpts) {
		return
	}
	d.setExperimentOptions(names, current)
}

func (d *Dashboard) installKeybindings() {
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if d.helpShown {
			if event.Key() == tcell.KeyEsc || event.Key() == tcell.KeyF1 || event.Rune() == '?' {
				d.toggleHelp(false)
				return nil
			}
		}
		front, _ := d.pages.GetFrontPage()

		switch event.Key() {
		case tcell.KeyF1:
			d.toggleHelp(!d.helpShown)
			return nil
		case tcell.KeyF2:
			d.showPage(pageOverview)
			return nil
		case tcell.KeyF3:
			d.showPage(pageExport)
			return nil
		case tcell.KeyF4:
			d.showPage(pageActivity)
			return nil
		case tcell.KeyCtrlC:
			d.Stop()
			return nil
		case tcell.KeyTab, tcell.KeyBacktab:
			if front != pageOverview {
				return event
			}
			delta := 1
			if event.Key() == tcell.KeyBacktab {
				delta = -1
			}
			d.focus.step(d.app, delta)
			return nil
		}

		// The export form owns its own keys.
		if front == pageExport {
			return event
		}
		if front == pageOverview && d.focus.scrollFocused(d.app, event) {
			return nil
		}
		if front == pageActivity && scrollTextView(d.activity, event) {
			return nil
		}
		switch event.Rune() {
		case 'q', 'Q':
			d.Stop()
			return nil
		case '?':
			d.toggleHelp(!d.helpShown)
			return nil
		case 'c', 'C':
			if front == pageOverview {
				d.clearLogs()
				return nil
			}
		case 'x', 'X':
			if front == pageOverview {
				d.clearCharts()
				return nil
			}
		}
		return event
	})
}

func (d *Dashboard) toggleHelp(show bool) {
	d.helpShown = show
	if show {
		d.pages.ShowPage(pageHelp)
		d.pages.SendToFront(pageHelp)
		return
	}
	d.pages.HidePage(pageHelp)
}

func (d *Dashboard) showPage(name string) {
	for i, page := range d.pageOrder {
		if page == name {
			d.pageIndex = i
			break
		}
	}
	d.pages.SwitchToPage(name)
	d.metrics.PageSwitch()
	if d.app == nil {
		return
	}
	switch name {
	case pageOverview:
		d.focus.focusAt(d.app, d.focus.current)
	case pageExport:
		d.app.SetFocus(d.form)
	case pageActivity:
		d.app.SetFocus(d.activity)
	}
}

// clearLogs hides every log entry currently shown. Entries that arrive
// later still appear.
func (d *Dashboard) clearLogs() {
	d.mu.Lock()
	for _, pd := range d.overview.Panels {
		for _, e := range pd.Logs {
			if e.Timestamp > d.clearedThrough {
				d.clearedThrough = e.Timestamp
			}
		}
	}
	d.mu.Unlock()
	d.scheduler.Schedule(regionOverview, d.renderOverview)
}

// OnClearCharts registers the owner's hook for dropping chart samples.
func (d *Dashboard) OnClearCharts(fn func()) {
	d.mu.Lock()
	d.onClearCharts = fn
	d.mu.Unlock()
}

// clearCharts empties the chart boxes now; the hook makes later refreshes
// start from this moment.
func (d *Dashboard) clearCharts() {
	d.mu.Lock()
	fn := d.onClearCharts
	panels := slices.Clone(d.overview.Panels)
	for i := range panels {
		if panels[i].Panel.Kind == compose.KindChart {
			panels[i].Lines = nil
		}
	}
	d.overview.Panels = panels
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
	d.appendEvent(ActivitySystem, "Charts cleared")
	d.scheduler.Schedule(regionOverview, d.renderOverview)
}

func (d *Dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *Dashboard) Stop() {
	if d == nil {
		return
	}
	d.cancel()
	d.scheduler.Stop()
	if d.app != nil {
		d.app.Stop()
	}
}

// Done is closed once the operator quits.
func (d *Dashboard) Done() <-chan struct{} {
	return d.ctx.Done()
}

func (d *Dashboard) SetStats(lines []string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.statsLines = append(d.statsLines[:0], lines...)
	d.mu.Unlock()
	d.scheduler.Schedule(regionStats, d.renderStats)
}

func (d *Dashboard) SetOverview(view Overview) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.overview = view
	d.mu.Unlock()
	d.scheduler.Schedule(regionOverview, d.renderOverview)
}

func (d *Dashboard) SetExportStatus(st export.Status) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.exportStatus = st
	d.mu.Unlock()
	d.appendEvent(ActivityExport, exportEventLine(st))
	d.scheduler.Schedule(regionExport, d.renderExport)
}

func (d *Dashboard) AppendSystem(line string) {
	d.appendEvent(ActivitySystem, line)
}

func (d *Dashboard) SystemWriter() io.Writer {
	if d == nil {
		return nil
	}
	return newLineWriter(d.AppendSystem)
}

func (d *Dashboard) appendEvent(kind ActivityKind, line string) {
	if d == nil || d.events == nil {
		return
	}
	event := ActivityEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Message:   stripTags(line),
	}
	if d.events.Add(event) {
		d.scheduler.Schedule(regionActivity, d.renderActivity)
	}
}

func (d *Dashboard) renderOverview() {
	d.mu.Lock()
	view := d.overview
	cleared := d.clearedThrough
	d.mu.Unlock()

	setBoxText(d.header, renderMetadata(view.Metadata, view.HasMetadata))
	if !d.layoutBuilt || view.Fingerprint != d.layoutPrint {
		d.rebuildPanels(view.Panels)
		d.layoutPrint = view.Fingerprint
		d.layoutBuilt = true
	}
	for _, pd := range view.Panels {
		box := d.boxes[pd.Panel.ID]
		if box == nil {
			continue
		}
		_, _, width, _ := box.view.GetInnerRect()
		if width <= 0 {
			width = defaultPanelWidth
		}
		setBoxText(box.view, RenderPanelText(pd, width, cleared))
	}
	d.syncExperimentOptions(view.Experiments)
}

// rebuildPanels replaces the panel boxes. Charts stack on the left; cards,
// buttons and the log table share the right column.
func (d *Dashboard) rebuildPanels(panels []PanelData) {
	d.metrics.LayoutRebuilt()
	d.charts.Clear()
	d.side.Clear()
	d.boxes = make(map[string]*panelBox, len(panels))
	ring := make([]*panelBox, 0, len(panels))
	for _, pd := range panels {
		box := newPanelBox(pd.Panel)
		d.boxes[box.panelID] = box
		if box.kind != compose.KindButtonGroup {
			ring = append(ring, box)
		}
		switch {
		case box.kind == compose.KindChart:
			d.charts.AddItem(box.view, 0, 1, false)
		case box.rows > 0:
			d.side.AddItem(box.view, box.rows, 0, false)
		default:
			d.side.AddItem(box.view, 0, 1, false)
		}
	}
	if len(panels) == 0 {
		empty := newBoxedTextView("Overview")
		setBoxText(empty, "No panels enabled. Set ui.overview.charts entries to \"1\".")
		d.charts.AddItem(empty, 0, 1, false)
	}
	d.focus = panelFocus{boxes: ring}
	app := d.app
	if front, _ := d.pages.GetFrontPage(); front != pageOverview {
		app = nil
	}
	d.focus.focusAt(app, 0)
}

func (d *Dashboard) renderStats() {
	d.mu.Lock()
	lines := append([]string(nil), d.statsLines...)
	d.mu.Unlock()
	lines = append(lines, d.metrics.Line())
	setBoxText(d.statsView, strings.Join(lines, "\n"))
}

func (d *Dashboard) renderExport() {
	d.mu.Lock()
	st := d.exportStatus
	d.mu.Unlock()
	running := st.State == export.Running
	if running {
		d.exportButton.SetLabel(exportRunningLabel)
	} else {
		d.exportButton.SetLabel(exportLabel)
	}
	d.exportButton.SetDisabled(running)
	text := export.Feedback(st)
	if st.Attempt > 0 {
		text += fmt.Sprintf("\nAttempt %d: %s, %d datasets", st.Attempt, st.Selection.Experiment, len(st.Selection.Datasets.Selected()))
	}
	setBoxText(d.feedback, text)
}

func (d *Dashboard) renderActivity() {
	var seq uint64
	d.scratch, seq = d.events.CopyInto(d.scratch)
	var b strings.Builder
	for _, e := range d.scratch {
		fmt.Fprintf(&b, "%s %-6s %s\n", e.Timestamp.Format("15:04:05"), e.Kind.Label(), tview.Escape(e.Message))
	}
	d.activity.SetTitle(accentText(fmt.Sprintf("Activity (%d)", seq)))
	d.activity.SetText(b.String())
	d.activity.ScrollToEnd()
}

func exportEventLine(st export.Status) string {
	switch st.State {
	case export.Running:
		return fmt.Sprintf("attempt %d running for %s", st.Attempt, st.Selection.Experiment)
	case export.Succeeded:
		return fmt.Sprintf("attempt %d succeeded: %s", st.Attempt, st.Filename)
	case export.Failed:
		return fmt.Sprintf("attempt %d failed: %v", st.Attempt, st.Err)
	default:
		return "idle"
	}
}

func panelTitle(p compose.Panel) string {
	if p.Title != "" {
		return p.Title
	}
	return p.ID
}

// panelHeight is a fixed row count, or 0 to share remaining space.
func panelHeight(kind compose.Kind) int {
	switch kind {
	case compose.KindCard:
		return 6
	case compose.KindButtonGroup:
		return 3
	default:
		return 0
	}
}

func setBoxText(tv *tview.TextView, text string) {
	if tv == nil {
		return
	}
	tv.SetText(text)
}

func buildFooter() *tview.TextView {
	return tview.NewTextView().SetDynamicColors(true).SetText(
		accentText("F1") + "Help  " + accentText("F2") + "Overview  " + accentText("F3") + "Export  " + accentText("F4") + "Activity  [Q]Quit",
	)
}

func buildHelpOverlay() tview.Primitive {
	help := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	help.SetText(strings.TrimSpace(fmt.Sprintf(`
KEYBOARD HELP

NAVIGATION
  %sF1%s Help   %sF2%s Overview   %sF3%s Export   %sF4%s Activity
  q / Ctrl+C Quit

OVERVIEW
  Tab / Shift+Tab Focus panel   Up/Down PageUp/PageDown Scroll
  c Clear event logs   x Clear charts

EXPORT
  Tab moves between fields, Enter toggles or submits
`, accentTag, accentReset, accentTag, accentReset, accentTag, accentReset, accentTag, accentReset)))
	help.SetBorder(true).SetTitle("Help")
	help.SetBorderColor(uiBorderColor)
	help.SetTitleColor(uiTitleColor)
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(help, 15, 1, true).
			AddItem(nil, 0, 1, false),
			64, 1, true).
		AddItem(nil, 0, 1, false)
}
