package ui

import (
	"labdash/compose"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	uiBorderColor  = tcell.ColorGray
	uiTitleColor   = tcell.ColorHotPink
	uiFocusedColor = tcell.ColorHotPink
)

// panelBox is the bordered view drawing one composed panel.
type panelBox struct {
	panelID string
	kind    compose.Kind
	title   string
	rows    int // fixed height in the side column; 0 shares the space
	view    *tview.TextView
}

func newPanelBox(p compose.Panel) *panelBox {
	title := panelTitle(p)
	view := newBoxedTextView(title)
	view.SetScrollable(true)
	return &panelBox{panelID: p.ID, kind: p.Kind, title: title, rows: panelHeight(p.Kind), view: view}
}

func (b *panelBox) highlight(on bool) {
	if on {
		b.view.SetBorderColor(uiFocusedColor)
		b.view.SetTitle(accentText("> " + b.title))
		return
	}
	b.view.SetBorderColor(uiBorderColor)
	b.view.SetTitle(accentText(b.title))
}

// panelFocus is the Tab order over the overview's panel boxes.
type panelFocus struct {
	boxes   []*panelBox
	current int
}

// focusAt highlights box i and hands it keyboard focus when app is set.
func (f *panelFocus) focusAt(app *tview.Application, i int) {
	if len(f.boxes) == 0 {
		return
	}
	if i < 0 || i >= len(f.boxes) {
		i = 0
	}
	f.current = i
	for j, b := range f.boxes {
		b.highlight(j == i)
	}
	if app != nil {
		app.SetFocus(f.boxes[i].view)
	}
}

func (f *panelFocus) step(app *tview.Application, delta int) {
	if n := len(f.boxes); n > 0 {
		f.focusAt(app, ((f.current+delta)%n+n)%n)
	}
}

// scrollFocused scrolls whichever box holds focus. Only chart, table and
// card boxes are in the ring, so focus on anything else is ignored.
func (f *panelFocus) scrollFocused(app *tview.Application, event *tcell.EventKey) bool {
	if app == nil || event == nil {
		return false
	}
	focused := app.GetFocus()
	for _, b := range f.boxes {
		if tview.Primitive(b.view) == focused {
			return scrollTextView(b.view, event)
		}
	}
	return false
}

func newBoxedTextView(title string) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true).SetBorderColor(uiBorderColor)
	tv.SetTitleColor(uiTitleColor).SetTitleAlign(tview.AlignLeft)
	if title != "" {
		tv.SetTitle(accentText(title))
	}
	return tv
}

// scrollTextView moves a text view by line, page or to either end. Arrow,
// paging and Home/End keys work, as do j and k.
func scrollTextView(tv *tview.TextView, event *tcell.EventKey) bool {
	if tv == nil || event == nil {
		return false
	}
	row, col := tv.GetScrollOffset()
	page := 10
	if _, _, _, h := tv.GetInnerRect(); h > 1 {
		page = h - 1
	}
	key := event.Key()
	if key == tcell.KeyRune {
		switch event.Rune() {
		case 'j':
			key = tcell.KeyDown
		case 'k':
			key = tcell.KeyUp
		}
	}
	switch key {
	case tcell.KeyUp:
		row--
	case tcell.KeyDown:
		row++
	case tcell.KeyPgUp:
		row -= page
	case tcell.KeyPgDn:
		row += page
	case tcell.KeyHome:
		row = 0
	case tcell.KeyEnd:
		tv.ScrollToEnd()
		return true
	default:
		return false
	}
	tv.ScrollTo(max(row, 0), col)
	return true
}
