// Package ui implements the terminal viewer: a bubbletea Elm-architecture
// Model ticked every 50ms, draining the shared capture Sink into the
// trace store and into an in-memory list, with a detail pane for the
// selected trace.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/epli2/phantom/pkg/trace"
)

// tickInterval is the period at which the UI loop drains the sink; key
// input and rendering are handled per message, independent of the tick.
const tickInterval = 50 * time.Millisecond

// maxDrainPerTick bounds how many queued traces one tick pulls from the
// sink, so a burst of traffic can't block rendering for an entire tick.
const maxDrainPerTick = 64

// maxPrefetch bounds how many persisted traces New loads from storage
// to seed the viewer before the first live trace arrives.
const maxPrefetch = 1000

// listWidthFraction is the list pane's share of the terminal width; the
// remainder goes to the detail pane.
const listWidthFraction = 0.45

type pane int

const (
	paneList pane = iota
	paneDetail
)

type tickMsg time.Time

// Model is the root bubbletea model for the interactive viewer.
type Model struct {
	ctx   context.Context
	sink  *trace.Sink
	store trace.TraceStore

	backendName string
	traceCount  int64

	list     list.Model
	traces   []*trace.HttpTrace
	selected *trace.HttpTrace
	active   pane

	width, height int
	quitting      bool

	persistErr error
}

// New constructs the viewer model and seeds it with up to maxPrefetch
// of the most recently persisted traces, so the list isn't empty while
// waiting for the capture backend to observe new traffic. store may be
// nil to disable persistence (the in-memory list still renders).
func New(ctx context.Context, sink *trace.Sink, store trace.TraceStore, backendName string) Model {
	l := list.New(nil, traceDelegate{}, 0, 0)
	l.Title = "traces"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(true)

	m := Model{
		ctx:         ctx,
		sink:        sink,
		store:       store,
		list:        l,
		active:      paneList,
		backendName: backendName,
	}
	m.prefetch()
	return m
}

// prefetch loads recent history from storage so the viewer opens with
// context instead of an empty list. ListRecent returns newest-first;
// traces are appended oldest-first so later live traces keep extending
// the list in chronological order.
func (m *Model) prefetch() {
	if m.store == nil {
		return
	}
	recent, err := m.store.ListRecent(m.ctx, maxPrefetch, 0)
	if err != nil {
		m.persistErr = err
		return
	}
	for i := len(recent) - 1; i >= 0; i-- {
		t := recent[i]
		m.traces = append(m.traces, t)
		m.list.InsertItem(len(m.list.Items()), traceItem{t: t})
	}
	m.traceCount += int64(len(recent))
}

func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(m.listWidth(), m.height-4)
		return m, nil

	case tickMsg:
		m.drain()
		return m, tickCmd()

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			if m.active == paneList {
				m.active = paneDetail
			} else {
				m.active = paneList
			}
			return m, nil
		case "enter":
			if sel, ok := m.list.SelectedItem().(traceItem); ok {
				m.selected = sel.t
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	if sel, ok := m.list.SelectedItem().(traceItem); ok {
		m.selected = sel.t
	}
	return m, cmd
}

// drain pulls up to maxDrainPerTick traces off the sink, persists each
// (recording the error in persistErr and continuing on failure), and
// appends it to the
// in-memory list.
func (m *Model) drain() {
	for i := 0; i < maxDrainPerTick; i++ {
		t, ok := m.sink.TryRecv()
		if !ok {
			return
		}
		if m.store != nil {
			if err := m.store.Insert(m.ctx, t); err != nil {
				m.persistErr = err
			}
		}
		m.traces = append(m.traces, t)
		m.list.InsertItem(len(m.list.Items()), traceItem{t: t})
		m.traceCount++
	}
}

func (m Model) listWidth() int {
	if m.width == 0 {
		return 60
	}
	return int(float64(m.width) * listWidthFraction)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "loading…"
	}

	status := statusBarStyle.Width(m.width).Render(
		fmt.Sprintf("phantom · backend: %s · traces: %d", m.backendName, m.traceCount))

	listPane := paneStyleFor(m.active == paneList).Width(m.listWidth() - 2).Height(m.height - 6).Render(m.list.View())
	detailPane := paneStyleFor(m.active == paneDetail).Width(m.width-m.listWidth()-4).Height(m.height - 6).Render(m.detailView())

	body := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
	help := helpStyle.Render("tab: switch pane · /: filter · enter: select · q: quit")
	return lipgloss.JoinVertical(lipgloss.Left, status, body, help)
}

func paneStyleFor(active bool) lipgloss.Style {
	if active {
		return activePaneStyle
	}
	return paneStyle
}

func (m Model) detailView() string {
	if m.selected == nil {
		return "no trace selected"
	}
	t := m.selected

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", t.Method, t.URL)
	fmt.Fprintf(&b, "status: %d   duration: %s   proto: %s\n\n", t.StatusCode, t.Duration, t.ProtocolVersion)

	b.WriteString("request headers:\n")
	writeHeaders(&b, t.RequestHeaders)
	b.WriteString("\nresponse headers:\n")
	writeHeaders(&b, t.ResponseHeaders)

	reqCT, _ := headerValue(t.RequestHeaders, "content-type")
	respCT, _ := headerValue(t.ResponseHeaders, "content-type")

	b.WriteString("\nrequest body:\n")
	b.WriteString(renderBody(reqCT, t.RequestBody))
	b.WriteString("\n\nresponse body:\n")
	b.WriteString(renderBody(respCT, t.ResponseBody))

	return b.String()
}

func writeHeaders(b *strings.Builder, h *trace.HeaderMap) {
	if h == nil {
		return
	}
	for _, k := range h.Keys() {
		v, _ := h.Get(k)
		fmt.Fprintf(b, "  %s: %s\n", k, v)
	}
}

func headerValue(h *trace.HeaderMap, key string) (string, bool) {
	if h == nil {
		return "", false
	}
	return h.Get(key)
}
