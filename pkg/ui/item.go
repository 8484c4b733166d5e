package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/epli2/phantom/pkg/contentdetect"
	"github.com/epli2/phantom/pkg/trace"
)

// traceItem adapts *trace.HttpTrace to bubbles/list.Item.
type traceItem struct {
	t *trace.HttpTrace
}

func (i traceItem) FilterValue() string { return i.t.URL }

// traceDelegate renders one list row per trace: method, colored status,
// URL, and duration on a single line.
type traceDelegate struct{}

func (d traceDelegate) Height() int  { return 1 }
func (d traceDelegate) Spacing() int { return 0 }
func (d traceDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d traceDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(traceItem)
	if !ok {
		return
	}
	t := ti.t

	status := statusStyle.Foreground(statusColor(t.StatusCode)).Render(fmt.Sprintf("%3d", t.StatusCode))
	method := methodStyle.Render(fmt.Sprintf("%-7s", string(t.Method)))
	line := fmt.Sprintf("%s %s %s  %s", status, method, t.URL, t.Duration.Round(1e6))

	if index == m.Index() {
		line = lipgloss.NewStyle().Bold(true).Render("▸ " + line)
	} else {
		line = "  " + line
	}
	fmt.Fprint(w, line)
}

// renderBody renders a possibly-binary body for the detail pane: valid
// JSON is pretty-printed, anything else falls back through
// contentdetect's text/binary classification.
func renderBody(contentType string, body []byte) string {
	if len(body) == 0 {
		return "(empty)"
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		return strings.TrimRight(pretty.String(), "\n")
	}
	if contentdetect.IsBinary(contentType, body) {
		return fmt.Sprintf("(binary, %d bytes)", len(body))
	}
	s := string(body)
	return strings.TrimRight(s, "\n")
}
