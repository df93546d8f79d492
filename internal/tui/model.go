// Package tui is the terminal control panel: camera controls on keys, live
// session state, and a character preview of the frame buffer.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cjeanneret/simcam/internal/diag/memwatch"
	"github.com/cjeanneret/simcam/internal/display"
	"github.com/cjeanneret/simcam/internal/framebuf"
	"github.com/cjeanneret/simcam/internal/logic/acquisition"
	"github.com/cjeanneret/simcam/internal/logic/session"
)

// RefreshInterval is how often the panel polls state and the redraw signal.
const RefreshInterval = 100 * time.Millisecond

// ExposureStep is the change applied by one exposure key press.
const ExposureStep = 5

const (
	defaultPreviewCols = 64
	defaultPreviewRows = 20
)

// Controller is the camera session as seen by the panel.
type Controller interface {
	Connect(index int) bool
	SetExposure(value int)
	SetTriggerMode(enabled bool)
	SoftwareTrigger()
	ToggleBugSimulation() bool
	Snapshot() session.State
	LoopStats() acquisition.Stats
}

// Config wires the panel to the rest of the program.
type Config struct {
	Buffer      *framebuf.Buffer
	Signal      *display.Signal                // polled, never waited on
	Memory      func() (memwatch.Sample, bool) // optional
	CameraIndex int
}

type refreshMsg time.Time

func refresh() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

var (
	colorBorder = lipgloss.Color("#4b5563")
	colorDimmed = lipgloss.Color("#6b7280")
	colorOn     = lipgloss.Color("#22c55e")
	colorOff    = lipgloss.Color("#9ca3af")
	colorAlert  = lipgloss.Color("#dc2626")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f9fafb")).Background(lipgloss.Color("#1d4ed8")).Padding(0, 1)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorBorder).Padding(0, 1)
	labelStyle   = lipgloss.NewStyle().Foreground(colorDimmed).Width(14)
	onStyle      = lipgloss.NewStyle().Foreground(colorOn).Bold(true)
	offStyle     = lipgloss.NewStyle().Foreground(colorOff)
	alertStyle   = lipgloss.NewStyle().Foreground(colorAlert).Bold(true)
	messageStyle = lipgloss.NewStyle().Foreground(colorDimmed).Italic(true)
)

// Model is the root Bubble Tea model.
type Model struct {
	ctrl   Controller
	buf    *framebuf.Buffer
	signal *display.Signal
	memory func() (memwatch.Sample, bool)

	keys KeyMap
	help help.Model

	width  int
	height int

	index   int
	state   session.State
	stats   acquisition.Stats
	mem     memwatch.Sample
	haveMem bool
	memLog  []memwatch.Sample
	message string

	lastGen uint64
	preview string
	scratch []byte
}

// New creates the panel model.
func New(ctrl Controller, cfg Config) Model {
	m := Model{
		ctrl:   ctrl,
		buf:    cfg.Buffer,
		signal: cfg.Signal,
		memory: cfg.Memory,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		index:  cfg.CameraIndex,
	}
	m.state = ctrl.Snapshot()
	return m
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return refresh()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.lastGen = 0 // re-render the preview at the new size
		m.poll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case refreshMsg:
		m.poll()
		return m, refresh()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.Index):
		m.index = int(msg.String()[0] - '0')
		m.message = fmt.Sprintf("Camera index %d selected", m.index)

	case key.Matches(msg, m.keys.Connect):
		if m.ctrl.Connect(m.index) {
			m.message = fmt.Sprintf("Camera %d connected", m.index)
		} else {
			m.message = fmt.Sprintf("Camera %d not available", m.index)
		}

	case key.Matches(msg, m.keys.ExposureUp):
		m.setExposure(m.state.Exposure + ExposureStep)
		m.requireConnection()

	case key.Matches(msg, m.keys.ExposureDown):
		m.setExposure(m.state.Exposure - ExposureStep)
		m.requireConnection()

	case key.Matches(msg, m.keys.TriggerMode):
		m.ctrl.SetTriggerMode(!m.state.TriggerMode)
		m.requireConnection()

	case key.Matches(msg, m.keys.Trigger):
		m.ctrl.SoftwareTrigger()
		m.message = "Software trigger sent"
		m.requireConnection()

	case key.Matches(msg, m.keys.Bug):
		if m.ctrl.ToggleBugSimulation() {
			m.message = "Bug simulation ON: memory will leak"
		} else {
			m.message = "Bug simulation OFF"
		}

	default:
		return m, nil
	}

	m.state = m.ctrl.Snapshot()
	return m, nil
}

// requireConnection notes that a control was dropped by the session gate.
func (m *Model) requireConnection() {
	if !m.state.Connected {
		m.message = "Not connected: press c"
	}
}

// setExposure keeps the panel's steps inside the slider range 0-100.
func (m *Model) setExposure(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	m.ctrl.SetExposure(v)
}

// poll refreshes state and re-renders the preview if a new frame landed.
func (m *Model) poll() {
	m.state = m.ctrl.Snapshot()
	m.stats = m.ctrl.LoopStats()
	if m.memory != nil {
		m.mem, m.haveMem = m.memory()
		if m.haveMem {
			m.memLog = pushSample(m.memLog, m.mem)
		}
	}
	if m.buf == nil || m.signal == nil {
		return
	}
	gen := m.signal.Generation()
	if gen == m.lastGen {
		return
	}
	m.lastGen = gen
	m.scratch = m.buf.Snapshot(m.scratch)
	cols, rows := m.previewSize()
	m.preview = renderPreview(m.scratch, m.buf.Width(), m.buf.Height(), m.buf.Format(), cols, rows)
}

// previewSize fits the buffer's aspect ratio into the terminal, counting a
// character cell as twice as tall as it is wide.
func (m Model) previewSize() (int, int) {
	cols := defaultPreviewCols
	if m.width > 0 {
		cols = m.width - 40
		if cols < 16 {
			cols = 16
		}
	}
	rows := defaultPreviewRows
	if m.buf != nil && m.buf.Width() > 0 {
		rows = cols * m.buf.Height() / m.buf.Width() / 2
	}
	if m.height > 0 && rows > m.height-8 {
		rows = m.height - 8
	}
	if rows < 4 {
		rows = 4
	}
	return cols, rows
}

func (m Model) chartWidth() int {
	if m.width > 0 {
		return m.width - 6
	}
	return defaultPreviewCols
}

func onOff(on bool) string {
	if on {
		return onStyle.Render("ON")
	}
	return offStyle.Render("off")
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

// View renders the panel.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("simcam"))
	if id := m.state.ID; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		b.WriteString(" " + messageStyle.Render("session "+id))
	}
	b.WriteString("\n\n")

	connected := offStyle.Render("disconnected")
	if m.state.Connected {
		connected = onStyle.Render(fmt.Sprintf("camera %d", m.state.CameraIndex))
	}
	rows := []string{
		row("Connection", connected),
		row("Index", fmt.Sprintf("%d", m.index)),
		row("Loop", m.state.Loop),
		row("Exposure", fmt.Sprintf("%d", m.state.Exposure)),
		row("Trigger mode", onOff(m.state.TriggerMode)),
		row("Bug sim", onOff(m.state.BugSimulation)),
		"",
		row("Frames", fmt.Sprintf("%d", m.stats.Frames)),
		row("Unavailable", fmt.Sprintf("%d", m.stats.Unavailable)),
		row("Failures", fmt.Sprintf("%d", m.stats.Failures)),
	}
	if m.haveMem {
		growth := fmt.Sprintf("%+d", m.mem.Growth)
		if m.state.BugSimulation && m.mem.Growth > 0 {
			growth = alertStyle.Render(growth)
		}
		rows = append(rows,
			"",
			row("RSS", memwatch.FormatBytes(m.mem.RSS)),
			row("Growth", growth),
			row("Leaked", memwatch.FormatBytes(uint64(m.mem.LeakedBytes))),
		)
	}
	if m.stats.LastError != "" {
		rows = append(rows, "", alertStyle.Render(m.stats.LastError))
	}
	info := panelStyle.Render(strings.Join(rows, "\n"))

	preview := m.preview
	if preview == "" {
		preview = messageStyle.Render("no frame yet")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, info, " ", panelStyle.Render(preview)))
	b.WriteString("\n")

	if m.state.BugSimulation {
		if chart := renderMemChart(m.memLog, m.chartWidth(), memChartHeight); chart != "" {
			caption := labelStyle.Render("RSS MiB") + messageStyle.Render("last "+memSpan(m.memLog).String())
			b.WriteString(panelStyle.Render(caption+"\n"+chart) + "\n")
		}
	}

	if m.message != "" {
		b.WriteString(messageStyle.Render(m.message) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}
