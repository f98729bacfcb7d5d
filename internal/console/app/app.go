// Package app is the operator console: it holds the tag listener
// connection, drives scan commands and shows the daemon's session state.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/operator-mobile/tagscan/internal/console/client"
	"github.com/operator-mobile/tagscan/internal/console/theme"
)

const defaultPollInterval = time.Second

// Commander issues commands to the daemon.
type Commander interface {
	Enable() error
	Disable() error
	Lifecycle(phase string) error
	Status() (*client.Status, error)
}

// Feed is the listener connection.
type Feed interface {
	Listen(ctx context.Context) tea.Cmd
	ReadLoop(ctx context.Context) tea.Cmd
}

type Options struct {
	// ForwardFocus reports terminal focus changes as host lifecycle
	// transitions.
	ForwardFocus bool
	PollInterval time.Duration
}

type statusMsg struct {
	status *client.Status
	err    error
}

type commandMsg struct {
	op  string
	err error
}

type pollMsg time.Time

// Model is the root Bubble Tea model.
type Model struct {
	feed   Feed
	cmds   Commander
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	keys  KeyMap
	help  help.Model
	width int

	connected bool
	focused   bool
	status    *client.Status
	lastTag   *client.Delivery
	tags      int
	lastOp    string
	err       error
}

// New creates the root model.
func New(feed Feed, cmds Commander, opts Options) Model {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		feed:    feed,
		cmds:    cmds,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		focused: true,
	}
}

// Init starts the listener connection and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.feed.Listen(m.ctx), m.refresh(), m.poll())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.FocusMsg:
		m.focused = true
		if m.opts.ForwardFocus {
			return m, m.command("resumed", func() error { return m.cmds.Lifecycle("resumed") })
		}
		return m, nil

	case tea.BlurMsg:
		m.focused = false
		if m.opts.ForwardFocus {
			return m, m.command("paused", func() error { return m.cmds.Lifecycle("paused") })
		}
		return m, nil

	case client.WSConnectedMsg:
		m.connected = true
		return m, tea.Batch(m.feed.ReadLoop(m.ctx), m.refresh())

	case client.WSDisconnectedMsg:
		m.connected = false
		return m, m.feed.Listen(m.ctx)

	case client.WSTagMsg:
		d := msg.Delivery
		m.lastTag = &d
		m.tags++
		return m, tea.Batch(m.feed.ReadLoop(m.ctx), m.refresh())

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = msg.status
		return m, nil

	case commandMsg:
		m.lastOp = msg.op
		m.err = msg.err
		return m, m.refresh()

	case pollMsg:
		return m, tea.Batch(m.refresh(), m.poll())
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Enable):
		return m, m.command("enable", m.cmds.Enable)

	case key.Matches(msg, m.keys.Disable):
		return m, m.command("disable", m.cmds.Disable)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.refresh()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	return m, nil
}

func (m Model) command(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return commandMsg{op: op, err: fn()}
	}
}

func (m Model) refresh() tea.Cmd {
	cmds := m.cmds
	return func() tea.Msg {
		st, err := cmds.Status()
		return statusMsg{status: st, err: err}
	}
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(m.opts.PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// View renders the console.
func (m Model) View() string {
	sections := []string{
		m.renderHeader(),
		m.renderSession(),
		m.renderTag(),
	}
	if m.err != nil {
		sections = append(sections, theme.StyleError.Render("  error: "+m.err.Error()))
	}
	sections = append(sections, "  "+m.help.View(m.keys))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	var conn string
	if m.connected {
		conn = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Listening")
	} else {
		conn = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}
	focus := theme.StyleDimmed.Render("unfocused")
	if m.focused {
		focus = theme.StyleDimmed.Render("focused")
	}
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	header := theme.StyleHeader.Render(" tagscan") + sep + conn + sep + focus
	if m.lastOp != "" {
		header += sep + theme.StyleDimmed.Render("last: "+m.lastOp)
	}
	return header
}

func (m Model) renderSession() string {
	if m.status == nil {
		return theme.StyleBorder.Render(theme.StyleDimmed.Render("no status yet"))
	}
	st := m.status
	state := lipgloss.NewStyle().Foreground(theme.StateColor(st.State)).
		Render(theme.StateGlyph(st.State) + " " + st.State)

	session := st.SessionID
	if session == "" {
		session = "-"
	}

	lines := []string{
		fmt.Sprintf("state     %s", state),
		fmt.Sprintf("session   %s", session),
		fmt.Sprintf("armed %s  reception %s  foreground %s  listener %s  retry %s",
			theme.Flag(st.Armed), theme.Flag(st.ReceptionActive), theme.Flag(st.Foreground),
			theme.Flag(st.ListenerAttached), theme.Flag(st.RetryPending)),
		theme.StyleDimmed.Render(fmt.Sprintf("sessions %d  delivered %d  duplicates %d  stale %d  retries %d  dropped %d",
			st.Counters.Sessions, st.Counters.Delivered, st.Counters.IgnoredDuplicates,
			st.Counters.IgnoredStale, st.Counters.Retries, st.Counters.Dropped)),
	}
	return theme.StyleBorder.Render(strings.Join(lines, "\n"))
}

func (m Model) renderTag() string {
	if m.lastTag == nil {
		return theme.StyleDimmed.Render("  waiting for a tag")
	}
	ts := ""
	if !m.lastTag.TS.IsZero() {
		ts = theme.StyleDimmed.Render(" at " + m.lastTag.TS.Local().Format("15:04:05"))
	}
	return "  last tag " + theme.StyleTag.Render(m.lastTag.UID) + ts +
		theme.StyleDimmed.Render(fmt.Sprintf("  (%d received)", m.tags))
}
