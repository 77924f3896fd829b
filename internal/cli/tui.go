package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/masonry"
	"github.com/matzehuels/masonry/pkg/notify"
)

// lineHeight is the px height of one terminal line, used to turn scroll
// offsets into sentinel distances.
const lineHeight = 16

// chromeLines are taken by the header and footer of the browse view.
const chromeLines = 4

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	cardBodyStyle  = lipgloss.NewStyle().Foreground(colorGray)
	statusStyle    = lipgloss.NewStyle().Foreground(colorGray)
	errorStyle     = lipgloss.NewStyle().Foreground(colorRed)
)

// browseCommand creates the interactive browse command.
func (c *CLI) browseCommand() *cobra.Command {
	var (
		src     sourceFlags
		lf      layoutFlags
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Scroll through a feed in a terminal masonry view",
		Long: `Scroll through a feed in a terminal masonry view.

The terminal width drives the column planner and scrolling near the top or
bottom loads the adjacent page, keeping at most max_page_gap+1 pages loaded.

Keys: j/k scroll, space/b page, g/G top/bottom, n/p load next/previous,
r retry a failed fetch, q quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := lf.apply(cmd, &cfg, c); err != nil {
				return err
			}
			return c.runBrowse(cmd.Context(), cfg, src, logFile)
		},
	}

	src.register(cmd)
	lf.register(cmd)
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to a file while the view is open")

	return cmd
}

// runBrowse wires terminal events into an engine through notifier hubs and
// runs the view until the user quits.
func (c *CLI) runBrowse(ctx context.Context, cfg masonry.Config, src sourceFlags, logFile string) error {
	// The alternate screen owns the terminal; keep logs out of it.
	logger := newLogger(io.Discard, c.Logger.GetLevel())
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = newLogger(f, c.Logger.GetLevel())
	}

	provider, cleanup, err := c.newProvider(ctx, cfg, src)
	if err != nil {
		return err
	}
	defer cleanup()

	viewport := notify.NewViewportHub()
	visibility := notify.NewVisibilityHub()
	defer viewport.Close()
	defer visibility.Close()

	engine, err := masonry.NewEngine(cfg, masonry.EngineOptions{
		Provider:   provider,
		Viewport:   viewport,
		Visibility: visibility,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	m := newBrowseModel(engine, viewport, visibility)
	m.ctx = ctx
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	unsubscribe := engine.Subscribe(func(s masonry.State) { p.Send(stateMsg(s)) })
	defer unsubscribe()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run browser: %w", err)
	}
	return ctx.Err()
}

// =============================================================================
// browseModel - Scrollable masonry view
// =============================================================================

// stateMsg carries a new engine state into the view.
type stateMsg masonry.State

// fetchDoneMsg reports the result of a fetch requested by a key press.
type fetchDoneMsg struct {
	action  string
	outcome feed.Outcome
	err     error
}

// browseModel is the bubbletea model of the browse command. Terminal
// resizes are published on the viewport hub and scroll positions on the
// visibility hub; the engine reacts and sends back states.
type browseModel struct {
	ctx        context.Context
	engine     *masonry.Engine
	viewport   *notify.Hub[notify.Size]
	visibility *notify.Hub[notify.Boundary]

	state  masonry.State
	lines  []string
	width  int
	height int
	offset int
	notice string
}

func newBrowseModel(engine *masonry.Engine, viewport *notify.Hub[notify.Size], visibility *notify.Hub[notify.Boundary]) browseModel {
	return browseModel{
		ctx:        context.Background(),
		engine:     engine,
		viewport:   viewport,
		visibility: visibility,
		height:     24,
	}
}

func (m browseModel) Init() tea.Cmd {
	return nil
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.rebuild()
		size := notify.Size{Width: float64(msg.Width * pxPerCell), Height: float64(msg.Height * lineHeight)}
		return m, tea.Batch(publish(m.viewport, size), m.boundaries())

	case stateMsg:
		prevLines := len(m.lines)
		m.state = masonry.State(msg)
		m.rebuild()
		if len(m.lines) != prevLines {
			return m, m.boundaries()
		}
		return m, nil

	case fetchDoneMsg:
		switch {
		case msg.err != nil:
			m.notice = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		case msg.outcome != feed.Applied:
			m.notice = fmt.Sprintf("%s: %s", msg.action, msg.outcome)
		default:
			m.notice = ""
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "down", "j":
			return m.scroll(1)
		case "up", "k":
			return m.scroll(-1)
		case "pgdown", " ", "f":
			return m.scroll(m.viewRows())
		case "pgup", "b":
			return m.scroll(-m.viewRows())
		case "home", "g":
			return m.scroll(-m.offset)
		case "end", "G":
			return m.scroll(len(m.lines))
		case "n":
			return m, m.fetch("load more", m.engine.LoadMore)
		case "p":
			return m, m.fetch("load previous", m.engine.LoadPrevious)
		case "r":
			return m, m.fetch("retry", m.engine.Retry)
		}
	}
	return m, nil
}

func (m browseModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render(appName))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render(m.status()))
	b.WriteString("\n\n")

	end := min(m.offset+m.viewRows(), len(m.lines))
	for i := m.offset; i < end; i++ {
		b.WriteString(m.lines[i])
		b.WriteString("\n")
	}
	for i := end - m.offset; i < m.viewRows(); i++ {
		b.WriteString("\n")
	}

	switch {
	case m.state.Err != nil:
		b.WriteString(errorStyle.Render("error: " + m.state.Err.Error() + " (r to retry)"))
	case m.notice != "":
		b.WriteString(StyleDim.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(StyleDim.Render("j/k scroll  space/b page  n/p load  r retry  q quit"))
	return b.String()
}

// scroll moves the view by delta lines and reports both sentinel
// distances.
func (m browseModel) scroll(delta int) (tea.Model, tea.Cmd) {
	maxOffset := max(len(m.lines)-m.viewRows(), 0)
	m.offset = min(max(m.offset+delta, 0), maxOffset)
	return m, m.boundaries()
}

// boundaries publishes the distance of the top and bottom sentinels.
func (m browseModel) boundaries() tea.Cmd {
	if len(m.lines) == 0 {
		return nil
	}
	top, bottom := m.distances()
	return tea.Batch(
		publish(m.visibility, notify.Boundary{Edge: notify.Top, Distance: top}),
		publish(m.visibility, notify.Boundary{Edge: notify.Bottom, Distance: bottom}),
	)
}

// distances returns how far the viewport is from the first and last
// content line in px.
func (m browseModel) distances() (top, bottom float64) {
	below := len(m.lines) - m.offset - m.viewRows()
	return float64(m.offset * lineHeight), float64(max(below, 0) * lineHeight)
}

func (m browseModel) fetch(action string, fn func(context.Context) (feed.Outcome, error)) tea.Cmd {
	return func() tea.Msg {
		outcome, err := fn(m.ctx)
		return fetchDoneMsg{action: action, outcome: outcome, err: err}
	}
}

func (m *browseModel) rebuild() {
	m.lines = renderCards(m.state, columnCellWidth(float64(m.width*pxPerCell), m.state.ColumnCount))
	m.offset = min(m.offset, max(len(m.lines)-m.viewRows(), 0))
}

func (m browseModel) viewRows() int {
	return max(m.height-chromeLines, 1)
}

func (m browseModel) status() string {
	s := m.state
	parts := []string{
		fmt.Sprintf("%d items", len(s.Items)),
		fmt.Sprintf("%d cols", s.ColumnCount),
	}
	if !s.Range.Empty() {
		parts = append(parts, "pages "+s.Range.String())
	}
	if s.Meta.TotalPages > 0 {
		parts = append(parts, fmt.Sprintf("of %d", s.Meta.TotalPages))
	}
	switch {
	case s.FetchingBackward:
		parts = append(parts, "loading previous…")
	case s.FetchingForward:
		parts = append(parts, "loading more…")
	case s.Loading:
		parts = append(parts, "loading…")
	}
	return strings.Join(parts, " · ")
}

// publish returns a command that publishes v on hub. Publishing runs off
// the update loop because hub callbacks may block on the engine.
func publish[T any](hub *notify.Hub[T], v T) tea.Cmd {
	return func() tea.Msg {
		hub.Publish(v)
		return nil
	}
}

// =============================================================================
// Card Rendering
// =============================================================================

// renderCards draws every column as a stack of cards and returns the
// joined view split into lines.
func renderCards(s masonry.State, cellWidth int) []string {
	if s.ColumnCount == 0 || len(s.Items) == 0 {
		return nil
	}

	inner := max(cellWidth-4, 4)
	cols := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		cards := make([]string, len(col))
		for j, it := range col {
			cards[j] = renderCard(it, inner)
		}
		cols[i] = lipgloss.NewStyle().Width(cellWidth).Render(lipgloss.JoinVertical(lipgloss.Left, cards...))
	}
	view := lipgloss.JoinHorizontal(lipgloss.Top, cols...)
	return strings.Split(view, "\n")
}

// renderCard draws one item. Taller items get more body lines so the
// columns keep their relative heights.
func renderCard(it feed.Item, width int) string {
	body := cardBodyLines(it)
	lines := make([]string, 0, body+1)
	lines = append(lines, cardTitleStyle.Render(truncate(itemLabel(it), width)))
	desc := truncate(it.Description, width)
	for i := range body {
		if i == 0 && desc != "" {
			lines = append(lines, cardBodyStyle.Render(desc))
			continue
		}
		lines = append(lines, "")
	}
	return cardStyle.Width(width + 2).Render(strings.Join(lines, "\n"))
}

// cardBodyLines maps an item height to between 1 and 6 body lines.
func cardBodyLines(it feed.Item) int {
	if it.Height <= 0 {
		return 1
	}
	return min(max(int(it.Height/(4*lineHeight)), 1), 6)
}
