package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/quotabar/quotabar/internal/config"
	"github.com/quotabar/quotabar/internal/localstats"
	"github.com/quotabar/quotabar/internal/usage"
)

// Controls is the slice of the scheduler the UI drives.
type Controls interface {
	RefreshNow()
	SetInterval(time.Duration)
	Interval() time.Duration
}

// Snapshots is the slice of the publisher the UI reads.
type Snapshots interface {
	Current() *usage.Snapshot
	Updates() <-chan *usage.Snapshot
}

type Options struct {
	Snapshots Snapshots
	Controls  Controls
	// Order and DisplayNames come from the provider registry.
	Order        []string
	DisplayNames map[string]string
	NoColor      bool
	AltScreen    bool
}

// drainInterval is how often the UI drains pending snapshots and
// refreshes clocks. Publishes between drains coalesce to the newest.
const drainInterval = 250 * time.Millisecond

type Model struct {
	snapshots    Snapshots
	controls     Controls
	order        []string
	displayNames map[string]string

	width  int
	height int
	now    time.Time

	refreshing bool
	snap       *usage.Snapshot

	bar    progress.Model
	styles styles
}

type styles struct {
	title   lipgloss.Style
	dim     lipgloss.Style
	panel   lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	crit    lipgloss.Style
	accent  lipgloss.Style
	error   lipgloss.Style
	loading lipgloss.Style
}

type drainTickMsg struct {
	at time.Time
}

func NewModel(opts Options) Model {
	bar := progress.New(progress.WithSolidFill("63"), progress.WithoutPercentage())
	if opts.NoColor {
		bar = progress.New(progress.WithSolidFill("7"), progress.WithoutPercentage())
	}
	return Model{
		snapshots:    opts.Snapshots,
		controls:     opts.Controls,
		order:        opts.Order,
		displayNames: opts.DisplayNames,
		now:          time.Now(),
		refreshing:   true,
		bar:          bar,
		styles:       defaultStyles(opts.NoColor),
	}
}

func defaultStyles(noColor bool) styles {
	basePanel := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if noColor {
		bold := lipgloss.NewStyle().Bold(true)
		return styles{
			title: bold, dim: lipgloss.NewStyle(), panel: basePanel,
			label: bold, value: lipgloss.NewStyle(),
			ok: bold, warn: bold, crit: bold, accent: bold,
			error: bold, loading: lipgloss.NewStyle(),
		}
	}
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("24")).Padding(0, 1),
		dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		panel:   basePanel.BorderForeground(lipgloss.Color("61")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("109")),
		value:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		ok:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warn:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		crit:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		accent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		loading: lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
	}
}

func (m Model) Init() tea.Cmd {
	return drainCmd()
}

func drainCmd() tea.Cmd {
	return tea.Tick(drainInterval, func(t time.Time) tea.Msg {
		return drainTickMsg{at: t}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			m.refreshing = true
			m.controls.RefreshNow()
		case "1":
			m.controls.SetInterval(1 * time.Minute)
		case "2":
			m.controls.SetInterval(5 * time.Minute)
		case "3":
			m.controls.SetInterval(15 * time.Minute)
		}
	case tea.WindowSizeMsg:
		m.width = v.Width
		m.height = v.Height
	case drainTickMsg:
		m.now = v.at
		m.drainSnapshots()
		return m, drainCmd()
	}
	return m, nil
}

// drainSnapshots consumes every pending publish, keeping the newest.
func (m *Model) drainSnapshots() {
	for {
		select {
		case snap := <-m.snapshots.Updates():
			m.snap = snap
			m.refreshing = false
		default:
			if m.snap == nil {
				if cur := m.snapshots.Current(); cur != nil {
					m.snap = cur
					m.refreshing = false
				}
			}
			return
		}
	}
}

func (m Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "initializing..."
	}

	header := m.renderHeader()
	body := m.renderBody()
	hint := m.styles.dim.Render("r refresh · 1/2/3 interval · q quit")

	top := lipgloss.JoinVertical(lipgloss.Left, header, body, "")
	combined := pinFooterToBottom(top, hint, m.height)
	return clipToViewport(combined, m.width, m.height)
}

func (m Model) renderHeader() string {
	title := m.styles.title.Render(" quotabar ")

	stateText := "idle"
	stateStyle := m.styles.dim
	switch {
	case m.refreshing:
		stateText = "refreshing"
		stateStyle = m.styles.loading
	case m.snap != nil && m.snap.Stale(m.now):
		stateText = "stale"
		stateStyle = m.styles.warn
	case m.snap != nil:
		stateText = "live"
		stateStyle = m.styles.ok
	}

	left := title + "  " + m.styles.label.Render("state: ") + stateStyle.Render(stateText)
	left += " " + m.styles.dim.Render("[every "+humanDuration(m.controls.Interval())+"]")
	if m.snap != nil {
		next := m.controls.Interval() - m.now.Sub(m.snap.CapturedAt)
		if next < 0 {
			next = 0
		}
		left += " " + m.styles.dim.Render("[next in "+humanDuration(next)+"]")
	}
	right := m.styles.dim.Render(m.now.Format("2006-01-02 15:04:05"))
	return joinWithPaddingKeepRight(left, right, m.width)
}

func (m Model) renderBody() string {
	contentWidth := max(20, m.width-4)
	if m.snap == nil {
		return m.styles.panel.Width(contentWidth).Render(
			m.styles.loading.Render("waiting for first refresh..."))
	}

	panels := make([]string, 0, len(m.order)+1)
	for _, id := range m.order {
		pu, ok := m.snap.Providers[id]
		if !ok {
			continue
		}
		panels = append(panels, m.renderProviderPanel(id, pu, contentWidth))
	}
	if m.snap.LocalStats != nil {
		panels = append(panels, m.renderLocalStatsLine(contentWidth))
	}
	return lipgloss.JoinVertical(lipgloss.Left, panels...)
}

func (m Model) renderProviderPanel(id string, pu usage.ProviderUsage, maxWidth int) string {
	name := m.displayNames[id]
	if name == "" {
		name = id
	}

	lines := []string{m.styles.accent.Render(name)}
	switch {
	case pu.Err != "":
		lines = append(lines, m.styles.error.Render("error: "+pu.Err))
	case pu.NotConfigured():
		lines = append(lines, m.styles.dim.Render("not configured"))
	default:
		barWidth := max(10, min(30, maxWidth-44))
		bar := m.bar
		bar.Width = barWidth
		for _, row := range pu.Rows {
			pctText := percentStyle(row.Pct, m.styles).Render(fmt.Sprintf("%3d%%", row.Pct))
			line := fmt.Sprintf("%-16s %s %s",
				row.Label,
				bar.ViewAs(float64(row.Pct)/100),
				pctText)
			if row.ResetStr != "" {
				line += "  " + m.styles.dim.Render(row.ResetStr)
			}
			lines = append(lines, line)
		}
		if pu.Detail != "" {
			lines = append(lines, m.styles.dim.Render(pu.Detail))
		}
	}

	for i := range lines {
		lines[i] = ansi.Truncate(lines[i], max(4, maxWidth-4), "...")
	}
	return m.styles.panel.Width(maxWidth).Render(strings.Join(lines, "\n"))
}

func (m Model) renderLocalStatsLine(maxWidth int) string {
	ls := m.snap.LocalStats
	line := m.styles.label.Render("local agent: ") + m.styles.value.Render(fmt.Sprintf(
		"%s msgs today · %s msgs this week",
		localstats.FormatCount(ls.TodayMessages),
		localstats.FormatCount(ls.WeekMessages)))
	return ansi.Truncate(line, maxWidth, "...")
}

// percentStyle maps a percentage onto the warn and crit display tiers.
func percentStyle(percent int, st styles) lipgloss.Style {
	switch {
	case percent >= config.CritThreshold:
		return st.crit
	case percent >= config.WarnThreshold:
		return st.warn
	default:
		return st.ok
	}
}

func Run(opts Options) error {
	model := NewModel(opts)
	progOpts := []tea.ProgramOption{}
	if opts.AltScreen {
		progOpts = append(progOpts, tea.WithAltScreen())
	}
	prog := tea.NewProgram(model, progOpts...)
	_, err := prog.Run()
	return err
}

func joinWithPaddingKeepRight(left, right string, width int) string {
	if width <= 0 {
		return ""
	}
	rightWidth := lipgloss.Width(right)
	if rightWidth >= width {
		return truncateRunes(right, width)
	}
	maxLeftWidth := width - rightWidth - 1
	if maxLeftWidth < 0 {
		maxLeftWidth = 0
	}
	left = truncateRunes(left, maxLeftWidth)
	leftWidth := lipgloss.Width(left)
	padding := width - leftWidth - rightWidth
	if padding < 1 {
		padding = 1
	}
	return left + strings.Repeat(" ", padding) + right
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	return ansi.Truncate(s, maxRunes, "")
}

func clipToViewport(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i := range lines {
		lines[i] = truncateRunes(lines[i], width)
		pad := width - lipgloss.Width(lines[i])
		if pad > 0 {
			lines[i] += strings.Repeat(" ", pad)
		}
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func pinFooterToBottom(top, footer string, height int) string {
	if height <= 0 {
		return ""
	}
	footerLines := []string{}
	if footer != "" {
		footerLines = strings.Split(footer, "\n")
	}
	topLines := []string{}
	if top != "" {
		topLines = strings.Split(top, "\n")
	}

	maxTopLines := height - len(footerLines)
	if maxTopLines < 0 {
		maxTopLines = 0
	}
	if len(topLines) > maxTopLines {
		topLines = topLines[:maxTopLines]
	}
	for len(topLines) < maxTopLines {
		topLines = append(topLines, "")
	}

	all := append(topLines, footerLines...)
	if len(all) == 0 {
		return ""
	}
	return strings.Join(all, "\n")
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return d.String()
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
