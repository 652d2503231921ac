// Package tui renders a terminal UI for interacting with a taskwright Runtime.
package tui

import (
	"context"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	glam "github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/taskwright/taskwright/internal/agentcore"
)

type eventMsg struct{ evt agentcore.RuntimeEvent }
type errMsg struct{ err error }

type transcriptKind int

const (
	itemPlain transcriptKind = iota
	itemUser
	itemAssistantMD
	itemPlan
)

type transcriptItem struct {
	kind transcriptKind
	text string // raw content; assistant content is markdown
}

// markdownRenderer is a minimal interface for rendering Markdown into ANSI.
// When nil, rendering falls back to returning the raw string.
type markdownRenderer interface {
	Render(s string) (string, error)
}

type model struct {
	agent   *agentcore.Runtime
	outputs <-chan agentcore.RuntimeEvent
	cancel  context.CancelFunc

	vp       viewport.Model
	ta       textarea.Model
	width    int
	height   int
	ready    bool
	lastType agentcore.EventType

	glam            markdownRenderer
	currentMD       strings.Builder
	currentRendered string
	lastRender      time.Time
	pendingRender   bool

	spin       spinner.Model
	requesting bool
	streaming  bool
	busy       bool
	flashFrame int

	border    lipgloss.Style
	userStyle lipgloss.Style
	planStyle lipgloss.Style

	items []transcriptItem

	planSteps []agentcore.PlanStep
	planIndex map[string]int
	executing map[string]bool

	planSnapshotIndex int
}

func newModel(agent *agentcore.Runtime, outputs <-chan agentcore.RuntimeEvent, cancel context.CancelFunc) *model {
	ta := textarea.New()
	ta.Placeholder = "Type a prompt… (Enter to send)"
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.Focus()
	km := ta.KeyMap
	km.InsertNewline = key.NewBinding(key.WithKeys("ctrl+j"))
	ta.KeyMap = km

	vp := viewport.Model{}
	vp.YPosition = 0
	vkm := viewport.DefaultKeyMap()
	vkm.HalfPageUp = key.NewBinding()
	vkm.HalfPageDown = key.NewBinding()
	vp.KeyMap = vkm

	m := model{
		agent:  agent,
		outputs: outputs,
		cancel: cancel,
		vp:     vp,
		ta:     ta,
		border: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")),
	}
	sp := spinner.New()
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
	m.spin = sp
	_ = m.rebuildRenderer(80)
	m.userStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("129")).
		Foreground(lipgloss.Color("252")).
		PaddingLeft(1).
		PaddingRight(1)
	m.planStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("129")).
		Foreground(lipgloss.Color("252")).
		PaddingLeft(1).
		PaddingRight(1)
	m.planSnapshotIndex = -1
	return &m
}

func waitForEvent(ch <-chan agentcore.RuntimeEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return errMsg{fmt.Errorf("runtime outputs closed")}
		}
		return eventMsg{evt: evt}
	}
}

func (m *model) renderTranscript() string {
	var out strings.Builder
	userWidth := m.vp.Width - 4
	if userWidth < 1 {
		userWidth = 1
	}
	for _, it := range m.items {
		switch it.kind {
		case itemPlan:
			out.WriteString(it.text)
			if !strings.HasSuffix(it.text, "\n") {
				out.WriteString("\n")
			}
		case itemUser:
			block := m.userStyle.Width(userWidth).Render(it.text)
			out.WriteString(block)
			if !strings.HasSuffix(block, "\n") {
				out.WriteString("\n")
			}
		case itemAssistantMD:
			if m.glam == nil {
				out.WriteString(it.text)
			} else if rendered, err := m.glam.Render(it.text); err == nil {
				out.WriteString(rendered)
			} else {
				out.WriteString(it.text)
			}
			if !strings.HasSuffix(out.String(), "\n") {
				out.WriteString("\n")
			}
		default:
			out.WriteString(it.text)
		}
	}
	return out.String()
}

func (m *model) refresh() {
	wasAtBottom := m.vp.AtBottom()

	content := m.renderTranscript()
	if m.currentRendered != "" {
		content += m.currentRendered
	}
	if m.vp.Height > 0 {
		lines := countRenderedLines(content)
		if lines < m.vp.Height {
			padding := strings.Repeat("\n", m.vp.Height-lines)
			content = padding + content
		}
	}
	m.vp.SetContent(content)
	if wasAtBottom || m.streaming {
		m.vp.GotoBottom()
	}
}

func countRenderedLines(s string) int {
	if s == "" {
		return 0
	}
	plain := stripANSI(s)
	n := strings.Count(plain, "\n")
	if strings.HasSuffix(plain, "\n") {
		return n
	}
	return n + 1
}

var ansiRegexp = regexp.MustCompile("\x1b\\[[0-9;]*[A-Za-z]")

func stripANSI(s string) string {
	return ansiRegexp.ReplaceAllString(s, "")
}

func (m *model) recalcLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	inner := m.width - 2
	if inner < 1 {
		inner = 1
	}
	m.ta.SetWidth(inner)
	reserve := 4
	vpH := m.height - reserve
	if vpH < 3 {
		vpH = 3
	}
	innerVP := m.width - 2
	if innerVP < 1 {
		innerVP = 1
	}
	m.vp.Width = innerVP
	m.vp.Height = vpH
	_ = m.rebuildRenderer(m.vp.Width - 2)
}

func (m *model) appendLine(s string) {
	m.items = append(m.items, transcriptItem{kind: itemPlain, text: s})
	m.refresh()
}

func (m *model) appendUserBlock(text string) {
	if n := len(m.items); n > 0 {
		last := m.items[n-1]
		if last.kind == itemPlain && !strings.HasSuffix(last.text, "\n") {
			m.items = append(m.items, transcriptItem{kind: itemPlain, text: "\n"})
		}
	}
	m.items = append(m.items, transcriptItem{kind: itemUser, text: text})
	m.refresh()
}

func (m *model) renderPlan() string {
	if len(m.planSteps) == 0 {
		return ""
	}
	var inner strings.Builder
	inner.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Render(""))
	inner.WriteString("\n")
	for _, step := range m.planSteps {
		id := step.ID
		title := strings.TrimSpace(step.Title)
		if title == "" {
			title = id
		}
		status := string(step.Status)
		if m.executing != nil && m.executing[id] {
			status = "executing"
		} else if status == "" {
			status = "pending"
		}
		var box, color string
		switch status {
		case string(agentcore.PlanCompleted):
			box, color = "⬤ ", "70"
		case string(agentcore.PlanFailed):
			box, color = "⬤ ", "196"
		case "executing":
			box, color = "⬤ ", "214"
		default:
			box, color = "⬤ ", "250"
			if len(step.WaitingForID) > 0 {
				color = "244"
			}
		}
		line := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(box)
		titleStyled := lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Render(" " + title)
		inner.WriteString(line)
		inner.WriteString(titleStyled)
		inner.WriteString("\n")
	}
	panelWidth := m.vp.Width - 4
	if panelWidth < 1 {
		panelWidth = 1
	}
	return m.planStyle.Width(panelWidth).Render(inner.String())
}

func (m *model) setPlan(steps []agentcore.PlanStep) {
	m.planSteps = make([]agentcore.PlanStep, len(steps))
	copy(m.planSteps, steps)
	m.planIndex = make(map[string]int, len(steps))
	for i, s := range m.planSteps {
		m.planIndex[s.ID] = i
	}
	if m.executing == nil {
		m.executing = make(map[string]bool)
	} else {
		for k := range m.executing {
			delete(m.executing, k)
		}
	}
	snapshot := m.renderPlan()
	m.items = append(m.items, transcriptItem{kind: itemPlan, text: snapshot})
	m.planSnapshotIndex = len(m.items) - 1
	m.recalcLayout()
}

func (m *model) updateStepStatus(stepID string, status any) {
	if m.planIndex == nil {
		return
	}
	idx, ok := m.planIndex[stepID]
	if !ok || idx < 0 || idx >= len(m.planSteps) {
		return
	}
	switch v := status.(type) {
	case agentcore.PlanStatus:
		m.planSteps[idx].Status = v
		delete(m.executing, stepID)
	case string:
		switch strings.ToLower(v) {
		case "completed":
			m.planSteps[idx].Status = agentcore.PlanCompleted
			delete(m.executing, stepID)
		case "failed":
			m.planSteps[idx].Status = agentcore.PlanFailed
			delete(m.executing, stepID)
		case "executing":
			if m.executing == nil {
				m.executing = make(map[string]bool)
			}
			m.executing[stepID] = true
		default:
			// pending/waiting
		}
	}
	if m.planSnapshotIndex >= 0 && m.planSnapshotIndex < len(m.items) {
		m.items[m.planSnapshotIndex].text = m.renderPlan()
	}
	m.recalcLayout()
}

func (m *model) ensureStep(stepID, title string) {
	if stepID == "" {
		return
	}
	if m.planIndex == nil {
		m.planIndex = make(map[string]int)
	}
	if _, ok := m.planIndex[stepID]; ok {
		return
	}
	s := agentcore.PlanStep{ID: stepID, Title: title, Status: agentcore.PlanPending}
	m.planSteps = append(m.planSteps, s)
	m.planIndex[stepID] = len(m.planSteps) - 1
	if m.planSnapshotIndex >= 0 && m.planSnapshotIndex < len(m.items) {
		m.items[m.planSnapshotIndex].text = m.renderPlan()
	} else {
		snapshot := m.renderPlan()
		m.items = append(m.items, transcriptItem{kind: itemPlan, text: snapshot})
		m.planSnapshotIndex = len(m.items) - 1
	}
	m.recalcLayout()
}

func (m *model) rebuildRenderer(wrap int) error {
	if wrap < 10 {
		wrap = 10
	}
	r, err := glam.NewTermRenderer(
		glam.WithStylePath("dark"),
		glam.WithWordWrap(wrap),
	)
	if err != nil {
		return err
	}
	m.glam = r
	return nil
}

func (m *model) renderCurrent() {
	if m.glam == nil {
		m.currentRendered = m.currentMD.String()
	} else if rendered, err := m.glam.Render(m.currentMD.String()); err == nil {
		m.currentRendered = rendered
	} else {
		m.currentRendered = m.currentMD.String()
	}
	m.refresh()
	m.lastRender = time.Now()
	m.pendingRender = false
}

type renderTick struct{}

func (m *model) scheduleRender() tea.Cmd {
	const throttle = 80 * time.Millisecond
	now := time.Now()
	if now.Sub(m.lastRender) >= throttle && !m.pendingRender {
		m.renderCurrent()
		return nil
	}
	if m.pendingRender {
		return nil
	}
	m.pendingRender = true
	wait := throttle - now.Sub(m.lastRender)
	if wait < 10*time.Millisecond {
		wait = throttle
	}
	return tea.Tick(wait, func(time.Time) tea.Msg { return renderTick{} })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.outputs), textarea.Blink, m.spin.Tick)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)
	cmds = append(cmds, cmd)
	m.spin, cmd = m.spin.Update(msg)
	if cmd != nil {
		cmds = append(cmds, cmd)
	}

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.vp, cmd = m.vp.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case spinner.TickMsg:
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
		if m.requesting || m.streaming || m.busy {
			m.flashFrame++
		}
	case tea.WindowSizeMsg:
		m.vp, _ = m.vp.Update(msg)
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		m.ready = true
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown, tea.KeyHome, tea.KeyEnd:
			m.vp, cmd = m.vp.Update(msg)
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		if msg.Type == tea.KeyCtrlJ {
			m.ta.InsertString("\n")
			return m, tea.Batch(cmds...)
		}
		if msg.Type == tea.KeyEnter && msg.Alt {
			m.ta.InsertString("\n")
			return m, tea.Batch(cmds...)
		}
		if msg.Type == tea.KeyEnter {
			prompt := strings.TrimSpace(m.ta.Value())
			if prompt != "" {
				m.agent.SubmitPrompt(prompt)
				m.appendUserBlock(prompt)
				m.ta.Reset()
				m.requesting = true
				m.streaming = false
				m.busy = true
				m.flashFrame = 0
				m.recalcLayout()
			}
			return m, tea.Batch(cmds...)
		}
		return m, tea.Batch(cmds...)

	case eventMsg:
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
		evt := msg.evt
		switch evt.Type {
		case agentcore.EventTypeAssistantDelta:
			if !m.streaming {
				m.streaming = true
				m.requesting = false
			}
			m.busy = true
			m.currentMD.WriteString(evt.Message)
			m.lastType = evt.Type
			if cmd := m.scheduleRender(); cmd != nil {
				return m, tea.Batch(append(cmds, cmd, waitForEvent(m.outputs))...)
			}
			return m, tea.Batch(append(cmds, waitForEvent(m.outputs))...)
		case agentcore.EventTypeAssistantMessage:
			final := m.currentMD.String()
			m.currentMD.Reset()
			m.currentRendered = ""
			if strings.TrimSpace(final) != "" {
				m.items = append(m.items, transcriptItem{kind: itemAssistantMD, text: final})
			}
			m.refresh()
			m.lastType = evt.Type
			m.streaming = false
			m.requesting = false
			m.busy = true
			m.recalcLayout()
		case agentcore.EventTypeStatus:
			if evt.Metadata != nil {
				if rawPlan, ok := evt.Metadata["plan"]; ok {
					switch p := rawPlan.(type) {
					case []agentcore.PlanStep:
						m.setPlan(p)
						m.refresh()
						return m, tea.Batch(append(cmds, waitForEvent(m.outputs))...)
					case []any:
						steps := make([]agentcore.PlanStep, 0, len(p))
						for _, it := range p {
							if m1, ok := it.(map[string]any); ok {
								var s agentcore.PlanStep
								if id, ok := m1["id"].(string); ok {
									s.ID = id
								}
								if title, ok := m1["title"].(string); ok {
									s.Title = title
								}
								if status, ok := m1["status"].(string); ok {
									s.Status = agentcore.PlanStatus(status)
								}
								if deps, ok := m1["waitingForId"].([]any); ok {
									for _, d := range deps {
										if ds, ok := d.(string); ok {
											s.WaitingForID = append(s.WaitingForID, ds)
										}
									}
								}
								steps = append(steps, s)
							}
						}
						if len(steps) > 0 {
							m.setPlan(steps)
							m.refresh()
							return m, tea.Batch(append(cmds, waitForEvent(m.outputs))...)
						}
					}
				}
				if stepID, ok := evt.Metadata["step_id"].(string); ok && stepID != "" {
					title, _ := evt.Metadata["title"].(string)
					m.ensureStep(stepID, title)
					if st, has := evt.Metadata["status"]; has {
						m.updateStepStatus(stepID, st)
					} else {
						m.updateStepStatus(stepID, "executing")
					}
					m.refresh()
					return m, tea.Batch(append(cmds, waitForEvent(m.outputs))...)
				}
			}
			line := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("[status] ") + evt.Message + "\n"
			m.appendLine(line)
		case agentcore.EventTypeError:
			line := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Render("[error] ") + evt.Message + "\n"
			m.appendLine(line)
		case agentcore.EventTypeRequestInput:
			line := lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Render("[input] ") + evt.Message + "\n"
			m.appendLine(line)
			m.busy = false
			m.requesting = false
			m.streaming = false
			m.recalcLayout()
		default:
			m.appendLine(evt.Message + "\n")
		}
		return m, tea.Batch(append(cmds, waitForEvent(m.outputs))...)

	case errMsg:
		m.vp, _ = m.vp.Update(msg)
		m.appendLine(lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("[closed] ") + msg.err.Error() + "\n")
		return m, tea.Tick(2*time.Second, func(time.Time) tea.Msg { return tea.Quit })
	case renderTick:
		m.vp, cmd = m.vp.Update(msg)
		cmds = append(cmds, cmd)
		m.renderCurrent()
		return m, tea.Batch(cmds...)
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	if !m.ready {
		return "Initializing…"
	}
	top := m.border.Render(m.vp.View())
	barWidth := m.width
	if barWidth < 1 {
		barWidth = 1
	}
	palette := "none"
	if m.streaming {
		palette = "stream"
	} else if m.busy {
		palette = "work"
	} else if m.requesting {
		palette = "begin"
	}
	var middle string
	if palette == "none" {
		middle = strings.Repeat(" ", barWidth)
	} else {
		middle = m.renderGradientBar(barWidth, palette)
	}
	inputBlock := m.ta.View()
	bottom := m.border.Render(inputBlock)
	return top + "\n" + middle + "\n" + bottom
}

// renderGradientBar renders a full-width, color-cycling bar for streaming state.
func (m *model) renderGradientBar(width int, palette string) string {
	if width < 1 {
		width = 1
	}
	var b strings.Builder
	b.Grow(width * 10)
	baseHue := float64((m.flashFrame * 5) % 360)
	sat := 0.85
	amp := 0.15
	char := "█"
	switch palette {
	case "begin":
		sat = 0.65
		amp = 0.10
		char = "▄"
	case "stream":
		sat = 0.90
		amp = 0.18
		char = "█"
	case "work":
		sat = 0.75
		amp = 0.08
		char = "▓"
	}
	for i := 0; i < width; i++ {
		hue := math.Mod(baseHue+float64(i*3), 360.0)
		phase := (float64(i)/float64(width))*2*math.Pi + float64(m.flashFrame)/8.0
		light := 0.50 + amp*math.Sin(phase)
		hex := hslToHex(hue, sat, light)
		seg := lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render(char)
		b.WriteString(seg)
	}
	return b.String()
}

func hslToHex(h, s, l float64) string {
	r, g, b := hslToRGB(h, s, l)
	return fmt.Sprintf("#%02X%02X%02X", r, g, b)
}

func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h / 60.0
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r1, g1, b1 float64
	switch {
	case 0 <= hp && hp < 1:
		r1, g1, b1 = c, x, 0
	case 1 <= hp && hp < 2:
		r1, g1, b1 = x, c, 0
	case 2 <= hp && hp < 3:
		r1, g1, b1 = 0, c, x
	case 3 <= hp && hp < 4:
		r1, g1, b1 = 0, x, c
	case 4 <= hp && hp < 5:
		r1, g1, b1 = x, 0, c
	default:
		r1, g1, b1 = c, 0, x
	}
	m := l - c/2
	r := uint8(clamp01(r1+m) * 255)
	g := uint8(clamp01(g1+m) * 255)
	b := uint8(clamp01(b1+m) * 255)
	return r, g, b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Run launches the Bubble Tea TUI against options, returning a POSIX exit code.
func Run(ctx context.Context, options agentcore.RuntimeOptions) int {
	if strings.TrimSpace(options.APIKey) == "" {
		fmt.Fprintln(os.Stderr, "an API key must be set (--api-key or TASKWRIGHT_API_KEY)")
		return 1
	}

	options.DisableOutputForwarding = true
	options.DisableInputReader = true

	lipgloss.SetColorProfile(termenv.TrueColor)
	lipgloss.SetHasDarkBackground(true)

	agent, err := agentcore.NewRuntime(options)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create runtime:", err)
		return 1
	}
	outputs := agent.Outputs()

	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = agent.Run(runCtx) }()

	p := tea.NewProgram(newModel(agent, outputs, cancel), tea.WithAltScreen(), tea.WithMouseAllMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "tui error:", err)
		return 1
	}
	return 0
}
