package ui

import (
	"fmt"
	"strings"

	"leadflow/internal/campaign"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RunResult carries the orchestrator outcome out of the view.
type RunResult struct {
	Report *campaign.Report
	Err    error
}

// RunOptions configures the progress view for one campaign run. The view
// drains Progress and Events until they close, then waits on Result. Cancel
// is invoked when the user asks to stop; the run ends on its own schedule.
type RunOptions struct {
	CampaignID string
	DryRun     bool
	Progress   <-chan campaign.Progress
	Events     <-chan campaign.Event
	Result     <-chan RunResult
	Cancel     func()
}

// pipelineStages is the render order of the stage checklist.
var pipelineStages = []campaign.Stage{
	campaign.StageDiscovery,
	campaign.StageAnalyze,
	campaign.StageFeedback,
	campaign.StageContent,
	campaign.StageOutreach,
}

const maxEventLines = 8

type progressMsg campaign.Progress
type eventMsg campaign.Event
type doneMsg RunResult

// RunModel is the live view of a running campaign.
type RunModel struct {
	opts    RunOptions
	spinner spinner.Model
	bar     progress.Model
	styles  Styles
	width   int

	stage      campaign.Stage
	done       int
	total      int
	message    string
	completed  map[campaign.Stage]bool
	loops      int
	events     []string
	cancelling bool
	finished   bool
	result     RunResult
}

// NewRunModel builds the progress view.
func NewRunModel(opts RunOptions) RunModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accentColor)
	return RunModel{
		opts:      opts,
		spinner:   sp,
		bar:       progress.New(progress.WithDefaultGradient()),
		styles:    DefaultStyles(),
		width:     80,
		completed: make(map[campaign.Stage]bool),
	}
}

// Result returns the orchestrator outcome once the view has quit.
func (m RunModel) Result() (*campaign.Report, error) {
	return m.result.Report, m.result.Err
}

// Init starts the spinner and the channel listeners.
func (m RunModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitProgress(), m.waitEvent(), m.waitResult())
}

func (m RunModel) waitProgress() tea.Cmd {
	return func() tea.Msg {
		p, ok := <-m.opts.Progress
		if !ok {
			return nil
		}
		return progressMsg(p)
	}
}

func (m RunModel) waitEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.opts.Events
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

func (m RunModel) waitResult() tea.Cmd {
	return func() tea.Msg {
		return doneMsg(<-m.opts.Result)
	}
}

// Update handles messages.
func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.finished {
				return m, tea.Quit
			}
			// First press cancels; the view stays up until the run has
			// saved its state and handed back the result.
			if !m.cancelling {
				m.cancelling = true
				m.opts.Cancel()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 8
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		m.stage = msg.Stage
		m.done = msg.Done
		m.total = msg.Total
		if msg.Message != "" {
			m.message = msg.Message
		}
		return m, m.waitProgress()

	case eventMsg:
		m.apply(campaign.Event(msg))
		return m, m.waitEvent()

	case doneMsg:
		m.finished = true
		m.result = RunResult(msg)
		return m, tea.Quit
	}
	return m, nil
}

func (m *RunModel) apply(e campaign.Event) {
	switch e.Type {
	case campaign.EventStageStarted:
		m.stage = e.Stage
	case campaign.EventStageCompleted:
		m.completed[e.Stage] = true
	case campaign.EventLoopEntered:
		m.loops++
		// The loop reopens content and feedback.
		delete(m.completed, campaign.StageContent)
		delete(m.completed, campaign.StageFeedback)
	}

	m.events = append(m.events, eventLine(m.styles, e))
	if len(m.events) > maxEventLines {
		m.events = m.events[len(m.events)-maxEventLines:]
	}
}

func eventLine(s Styles, e campaign.Event) string {
	t := s.Muted.Render(e.Timestamp.Format("15:04:05"))
	switch e.Type {
	case campaign.EventStageCompleted, campaign.EventCompleted:
		return t + " " + s.Success.Render("✓") + " " + e.Message
	case campaign.EventFailed:
		return t + " " + s.Error.Render("✗") + " " + e.Message
	case campaign.EventLoopEntered, campaign.EventLoopExhausted:
		return t + " " + s.Warning.Render("↻") + " " + e.Message
	case campaign.EventCancelled:
		return t + " " + s.Warning.Render("⏸") + " " + e.Message
	default:
		return t + " " + s.Info.Render("•") + " " + e.Message
	}
}

// View renders the page.
func (m RunModel) View() string {
	var sb strings.Builder

	title := m.styles.Header.Render(fmt.Sprintf(" Campaign %s ", m.opts.CampaignID))
	if m.opts.DryRun {
		title = lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", m.styles.Badge.Render("DRY RUN"))
	}
	sb.WriteString(title + "\n\n")

	for _, st := range pipelineStages {
		icon, style := "○", m.styles.Muted
		switch {
		case m.completed[st]:
			icon, style = "✓", m.styles.Success
		case st == m.stage && !m.finished:
			icon, style = strings.TrimSpace(m.spinner.View()), m.styles.Info
		}
		sb.WriteString(fmt.Sprintf(" %s %s\n", icon, style.Render(stageLabel(st))))
	}
	sb.WriteString("\n")

	if m.total > 0 {
		sb.WriteString(m.styles.Bold.Render(fmt.Sprintf("Leads %d/%d", m.done, m.total)) + "\n")
		sb.WriteString(m.bar.ViewAs(float64(m.done)/float64(m.total)) + "\n\n")
	}
	if m.loops > 0 {
		sb.WriteString(m.styles.Warning.Render(fmt.Sprintf("Feedback loops: %d", m.loops)) + "\n\n")
	}
	if m.message != "" {
		sb.WriteString(m.styles.Info.Render(m.message) + "\n\n")
	}

	if len(m.events) > 0 {
		sb.WriteString(m.styles.Title.Render("Activity") + "\n")
		for _, line := range m.events {
			sb.WriteString(" " + line + "\n")
		}
		sb.WriteString("\n")
	}

	if m.cancelling && !m.finished {
		sb.WriteString(m.styles.Warning.Render("Stopping after in-flight work completes...") + "\n")
	} else {
		sb.WriteString(m.styles.Muted.Render("Press q to stop the campaign (state is saved)") + "\n")
	}
	return sb.String()
}

func stageLabel(st campaign.Stage) string {
	switch st {
	case campaign.StageDiscovery:
		return "Discovery"
	case campaign.StageAnalyze:
		return "Analyze previous mails"
	case campaign.StageFeedback:
		return "Feedback insights"
	case campaign.StageContent:
		return "Content generation"
	case campaign.StageOutreach:
		return "Outreach"
	}
	return string(st)
}
