package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mukut03/agents/agents"
)

// runChatTUI drives the interactive chat in the alternate screen.
func runChatTUI(ctx context.Context, orch *agents.Orchestrator, modelName string, save saveFunc) error {
	program := tea.NewProgram(
		newChatModel(ctx, orch, modelName, save),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := program.Run()
	return err
}

// answerMsg carries the outcome of one ProcessQuery back into Update.
type answerMsg struct {
	answer  string
	err     error
	saveErr error
}

// chatModel is the Bubble Tea model behind `mapagent chat`. The orchestrator
// is only touched by one query command at a time; input is ignored while
// busy.
type chatModel struct {
	ctx       context.Context
	orch      *agents.Orchestrator
	save      saveFunc
	modelName string

	feed    viewport.Model
	input   textinput.Model
	spinner spinner.Model

	lines  []string
	width  int
	height int
	ready  bool
	busy   bool
}

func newChatModel(ctx context.Context, orch *agents.Orchestrator, modelName string, save saveFunc) chatModel {
	input := textinput.New()
	input.Placeholder = "Ask about a route, or /reset /memory /exit"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorSecondary)

	return chatModel{
		ctx:       ctx,
		orch:      orch,
		save:      save,
		modelName: modelName,
		feed:      viewport.New(0, 0),
		input:     input,
		spinner:   sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.feed, cmd = m.feed.Update(msg)
			return m, cmd
		case "enter":
			if m.busy {
				return m, nil
			}
			return m.submit()
		}
		if m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m = m.appendLine(errorStyle.Render(msg.err.Error()))
		} else {
			m = m.appendLine(m.renderAnswer(msg.answer))
		}
		if msg.saveErr != nil {
			m = m.appendLine(errorStyle.Render("save failed: " + msg.saveErr.Error()))
		}
		return m, nil
	}
	return m, nil
}

func (m chatModel) View() string {
	header := headerStyle.Render("mapagent chat") + dimStyle.Render(" · model "+m.modelName)
	prompt := "> " + m.input.View()
	if m.busy {
		prompt = m.spinner.View() + dimStyle.Render(" working...")
	}
	hint := dimStyle.Render("enter to send | pgup/pgdown to scroll | ctrl+c to quit")
	return lipgloss.JoinVertical(lipgloss.Left, header, m.feed.View(), prompt, hint)
}

func (m chatModel) resize(msg tea.WindowSizeMsg) chatModel {
	m.width = msg.Width
	m.height = msg.Height
	m.feed.Width = msg.Width
	m.feed.Height = max(1, msg.Height-3)
	m.input.Width = max(10, msg.Width-4)
	m.ready = true
	return m.refresh()
}

// submit handles slash commands in place and turns anything else into a
// query command.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	switch value {
	case "":
		return m, nil
	case "/exit", "/quit":
		return m, tea.Quit
	case "/reset":
		m.orch.Reset()
		return m.appendLine(dimStyle.Render("conversation cleared")), nil
	case "/memory":
		data, err := json.MarshalIndent(m.orch.Memory().Snapshot(), "", "  ")
		if err != nil {
			return m.appendLine(errorStyle.Render(err.Error())), nil
		}
		return m.appendLine(string(data)), nil
	}
	m = m.appendLine(toolNameStyle.Render("> ") + value)
	m.busy = true
	return m, tea.Batch(m.spinner.Tick, m.ask(value))
}

// ask runs the query off the Update loop and saves the session afterwards.
func (m chatModel) ask(query string) tea.Cmd {
	ctx, orch, save := m.ctx, m.orch, m.save
	return func() tea.Msg {
		answer, err := orch.ProcessQuery(ctx, query)
		if err != nil {
			return answerMsg{err: err}
		}
		msg := answerMsg{answer: answer}
		if save != nil {
			msg.saveErr = save(ctx, orch.Memory())
		}
		return msg
	}
}

func (m chatModel) renderAnswer(answer string) string {
	style := answerBoxStyle
	if m.width > 4 {
		style = style.Width(m.width - 2)
	}
	return style.Render(answer)
}

func (m chatModel) appendLine(line string) chatModel {
	m.lines = append(m.lines, line)
	return m.refresh()
}

func (m chatModel) refresh() chatModel {
	if !m.ready {
		return m
	}
	m.feed.SetContent(strings.Join(m.lines, "\n"))
	m.feed.GotoBottom()
	return m
}
