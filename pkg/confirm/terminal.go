package confirm

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kappa-stage/pkg/safety"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	rowStyle      = lipgloss.NewStyle()
	exceededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	choiceStyle   = lipgloss.NewStyle().Padding(0, 2)
	selectedStyle = choiceStyle.Reverse(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Terminal asks on an interactive terminal. y approves; n, Esc and Ctrl-C
// decline. Enter submits the highlighted choice, which starts on "no".
type Terminal struct {
	In    io.Reader
	Out   io.Writer
	Title string
}

// NewTerminal returns a prompt on stdin/stderr.
func NewTerminal(title string) *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr, Title: title}
}

// Ask runs the dialog until the operator answers or ctx ends.
func (t *Terminal) Ask(ctx context.Context, c safety.Comparison) (bool, error) {
	p := tea.NewProgram(newPromptModel(t.Title, c),
		tea.WithContext(ctx),
		tea.WithInput(t.In),
		tea.WithOutput(t.Out),
	)
	final, err := p.Run()
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	m, ok := final.(promptModel)
	if !ok {
		return false, fmt.Errorf("confirmation prompt: unexpected model %T", final)
	}
	return m.approved, nil
}

type promptModel struct {
	title      string
	comparison safety.Comparison
	yes        bool // highlighted choice
	answered   bool
	approved   bool
}

func newPromptModel(title string, c safety.Comparison) promptModel {
	if title == "" {
		title = "Confirm move"
	}
	return promptModel{title: title, comparison: c}
}

func (m promptModel) Init() tea.Cmd {
	return nil
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m.answer(false)
	case tea.KeyEnter:
		return m.answer(m.yes)
	case tea.KeyLeft, tea.KeyRight, tea.KeyTab:
		m.yes = !m.yes
		return m, nil
	case tea.KeyRunes:
		switch strings.ToLower(string(key.Runes)) {
		case "y":
			return m.answer(true)
		case "n", "q":
			return m.answer(false)
		}
	}
	return m, nil
}

func (m promptModel) answer(approved bool) (tea.Model, tea.Cmd) {
	m.answered = true
	m.approved = approved
	return m, tea.Quit
}

func (m promptModel) View() string {
	if m.answered {
		if m.approved {
			return "move approved\n"
		}
		return "move declined\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %12s %12s %12s %8s", "axis", "current", "target", "delta", "limit")))
	b.WriteString("\n")
	for _, r := range m.comparison.Rows() {
		limit := "-"
		if !math.IsNaN(r.Limit) {
			limit = fmt.Sprintf("%g", r.Limit)
		}
		line := fmt.Sprintf("%-6s %12.4f %12.4f %12.4f %8s", r.Axis, r.Current, r.Target, r.Delta, limit)
		if r.Exceeded {
			b.WriteString(exceededStyle.Render(line))
		} else {
			b.WriteString(rowStyle.Render(line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if len(m.comparison.Exceeded) > 0 {
		b.WriteString(exceededStyle.Render("step limit reached on: " + strings.Join(m.comparison.Exceeded, ", ")))
		b.WriteString("\n\n")
	}

	no, yes := selectedStyle.Render("No"), choiceStyle.Render("Yes")
	if m.yes {
		no, yes = choiceStyle.Render("No"), selectedStyle.Render("Yes")
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, no, yes))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("y/n to answer, ←/→ and enter to choose, esc to cancel"))
	b.WriteString("\n")
	return b.String()
}
