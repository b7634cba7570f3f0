package picker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/paginator"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/conneroisu/sidepeek/internal/errors"
)

const perPage = 8

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	highlightStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFA500"))
	choiceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	helpStyle      = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#888888"))
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Prev   key.Binding
	Next   key.Binding
	Choose key.Binding
	Cancel key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Prev:   key.NewBinding(key.WithKeys("left", "h", "pgup"), key.WithHelp("←/h", "prev page")),
	Next:   key.NewBinding(key.WithKeys("right", "l", "pgdown"), key.WithHelp("→/l", "next page")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "cancel")),
}

type model struct {
	title     string
	labels    []string
	cursor    int
	paginator paginator.Model
	chosen    int
	done      bool
}

func newModel(title string, labels []string) model {
	p := paginator.New()
	p.Type = paginator.Dots
	p.PerPage = perPage
	p.SetTotalPages(len(labels))
	return model{title: title, labels: labels, paginator: p, chosen: -1}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(km, keys.Cancel):
		m.done = true
		return m, tea.Quit
	case key.Matches(km, keys.Choose):
		m.chosen = m.cursor
		m.done = true
		return m, tea.Quit
	case key.Matches(km, keys.Up):
		m.cursor = (m.cursor + len(m.labels) - 1) % len(m.labels)
	case key.Matches(km, keys.Down):
		m.cursor = (m.cursor + 1) % len(m.labels)
	case key.Matches(km, keys.Prev):
		m.paginator.PrevPage()
		m.cursor = m.paginator.Page * m.paginator.PerPage
		return m, nil
	case key.Matches(km, keys.Next):
		m.paginator.NextPage()
		m.cursor = m.paginator.Page * m.paginator.PerPage
		return m, nil
	}
	m.paginator.Page = m.cursor / m.paginator.PerPage
	return m, nil
}

func (m model) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title) + "\n")

	start, end := m.paginator.GetSliceBounds(len(m.labels))
	for i := start; i < end; i++ {
		if i == m.cursor {
			b.WriteString(highlightStyle.Render("> "+m.labels[i]) + "\n")
		} else {
			b.WriteString(choiceStyle.Render("  "+m.labels[i]) + "\n")
		}
	}
	if m.paginator.TotalPages > 1 {
		b.WriteString("\n  " + m.paginator.View() + "\n")
	}

	help := []string{}
	for _, k := range []key.Binding{keys.Up, keys.Down, keys.Choose, keys.Cancel} {
		h := k.Help()
		help = append(help, fmt.Sprintf("%s %s", h.Key, h.Desc))
	}
	b.WriteString("\n" + helpStyle.Render(strings.Join(help, " • ")) + "\n")
	return b.String()
}

// TUI is an interactive terminal list. Prompts are serialized because they
// share the terminal.
type TUI struct {
	mu  sync.Mutex
	in  io.Reader
	out io.Writer
}

// NewTUI returns a picker that reads keys from in and draws to out.
func NewTUI(in io.Reader, out io.Writer) *TUI {
	return &TUI{in: in, out: out}
}

func (t *TUI) Pick(ctx context.Context, title string, labels []string) (int, error) {
	if len(labels) == 0 {
		return -1, errors.ErrCancelled
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	program := tea.NewProgram(newModel(title, labels),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
		tea.WithContext(ctx),
	)
	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return -1, errors.NewInternalError("PICKER", "selection prompt failed", err)
	}

	m := final.(model)
	if m.chosen < 0 {
		return -1, errors.ErrCancelled
	}
	return m.chosen, nil
}
