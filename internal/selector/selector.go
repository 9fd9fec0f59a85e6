// Package selector is an interactive terminal multi-select list. Up/down
// (or k/j) move the cursor and wrap around, space toggles the option under
// the cursor, enter confirms and esc, q or ctrl+c cancel. Long lists are
// rendered through a window of Height rows that follows the cursor.
package selector

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultHeight is the number of options shown at once
const DefaultHeight = 5

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	hintStyle    = lipgloss.NewStyle().Faint(true)
	checkStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	checkedStyle = lipgloss.NewStyle().Bold(true)
	idleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type option struct {
	text    string
	checked bool
}

// Model is the bubbletea model of a multi-select list
type Model struct {
	Title  string
	Height int

	options   []option
	cursor    int
	done      bool
	cancelled bool
}

// New creates a model listing candidates, none checked
func New(title string, candidates []string) Model {
	options := make([]option, 0, len(candidates))
	for _, c := range candidates {
		options = append(options, option{text: c})
	}
	return Model{
		Title:   title,
		Height:  DefaultHeight,
		options: options,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k", "right":
		m.move(-1)
	case "down", "j", "left":
		m.move(1)
	case " ":
		if len(m.options) > 0 {
			m.options[m.cursor].checked = !m.options[m.cursor].checked
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	case "esc", "q", "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) move(delta int) {
	n := len(m.options)
	if n == 0 {
		return
	}
	m.cursor = ((m.cursor+delta)%n + n) % n
}

// window returns the half-open range of options currently rendered
func (m Model) window() (int, int) {
	n := len(m.options)
	height := m.Height
	if height <= 0 || height >= n {
		return 0, n
	}

	start := m.cursor - height/2
	if start < 0 {
		start = 0
	}
	if start > n-height {
		start = n - height
	}
	return start, start + height
}

// View implements tea.Model
func (m Model) View() string {
	if m.done || m.cancelled {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(m.Title),
		hintStyle.Render("- space to select, enter to submit, esc to cancel"))

	start, end := m.window()
	for i := start; i < end; i++ {
		opt := m.options[i]

		mark := "  "
		if opt.checked {
			mark = checkStyle.Render("✓") + " "
		}

		text := idleStyle.Render(opt.text)
		switch {
		case i == m.cursor:
			text = cursorStyle.Render(opt.text)
		case opt.checked:
			text = checkedStyle.Render(opt.text)
		}

		fmt.Fprintf(&b, "  %s%s\n", mark, text)
	}
	return b.String()
}

// Selected returns the checked options in list order, or nil when the
// selection was cancelled.
func (m Model) Selected() []string {
	if m.cancelled {
		return nil
	}

	var selected []string
	for _, opt := range m.options {
		if opt.checked {
			selected = append(selected, opt.text)
		}
	}
	return selected
}

// Cancelled reports whether the user aborted the selection
func (m Model) Cancelled() bool {
	return m.cancelled
}

// Select runs the list on the terminal and returns the checked candidates
func Select(title string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	final, err := tea.NewProgram(New(title, candidates)).Run()
	if err != nil {
		return nil, fmt.Errorf("failed to run selector: %w", err)
	}
	return final.(Model).Selected(), nil
}
