// Package tui is the interactive terminal front end: a city prompt, two
// lookups and the panel of whichever lookup finished last.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/fetch"
	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/validation"
)

// Model is the bubbletea model. All lookups go through the session so a
// slow response can never overwrite a newer one.
type Model struct {
	session *fetch.Session
	timeout time.Duration
	logger  *zap.Logger
	loc     *time.Location

	input   textinput.Model
	spinner spinner.Model
	state   fetch.ViewState
	width   int
}

// Options configures New.
type Options struct {
	Session *fetch.Session
	// Timeout bounds one lookup, including store access.
	Timeout time.Duration
	Logger  *zap.Logger
	// Location is used to display forecast times. Defaults to time.Local.
	Location *time.Location
}

func New(opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "Enter city name"
	ti.Prompt = promptStyle.Render("City › ")
	ti.CharLimit = 100
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = spinnerStyle

	m := Model{
		session: opts.Session,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		loc:     opts.Location,
		input:   ti,
		spinner: sp,
	}
	if m.timeout <= 0 {
		m.timeout = 10 * time.Second
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.lookup(models.KindWeather)
		case "ctrl+f":
			return m.lookup(models.KindForecast)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case lookupDoneMsg:
		m.state = m.session.View().State()
		if msg.err != nil {
			m.logger.Debug("lookup failed",
				zap.String("kind", string(msg.kind)),
				zap.Bool("applied", msg.applied),
				zap.Error(msg.err))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// lookup starts a request for the current input. It does nothing while the
// trimmed input is empty.
func (m Model) lookup(kind models.Kind) (tea.Model, tea.Cmd) {
	city := m.input.Value()
	if validation.Blank(city) {
		return m, nil
	}
	seq := m.session.Begin()
	m.state = m.session.View().State()
	return m, tea.Batch(m.fetchCmd(seq, kind, city), m.spinner.Tick)
}

// fetchCmd captures everything it needs so it can run off the update loop.
func (m Model) fetchCmd(seq uint64, kind models.Kind, city string) tea.Cmd {
	session := m.session
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_, applied, err := session.Complete(ctx, seq, kind, city)
		return lookupDoneMsg{seq: seq, kind: kind, applied: applied, err: err}
	}
}

func (m Model) View() string {
	parts := []string{
		titleStyle.Render("weather Know"),
		m.input.View(),
		renderHints(validation.Blank(m.input.Value())),
		"",
	}
	if m.state.Loading {
		parts = append(parts, m.spinner.View()+hintStyle.Render(" fetching..."))
	}
	if m.state.Error != "" {
		parts = append(parts, errorStyle.Render(m.state.Error))
	}
	switch {
	case m.state.Active == models.KindWeather && m.state.Weather != nil:
		parts = append(parts, RenderWeather(*m.state.Weather))
	case m.state.Active == models.KindForecast && m.state.Forecast != nil:
		parts = append(parts, RenderForecast(m.state.City, m.state.Forecast, m.loc, m.width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

// Run starts the program and blocks until the user quits.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
