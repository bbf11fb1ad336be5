package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/harmonize/internal/formatter"
	"github.com/desertthunder/harmonize/internal/shared"
	"github.com/desertthunder/harmonize/internal/tasks"
)

// waitingHint accompanies [formatter.WaitingMessage] until the first progress event.
const waitingHint = "Hint: start the analysis from the capture device. Progress appears here as soon as it is sent."

// ViewState represents the current view in the TUI.
type ViewState int

const (
	LoadingView ViewState = iota
	ResultView
	ErrorView
)

// Runner runs a session to completion. Implemented by [tasks.Engine].
type Runner interface {
	Run(ctx context.Context, session *tasks.Session, opts tasks.RunOptions, progress chan<- tasks.ProgressUpdate) (*tasks.RunResult, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	view    ViewState
	runner  Runner
	session *tasks.Session
	opts    tasks.RunOptions

	width        int
	height       int
	spinner      spinner.Model
	playlist     list.Model
	showResults  bool
	progressChan chan tasks.ProgressUpdate
	doneChan     chan Msg
	progress     tasks.ProgressUpdate
	result       *tasks.RunResult
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model that runs session with runner once started.
func NewModel(ctx context.Context, runner Runner, session *tasks.Session, opts tasks.RunOptions) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:     ctx,
		cancel:  cancel,
		view:    LoadingView,
		runner:  runner,
		session: session,
		opts:    opts,
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.ok)),
		help:    help.New(),
		keys:    newKeyMap(),
	}
}

// Init starts the spinner and the session run.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startRun())
}

// Result returns the finished run and its error, once the model reached [ResultView] or [ErrorView].
func (m *Model) Result() (*tasks.RunResult, error) {
	return m.result, m.err
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.view == ResultView {
			m.playlist.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		if m.view != LoadingView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		switch msg.kind {
		case MsgProgressUpdate:
			m.progress = msg.data.(tasks.ProgressUpdate)
			return m, m.waitForProgress()
		case MsgRunComplete:
			outcome := msg.data.(runOutcome)
			m.complete(outcome.result, outcome.err)
			return m, nil
		}
	}

	if m.view == ResultView && !m.showResults {
		var cmd tea.Cmd
		m.playlist, cmd = m.playlist.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case LoadingView:
		return m.renderLoading()
	case ResultView:
		return m.renderResult()
	case ErrorView:
		return m.renderError()
	default:
		return ""
	}
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		if m.view == ResultView && m.playlist.FilterState() == list.Filtering && msg.String() == "q" {
			break
		}
		m.shutdown()
		return m, tea.Quit
	case key.Matches(msg, m.keys.toggle) && m.view == ResultView:
		m.showResults = !m.showResults
		return m, nil
	}

	if m.view == ResultView && !m.showResults {
		var cmd tea.Cmd
		m.playlist, cmd = m.playlist.Update(msg)
		return m, cmd
	}
	return m, nil
}

// shutdown cancels the run and closes the session so late results are discarded.
func (m *Model) shutdown() {
	m.cancel()
	if m.session != nil {
		m.session.Close()
	}
}

func (m *Model) complete(result *tasks.RunResult, err error) {
	m.result = result
	m.err = err
	m.progressChan = nil

	if err != nil {
		m.view = ErrorView
		return
	}

	m.view = ResultView
	m.playlist = list.New(playlistItems(result.Playlist, result.Additional), list.NewDefaultDelegate(), 0, 0)
	m.playlist.Title = fmt.Sprintf("Your Mood Playlist (%d tracks)", len(result.Playlist))
	m.playlist.SetShowHelp(false)
	if m.width > 0 {
		m.playlist.SetSize(m.width-4, m.height-8)
	}
}

func (m *Model) startRun() tea.Cmd {
	m.progressChan = make(chan tasks.ProgressUpdate, 50)
	m.doneChan = make(chan Msg, 1)

	progress, done := m.progressChan, m.doneChan
	go func() {
		result, err := m.runner.Run(m.ctx, m.session, m.opts, progress)
		done <- runCompleteMsg(result, err)
		close(progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.doneChan
	return func() tea.Msg {
		if progress == nil {
			return <-done
		}

		update, ok := <-progress
		if !ok {
			return <-done
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderLoading() string {
	title := styles.title.Render("Analyzing your mood")

	phase := m.progress.Message
	if phase == "" {
		phase = "Starting session..."
	}
	status := fmt.Sprintf("%s %s", m.spinner.View(), phase)

	var body string
	if m.session != nil {
		event, ok := m.session.Latest()
		text := formatter.FormatProgress(event, ok)
		if ok {
			lines := strings.SplitN(text, "\n", 2)
			body = styles.stage.Render(lines[0])
			if len(lines) > 1 {
				body += "\n" + indent(lines[1], "  ")
			}
		} else {
			body = styles.stage.Render(text) + "\n" + styles.help.Render(waitingHint)
		}
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.quit})
	return fmt.Sprintf("%s\n%s\n\n%s\n\n%s", title, status, body, helpView)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.up, m.keys.down, m.keys.toggle, m.keys.quit})

	if m.showResults {
		title := styles.title.Render("Analysis Results")
		data, err := json.MarshalIndent(m.result.Payload, "", "  ")
		if err != nil {
			return styles.err.Render(fmt.Sprintf("Error: %v", err))
		}
		return fmt.Sprintf("%s\n%s\n\n%s", title, styles.box.Render(string(data)), helpView)
	}

	if len(m.result.Playlist) == 0 {
		empty := styles.warn.Render("No tracks in your listening history match the predicted mood.")
		return fmt.Sprintf("%s\n%s\n\n%s", styles.title.Render("Your Mood Playlist"), empty, helpView)
	}

	summary := styles.ok.Render(fmt.Sprintf("✓ %d tracks", len(m.result.Playlist)))
	if n := len(m.result.Additional); n > 0 {
		summary += styles.help.Render(fmt.Sprintf("  (%d discovered)", n))
	}
	return fmt.Sprintf("%s\n%s\n\n%s", m.playlist.View(), summary, helpView)
}

func (m *Model) renderError() string {
	msg := styles.err.Render(fmt.Sprintf("Analysis failed: %v", m.err))
	if errors.Is(m.err, shared.ErrNoTracks) || errors.Is(m.err, shared.ErrTokenExpired) {
		msg += "\n\n" + styles.warn.Render("Run `harmonize spotify auth` to sign in again.")
	}
	return fmt.Sprintf("%s\n\n%s", msg, m.help.ShortHelpView([]key.Binding{m.keys.quit}))
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
