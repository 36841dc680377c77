package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/long113112113/p2p-transfer/internal/bus"
)

type State int

const (
	StateStart State = iota
	StateConnecting
	StateAwaitingCode
	StateTransferring
	StateDone
	StateError
)

type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Model is a thin bubbletea shell over a bus.Bus: it never touches
// discovery, pairing or transfer directly, it only renders events and
// turns keystrokes into commands.
type Model struct {
	Role     Role
	State    State
	Filename string

	VerificationCode string // our own code, shown to the human (ShowVerificationCode)
	CodeInput        textinput.Model
	PeerID           string
	PeerAddr         string

	Spinner       spinner.Model
	TotalProgress progress.Model
	FileProgress  progress.Model
	Speed         string
	Protocol      string
	Status        string
	Err           error
	Exit          bool

	bus *bus.Bus

	// OnEvent, if set, is called with every bus.Event before the model
	// updates its own state from it - the CLI uses this to write history
	// log entries without the UI package importing internal/audit.
	OnEvent func(bus.Event)
}

func NewModel(role Role, filename string, b *bus.Bus) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorSecondary)

	pTotal := progress.New(
		progress.WithGradient(string(ColorPrimary), string(ColorSecondary)),
		progress.WithWidth(40),
	)
	pFile := progress.New(
		progress.WithGradient("#00FF00", "#00FFFF"),
		progress.WithWidth(40),
	)

	ti := textinput.New()
	ti.Placeholder = "0000"
	ti.CharLimit = 4
	ti.Width = 6

	return Model{
		Role:          role,
		State:         StateStart,
		Filename:      filename,
		Spinner:       s,
		TotalProgress: pTotal,
		FileProgress:  pFile,
		CodeInput:     ti,
		Speed:         "0 MB/s",
		Protocol:      "initializing...",
		bus:           b,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, listenForEvents(m.bus))
}

// listenForEvents blocks on the bus and hands the next event back to
// bubbletea as a message; Update re-issues it after every event so the
// subscription never dies.
func listenForEvents(b *bus.Bus) tea.Cmd {
	return func() tea.Msg {
		return <-b.Events
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			m.Exit = true
			return m, tea.Quit
		}
		if m.State == StateAwaitingCode {
			if msg.Type == tea.KeyEnter {
				code := m.CodeInput.Value()
				m.bus.TrySend(bus.Command{Kind: bus.CommandSubmitVerificationCode, Code: code})
				m.CodeInput.SetValue("")
				m.State = StateConnecting
				m.Status = "verifying code..."
				return m, nil
			}
			var cmd tea.Cmd
			m.CodeInput, cmd = m.CodeInput.Update(msg)
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		newTotal, cmdTotal := m.TotalProgress.Update(msg)
		newFile, cmdFile := m.FileProgress.Update(msg)
		m.TotalProgress = newTotal.(progress.Model)
		m.FileProgress = newFile.(progress.Model)
		return m, tea.Batch(cmdTotal, cmdFile)

	case bus.Event:
		return m.handleEvent(msg)
	}

	return m, nil
}

func (m Model) handleEvent(ev bus.Event) (tea.Model, tea.Cmd) {
	if m.OnEvent != nil {
		m.OnEvent(ev)
	}

	switch ev.Kind {
	case bus.EventStatus:
		m.Status = ev.Message
		if m.State == StateStart {
			m.State = StateConnecting
		}

	case bus.EventPeerFound:
		m.PeerID = ev.PeerID
		m.PeerAddr = ev.PeerAddr
		m.Status = fmt.Sprintf("found %s at %s", ev.PeerName, ev.PeerAddr)

	case bus.EventShowVerificationCode:
		m.VerificationCode = ev.Code
		m.State = StateConnecting
		m.Status = "waiting for the other side to enter this code"

	case bus.EventRequestVerificationCode:
		m.State = StateAwaitingCode
		m.Status = "enter the code shown on the other device"
		m.CodeInput.Focus()

	case bus.EventPairingResult:
		if !ev.Success {
			m.State = StateError
			m.Err = fmt.Errorf("%s", ev.Message)
			return m, tea.Quit
		}
		m.Status = "paired, starting transfer"

	case bus.EventTransferProgress:
		m.State = StateTransferring
		m.Filename = ev.FileName
		m.Protocol = ev.Direction
		m.Speed = fmt.Sprintf("%.2f MB/s", ev.SpeedBps/1024/1024)
		ratio := ev.Percent / 100
		cmdTotal := m.TotalProgress.SetPercent(ratio)
		cmdFile := m.FileProgress.SetPercent(ratio)
		return m, tea.Batch(cmdTotal, cmdFile, listenForEvents(m.bus))

	case bus.EventTransferCompleted:
		if ev.Success {
			m.State = StateDone
		} else {
			m.State = StateError
			m.Err = fmt.Errorf("%s", ev.Message)
		}
		return m, tea.Quit

	case bus.EventError:
		m.State = StateError
		m.Err = fmt.Errorf("%s", ev.Message)
		return m, tea.Quit
	}

	return m, listenForEvents(m.bus)
}

func (m Model) View() string {
	if m.Err != nil {
		return ContainerStyle.Render(
			lipgloss.JoinVertical(lipgloss.Left,
				ErrorStyle.Render("Error Occurred"),
				fmt.Sprintf("%v", m.Err),
			),
		)
	}

	var content string

	switch m.State {
	case StateStart, StateConnecting:
		header := MatrixHeaderStyle.Render("P2P")

		info := MatrixTextStyle.Render(">> TERMINAL ACTIVE <<\n>> INITIALIZING... <<")
		if m.VerificationCode != "" {
			info = ViewCode(m.VerificationCode)
		}

		status := MatrixTextStyle.Render(fmt.Sprintf(">> %s", m.Status))

		content = lipgloss.JoinVertical(lipgloss.Center, header, info, m.Spinner.View(), status)

	case StateAwaitingCode:
		header := TitleStyle.Render("Verify Pairing")
		prompt := StatusStyle.Render("Enter the 4-digit code shown on the other device:")
		content = lipgloss.JoinVertical(lipgloss.Center, header, prompt, m.CodeInput.View())

	case StateTransferring:
		header := TitleStyle.Render("Transfer In Progress")

		telemetry := lipgloss.JoinHorizontal(lipgloss.Top,
			lipgloss.JoinVertical(lipgloss.Left,
				StatLabelStyle.Render("SPEED"),
				StatValueStyle.Render(m.Speed),
			),
			lipgloss.NewStyle().Width(4).Render(""),
			lipgloss.JoinVertical(lipgloss.Left,
				StatLabelStyle.Render("DIRECTION"),
				StatValueStyle.Render(m.Protocol),
			),
			lipgloss.NewStyle().Width(4).Render(""),
			lipgloss.JoinVertical(lipgloss.Left,
				StatLabelStyle.Render("PEER"),
				StatValueStyle.Render(m.PeerID),
			),
		)

		bars := lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.JoinHorizontal(lipgloss.Bottom, StatLabelStyle.Render("Total Session"), m.TotalProgress.View()),
			" ",
			lipgloss.JoinHorizontal(lipgloss.Bottom, StatLabelStyle.Render("Current File "), m.FileProgress.View()),
		)

		content = lipgloss.JoinVertical(lipgloss.Center, header, telemetry, " ", bars)

	case StateDone:
		content = TitleStyle.Render(fmt.Sprintf("Transfer Complete: %s", m.Filename))
	}

	return ContainerStyle.Render(content)
}
