// Package ui renders the slideshow in the terminal. It consumes sequencer
// snapshots and emits user intents; it owns no playback logic.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"github.com/versecast/versecast/internal/scene"
	"github.com/versecast/versecast/internal/show"
)

const (
	// assetRefreshInterval re-renders the view so assets that arrived
	// asynchronously (visual refs, narration) become visible without a
	// state transition.
	assetRefreshInterval = 500 * time.Millisecond

	minWidth = 20
	ellipsis = "…"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"})

	counterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#847A85", Dark: "#979797"})

	verseStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#DDDADA", Dark: "#3C3C3C"})

	visualStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"})

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"})

	endedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#F25D94", Dark: "#F25D94"})
)

// Config holds renderer settings.
type Config struct {
	Title    string
	MaxWidth int
}

type (
	// stateChangedMsg nudges the model to re-read the snapshot.
	stateChangedMsg struct{}
	// assetTickMsg triggers a periodic re-render for late assets.
	assetTickMsg time.Time
)

// Model is the bubbletea model for the slideshow.
type Model struct {
	seq  *show.Sequencer
	deck *scene.Deck
	cfg  Config

	snap    show.Snapshot
	updates chan struct{}

	keys keyMap
	help help.Model

	width    int
	height   int
	quitting bool
}

// NewModel builds the renderer model. The sequencer's notify hook is
// installed here; it only nudges the update channel and never blocks.
func NewModel(seq *show.Sequencer, deck *scene.Deck, cfg Config) *Model {
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 72
	}
	if cfg.Title == "" {
		cfg.Title = "versecast"
	}

	updates := make(chan struct{}, 1)
	seq.Notify(func(show.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	return &Model{
		seq:     seq,
		deck:    deck,
		cfg:     cfg,
		snap:    seq.Snapshot(),
		updates: updates,
		keys:    defaultKeyMap(),
		help:    help.New(),
	}
}

// NewProgram wraps the model in a tea program with the usual options.
func NewProgram(seq *show.Sequencer, deck *scene.Deck, cfg Config) *tea.Program {
	return tea.NewProgram(NewModel(seq, deck, cfg), tea.WithAltScreen())
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.assetTick())
}

func (m *Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return stateChangedMsg{}
	}
}

func (m *Model) assetTick() tea.Cmd {
	return tea.Tick(assetRefreshInterval, func(t time.Time) tea.Msg {
		return assetTickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case stateChangedMsg:
		m.snap = m.seq.Snapshot()
		return m, m.waitForUpdate()

	case assetTickMsg:
		return m, m.assetTick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.PlayPause):
			if m.snap.Playing {
				m.seq.Pause()
			} else {
				m.seq.Play()
			}

		case key.Matches(msg, m.keys.Next):
			m.seq.Next()

		case key.Matches(msg, m.keys.Prev):
			m.seq.Prev()

		case key.Matches(msg, m.keys.Mute):
			m.seq.ToggleMute()

		case key.Matches(msg, m.keys.Replay):
			m.seq.Replay()

		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll

		case key.Matches(msg, m.keys.Select):
			// Keys are 1-based scene numbers.
			n := int(msg.Runes[0] - '1')
			m.seq.SelectScene(n)
		}

		m.snap = m.seq.Snapshot()
		return m, nil
	}

	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width <= 0 {
		width = m.cfg.MaxWidth
	}
	if width > m.cfg.MaxWidth {
		width = m.cfg.MaxWidth
	}
	if width < minWidth {
		width = minWidth
	}

	var b strings.Builder

	title := titleStyle.Render(m.cfg.Title)
	counter := ""
	if m.snap.TotalScenes > 0 {
		counter = counterStyle.Render(
			fmt.Sprintf("scene %d/%d", m.snap.Index+1, m.snap.TotalScenes))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", counter))
	b.WriteString("\n\n")

	if sc, ok := m.deck.At(m.snap.Index); ok {
		text := wordwrap.String(sc.Text(), width-6)
		b.WriteString(verseStyle.Width(width - 2).Render(text))
		b.WriteString("\n")

		if ref, ok := sc.VisualRef(); ok {
			b.WriteString(visualStyle.Render(
				runewidth.Truncate("illustration: "+ref, width-2, ellipsis)))
		} else {
			b.WriteString(visualStyle.Render("illustration: generating " + ellipsis))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(m.statusLine())
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}

func (m *Model) statusLine() string {
	if m.snap.Ended {
		return endedStyle.Render("■ the end") +
			counterStyle.Render("  press r to replay")
	}

	var parts []string
	if m.snap.Playing {
		parts = append(parts, "▶ playing")
	} else {
		parts = append(parts, "⏸ paused")
	}
	if m.snap.Muted {
		parts = append(parts, "muted")
	}
	return statusStyle.Render(strings.Join(parts, " · "))
}
