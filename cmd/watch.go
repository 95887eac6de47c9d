// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fieldsync/bbsyncer/config"
	bbsignal "github.com/fieldsync/bbsyncer/signal"
	"github.com/fieldsync/bbsyncer/syncer"
	"github.com/fieldsync/bbsyncer/transport"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a sync with a live status dashboard",
	Long: `Runs the same workflow as "sync" but renders a full-screen dashboard
showing the current step, stream progress, and log tail instead of a
plain progress bar.

Press q or ctrl+c to close the dashboard once the sync has finished.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchSteps = []syncer.State{
	syncer.StateIdentify,
	syncer.StateSummary,
	syncer.StateCheckDisk,
	syncer.StateOpenSession,
	syncer.StateStream,
	syncer.StateVerify,
	syncer.StateWriteManifest,
	syncer.StateErase,
	syncer.StatePollEmpty,
}

func stepLabel(s syncer.State) string {
	switch s {
	case syncer.StateIdentify:
		return "identify FC"
	case syncer.StateSummary:
		return "query flash summary"
	case syncer.StateCheckDisk:
		return "check storage space"
	case syncer.StateOpenSession:
		return "open session"
	case syncer.StateStream:
		return "stream flash"
	case syncer.StateVerify:
		return "verify sha256"
	case syncer.StateWriteManifest:
		return "write manifest"
	case syncer.StateErase:
		return "erase FC flash"
	case syncer.StatePollEmpty:
		return "poll for empty"
	default:
		return string(s)
	}
}

// logWriter feeds an *log.Logger's output into a channel so the TUI can
// drain it on each tick, the same batching idea control.go uses for
// decoded packets.
type logWriter struct {
	ch chan string
}

func (w *logWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case w.ch <- line:
	default:
	}
	return len(p), nil
}

type watchTickMsg time.Time

type watchDoneMsg struct {
	result syncer.Result
	err    error
}

type watchModel struct {
	orc      *syncer.Orchestrator
	portName string
	logCh    chan string

	status   syncer.Status
	logLines []string
	maxLog   int

	done     bool
	result   syncer.Result
	runErr   error
	quitting bool

	width int
}

func initialWatchModel(orc *syncer.Orchestrator, portName string, logCh chan string) watchModel {
	return watchModel{
		orc:      orc,
		portName: portName,
		logCh:    logCh,
		maxLog:   12,
	}
}

func watchTickCmd() tea.Cmd {
	return tea.Tick(150*time.Millisecond, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) Init() tea.Cmd {
	return watchTickCmd()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case watchTickMsg:
		m.status = m.orc.Status()
	drainLoop:
		for {
			select {
			case line := <-m.logCh:
				m.logLines = append(m.logLines, line)
				if len(m.logLines) > m.maxLog {
					m.logLines = m.logLines[len(m.logLines)-m.maxLog:]
				}
			default:
				break drainLoop
			}
		}
		if m.done {
			return m, nil
		}
		return m, watchTickCmd()

	case watchDoneMsg:
		m.done = true
		m.result = msg.result
		m.runErr = msg.err
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	doneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	currentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	pendingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	logStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("BBSYNCER"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("port: %s | press q to quit", m.portName)))
	s.WriteString("\n\n")

	reached := false
	for _, step := range watchSteps {
		var line string
		switch {
		case m.status.State == step:
			reached = true
			line = currentStyle.Render(fmt.Sprintf("-> %s", stepLabel(step)))
			if step == syncer.StateStream {
				bar := progress.New(progress.WithSolidFill("10"))
				bar.Width = 40
				line += "  " + bar.ViewAs(float64(m.status.Progress)/100)
			}
		case reached:
			line = pendingStyle.Render(fmt.Sprintf("   %s", stepLabel(step)))
		default:
			line = doneStyle.Render(fmt.Sprintf(" ok %s", stepLabel(step)))
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	s.WriteString("\n")

	if m.done {
		if m.runErr != nil {
			s.WriteString(errorStyle.Render(fmt.Sprintf("sync failed: %v", m.runErr)))
		} else {
			s.WriteString(doneStyle.Render(fmt.Sprintf("sync finished: %s", m.result)))
		}
		s.WriteString("\n\n")
	}

	var logBody strings.Builder
	for _, line := range m.logLines {
		logBody.WriteString(logStyle.Render(line))
		logBody.WriteString("\n")
	}
	if logBody.Len() == 0 {
		logBody.WriteString(logStyle.Render("(no log output yet)"))
	}
	s.WriteString(boxStyle.Render(strings.TrimRight(logBody.String(), "\n")))
	s.WriteString("\n")

	return s.String()
}

func runWatch(cmd *cobra.Command, args []string) error {
	port := portName
	if port == "" {
		detected, err := transport.AutoDetectPort()
		if err != nil {
			return fmt.Errorf("no --port given and auto-detect failed: %w", err)
		}
		port = detected
	}

	cfg := config.FromFlags(port, storagePath, dryRun, verbose).
		WithBaud(baudRate).
		WithLEDBackend(ledBackend, gpioPin)

	logCh := make(chan string, 100)
	logger := log.New(&logWriter{ch: logCh}, "", log.LstdFlags)

	backend, err := newSignalBackend(cfg)
	if err != nil {
		return err
	}
	if starter, ok := backend.(interface{ Start() error }); ok {
		if err := starter.Start(); err != nil {
			return fmt.Errorf("signal backend start: %w", err)
		}
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	led := bbsignal.NewDriver(backend)
	led.Start()
	defer func() {
		led.WaitIdle(10 * time.Second)
		led.Stop()
	}()

	orc := syncer.New(cfg, led, logger)
	m := initialWatchModel(orc, port, logCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			orc.Cancel()
		}
	}()

	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		result, err := orc.Run(context.Background(), port)
		p.Send(watchDoneMsg{result: result, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	fm, ok := finalModel.(watchModel)
	if !ok {
		return nil
	}
	if fm.runErr != nil {
		fmt.Fprintln(os.Stderr, "sync failed:", fm.runErr)
		return fm.runErr
	}
	return nil
}
