package main

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"hiddenclass/internal/ui"
)

// runWithProgress runs work while a progress view follows its events.
// work must not close events.
func runWithProgress(title string, scripts []string, work func(events chan<- ui.Event) error) error {
	events := make(chan ui.Event, 256)
	done := make(chan error, 1)

	go func() {
		err := work(events)
		close(events)
		done <- err
	}()

	model := ui.NewProgressModel(title, scripts, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// The view may quit early; keep the workers from blocking on a full channel.
	go func() {
		for range events {
		}
	}()
	err := <-done
	if uiErr != nil {
		return uiErr
	}
	return err
}
