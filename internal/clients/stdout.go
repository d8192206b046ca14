package clients

import (
	"context"
	"fmt"
	"io"
	"sync"

	"smartshopai/provisioner/internal/orchestrator"
)

// CompletionMessage is the line printed once every phase has succeeded.
const CompletionMessage = "MongoDB initialization completed successfully!"

// StdoutAnnouncer writes the completion line to an operator-facing stream.
type StdoutAnnouncer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutAnnouncer returns an announcer that writes to w.
func NewStdoutAnnouncer(w io.Writer) *StdoutAnnouncer {
	return &StdoutAnnouncer{w: w}
}

func (a *StdoutAnnouncer) Announce(_ context.Context, _ *orchestrator.BootstrapResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := fmt.Fprintln(a.w, CompletionMessage); err != nil {
		return fmt.Errorf("writing completion line: %w", err)
	}
	return nil
}
