package challenge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	errs "tokscraper/pkg/errors"
)

// TerminalPrompter waits for Enter on an interactive terminal
type TerminalPrompter struct {
	in  *os.File
	out io.Writer
}

// NewTerminalPrompter prompts on stderr and reads stdin
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr}
}

// Wait prints message and blocks until a line is read or ctx ends. It
// refuses to block when stdin is not a terminal.
func (p *TerminalPrompter) Wait(ctx context.Context, message string) error {
	if !term.IsTerminal(int(p.in.Fd())) {
		return errs.New(errs.ErrorTypeChallenge, "manual solving needs an interactive terminal on stdin")
	}
	fmt.Fprintf(p.out, "\n%s: ", message)

	line := make(chan error, 1)
	go func() {
		// Stays blocked on stdin if ctx ends first; the process is usually exiting then.
		_, err := bufio.NewReader(p.in).ReadString('\n')
		line <- err
	}()

	select {
	case err := <-line:
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		return nil
	case <-ctx.Done():
		return errs.FromContext(ctx)
	}
}
