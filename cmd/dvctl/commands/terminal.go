package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/scottdurow/dataverseify/pkg/workflow"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

// errNotInteractive is returned when a run needs confirmation but stdin is
// not a terminal and --yes was not given.
var errNotInteractive = errors.New("confirmation required: stdin is not a terminal, pass --yes to confirm")

// terminalConfirmer asks on out and reads a y/N answer from in.
type terminalConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c *terminalConfirmer) Confirm(ctx context.Context, p workflow.Prompt) (bool, error) {
	if f, ok := c.in.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false, errNotInteractive
	}

	fmt.Fprintln(c.out, titleStyle.Render(p.Title))
	fmt.Fprintf(c.out, "%s %s ", p.Text, mutedStyle.Render("[y/N]"))

	// The reader stays blocked on stdin after ctx is cancelled. dvctl exits
	// right after a cancelled run, so the goroutine is not reclaimed.
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(c.in).ReadString('\n')
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// terminalProgress writes one line per transitioned record.
type terminalProgress struct {
	out io.Writer
}

func (p *terminalProgress) Start() {}

func (p *terminalProgress) Report(i, n int, message string) {
	fmt.Fprintf(p.out, "%s %s\n", mutedStyle.Render(fmt.Sprintf("[%d/%d]", i, n)), message)
}

func (p *terminalProgress) Stop() {}

// terminalNotifier prints the run outcome.
type terminalNotifier struct {
	out io.Writer
}

func (n *terminalNotifier) Notify(title, text string) {
	if title != "" {
		fmt.Fprintln(n.out, titleStyle.Render(title))
	}
	fmt.Fprint(n.out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(n.out)
	}
}
