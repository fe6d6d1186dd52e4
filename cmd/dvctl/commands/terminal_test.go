package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/scottdurow/dataverseify/pkg/workflow"
)

func TestTerminalConfirmerAnswers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			c := &terminalConfirmer{in: strings.NewReader(tt.input), out: &out}
			got, err := c.Confirm(context.Background(), workflow.Prompt{Title: "Close?", Text: "Close 2?"})
			if err != nil {
				t.Fatalf("Confirm() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "[y/N]") {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestTerminalConfirmerCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := &terminalConfirmer{in: r, out: io.Discard}
	got, err := c.Confirm(ctx, workflow.Prompt{Title: "Close?", Text: "Close 2?"})
	if got || !errors.Is(err, context.Canceled) {
		t.Errorf("Confirm() = %v, %v, want decline with context.Canceled", got, err)
	}
}
