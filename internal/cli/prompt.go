package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ErrInputCancelled is returned when the context ends before the operator answers.
var ErrInputCancelled = errors.New("input canceled")

type scanned struct {
	text string
	err  error
}

// Prompter asks the operator questions on a terminal. Input is read by a
// single background scanner, so an abandoned question does not swallow the
// next answer.
type Prompter struct {
	in    io.Reader
	out   io.Writer
	start sync.Once
	lines chan scanned
}

// NewPrompter creates a prompter; nil streams default to stdin and stdout.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{in: in, out: out, lines: make(chan scanned, 1)}
}

func (p *Prompter) scan() {
	defer close(p.lines)
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanned{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		p.lines <- scanned{err: err}
	}
}

// ReadLine waits for the next trimmed input line. It returns io.EOF once
// input is exhausted and ErrInputCancelled if ctx ends first.
func (p *Prompter) ReadLine(ctx context.Context) (string, error) {
	if ctx.Err() != nil {
		return "", ErrInputCancelled
	}
	p.start.Do(func() { go p.scan() })

	select {
	case <-ctx.Done():
		return "", ErrInputCancelled
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		if line.err != nil {
			return "", line.err
		}
		return strings.TrimSpace(line.text), nil
	}
}

// Ask prints a prompt and returns the operator's trimmed answer.
func (p *Prompter) Ask(ctx context.Context, question string) (string, error) {
	if _, err := fmt.Fprint(p.out, FormatPrompt(question)); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	return p.ReadLine(ctx)
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	answer, err := p.Ask(ctx, question+" [y/N]")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}
