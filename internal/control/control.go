// Package control carries out-of-band run commands (pause, resume, step)
// from any number of input sources to the action instrumentation.
package control

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Command is a single control token.
type Command string

const (
	Pause  Command = "p"
	Resume Command = "r"
	Step   Command = "s"
)

// Parse maps a line to a command. Anything that is not a known token is
// treated as no command.
func Parse(line string) (Command, bool) {
	switch c := Command(strings.TrimSpace(line)); c {
	case Pause, Resume, Step:
		return c, true
	default:
		return "", false
	}
}

// Source yields control commands.
type Source interface {
	Commands() <-chan Command
}

// Mux merges commands from several inputs into one channel. Sends never
// block; when the buffer is full the command is dropped.
type Mux struct {
	ch chan Command
}

func NewMux(size int) *Mux {
	if size <= 0 {
		size = 16
	}
	return &Mux{ch: make(chan Command, size)}
}

// Commands implements Source.
func (m *Mux) Commands() <-chan Command {
	return m.ch
}

// Send parses line and queues the resulting command. It reports whether a
// command was queued.
func (m *Mux) Send(line string) bool {
	c, ok := Parse(line)
	if !ok {
		return false
	}
	return m.Push(c)
}

// Push queues c without blocking.
func (m *Mux) Push(c Command) bool {
	select {
	case m.ch <- c:
		return true
	default:
		return false
	}
}

// ReadLines feeds every line of r to the mux until r is exhausted or ctx
// is done.
func (m *Mux) ReadLines(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.Send(scanner.Text())
	}
	return scanner.Err()
}
