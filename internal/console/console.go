// Package console is the local user surface shared by the chat client
// and the server operator: a line-at-a-time input loop and a display
// sink for everything the user should see.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrQuit ends a Reader loop without error.
var ErrQuit = errors.New("quit")

// Display shows one line to the local user.  Implementations must be
// safe for concurrent use: inbound network lines and local command
// output are displayed from different goroutines.
type Display interface {
	Display(line string)
}

// ── Writer ───────────────────────────────────────────────────────────

// Writer is a Display that writes each line to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Display over w (os.Stdout when nil).
func NewWriter(w io.Writer) *Writer {
	if w == nil {
		w = os.Stdout
	}
	return &Writer{w: w}
}

func (d *Writer) Display(line string) {
	d.mu.Lock()
	fmt.Fprintln(d.w, line)
	d.mu.Unlock()
}

// ── Recorder ─────────────────────────────────────────────────────────

// Recorder is a Display that keeps every line in memory.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Display(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Lines returns a copy of everything displayed so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether line has been displayed.
func (r *Recorder) Contains(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lines {
		if l == line {
			return true
		}
	}
	return false
}

// ── Reader ───────────────────────────────────────────────────────────

// Reader feeds input lines to a handler.
type Reader struct {
	In io.Reader // defaults to os.Stdin

	// Prompt is written to PromptOut before each line, but only when
	// In is a terminal.
	Prompt    string
	PromptOut io.Writer // defaults to os.Stdout
}

// Run calls handle for every input line until the handler returns
// ErrQuit (Run returns nil), the handler fails (Run returns its error),
// input ends (Run returns io.EOF), or ctx is done.
func (r *Reader) Run(ctx context.Context, handle func(line string) error) error {
	in := r.In
	if in == nil {
		in = os.Stdin
	}
	out := r.PromptOut
	if out == nil {
		out = os.Stdout
	}
	prompt := r.Prompt != "" && IsTerminal(in)

	lines := make(chan string)
	readErr := make(chan error, 1)
	next := make(chan struct{}, 1)

	// Reading stdin cannot be cancelled, so it runs on its own
	// goroutine and hands over one line at a time.
	go func() {
		sc := bufio.NewScanner(in)
		for {
			if prompt {
				fmt.Fprint(out, r.Prompt)
			}
			if !sc.Scan() {
				break
			}
			select {
			case lines <- strings.TrimSuffix(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
			select {
			case <-next:
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			readErr <- err
			return
		}
		readErr <- io.EOF
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := handle(line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				return err
			}
			next <- struct{}{}
		}
	}
}

// IsTerminal reports whether r is an interactive terminal.
func IsTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
