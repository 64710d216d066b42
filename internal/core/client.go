package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"relaychat/internal/client"
	"relaychat/internal/console"
	"relaychat/util"
)

// ClientMode connects to the relay as one login ID and feeds console
// input to the client dispatcher until #quit, EOF, or a fatal
// transport failure.
type ClientMode struct {
	Client     *client.Client
	Dispatcher *client.Dispatcher
	Console    *console.Reader
	Logger     *util.Logger
}

// Run performs the initial connect and then drives the console.  A
// fatal transport failure ends the run with an error wrapping
// errors.ErrFatalTransport.
func (m *ClientMode) Run(ctx context.Context) error {
	defer m.Client.Quit()

	if err := m.Client.Connect(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// ── console ──────────────────────────────────────────────────
	g.Go(func() error {
		defer cancel()
		err := m.Console.Run(gctx, func(line string) error {
			return m.Dispatcher.Handle(gctx, line)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, io.EOF):
			m.Logger.Verbose("console closed; quitting")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return fmt.Errorf("console: %w", err)
		}
	})

	// ── fatal transport watcher ──────────────────────────────────
	g.Go(func() error {
		select {
		case err := <-m.Client.Fatal():
			return err
		case <-gctx.Done():
			return nil
		}
	})

	return g.Wait()
}
