package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"relaychat/internal/console"
	"relaychat/internal/operator"
	"relaychat/internal/router"
	"relaychat/internal/telemetry"
	"relaychat/internal/transport"
	"relaychat/util"
)

// ServerMode runs the relay: it listens for clients, routes their
// lines, and feeds the operator console to the operator dispatcher.
type ServerMode struct {
	Server   *transport.Server
	Router   *router.Router
	Operator *operator.Dispatcher
	Console  *console.Reader

	OTelEndpoint string
	Logger       *util.Logger
}

// Run starts listening and serves until the operator types #quit or
// ctx is cancelled.  When the console reaches EOF the relay keeps
// serving until ctx is done.
func (m *ServerMode) Run(ctx context.Context) error {
	shutdownTracing, err := telemetry.Setup(ctx, "relaychat-server", m.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background()) //nolint:errcheck

	if err := m.Server.Listen(ctx); err != nil {
		return err
	}
	defer m.stop()

	display := m.Operator.Display
	display.Display(fmt.Sprintf("Server listening for connections on port %d", m.Server.Port()))

	err = m.Console.Run(ctx, func(line string) error {
		return m.Operator.Handle(ctx, line)
	})
	switch {
	case err == nil:
		// #quit already closed the server.
		return nil
	case errors.Is(err, io.EOF):
		m.Logger.Verbose("console closed; serving until interrupted")
		<-ctx.Done()
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		return fmt.Errorf("console: %w", err)
	}
}

// stop notifies any remaining clients and releases every connection.
func (m *ServerMode) stop() {
	if n := m.Router.Broadcast(operator.ShutdownNotice); n > 0 {
		m.Logger.Info("shutdown notice sent to %d client(s)", n)
	}
	if err := m.Server.Close(); err != nil {
		m.Logger.Warn("close: %v", err)
	}
}
