// Package operator interprets the server operator's console input:
// # directives control the listener and sessions, anything else is
// announced to every client.
package operator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"relaychat/internal/console"
	"relaychat/internal/directive"
	ncerr "relaychat/internal/errors"
	"relaychat/internal/metrics"
	"relaychat/internal/router"
	"relaychat/util"
)

// ShutdownNotice is sent to every logged-in client before #close or
// #quit drops them.
var ShutdownNotice = router.OperatorLine("Server is shutting down.")

// Server is the part of the transport the operator controls.
type Server interface {
	Listen(ctx context.Context) error
	StopListening() error
	Close() error
	IsListening() bool
	ActiveConnectionCount() int
	Host() string
	Port() int
	SetPort(port int) error
}

// Announcer broadcasts operator text through the routing engine, in
// order with routed chat lines.
type Announcer interface {
	Announce(text string) (string, error)
	Broadcast(line string) int
	Who() []string
}

// Dispatcher handles one operator line at a time.
type Dispatcher struct {
	Server  Server
	Router  Announcer
	Metrics *metrics.Collector
	Display console.Display
	Logger  *util.Logger
}

// Handle processes one console line.  It returns console.ErrQuit after
// #quit; every other outcome is displayed to the operator.
func (d *Dispatcher) Handle(ctx context.Context, line string) error {
	in := directive.Parse(line)
	if !in.IsDirective() {
		line, err := d.Router.Announce(in.Payload.Text)
		if err != nil {
			d.Display.Display("Message too long; not sent.")
			return nil
		}
		d.Display.Display(line)
		return nil
	}

	dir := in.Directive
	switch dir.Name {
	case directive.Quit:
		d.shutdown()
		d.Display.Display("Server shutting down.")
		return console.ErrQuit

	case directive.Stop:
		if err := d.Server.StopListening(); err != nil {
			d.Display.Display("Server is not listening.")
			return nil
		}
		d.Display.Display("Server has stopped listening for connections.")

	case directive.Close:
		n := d.Server.ActiveConnectionCount()
		d.shutdown()
		d.Display.Display(fmt.Sprintf("Server closed; %d client(s) disconnected.", n))

	case directive.Start:
		if d.Server.IsListening() {
			d.Display.Display("Server is already running.")
			return nil
		}
		if err := d.Server.Listen(ctx); err != nil {
			d.logger().Error("listen: %v", err)
			d.Display.Display("Could not start server: " + err.Error())
			return nil
		}
		d.Display.Display(fmt.Sprintf("Server listening for connections on port %d", d.Server.Port()))

	case directive.SetPort:
		port, uerr := d.setPort(dir.Arg(0))
		if uerr != nil {
			d.Display.Display(uerr.Message)
			return nil
		}
		d.Display.Display(fmt.Sprintf("Port set to: %d", port))

	case directive.GetPort:
		d.Display.Display(fmt.Sprintf("Current port: %d", d.Server.Port()))

	case directive.GetHost:
		host := d.Server.Host()
		if host == "" {
			host = "0.0.0.0"
		}
		d.Display.Display("Current host: " + host)

	case directive.Stats:
		d.Display.Display(d.Metrics.JSON())

	case directive.Who:
		ids := d.Router.Who()
		if len(ids) == 0 {
			d.Display.Display("No clients logged in.")
			return nil
		}
		d.Display.Display(fmt.Sprintf("Logged in (%d): %s", len(ids), strings.Join(ids, ", ")))

	default:
		d.Display.Display("Unknown command.")
	}
	return nil
}

// setPort applies #setport.  The server must be stopped and empty; the
// port is untouched on any error.
func (d *Dispatcher) setPort(arg string) (int, *ncerr.UsageError) {
	if d.Server.IsListening() || d.Server.ActiveConnectionCount() > 0 {
		return 0, ncerr.Usage(directive.SetPort, "Stop the server before setting the port.", ncerr.ErrListening)
	}
	if arg == "" {
		return 0, ncerr.Usage(directive.SetPort, "Usage: #setport <port>", nil)
	}
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, ncerr.Usage(directive.SetPort, "Invalid port number.", err)
	}
	if err := d.Server.SetPort(port); err != nil {
		// A client slipped in between the check and the change.
		return 0, ncerr.Usage(directive.SetPort, "Stop the server before setting the port.", err)
	}
	return port, nil
}

func (d *Dispatcher) shutdown() {
	if n := d.Router.Broadcast(ShutdownNotice); n > 0 {
		d.logger().Verbose("shutdown notice sent to %d client(s)", n)
	}
	if err := d.Server.Close(); err != nil {
		d.logger().Warn("close: %v", err)
	}
}

func (d *Dispatcher) logger() *util.Logger {
	if d.Logger == nil {
		d.Logger = util.NewLogger(0)
	}
	return d.Logger
}
