package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"relaychat/internal/console"
	"relaychat/internal/directive"
	ncerr "relaychat/internal/errors"
)

// Dispatcher interprets console input for a Client: directives act
// locally, anything else is forwarded to the server.
type Dispatcher struct {
	Client  *Client
	Display console.Display
}

// NewDispatcher returns a dispatcher that reports to the client's own
// display.
func NewDispatcher(c *Client) *Dispatcher {
	return &Dispatcher{Client: c, Display: c.display}
}

// Handle processes one console line.  It returns console.ErrQuit after
// #quit.  Usage errors are displayed, never returned; a transport fault
// is reported through Client.Fatal instead.
func (d *Dispatcher) Handle(ctx context.Context, line string) error {
	in := directive.Parse(line)
	if !in.IsDirective() {
		if err := d.Client.Send(in.Payload.Text); errors.Is(err, ncerr.ErrNotConnected) {
			d.Display.Display(NoticeNotConnected)
		}
		return nil
	}

	dir := in.Directive
	switch dir.Name {
	case directive.Quit:
		d.Client.Quit()
		return console.ErrQuit

	case directive.Logoff:
		if err := d.Client.Logoff(); err != nil {
			d.Display.Display("You are not logged in.")
		}

	case directive.SetHost:
		host := dir.Arg(0)
		if err := d.Client.SetHost(host); err != nil {
			d.report(err)
			return nil
		}
		d.Display.Display("Host set to: " + host)

	case directive.SetPort:
		port, err := d.parsePort(dir.Arg(0))
		if err == nil {
			err = d.Client.SetPort(port)
		}
		if err != nil {
			d.report(err)
			return nil
		}
		d.Display.Display(fmt.Sprintf("Port set to: %d", port))

	case directive.Login:
		if len(dir.Args) > 0 {
			d.Display.Display("Usage: #login")
			return nil
		}
		if err := d.Client.Connect(ctx); err != nil {
			d.report(err)
		}

	case directive.GetHost:
		d.Display.Display("Current host: " + d.Client.Host())

	case directive.GetPort:
		d.Display.Display(fmt.Sprintf("Current port: %d", d.Client.Port()))

	default:
		d.Display.Display("Unknown command.")
	}
	return nil
}

// parsePort validates a #setport argument.  The connection guard is
// checked first so a connected user always hears why nothing changed.
func (d *Dispatcher) parsePort(arg string) (int, error) {
	d.Client.mu.Lock()
	guard := d.Client.requireDisconnected(directive.SetPort, "port")
	d.Client.mu.Unlock()
	if guard != nil {
		return 0, guard
	}
	if arg == "" {
		return 0, ncerr.Usage(directive.SetPort, "Usage: #setport <port>", nil)
	}
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, ncerr.Usage(directive.SetPort, "Invalid port number.", err)
	}
	return port, nil
}

// report displays local usage errors.  Transport faults have already
// been announced by the client.
func (d *Dispatcher) report(err error) {
	var ue *ncerr.UsageError
	if errors.As(err, &ue) {
		d.Display.Display(ue.Message)
	}
}
