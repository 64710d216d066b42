// Package directive classifies input lines as chat payloads or
// administrative directives.  The same parser is used by the client
// console, the server operator console and the routing engine, which
// re-parses every inbound line instead of trusting the sender.
package directive

import (
	"strings"

	"golang.org/x/text/cases"
)

// Marker is the first character of every directive line.
const Marker = "#"

// Directive names known to at least one dispatcher.
const (
	Login   = "login"
	Logoff  = "logoff"
	Quit    = "quit"
	SetHost = "sethost"
	SetPort = "setport"
	GetHost = "gethost"
	GetPort = "getport"
	Start   = "start"
	Stop    = "stop"
	Close   = "close"
	Stats   = "stats"
	Who     = "who"
)

// Directive is a parsed administrative instruction.
type Directive struct {
	Name string   // case-folded, marker stripped; empty for a bare "#"
	Args []string // remaining whitespace-delimited tokens
	Raw  string   // the original line
}

// Payload is a chat line with no administrative meaning.
type Payload struct {
	Text string
}

// Input is the result of Parse: exactly one of Directive or Payload is
// non-nil.
type Input struct {
	Directive *Directive
	Payload   *Payload
}

// IsDirective reports whether the line was classified as a directive.
func (in Input) IsDirective() bool { return in.Directive != nil }

// Is reports whether the input is the directive called name.
func (in Input) Is(name string) bool {
	return in.Directive != nil && in.Directive.Name == name
}

// Parse classifies line.  Lines starting with Marker become a Directive
// whose Name is the case-folded first token; every other line is a
// Payload carrying the text verbatim.  Parse never fails.
func Parse(line string) Input {
	if !strings.HasPrefix(line, Marker) {
		return Input{Payload: &Payload{Text: line}}
	}

	fields := strings.Fields(strings.TrimPrefix(line, Marker))
	d := &Directive{Raw: line, Args: []string{}}
	if len(fields) > 0 {
		// Casers are stateful, so each call gets its own.
		d.Name = cases.Fold().String(fields[0])
		d.Args = fields[1:]
	}
	return Input{Directive: d}
}

// Arg returns the i-th argument or "" when absent.
func (d *Directive) Arg(i int) string {
	if i < 0 || i >= len(d.Args) {
		return ""
	}
	return d.Args[i]
}

// LoginLine renders the wire form of a login request.  It is the only
// directive a client ever transmits.
func LoginLine(loginID string) string {
	return Marker + Login + " " + loginID
}
