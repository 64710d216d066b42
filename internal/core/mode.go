// Package core is the orchestration layer.  It composes the transport,
// routing engine, and console dispatchers into complete operational
// modes and provides a builder that selects the right mode from a
// Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  session/router  →  operator/client  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of relaychat (server or
// client).  Each mode owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
