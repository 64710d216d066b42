package session

import (
	"sort"
	"sync"
)

// Registry is the live Session Record set.  Additions, removals and
// snapshots are mutually exclusive, so a disconnect racing a broadcast
// can neither corrupt iteration nor remove a record twice.
type Registry struct {
	mu      sync.RWMutex
	records map[Conn]*Record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[Conn]*Record)}
}

// Add creates and stores a record for conn.  If conn is already
// registered the existing record is returned with added=false.
func (g *Registry) Add(conn Conn) (rec *Record, added bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rec, ok := g.records[conn]; ok {
		return rec, false
	}
	rec = New(conn)
	g.records[conn] = rec
	return rec, true
}

// Get returns the record for conn.
func (g *Registry) Get(conn Conn) (*Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[conn]
	return rec, ok
}

// Remove deletes and returns the record for conn.  Only the first call
// for a given connection reports removed=true.
func (g *Registry) Remove(conn Conn) (rec *Record, removed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, removed = g.records[conn]
	if removed {
		delete(g.records, conn)
	}
	return rec, removed
}

// Len returns the number of live records.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Snapshot copies the current record set.  Records added after the call
// are not part of the returned slice.
func (g *Registry) Snapshot() []*Record {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	return out
}

// LoginIDs returns the sorted login identifiers of authenticated
// records.
func (g *Registry) LoginIDs() []string {
	var ids []string
	for _, rec := range g.Snapshot() {
		if id, ok := rec.LoginID(); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
