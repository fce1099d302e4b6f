package session

import "sync"

// Session binds an authenticated subject to one live connection.
type Session struct {
	SubjectID string
	ConnID    string
}

// Registry maps subject IDs to live connection IDs. A subject may hold several
// sessions (one per device) or none. All methods are safe for concurrent use;
// the lock only covers the map operation itself.
type Registry struct {
	mu        sync.Mutex
	bySubject map[string][]string // subject -> conn IDs in registration order
	byConn    map[string]string   // conn ID -> subject
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySubject: make(map[string][]string),
		byConn:    make(map[string]string),
	}
}

// Register adds a session. It never rejects. Registering a connection ID that
// is already bound moves it to the new subject.
func (r *Registry) Register(subjectID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		r.detach(prev, connID)
	}
	r.byConn[connID] = subjectID
	r.bySubject[subjectID] = append(r.bySubject[subjectID], connID)
}

// FindBySubject returns one live connection for the subject. The earliest
// registered session that is still live wins.
func (r *Registry) FindBySubject(subjectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.bySubject[subjectID]
	if len(conns) == 0 {
		return "", false
	}
	return conns[0], true
}

// Sessions returns a snapshot of every connection held by the subject, in
// registration order.
func (r *Registry) Sessions(subjectID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.bySubject[subjectID]
	out := make([]string, len(conns))
	copy(out, conns)
	return out
}

// SubjectOf returns the subject bound to a connection.
func (r *Registry) SubjectOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subject, ok := r.byConn[connID]
	return subject, ok
}

// Remove drops every session using connID. It is idempotent and reports
// whether anything was removed.
func (r *Registry) Remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subject, ok := r.byConn[connID]
	if !ok {
		return false
	}
	delete(r.byConn, connID)
	r.detach(subject, connID)
	return true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

// detach removes connID from the subject's list. Caller holds mu.
func (r *Registry) detach(subjectID, connID string) {
	conns := r.bySubject[subjectID]
	kept := conns[:0]
	for _, c := range conns {
		if c != connID {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(r.bySubject, subjectID)
		return
	}
	r.bySubject[subjectID] = kept
}
