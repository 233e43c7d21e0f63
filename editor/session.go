// Package editor holds the live document of each open template. Jobs read
// it once at start and restore it when they finish.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"invitecanvas/core"
)

// ErrBusy is returned when a document is edited while a job holds it.
var ErrBusy = errors.New("document is held by a running job")

// Session guards one live document.
type Session struct {
	templateID string

	mu       sync.RWMutex
	doc      *core.Snapshot
	revision int64
	holds    int
	used     time.Time
}

// NewSession starts a session on a copy of doc.
func NewSession(templateID string, doc *core.Snapshot) *Session {
	return &Session{templateID: templateID, doc: doc.Clone(), used: time.Now()}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.used = time.Now()
	s.mu.Unlock()
}

// idleSince reports whether the session is unheld and unused since before t.
func (s *Session) idleSince(t time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holds == 0 && s.used.Before(t)
}

func (s *Session) TemplateID() string { return s.templateID }

// Snapshot returns a deep copy of the live document, or nil if there is none.
func (s *Session) Snapshot() *core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

// Replace is an edit: it swaps in a copy of snap and bumps the revision.
func (s *Session) Replace(snap *core.Snapshot) error {
	if snap == nil {
		return core.ErrNoDocument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holds > 0 {
		return ErrBusy
	}
	s.doc = snap.Clone()
	s.revision++
	s.used = time.Now()
	return nil
}

// Commit is an edit that must also be persisted: save runs under the
// session lock and snap is swapped in only if it succeeds.
func (s *Session) Commit(snap *core.Snapshot, save func() error) error {
	if snap == nil {
		return core.ErrNoDocument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holds > 0 {
		return ErrBusy
	}
	if err := save(); err != nil {
		return err
	}
	s.doc = snap.Clone()
	s.revision++
	s.used = time.Now()
	return nil
}

// Restore puts snap back as the live document. Restoring an identical
// document is a no-op and leaves the revision alone.
func (s *Session) Restore(snap *core.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Fingerprint() == snap.Fingerprint() {
		return
	}
	logrus.WithField("template_id", s.templateID).Warn("Live document differed after job, restoring")
	s.doc = snap.Clone()
	s.revision++
}

// Fingerprint identifies the live document's content.
func (s *Session) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Fingerprint()
}

// Revision counts edits and restorations that changed the document.
func (s *Session) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Hold blocks edits until the returned release func is called.
func (s *Session) Hold() (release func()) {
	s.mu.Lock()
	s.holds++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.holds--
			s.used = time.Now()
			s.mu.Unlock()
		})
	}
}

// Held reports whether a job currently holds the document.
func (s *Session) Held() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holds > 0
}

// Registry keeps one session per user template, loaded on first use.
type Registry struct {
	store core.TemplateStore

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store core.TemplateStore) *Registry {
	return &Registry{store: store, sessions: make(map[string]*Session)}
}

func sessionKey(userID, templateID string) string { return userID + "/" + templateID }

// Open returns the session of a template, loading it from the store if needed.
func (r *Registry) Open(ctx context.Context, userID, templateID string) (*Session, error) {
	key := sessionKey(userID, templateID)

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		s.touch()
		return s, nil
	}
	r.mu.Unlock()

	tmpl, err := r.store.Get(ctx, userID, templateID)
	if err != nil {
		return nil, err
	}
	doc, err := tmpl.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have loaded it meanwhile.
	if s, ok := r.sessions[key]; ok {
		s.touch()
		return s, nil
	}
	s := NewSession(templateID, doc)
	r.sessions[key] = s
	logrus.WithFields(logrus.Fields{"user_id": userID, "template_id": templateID}).Debug("Editor session opened")
	return s, nil
}

// Replace applies an edit to an open session. Templates without a session
// are left to the store.
func (r *Registry) Replace(userID, templateID string, snap *core.Snapshot) error {
	s, ok := r.Lookup(userID, templateID)
	if !ok {
		return nil
	}
	return s.Replace(snap)
}

// Commit persists an edit with save and then applies it to the open
// session, if any. A held session fails with ErrBusy before save runs.
func (r *Registry) Commit(userID, templateID string, snap *core.Snapshot, save func() error) error {
	s, ok := r.Lookup(userID, templateID)
	if !ok {
		return save()
	}
	return s.Commit(snap, save)
}

// Lookup returns an already open session without touching the store.
func (r *Registry) Lookup(userID, templateID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey(userID, templateID)]
	return s, ok
}

// Drop forgets a session, for example after its template is deleted.
func (r *Registry) Drop(userID, templateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey(userID, templateID))
}

// Prune drops sessions that no job holds and that nobody opened or edited
// for longer than idle. It returns how many were dropped.
func (r *Registry) Prune(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for key, s := range r.sessions {
		if s.idleSince(cutoff) {
			delete(r.sessions, key)
			dropped++
		}
	}
	if dropped > 0 {
		logrus.WithFields(logrus.Fields{"dropped": dropped, "open": len(r.sessions)}).Debug("Idle editor sessions pruned")
	}
	return dropped
}

// PruneEvery runs Prune(idle) on a ticker until ctx is done.
func (r *Registry) PruneEvery(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune(idle)
		}
	}
}
