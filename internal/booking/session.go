package booking

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/hackgods/petcare-scheduling/internal/clock"
)

var (
	ErrSessionNotFound = errors.New("booking session not found")
	// ErrSessionConflict is returned when a session changed after it was loaded.
	ErrSessionConflict = errors.New("booking session was changed by another request")
)

// confirmedSaveAttempts bounds how often a confirmed workflow re-reads the
// session to overwrite a concurrent, unconfirmed outcome.
const confirmedSaveAttempts = 3

// SessionStore persists workflow snapshots between requests. Entries
// expire after the store's TTL, which is how abandoned drafts are dropped.
//
// Save is conditional: it succeeds only while the stored revision equals
// snap.Version (zero for a new session) and stores the snapshot as the next
// revision. Otherwise it returns ErrSessionConflict.
type SessionStore interface {
	Save(ctx context.Context, id string, snap Snapshot) error
	Load(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
}

type memorySession struct {
	snap      Snapshot
	expiresAt time.Time
}

type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	clock    clock.Clock
	sessions map[string]memorySession
}

func NewMemorySessionStore(ttl time.Duration, clk clock.Clock) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, clock: clk, sessions: make(map[string]memorySession)}
}

// current returns the live entry for id. The caller holds mu.
func (s *MemorySessionStore) current(id string) (memorySession, bool) {
	entry, ok := s.sessions[id]
	if !ok {
		return memorySession{}, false
	}
	if !s.clock.Now().Before(entry.expiresAt) {
		delete(s.sessions, id)
		return memorySession{}, false
	}
	return entry, true
}

func (s *MemorySessionStore) Save(_ context.Context, id string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if entry, ok := s.current(id); ok {
		stored = entry.snap.Version
	}
	if stored != snap.Version {
		return ErrSessionConflict
	}
	snap.Version++
	s.sessions[id] = memorySession{snap: snap, expiresAt: s.clock.Now().Add(s.ttl)}
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.current(id)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	return entry.snap, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sessions binds stored snapshots to live workflows. The identity
// collaborator is supplied per call since it usually comes from the
// request.
type Sessions struct {
	store SessionStore
	deps  Deps
}

func NewSessions(store SessionStore, deps Deps) *Sessions {
	return &Sessions{store: store, deps: deps}
}

func (s *Sessions) withIdentity(identity IdentityProvider) Deps {
	deps := s.deps
	if identity != nil {
		deps.Identity = identity
	}
	return deps
}

// Start opens a fresh session in StateSelectingProvider.
func (s *Sessions) Start(ctx context.Context, identity IdentityProvider) (string, *Workflow, error) {
	id := uuid.NewString()
	w := New(s.withIdentity(identity))
	if err := s.Save(ctx, id, w); err != nil {
		return "", nil, err
	}
	return id, w, nil
}

// Open restores a session. A session parked in StateAwaitingIdentity is
// resumed immediately when the caller now carries an identity; the
// outcome of that resume is reported through the workflow's state and Err.
// If another request saved the session meanwhile, its stored outcome is
// returned instead.
func (s *Sessions) Open(ctx context.Context, id string, identity IdentityProvider) (*Workflow, error) {
	snap, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	deps := s.withIdentity(identity)
	w := Restore(deps, snap)

	if w.State() != StateAwaitingIdentity {
		return w, nil
	}
	who, ok := w.deps.Identity.Current(ctx)
	if !ok {
		return w, nil
	}

	_ = w.Resume(ctx, who)
	w.autoResumed = true
	err = s.Save(ctx, id, w)
	switch {
	case err == nil:
		return w, nil
	case errors.Is(err, ErrSessionConflict):
		snap, err = s.store.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		return Restore(deps, snap), nil
	default:
		return nil, err
	}
}

// Save stores w as the next revision of the session. A confirmed workflow
// overwrites a concurrent save that did not confirm, so a booking the
// customer holds is never replaced by a lost race for the same draft.
func (s *Sessions) Save(ctx context.Context, id string, w *Workflow) error {
	for attempt := 1; ; attempt++ {
		err := s.store.Save(ctx, id, w.Snapshot())
		if err == nil {
			w.version++
			return nil
		}
		if !errors.Is(err, ErrSessionConflict) {
			return errors.Wrap(err, "save booking session")
		}
		if w.State() != StateConfirmed || attempt >= confirmedSaveAttempts {
			return err
		}

		current, err := s.store.Load(ctx, id)
		if err != nil {
			return errors.Wrap(err, "reload booking session")
		}
		if current.State == StateConfirmed {
			return ErrSessionConflict
		}
		w.version = current.Version
	}
}

func (s *Sessions) Discard(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete booking session")
	}
	return nil
}
