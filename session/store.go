package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the persisted state for one user.
type Record struct {
	UserKey   string
	SessionID string
	Confirmed bool
	UpdatedAt time.Time
}

// Store is the session continuity store. It is safe for concurrent use and
// is the only writer of its file.
type Store struct {
	mu        sync.Mutex
	path      string
	namespace uuid.UUID
	records   map[string]Record
	log       *slog.Logger
	now       func() time.Time
}

// NamespaceUUID returns the UUID under which user keys are hashed.
func NamespaceUUID(namespace string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("plural-chat:"+namespace))
}

// DeriveID returns the deterministic session id for userKey.
func DeriveID(namespace, userKey string) string {
	return uuid.NewSHA1(NamespaceUUID(namespace), []byte(userKey)).String()
}

// Open loads the store at path. A missing file yields an empty store. An
// unreadable file is moved aside and the store starts empty; ids then fall
// back to their deterministic values.
func Open(path, namespace string, log *slog.Logger) (*Store, error) {
	s := &Store{
		path:      path,
		namespace: NamespaceUUID(namespace),
		records:   make(map[string]Record),
		log:       log,
		now:       time.Now,
	}

	records, err := readFile(path)
	if err != nil {
		backup, moveErr := quarantine(path)
		if moveErr != nil {
			return nil, fmt.Errorf("load sessions from %s: %w", path, err)
		}
		log.Warn("session file unreadable, starting empty", "path", path, "backup", backup, "error", err)
		return s, nil
	}
	for _, r := range records {
		s.records[r.UserKey] = r
	}
	log.Debug("session store loaded", "path", path, "records", len(s.records))
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// GetOrCreate returns the user's session id and whether the CLI has not yet
// acknowledged it. Unknown users get their deterministic id, persisted as
// provisional before returning.
func (s *Store) GetOrCreate(userKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[userKey]; ok {
		return r.SessionID, !r.Confirmed, nil
	}

	r := Record{
		UserKey:   userKey,
		SessionID: uuid.NewSHA1(s.namespace, []byte(userKey)).String(),
		UpdatedAt: s.now(),
	}
	if err := s.putLocked(r); err != nil {
		return "", false, err
	}
	s.log.Info("session created", "userKey", userKey, "sessionID", r.SessionID)
	return r.SessionID, true, nil
}

// Confirm clears the provisional marker on the user's record, provided it
// still holds sessionID. A record that was reset in the meantime, an unknown
// user or an already confirmed record is left untouched.
func (s *Store) Confirm(userKey, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[userKey]
	if !ok || r.Confirmed {
		return nil
	}
	if r.SessionID != sessionID {
		s.log.Debug("skipping confirm of a replaced session", "userKey", userKey, "sessionID", sessionID, "current", r.SessionID)
		return nil
	}
	r.Confirmed = true
	r.UpdatedAt = s.now()
	return s.putLocked(r)
}

// Reset replaces the user's session id with a fresh random one. The next
// turn starts a new conversation.
func (s *Store) Reset(userKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Record{
		UserKey:   userKey,
		SessionID: uuid.New().String(),
		UpdatedAt: s.now(),
	}
	if err := s.putLocked(r); err != nil {
		return "", err
	}
	s.log.Info("session reset", "userKey", userKey, "sessionID", r.SessionID)
	return r.SessionID, nil
}

// Get returns the record for userKey, if any.
func (s *Store) Get(userKey string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userKey]
	return r, ok
}

// List returns all records sorted by user key.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserKey < out[j].UserKey })
	return out
}

// SessionIDs returns the set of ids currently owned by the store.
func (s *Store) SessionIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]bool, len(s.records))
	for _, r := range s.records {
		ids[r.SessionID] = true
	}
	return ids
}

// putLocked stores r and persists the whole map. On a write failure the
// previous in-memory state is restored. Caller must hold mu.
func (s *Store) putLocked(r Record) error {
	prev, existed := s.records[r.UserKey]
	s.records[r.UserKey] = r

	if err := writeFile(s.path, s.records); err != nil {
		if existed {
			s.records[r.UserKey] = prev
		} else {
			delete(s.records, r.UserKey)
		}
		return fmt.Errorf("persist sessions: %w", err)
	}
	return nil
}
