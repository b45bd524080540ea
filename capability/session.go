package capability

import (
	"container/list"
	"sync"

	"github.com/google/uuid"
)

// newSessionID generates a fresh session id for a memory_enabled
// capability invoked without one.
func newSessionID() string {
	return uuid.NewString()
}

// Session is the per-session_id context a memory_enabled capability
// receives and mutates across calls.
type Session struct {
	ID string

	mu   sync.Mutex
	data map[string]any

	// invokeMu serializes handler invocations sharing this session id
	// (P8): Dispatch/DispatchStream hold it for the lifetime of one
	// invocation, independent of the data lock above.
	invokeMu sync.Mutex
}

func newSession(id string) *Session {
	return &Session{ID: id, data: make(map[string]any)}
}

// lock serializes the start of a handler invocation against any other
// invocation sharing this session id; unlock releases it once that
// invocation (streaming or not) has fully completed.
func (s *Session) lock()   { s.invokeMu.Lock() }
func (s *Session) unlock() { s.invokeMu.Unlock() }

// Get returns the value stored under key, or nil if absent.
func (s *Session) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

// Set stores value under key.
func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Clear empties the session's stored context.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
}

// Snapshot returns a shallow copy of the session's stored context.
func (s *Session) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// SessionStore is the pluggable backing store for session context,
// keyed by the X-Session-ID/session_id value.
type SessionStore interface {
	Get(id string) (*Session, bool)
	GetOrCreate(id string) *Session
	Delete(id string)
	Clear()
}

// MemorySessionStore is the default SessionStore: an in-memory LRU bounded
// by maxSessions, with a store-level lock held only for insert/evict and
// per-session locking left to Session itself.
type MemorySessionStore struct {
	mu          sync.Mutex
	maxSessions int
	ll          *list.List
	items       map[string]*list.Element
}

type sessionItem struct {
	id      string
	session *Session
}

// NewMemorySessionStore constructs a MemorySessionStore bounded to
// maxSessions. A non-positive maxSessions means unbounded.
func NewMemorySessionStore(maxSessions int) *MemorySessionStore {
	return &MemorySessionStore{
		maxSessions: maxSessions,
		ll:          list.New(),
		items:       make(map[string]*list.Element),
	}
}

func (s *MemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[id]
	if !ok {
		return nil, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*sessionItem).session, true
}

func (s *MemorySessionStore) GetOrCreate(id string) *Session {
	s.mu.Lock()
	if el, ok := s.items[id]; ok {
		s.ll.MoveToFront(el)
		sess := el.Value.(*sessionItem).session
		s.mu.Unlock()
		return sess
	}
	sess := newSession(id)
	el := s.ll.PushFront(&sessionItem{id: id, session: sess})
	s.items[id] = el
	if s.maxSessions > 0 {
		for s.ll.Len() > s.maxSessions {
			oldest := s.ll.Back()
			if oldest == nil {
				break
			}
			s.ll.Remove(oldest)
			delete(s.items, oldest.Value.(*sessionItem).id)
		}
	}
	s.mu.Unlock()
	return sess
}

func (s *MemorySessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[id]; ok {
		s.ll.Remove(el)
		delete(s.items, id)
	}
}

func (s *MemorySessionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.items = make(map[string]*list.Element)
}

var _ SessionStore = (*MemorySessionStore)(nil)
