package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/sheetgate/internal/core"
)

// session is one operator's workflow plus a one-shot flash message for
// form posts that redirect back to the page.
type session struct {
	id       string
	workflow *core.Workflow

	mu       sync.Mutex
	flash    *core.UserMessage
	lastSeen time.Time
}

func (s *session) setFlash(msg core.UserMessage) {
	s.mu.Lock()
	s.flash = &msg
	s.mu.Unlock()
}

func (s *session) takeFlash() *core.UserMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.flash
	s.flash = nil
	return msg
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// sessionStore maps cookie ids to sessions.
type sessionStore struct {
	cookieName string
	secure     bool
	ttl        time.Duration
	newFlow    func(id string) *core.Workflow
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore(cookieName string, secure bool, ttl time.Duration, newFlow func(id string) *core.Workflow) *sessionStore {
	return &sessionStore{
		cookieName: cookieName,
		secure:     secure,
		ttl:        ttl,
		newFlow:    newFlow,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// get returns the caller's session, starting a new one (and setting the
// cookie) when the request has none or an expired one.
func (st *sessionStore) get(w http.ResponseWriter, r *http.Request) *session {
	now := st.now()

	if c, err := r.Cookie(st.cookieName); err == nil {
		st.mu.Lock()
		s, ok := st.sessions[c.Value]
		st.mu.Unlock()
		if ok {
			s.touch(now)
			return s
		}
	}

	id := uuid.NewString()
	s := &session{id: id, workflow: st.newFlow(id), lastSeen: now}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     st.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(st.ttl.Seconds()),
	})
	return s
}

// sweep clears and forgets sessions idle longer than the TTL. It returns the
// number removed.
func (st *sessionStore) sweep() int {
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	var expired []*session
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()

	// Clear outside the store lock; it cancels any in-flight call.
	for _, s := range expired {
		s.workflow.Clear()
	}
	return len(expired)
}

func (st *sessionStore) count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
