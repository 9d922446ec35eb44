package echoapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/enrol/core/onboarding"
	"github.com/trezcool/enrol/core/wizard"
)

// sessionTTL is how long an untouched session is kept.
const sessionTTL = 24 * time.Hour

var errSessionNotFound = echo.NewHTTPError(http.StatusNotFound, "session not found")

type (
	session struct {
		id      string
		kind    string
		owner   string // "" for signup sessions
		wizard  *wizard.Wizard
		flow    *onboarding.Flow // signup sessions only
		touched time.Time
	}

	// sessions keeps the live wizard sessions, keyed by a random id.
	sessions struct {
		mu   sync.Mutex
		byID map[string]*session
		ttl  time.Duration
	}

	sessionResponse struct {
		ID    string        `json:"id"`
		Kind  string        `json:"kind"`
		Steps []wizard.Step `json:"steps"`
		State wizard.State  `json:"state"`
		Moved *bool         `json:"moved,omitempty"`
	}
)

func newSessions(ttl time.Duration) *sessions {
	return &sessions{byID: make(map[string]*session), ttl: ttl}
}

func (s *sessions) add(kind, owner string, w *wizard.Wizard, f *onboarding.Flow) *session {
	now := NowFunc()
	sess := &session{
		id:      uuid.New().String(),
		kind:    kind,
		owner:   owner,
		wizard:  w,
		flow:    f,
		touched: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, old := range s.byID {
		if now.Sub(old.touched) > s.ttl {
			delete(s.byID, id)
		}
	}
	s.byID[sess.id] = sess
	return sess
}

// get returns the session id of owner. Sessions of other users are reported as not found.
func (s *sessions) get(id, owner string) (*session, error) {
	now := NowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok || sess.owner != owner {
		return nil, errSessionNotFound
	}
	if now.Sub(sess.touched) > s.ttl {
		delete(s.byID, id)
		return nil, errSessionNotFound
	}
	sess.touched = now
	return sess, nil
}

func (s *sessions) remove(id string) {
	s.mu.Lock()
	delete(s.byID, id)
	s.mu.Unlock()
}

func (sess *session) response(moved ...bool) sessionResponse {
	st := sess.wizard.State()
	st.Record = onboarding.Redact(st.Record)
	resp := sessionResponse{
		ID:    sess.id,
		Kind:  sess.kind,
		Steps: sess.wizard.Steps(),
		State: st,
	}
	if len(moved) > 0 {
		resp.Moved = &moved[0]
	}
	return resp
}
