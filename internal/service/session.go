package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/domain"
)

// Session is the per-user context object carrying all workflow state: the
// current search results, the memoized verdicts for this epoch, and the
// shortlist. All state is scoped to one session and never shared.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu sync.Mutex

	// Epoch increments on every search. Cached verdicts and the landscape
	// blob belong to exactly one epoch; the shortlist spans epochs.
	epoch       int
	profile     *domain.PatientProfile
	fingerprint string

	results         domain.RankedTrials
	registryWarning bool

	verdicts  map[string]*domain.EligibilityVerdict
	analyzing map[string]bool
	analyzed  *sync.Cond // signals completion of an in-flight analysis

	shortlist      map[string]domain.ShortlistEntry
	shortlistOrder []string

	landscape  string
	comparison string
}

func newSession() *Session {
	s := &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		verdicts:  make(map[string]*domain.EligibilityVerdict),
		analyzing: make(map[string]bool),
		shortlist: make(map[string]domain.ShortlistEntry),
	}
	s.analyzed = sync.NewCond(&s.mu)
	return s
}

// beginEpoch installs a new search atomically: profile and results are
// replaced wholesale and the narrative blobs are cleared; the shortlist is
// left alone. Verdicts are keyed by (trial, profile snapshot), so they are
// invalidated only when the profile actually changed; re-running the same
// profile keeps them. Caller holds s.mu.
func (s *Session) beginEpoch(profile *domain.PatientProfile, results domain.RankedTrials, registryWarning bool) {
	fingerprint := profile.Fingerprint()

	s.epoch++
	s.profile = profile
	s.results = results
	s.registryWarning = registryWarning
	s.analyzing = make(map[string]bool)
	s.analyzed.Broadcast()
	s.landscape = ""
	s.comparison = ""

	if fingerprint != s.fingerprint {
		s.fingerprint = fingerprint
		s.verdicts = make(map[string]*domain.EligibilityVerdict)
	}
}

// cardState derives the state machine position for a trial card. Caller
// holds s.mu.
func (s *Session) cardState(nctID string) domain.CardState {
	if s.analyzing[nctID] {
		return domain.CardAnalyzing
	}
	if v, ok := s.verdicts[nctID]; ok {
		return domain.CardStateForVerdict(v.Status)
	}
	return domain.CardUnanalyzed
}

// removeShortlist drops a saved trial and its insertion-order slot, so a
// later re-save appends exactly one entry. Caller holds s.mu.
func (s *Session) removeShortlist(nctID string) {
	if _, ok := s.shortlist[nctID]; !ok {
		return
	}
	delete(s.shortlist, nctID)
	for i, id := range s.shortlistOrder {
		if id == nctID {
			s.shortlistOrder = append(s.shortlistOrder[:i], s.shortlistOrder[i+1:]...)
			break
		}
	}
}

// shortlistEntries returns saved trials in insertion order. Caller holds s.mu.
func (s *Session) shortlistEntries() []domain.ShortlistEntry {
	entries := make([]domain.ShortlistEntry, 0, len(s.shortlist))
	for _, id := range s.shortlistOrder {
		if e, ok := s.shortlist[id]; ok {
			entries = append(entries, e)
		}
	}
	return entries
}

// SessionManager owns the live sessions. Sessions expire after a TTL of
// inactivity-free lifetime and are capped in count; eviction tears the
// session down, matching the create-at-start, destroy-at-end lifecycle.
type SessionManager struct {
	sessions *expirable.LRU[string, *Session]
	logger   *logrus.Logger
}

// NewSessionManager creates a new session manager
func NewSessionManager(cfg domain.SessionConfig, logger *logrus.Logger) *SessionManager {
	if logger == nil {
		logger = logrus.New()
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	m := &SessionManager{logger: logger}
	m.sessions = expirable.NewLRU[string, *Session](maxSessions, func(id string, _ *Session) {
		logger.WithField("session_id", id).Debug("Session evicted")
	}, ttl)

	return m
}

// Create starts a new empty session.
func (m *SessionManager) Create() *Session {
	s := newSession()
	m.sessions.Add(s.ID, s)
	m.logger.WithField("session_id", s.ID).Info("Session created")
	return s
}

// Get returns the session for an identifier, or ErrSessionNotFound when the
// session is unknown or has expired.
func (m *SessionManager) Get(id string) (*Session, error) {
	if s, ok := m.sessions.Get(id); ok {
		return s, nil
	}
	return nil, domain.ErrSessionNotFound
}

// Remove tears down a session explicitly.
func (m *SessionManager) Remove(id string) {
	m.sessions.Remove(id)
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	return m.sessions.Len()
}
