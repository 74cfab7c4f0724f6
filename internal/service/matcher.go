package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/c-answer-server/internal/domain"
	"github.com/c-answer-server/internal/shortlist"
)

// Matcher orchestrates the trial-matching workflow: search, rank, analyze,
// curate, narrate, export. Every operation takes an explicit session; there
// is no ambient state.
type Matcher struct {
	registry domain.TrialRegistry
	oracle   domain.EligibilityOracle
	ranker   *GeoRanker
	sessions *SessionManager
	store    shortlist.Store // optional durable mirror; nil means memory only
	report   domain.ReportBuilder
	logger   *logrus.Logger
}

// NewMatcher creates the workflow service. store may be nil.
func NewMatcher(
	registry domain.TrialRegistry,
	oracle domain.EligibilityOracle,
	ranker *GeoRanker,
	sessions *SessionManager,
	store shortlist.Store,
	report domain.ReportBuilder,
	logger *logrus.Logger,
) *Matcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Matcher{
		registry: registry,
		oracle:   oracle,
		ranker:   ranker,
		sessions: sessions,
		store:    store,
		report:   report,
		logger:   logger,
	}
}

// SearchResult is the immutable snapshot returned from a search submission.
type SearchResult struct {
	SessionID       string              `json:"session_id"`
	Epoch           int                 `json:"epoch"`
	TrialsFound     int                 `json:"trials_found"`
	RegistryWarning bool                `json:"registry_warning,omitempty"`
	Results         domain.RankedTrials `json:"results"`
}

// CreateSession starts a new session.
func (m *Matcher) CreateSession() *Session {
	return m.sessions.Create()
}

// EndSession tears a session down. Ending an unknown session is a no-op.
func (m *Matcher) EndSession(sessionID string) {
	m.sessions.Remove(sessionID)
}

// SessionCount returns the number of live sessions.
func (m *Matcher) SessionCount() int {
	return m.sessions.Len()
}

// Search runs a full profile submission: validate, fetch, annotate, rank,
// and install the new epoch. A registry failure degrades to an empty result
// set with the warning flag raised; it never fails the session.
func (m *Matcher) Search(ctx context.Context, sessionID string, profile *domain.PatientProfile) (*SearchResult, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	profile.Normalize()
	if errs := profile.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	term := profile.SearchTerm()
	log := m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"condition":  term,
	})

	trials, err := m.registry.Search(ctx, term)
	registryWarning := false
	if err != nil {
		if !errors.Is(err, domain.ErrRegistryUnavailable) && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		log.WithError(err).Warn("Registry search failed, degrading to empty result set")
		trials = nil
		registryWarning = true
	}

	annotated := m.ranker.Annotate(ctx, trials, profile.PostalCode)

	var ranked domain.RankedTrials
	if profile.PostalCode == "" {
		ranked = domain.RankedTrials{Unranked: annotated}
	} else {
		ranked = m.ranker.Rank(annotated)
	}

	session.mu.Lock()
	session.beginEpoch(profile, ranked, registryWarning)
	result := &SearchResult{
		SessionID:       session.ID,
		Epoch:           session.epoch,
		TrialsFound:     len(trials),
		RegistryWarning: registryWarning,
		Results:         ranked,
	}
	session.mu.Unlock()

	log.WithField("trials_found", len(trials)).Info("Search completed")
	return result, nil
}

// AnalyzeResult pairs a verdict with the card state it produced.
type AnalyzeResult struct {
	Verdict   *domain.EligibilityVerdict `json:"verdict"`
	CardState domain.CardState           `json:"card_state"`
	Cached    bool                       `json:"cached"`
}

// Analyze returns the eligibility verdict for one trial, invoking the oracle
// at most once per (trial, profile snapshot). The session lock is released
// around the oracle call, so the trial's card reports Analyzing while the
// call is in flight; concurrent requests for the same trial wait for that
// call and return its result instead of issuing another.
func (m *Matcher) Analyze(ctx context.Context, sessionID, nctID string) (*AnalyzeResult, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	for session.analyzing[nctID] {
		session.analyzed.Wait()
	}
	if cached, ok := session.verdicts[nctID]; ok {
		result := &AnalyzeResult{Verdict: cached, CardState: session.cardState(nctID), Cached: true}
		session.mu.Unlock()
		return result, nil
	}

	trial, ok := session.results.Find(nctID)
	if !ok {
		session.mu.Unlock()
		return nil, domain.ErrTrialNotFound
	}
	if session.profile == nil {
		session.mu.Unlock()
		return nil, domain.NewValidationError("session", "no search has been performed", sessionID)
	}

	criteria := trial.EligibilityCriteria
	profileText := session.profile.Flatten()
	fingerprint := session.fingerprint
	session.analyzing[nctID] = true
	session.mu.Unlock()

	verdict, err := m.oracle.Evaluate(ctx, criteria, profileText)
	if err != nil {
		// The oracle client degrades internally; reaching here means a
		// programming error upstream, still surfaced as an error verdict.
		verdict = &domain.EligibilityVerdict{
			Status:      domain.VerdictError,
			Rationale:   fmt.Sprintf("Error: AI analysis failed (%v)", err),
			EvaluatedAt: time.Now().UTC(),
		}
	}
	verdict.NCTID = nctID

	session.mu.Lock()
	delete(session.analyzing, nctID)
	session.analyzed.Broadcast()
	state := domain.CardStateForVerdict(verdict.Status)
	if session.fingerprint == fingerprint {
		// Only memoize for the profile the verdict was computed against; a
		// search that changed the profile mid-flight discards it.
		session.verdicts[nctID] = verdict
		state = session.cardState(nctID)
	}
	session.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"nct_id":     nctID,
		"status":     verdict.Status,
	}).Info("Trial analyzed")

	return &AnalyzeResult{Verdict: verdict, CardState: state}, nil
}

// Verdict returns the current verdict and card state for a trial without
// triggering analysis.
func (m *Matcher) Verdict(sessionID, nctID string) (*AnalyzeResult, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	result := &AnalyzeResult{CardState: session.cardState(nctID)}
	if v, ok := session.verdicts[nctID]; ok {
		result.Verdict = v
		result.Cached = true
	}
	return result, nil
}

// Save adds a trial to the shortlist, capturing whatever verdict is current
// at save time. Saving is allowed from any card state.
func (m *Matcher) Save(ctx context.Context, sessionID, nctID string) (*domain.ShortlistEntry, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	trial, ok := session.results.Find(nctID)
	if !ok {
		return nil, domain.ErrTrialNotFound
	}

	entry := domain.ShortlistEntry{
		NCTID:         nctID,
		Title:         trial.Title,
		Summary:       trial.Summary,
		VerdictStatus: domain.NotAnalyzed,
		SavedAt:       time.Now().UTC(),
	}
	if v, found := session.verdicts[nctID]; found {
		entry.VerdictStatus = string(v.Status)
		entry.VerdictRationale = v.Rationale
	}

	if _, exists := session.shortlist[nctID]; !exists {
		session.shortlistOrder = append(session.shortlistOrder, nctID)
	}
	session.shortlist[nctID] = entry

	if m.store != nil {
		if err := m.store.Save(ctx, sessionID, &entry); err != nil {
			m.logger.WithError(err).Warn("Failed to persist shortlist entry")
		}
	}

	return &entry, nil
}

// Remove drops a trial from the shortlist.
func (m *Matcher) Remove(ctx context.Context, sessionID, nctID string) error {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	session.removeShortlist(nctID)
	session.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(ctx, sessionID, nctID); err != nil {
			m.logger.WithError(err).Warn("Failed to delete persisted shortlist entry")
		}
	}

	return nil
}

// Shortlist returns the saved trials in insertion order.
func (m *Matcher) Shortlist(sessionID string) ([]domain.ShortlistEntry, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return session.shortlistEntries(), nil
}

// Landscape returns the treatment-landscape narrative, produced once per
// epoch. Oracle failures degrade to a fixed error string.
func (m *Matcher) Landscape(ctx context.Context, sessionID string) (string, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.profile == nil {
		return "", domain.NewValidationError("session", "no search has been performed", sessionID)
	}
	if session.landscape != "" {
		return session.landscape, nil
	}

	text, err := m.oracle.Landscape(ctx, session.profile.Flatten())
	if err != nil {
		m.logger.WithError(err).Warn("Landscape generation failed")
		return fmt.Sprintf("Error: treatment landscape unavailable (%v)", err), nil
	}

	session.landscape = text
	return text, nil
}

// Compare produces a comparison narrative over the saved trials. Requires at
// least two saved trials.
func (m *Matcher) Compare(ctx context.Context, sessionID string) (string, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	entries := session.shortlistEntries()
	if len(entries) < 2 {
		return "", domain.NewValidationError("shortlist", "at least two saved trials are required to compare", len(entries))
	}

	profileText := ""
	if session.profile != nil {
		profileText = session.profile.Flatten()
	}

	text, err := m.oracle.Compare(ctx, profileText, entries)
	if err != nil {
		m.logger.WithError(err).Warn("Comparison generation failed")
		return fmt.Sprintf("Error: trial comparison unavailable (%v)", err), nil
	}

	session.comparison = text
	return text, nil
}

// Report assembles the export document for the session's shortlist.
func (m *Matcher) Report(sessionID string) ([]byte, error) {
	session, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	session.mu.Lock()
	entries := session.shortlistEntries()
	profileText := ""
	if session.profile != nil {
		profileText = session.profile.Flatten()
	}
	landscape := session.landscape
	comparison := session.comparison
	session.mu.Unlock()

	if len(entries) == 0 {
		return nil, domain.NewValidationError("shortlist", "no saved trials to export", 0)
	}

	return m.report.Build(entries, profileText, landscape, comparison)
}

// ExtractProfile maps free text onto profile fields via the oracle. A
// malformed extraction returns nil so the caller can fall back to manual
// entry.
func (m *Matcher) ExtractProfile(ctx context.Context, freeText string) (*domain.PatientProfile, error) {
	profile, err := m.oracle.ExtractProfile(ctx, freeText)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedExtraction) {
			m.logger.WithError(err).Warn("Profile extraction degraded to manual entry")
			return nil, nil
		}
		return nil, err
	}
	return profile, nil
}
