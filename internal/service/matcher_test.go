package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c-answer-server/internal/domain"
)

// fakeRegistry serves a fixed trial list.
type fakeRegistry struct {
	trials []domain.TrialRecord
	err    error
	calls  int
}

func (f *fakeRegistry) Search(context.Context, string) ([]domain.TrialRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.trials, nil
}

// fakeOracle counts evaluate calls so tests can assert memoization.
type fakeOracle struct {
	evaluateCalls  int
	landscapeCalls int
	status         domain.VerdictStatus
	evaluateErr    error
	landscapeErr   error
	compareErr     error
	extracted      *domain.PatientProfile
	extractErr     error
}

func (f *fakeOracle) Evaluate(_ context.Context, criteria, _ string) (*domain.EligibilityVerdict, error) {
	f.evaluateCalls++
	if f.evaluateErr != nil {
		return nil, f.evaluateErr
	}
	status := f.status
	if status == "" {
		status = domain.VerdictMatch
	}
	return &domain.EligibilityVerdict{
		Status:      status,
		Rationale:   "because",
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeOracle) Landscape(context.Context, string) (string, error) {
	f.landscapeCalls++
	if f.landscapeErr != nil {
		return "", f.landscapeErr
	}
	return fmt.Sprintf("landscape %d", f.landscapeCalls), nil
}

func (f *fakeOracle) Compare(_ context.Context, _ string, entries []domain.ShortlistEntry) (string, error) {
	if f.compareErr != nil {
		return "", f.compareErr
	}
	return fmt.Sprintf("compared %d trials", len(entries)), nil
}

func (f *fakeOracle) ExtractProfile(context.Context, string) (*domain.PatientProfile, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return f.extracted, nil
}

// fakeBuilder records what it was asked to render.
type fakeBuilder struct {
	lastEntries    []domain.ShortlistEntry
	lastLandscape  string
	lastComparison string
}

func (f *fakeBuilder) Build(entries []domain.ShortlistEntry, _, landscape, comparison string) ([]byte, error) {
	f.lastEntries = entries
	f.lastLandscape = landscape
	f.lastComparison = comparison
	return []byte("%PDF-fake"), nil
}

func testTrials() []domain.TrialRecord {
	return []domain.TrialRecord{
		{NCTID: "NCT001", Title: "Trial One", EligibilityCriteria: "Inclusion: adults with measurable disease."},
		{NCTID: "NCT002", Title: "Trial Two", EligibilityCriteria: "Inclusion: ECOG 0-1, no prior therapy."},
	}
}

// blockingOracle parks Evaluate until released so tests can observe the
// in-flight state.
type blockingOracle struct {
	fakeOracle
	entered chan struct{}
	release chan struct{}
}

func (b *blockingOracle) Evaluate(ctx context.Context, criteria, profileText string) (*domain.EligibilityVerdict, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.fakeOracle.Evaluate(ctx, criteria, profileText)
}

func newTestMatcher(registry *fakeRegistry, oracle domain.EligibilityOracle) (*Matcher, *fakeBuilder) {
	builder := &fakeBuilder{}
	sessions := NewSessionManager(domain.SessionConfig{}, nil)
	ranker := NewGeoRanker(&fakeResolver{centroids: testCentroids}, nil)
	return NewMatcher(registry, oracle, ranker, sessions, nil, builder, nil), builder
}

func runSearch(t *testing.T, m *Matcher, sessionID string) *SearchResult {
	t.Helper()
	result, err := m.Search(context.Background(), sessionID, &domain.PatientProfile{Diagnosis: "pancreatic cancer"})
	require.NoError(t, err)
	return result
}

func TestSearchReturnsRankedResults(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()

	result := runSearch(t, m, session.ID)

	assert.Equal(t, 1, result.Epoch)
	assert.Equal(t, 2, result.TrialsFound)
	assert.False(t, result.RegistryWarning)
	// No postal code: everything lands in the unranked list.
	assert.Len(t, result.Results.Unranked, 2)
}

func TestSearchUnknownSession(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{}, &fakeOracle{})

	_, err := m.Search(context.Background(), "no-such-session", &domain.PatientProfile{Diagnosis: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSearchRejectsInvalidProfile(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{}, &fakeOracle{})
	session := m.CreateSession()

	_, err := m.Search(context.Background(), session.ID, &domain.PatientProfile{})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "diagnosis", vErr.Field)
}

func TestSearchDegradesOnRegistryFailure(t *testing.T) {
	registry := &fakeRegistry{err: fmt.Errorf("%w: connection refused", domain.ErrRegistryUnavailable)}
	m, _ := newTestMatcher(registry, &fakeOracle{})
	session := m.CreateSession()

	result := runSearch(t, m, session.ID)

	assert.True(t, result.RegistryWarning)
	assert.Zero(t, result.TrialsFound)
	assert.Empty(t, result.Results.All())
}

func TestAnalyzeMemoizesPerEpoch(t *testing.T) {
	oracle := &fakeOracle{}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	first, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, domain.CardMatched, first.CardState)

	second, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Verdict, second.Verdict)

	assert.Equal(t, 1, oracle.evaluateCalls, "one oracle call per trial per epoch")
}

func TestAnalyzeProfileChangeInvalidatesVerdicts(t *testing.T) {
	oracle := &fakeOracle{}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()

	runSearch(t, m, session.ID)
	_, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	// A search with a changed profile drops the verdict cache.
	_, err = m.Search(context.Background(), session.ID, &domain.PatientProfile{Diagnosis: "pancreatic cancer", Age: 61})
	require.NoError(t, err)
	result, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	assert.False(t, result.Cached)
	assert.Equal(t, 2, oracle.evaluateCalls)
}

func TestAnalyzeSameProfileKeepsVerdicts(t *testing.T) {
	oracle := &fakeOracle{}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()

	runSearch(t, m, session.ID)
	_, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	// Re-running the identical profile keeps the verdicts: they are keyed by
	// (trial, profile snapshot), not by the search itself.
	runSearch(t, m, session.ID)
	result, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	assert.True(t, result.Cached)
	assert.Equal(t, 1, oracle.evaluateCalls)
}

func TestAnalyzeUnknownTrial(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Analyze(context.Background(), session.ID, "NCT999")
	assert.ErrorIs(t, err, domain.ErrTrialNotFound)
}

func TestAnalyzeBeforeSearch(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()

	_, err := m.Analyze(context.Background(), session.ID, "NCT001")
	assert.ErrorIs(t, err, domain.ErrTrialNotFound)
}

type analyzeOut struct {
	res *AnalyzeResult
	err error
}

func TestAnalyzeExposesAnalyzingState(t *testing.T) {
	oracle := &blockingOracle{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	done := make(chan analyzeOut, 1)
	go func() {
		res, err := m.Analyze(context.Background(), session.ID, "NCT001")
		done <- analyzeOut{res, err}
	}()
	<-oracle.entered

	// While the oracle call is in flight the card reports Analyzing.
	mid, err := m.Verdict(session.ID, "NCT001")
	require.NoError(t, err)
	assert.Equal(t, domain.CardAnalyzing, mid.CardState)
	assert.Nil(t, mid.Verdict)

	close(oracle.release)
	out := <-done
	require.NoError(t, out.err)
	assert.Equal(t, domain.CardMatched, out.res.CardState)

	after, err := m.Verdict(session.ID, "NCT001")
	require.NoError(t, err)
	assert.Equal(t, domain.CardMatched, after.CardState)
}

func TestAnalyzeConcurrentRequestsCoalesce(t *testing.T) {
	oracle := &blockingOracle{entered: make(chan struct{}, 1), release: make(chan struct{})}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	first := make(chan analyzeOut, 1)
	second := make(chan analyzeOut, 1)
	go func() {
		res, err := m.Analyze(context.Background(), session.ID, "NCT001")
		first <- analyzeOut{res, err}
	}()
	<-oracle.entered
	go func() {
		res, err := m.Analyze(context.Background(), session.ID, "NCT001")
		second <- analyzeOut{res, err}
	}()

	close(oracle.release)
	o1 := <-first
	o2 := <-second
	require.NoError(t, o1.err)
	require.NoError(t, o2.err)

	assert.Equal(t, o1.res.Verdict.Status, o2.res.Verdict.Status)
	assert.Equal(t, 1, oracle.evaluateCalls, "duplicate requests coalesce on one oracle call")
}

func TestAnalyzeOracleFailureYieldsErroredCard(t *testing.T) {
	oracle := &fakeOracle{evaluateErr: errors.New("oracle exploded")}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	result, err := m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err, "oracle failures degrade instead of failing the request")

	assert.Equal(t, domain.VerdictError, result.Verdict.Status)
	assert.Contains(t, result.Verdict.Rationale, "Error: AI analysis failed")
	assert.Equal(t, domain.CardErrored, result.CardState)

	// The error verdict is memoized like any other terminal state.
	after, err := m.Verdict(session.ID, "NCT001")
	require.NoError(t, err)
	assert.Equal(t, domain.CardErrored, after.CardState)
	assert.True(t, after.Cached)
}

func TestVerdictDoesNotTriggerAnalysis(t *testing.T) {
	oracle := &fakeOracle{}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	result, err := m.Verdict(session.ID, "NCT001")
	require.NoError(t, err)

	assert.Nil(t, result.Verdict)
	assert.Equal(t, domain.CardUnanalyzed, result.CardState)
	assert.Zero(t, oracle.evaluateCalls)
}

func TestSaveCapturesCurrentVerdict(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{status: domain.VerdictUncertain})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	// Saving before analysis records the "Not Analyzed" snapshot.
	entry, err := m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	assert.Equal(t, domain.NotAnalyzed, entry.VerdictStatus)

	// Re-saving after analysis upgrades the snapshot.
	_, err = m.Analyze(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	entry, err = m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	assert.Equal(t, string(domain.VerdictUncertain), entry.VerdictStatus)

	entries, err := m.Shortlist(session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1, "re-saving must not duplicate")
}

func TestShortlistSurvivesNewSearch(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	runSearch(t, m, session.ID)

	entries, err := m.Shortlist(session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "NCT001", entries[0].NCTID)
}

func TestRemoveFromShortlist(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	require.NoError(t, m.Remove(context.Background(), session.ID, "NCT001"))

	entries, err := m.Shortlist(session.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveThenResaveKeepsSingleEntry(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)
	ctx := context.Background()

	_, err := m.Save(ctx, session.ID, "NCT001")
	require.NoError(t, err)
	_, err = m.Save(ctx, session.ID, "NCT002")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, session.ID, "NCT001"))
	_, err = m.Save(ctx, session.ID, "NCT001")
	require.NoError(t, err)

	entries, err := m.Shortlist(session.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2, "remove then re-save must not duplicate")

	// The re-saved trial moves to the end of the insertion order.
	assert.Equal(t, "NCT002", entries[0].NCTID)
	assert.Equal(t, "NCT001", entries[1].NCTID)
}

func TestLandscapeMemoizedPerEpoch(t *testing.T) {
	oracle := &fakeOracle{}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	first, err := m.Landscape(context.Background(), session.ID)
	require.NoError(t, err)
	second, err := m.Landscape(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, oracle.landscapeCalls)

	// New search, new narrative.
	runSearch(t, m, session.ID)
	third, err := m.Landscape(context.Background(), session.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestLandscapeDegradesToErrorString(t *testing.T) {
	oracle := &fakeOracle{landscapeErr: errors.New("rate limited")}
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, oracle)
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	text, err := m.Landscape(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "Error:")
}

func TestCompareRequiresTwoSavedTrials(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)

	_, err = m.Compare(context.Background(), session.ID)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = m.Save(context.Background(), session.ID, "NCT002")
	require.NoError(t, err)

	text, err := m.Compare(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "compared 2 trials", text)
}

func TestReportRequiresSavedTrials(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Report(session.ID)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestReportSnapshotsSessionState(t *testing.T) {
	m, builder := newTestMatcher(&fakeRegistry{trials: testTrials()}, &fakeOracle{})
	session := m.CreateSession()
	runSearch(t, m, session.ID)

	_, err := m.Save(context.Background(), session.ID, "NCT001")
	require.NoError(t, err)
	_, err = m.Landscape(context.Background(), session.ID)
	require.NoError(t, err)

	pdf, err := m.Report(session.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, pdf)
	require.Len(t, builder.lastEntries, 1)
	assert.Equal(t, "landscape 1", builder.lastLandscape)
	assert.Empty(t, builder.lastComparison)
}

func TestExtractProfileDegradesOnMalformedOutput(t *testing.T) {
	oracle := &fakeOracle{extractErr: fmt.Errorf("%w: not json", domain.ErrMalformedExtraction)}
	m, _ := newTestMatcher(&fakeRegistry{}, oracle)

	profile, err := m.ExtractProfile(context.Background(), "I have stage IV pancreatic cancer")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestExtractProfilePassesThrough(t *testing.T) {
	oracle := &fakeOracle{extracted: &domain.PatientProfile{Diagnosis: "pancreatic cancer", Age: 58}}
	m, _ := newTestMatcher(&fakeRegistry{}, oracle)

	profile, err := m.ExtractProfile(context.Background(), "58 year old with pancreatic cancer")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, 58, profile.Age)
}

func TestEndSession(t *testing.T) {
	m, _ := newTestMatcher(&fakeRegistry{}, &fakeOracle{})
	session := m.CreateSession()
	require.Equal(t, 1, m.SessionCount())

	m.EndSession(session.ID)
	assert.Zero(t, m.SessionCount())

	_, err := m.Shortlist(session.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
