package enrich

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/email-harvester/internal/harvest"
)

type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) DomainSearch(ctx context.Context, domain string, limit int) ([]harvest.DomainEmail, error) {
	args := m.Called(ctx, domain, limit)
	found, _ := args.Get(0).([]harvest.DomainEmail)
	return found, args.Error(1)
}

func (m *MockEnricher) Verify(ctx context.Context, email string) (harvest.Verification, error) {
	args := m.Called(ctx, email)
	v, _ := args.Get(0).(harvest.Verification)
	return v, args.Error(1)
}

// countingEnricher tracks concurrent and total verify calls, and domain searches.
type countingEnricher struct {
	calls    atomic.Int32
	searches atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     string
}

func (c *countingEnricher) DomainSearch(context.Context, string, int) ([]harvest.DomainEmail, error) {
	c.searches.Add(1)
	return nil, nil
}

func (c *countingEnricher) Verify(_ context.Context, email string) (harvest.Verification, error) {
	c.calls.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if email == c.fail {
		return harvest.Verification{}, errors.New("boom")
	}
	return harvest.Verification{Result: harvest.VerifyDeliverable}, nil
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func records(emails ...string) []harvest.EmailRecord {
	out := make([]harvest.EmailRecord, len(emails))
	for i, e := range emails {
		out[i] = harvest.EmailRecord{Email: e}
	}
	return out
}

func TestNewGateRequiresConfirmation(t *testing.T) {
	t.Parallel()

	_, err := NewGate(Config{Mode: ModeExecute, MaxVerifications: 5}, &MockEnricher{}, nil, nil)
	require.ErrorIs(t, err, harvest.ErrConfirmationRequired)

	_, err = NewGate(Config{Mode: ModeExecute, Confirm: true}, nil, nil, nil)
	require.ErrorIs(t, err, harvest.ErrEnrichmentUnavailable)

	_, err = NewGate(Config{Mode: ModePreview, Unit: "page"}, nil, nil, nil)
	require.Error(t, err)

	_, err = ParseMode("sometimes")
	require.Error(t, err)
	mode, err := ParseMode(" Execute ")
	require.NoError(t, err)
	require.Equal(t, ModeExecute, mode)
}

func TestPreviewMakesNoCallsAndMatchesExecutePlan(t *testing.T) {
	t.Parallel()

	recs := records("a@x.example", "b@x.example", "c@y.example", "d@z.example")

	targets := []DomainTarget{{Domain: "x.example"}, {Domain: "y.example"}}

	provider := &MockEnricher{}
	preview, err := NewGate(Config{Mode: ModePreview, MaxVerifications: 5, DomainSearch: true}, provider, nil, nil)
	require.NoError(t, err)
	plan := preview.Plan(recs, len(targets))
	require.Equal(t, Plan{Mode: ModePreview, Eligible: 4, VerifyCalls: 3, DomainSearchCalls: 2}, plan)
	budget := preview.RunBudget()
	require.Zero(t, preview.DiscoverDomains(context.Background(), budget, targets, nil))
	require.Empty(t, preview.Verify(context.Background(), budget, recs))
	require.Equal(t, int64(0), budget.Used())
	provider.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
	provider.AssertNotCalled(t, "DomainSearch", mock.Anything, mock.Anything, mock.Anything)

	counting := &countingEnricher{}
	execute, err := NewGate(Config{Mode: ModeExecute, Confirm: true, MaxVerifications: 5, Concurrency: 2, DomainSearch: true}, counting, nil, nil)
	require.NoError(t, err)
	require.Equal(t, plan.VerifyCalls, execute.Plan(recs, len(targets)).VerifyCalls)
	budget = execute.RunBudget()
	execute.DiscoverDomains(context.Background(), budget, targets, &captureSink{})
	execute.Verify(context.Background(), budget, recs)
	require.Equal(t, int32(plan.DomainSearchCalls), counting.searches.Load())
	require.Equal(t, int32(plan.VerifyCalls), counting.calls.Load())
}

func TestDomainSearchesShareTheRunBudget(t *testing.T) {
	t.Parallel()

	counting := &countingEnricher{}
	g, err := NewGate(Config{Mode: ModeExecute, Confirm: true, MaxVerifications: 1, Concurrency: 4, DomainSearch: true}, counting, nil, nil)
	require.NoError(t, err)

	targets := UniqueDomains([]string{
		"https://a.example/", "https://b.example/", "https://c.example/", "https://d.example/",
	})
	recs := records("x@a.example", "y@b.example")
	require.Equal(t, Plan{Mode: ModeExecute, Eligible: 2, VerifyCalls: 0, DomainSearchCalls: 1}, g.Plan(recs, len(targets)))

	budget := g.RunBudget()
	g.DiscoverDomains(context.Background(), budget, targets, &captureSink{})
	require.Empty(t, g.Verify(context.Background(), budget, recs))
	require.Equal(t, int32(1), counting.searches.Load())
	require.Zero(t, counting.calls.Load())
	require.Equal(t, int64(1), budget.Used())
}

func TestRunBudgetIsFreshEachRun(t *testing.T) {
	t.Parallel()

	counting := &countingEnricher{}
	g, err := NewGate(Config{Mode: ModeExecute, Confirm: true, MaxVerifications: 2}, counting, nil, nil)
	require.NoError(t, err)

	recs := records("a@x.example", "b@x.example")
	for run := range 2 {
		results := g.Verify(context.Background(), g.RunBudget(), recs)
		require.Len(t, results, 2, "run %d", run)
	}
	require.Equal(t, int32(4), counting.calls.Load())
}

func TestOffModePlansNothing(t *testing.T) {
	t.Parallel()

	g, err := NewGate(Config{Mode: ModeOff, MaxVerifications: 10}, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, Plan{Mode: ModeOff}, g.Plan(records("a@x.example"), 1))
}

func TestVerifyNeverExceedsBudgetUnderConcurrency(t *testing.T) {
	t.Parallel()

	var emails []string
	for i := range 40 {
		emails = append(emails, string(rune('a'+i%26))+string(rune('a'+i/26))+"@host.example")
	}
	counting := &countingEnricher{fail: emails[0]}
	g, err := NewGate(Config{Mode: ModeExecute, Confirm: true, MaxVerifications: 7, Concurrency: 4}, counting, nil, nil)
	require.NoError(t, err)

	budget := g.RunBudget()
	results := g.Verify(context.Background(), budget, records(emails...))
	require.Equal(t, int32(7), counting.calls.Load())
	require.LessOrEqual(t, counting.peak.Load(), int32(4))
	require.Equal(t, int64(0), budget.Remaining())
	require.Equal(t, int64(7), budget.Used())
	// The failed call still consumed budget.
	require.Len(t, results, 6)
}

func TestDomainUnitVerifiesFirstEmailPerDomain(t *testing.T) {
	t.Parallel()

	provider := &MockEnricher{}
	provider.On("Verify", mock.Anything, "alice@one.example").
		Return(harvest.Verification{Result: harvest.VerifyRisky}, nil).Once()
	provider.On("Verify", mock.Anything, "zed@two.example").
		Return(harvest.Verification{Result: harvest.VerifyUndeliverable}, nil).Once()

	g, err := NewGate(Config{Mode: ModeExecute, Confirm: true, Unit: UnitDomain, MaxVerifications: 10}, provider, nil, nil)
	require.NoError(t, err)

	recs := records("bob@one.example", "zed@two.example", "alice@one.example")
	require.Equal(t, 2, g.Plan(recs, 0).Eligible)

	results := g.Verify(context.Background(), g.RunBudget(), recs)
	provider.AssertExpectations(t)
	Apply(recs, results)
	require.Nil(t, recs[0].Verification)
	require.Equal(t, harvest.VerifyUndeliverable, recs[1].Verification.Result)
	require.Equal(t, harvest.VerifyRisky, recs[2].Verification.Result)
}

type captureSink struct {
	mu   sync.Mutex
	seen []harvest.Extraction
}

func (c *captureSink) Merge(e harvest.Extraction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, e)
}

func TestDiscoverDomainsMergesWithNote(t *testing.T) {
	t.Parallel()

	conf := 92
	provider := &MockEnricher{}
	provider.On("DomainSearch", mock.Anything, "acme.example", 10).
		Return([]harvest.DomainEmail{{Email: "Jane@Acme.example", Confidence: &conf}, {Email: "ops@acme.example"}}, nil).Once()
	provider.On("DomainSearch", mock.Anything, "broken.example", 10).
		Return(nil, harvest.ErrQuota).Once()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	g, err := NewGate(Config{Mode: ModeExecute, Confirm: true, MaxVerifications: 5, DomainSearch: true}, provider, fixedClock{at}, nil)
	require.NoError(t, err)

	targets := UniqueDomains([]string{
		"https://www.acme.example/contact",
		"https://acme.example/about",
		"https://broken.example/",
	})
	require.Equal(t, []DomainTarget{
		{Domain: "acme.example", Source: "https://www.acme.example/contact"},
		{Domain: "broken.example", Source: "https://broken.example/"},
	}, targets)

	sink := &captureSink{}
	require.Equal(t, 2, g.DiscoverDomains(context.Background(), g.RunBudget(), targets, sink))
	provider.AssertExpectations(t)
	require.Len(t, sink.seen, 2)
	byEmail := map[string]harvest.Extraction{}
	for _, e := range sink.seen {
		byEmail[e.Email] = e
	}
	require.Equal(t, "hunter_domain:92", byEmail["jane@acme.example"].Label())
	require.Equal(t, "hunter_domain", byEmail["ops@acme.example"].Label())
	require.Equal(t, "https://www.acme.example/contact", byEmail["jane@acme.example"].Source)
	require.Equal(t, at, byEmail["jane@acme.example"].SeenAt)
}

func TestBudgetTryAcquire(t *testing.T) {
	t.Parallel()

	b := NewBudget(50)
	var wg sync.WaitGroup
	var granted atomic.Int64
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(50), granted.Load())
	require.Equal(t, int64(0), b.Remaining())
	require.False(t, b.TryAcquire())
	require.False(t, NewBudget(-3).TryAcquire())
}
