package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/briefing"
	"github.com/mohammad-safakhou/researcher/internal/retrieval"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type failingLLM struct{ err error }

func (f failingLLM) Complete(context.Context, string) (string, error) { return "", f.err }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	forgot []string
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgot = append(p.forgot, id)
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func fixedResults(tag string, n int) retrieval.Searcher {
	return retrieval.SearcherFunc(func(_ context.Context, q string, limit int) ([]models.Source, error) {
		var out []models.Source
		for i := 0; i < n && i < limit; i++ {
			out = append(out, models.Source{
				Title:   fmt.Sprintf("%s %d", tag, i),
				Source:  fmt.Sprintf("https://%s.example/%d", tag, i),
				Content: fmt.Sprintf("%s result %d about %s", tag, i, q),
			})
		}
		return out, nil
	})
}

func newTestManager(t *testing.T, cfg Config, pub Publisher, opts ...Option) *Manager {
	t.Helper()
	r := retrieval.New(retrieval.Config{}, []retrieval.Provider{
		{Tag: models.ProviderWeb, Searcher: fixedResults("web", 3)},
		{Tag: models.ProviderWikipedia, Searcher: fixedResults("wiki", 2)},
	})
	llm := failingLLM{err: errors.New("quota exceeded")}
	m := NewManager(cfg, briefing.NewPlanner(llm, briefing.Options{}), r, briefing.NewSynthesizer(llm, briefing.Options{}), pub, opts...)
	t.Cleanup(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return m
}

func waitPhase(t *testing.T, m *Manager, id string, want models.Phase) models.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx, id); err != nil {
		t.Fatalf("wait: %v", err)
	}
	s, err := m.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if s.Phase != want {
		t.Fatalf("expected phase %s, got %s (error %q)", want, s.Phase, s.Error)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(t, Config{PerProvider: 3}, pub)
	ctx := context.Background()

	created, err := m.Create(ctx, "  offshore wind  ", models.DefaultResearchOptions(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Query != "offshore wind" || created.Status != "running" {
		t.Fatalf("unexpected created snapshot %+v", created)
	}

	s := waitPhase(t, m, created.ID, models.PhaseAwaitingApproval)
	if s.Status != "waiting_approval" || s.CurrentStep != models.StepHumanApproval {
		t.Fatalf("unexpected status %q step %q", s.Status, s.CurrentStep)
	}
	if len(s.SearchQueries) != 1 || s.SearchQueries[0] != "offshore wind" {
		t.Fatalf("expected planner fallback queries, got %v", s.SearchQueries)
	}
	if len(s.Sources) != 5 {
		t.Fatalf("expected 5 sources, got %d", len(s.Sources))
	}
	for i, src := range s.Sources {
		if src.ID != i {
			t.Fatalf("source %d has id %d", i, src.ID)
		}
	}
	if s.Sources[0].Type != models.ProviderWeb || s.Sources[4].Type != models.ProviderWikipedia {
		t.Fatalf("unexpected provider order %+v", s.Sources)
	}
	if _, err := m.Briefing(created.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}

	approved, err := m.Approve(ctx, created.ID, []int{0, 2, 42})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Phase != models.PhaseWriting || len(approved.ApprovedSourceIDs) != 2 {
		t.Fatalf("unexpected approval snapshot %+v", approved)
	}

	done := waitPhase(t, m, created.ID, models.PhaseCompleted)
	if done.CompletedAt == nil || done.Status != "completed" {
		t.Fatalf("completion not recorded %+v", done)
	}
	b, err := m.Briefing(created.ID)
	if err != nil {
		t.Fatalf("briefing: %v", err)
	}
	if b.Content != "Error generating briefing: quota exceeded" {
		t.Fatalf("unexpected content %q", b.Content)
	}
	if b.Metadata.SourcesUsed != 2 || b.Metadata.Citations != 2 {
		t.Fatalf("unexpected metadata %+v", b.Metadata)
	}
	for step, p := range done.Progress {
		if p.Status != models.StepCompleted || p.Progress != 100 {
			t.Fatalf("step %s not completed: %+v", step, p)
		}
	}

	want := []models.EventType{
		models.EventStatusUpdate, models.EventStatusUpdate, models.EventSourcesReady,
		models.EventStatusUpdate, models.EventStatusUpdate, models.EventCompleted,
	}
	got := pub.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
	last := pub.events[len(pub.events)-1]
	if last.Briefing == nil || last.Progress.Phase != models.PhaseCompleted {
		t.Fatalf("completed event missing briefing %+v", last)
	}
}

func TestCreateRejectsInvalidRequests(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	if _, err := m.Create(context.Background(), "   ", models.DefaultResearchOptions(0)); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty query, got %v", err)
	}
	opts := models.DefaultResearchOptions(0)
	opts.SearchDepth = "bottomless"
	if _, err := m.Create(context.Background(), "q", opts); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for depth, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("rejected requests must not be registered")
	}
}

func TestApproveConflictsAndUnknown(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	if _, err := m.Approve(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s, err := m.Create(ctx, "tidal power", models.DefaultResearchOptions(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	waitPhase(t, m, s.ID, models.PhaseAwaitingApproval)
	if _, err := m.Approve(ctx, s.ID, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := m.Approve(ctx, s.ID, []int{0}); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on second approval, got %v", err)
	}
	done := waitPhase(t, m, s.ID, models.PhaseCompleted)
	if done.Briefing.Metadata.SourcesUsed != 0 {
		t.Fatalf("expected zero approved sources, got %d", done.Briefing.Metadata.SourcesUsed)
	}
}

func TestDisabledProvidersYieldNoSources(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	opts := models.ResearchOptions{MaxSources: 10}
	s, err := m.Create(context.Background(), "geothermal", opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got := waitPhase(t, m, s.ID, models.PhaseAwaitingApproval)
	if len(got.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(got.Sources))
	}
}

func TestMaxSourcesCap(t *testing.T) {
	m := newTestManager(t, Config{PerProvider: 3}, nil)
	s, err := m.Create(context.Background(), "hydrogen", models.DefaultResearchOptions(4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got := waitPhase(t, m, s.ID, models.PhaseAwaitingApproval)
	if len(got.Sources) != 4 || got.Sources[3].ID != 3 {
		t.Fatalf("expected 4 capped sources, got %+v", got.Sources)
	}
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	pub := &recordingPublisher{}
	m := newTestManager(t, Config{ApprovalTTL: time.Hour, Retention: 2 * time.Hour}, pub,
		WithClock(clock), WithMetrics(NewMetrics(prometheus.NewRegistry())))
	ctx := context.Background()

	waiting, _ := m.Create(ctx, "waiting", models.DefaultResearchOptions(0))
	waitPhase(t, m, waiting.ID, models.PhaseAwaitingApproval)
	finished, _ := m.Create(ctx, "finished", models.DefaultResearchOptions(0))
	waitPhase(t, m, finished.ID, models.PhaseAwaitingApproval)
	if _, err := m.Approve(ctx, finished.ID, []int{0}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	waitPhase(t, m, finished.ID, models.PhaseCompleted)

	if n := m.Sweep(now.Add(30 * time.Minute)); n != 0 {
		t.Fatalf("nothing should expire yet, swept %d", n)
	}
	if n := m.Sweep(now.Add(time.Hour)); n != 1 {
		t.Fatalf("expected the waiting session evicted, swept %d", n)
	}
	if _, err := m.Status(waiting.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected waiting session gone, got %v", err)
	}
	if n := m.Sweep(now.Add(2 * time.Hour)); n != 1 {
		t.Fatalf("expected the completed session evicted, swept %d", n)
	}
	if len(m.List()) != 0 {
		t.Fatalf("registry should be empty")
	}
	if len(pub.forgot) != 2 {
		t.Fatalf("expected subscribers forgotten for both sessions, got %v", pub.forgot)
	}
}

func TestDeleteAndList(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	ctx := context.Background()
	a, _ := m.Create(ctx, "first", models.DefaultResearchOptions(0))
	b, _ := m.Create(ctx, "second", models.DefaultResearchOptions(0))
	waitPhase(t, m, a.ID, models.PhaseAwaitingApproval)
	waitPhase(t, m, b.ID, models.PhaseAwaitingApproval)

	list := m.List()
	if len(list) != 2 || list[0].ID != a.ID || list[1].Query != "second" {
		t.Fatalf("unexpected list %+v", list)
	}
	if err := m.Delete(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if list := m.List(); len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("unexpected list after delete %+v", list)
	}
}

type panickingPlanner struct{}

func (panickingPlanner) SearchQueries(context.Context, string) []string { panic("planner exploded") }

func TestTaskPanicIsRecorded(t *testing.T) {
	r := retrieval.New(retrieval.Config{}, nil)
	m := NewManager(Config{}, panickingPlanner{}, r, briefing.NewSynthesizer(nil, briefing.Options{}), nil)
	defer m.Shutdown(context.Background())

	s, err := m.Create(context.Background(), "q", models.DefaultResearchOptions(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Wait(context.Background(), s.ID); err == nil {
		t.Fatalf("expected task error")
	}
	got, _ := m.Status(s.ID)
	if got.Phase != models.PhasePlanning || got.Error == "" {
		t.Fatalf("expected error recorded in planning, got %+v", got)
	}
}

type blockingRetriever struct{ started chan struct{} }

func (b blockingRetriever) Retrieve(ctx context.Context, _ []string, _ retrieval.Options) []models.Source {
	close(b.started)
	<-ctx.Done()
	return nil
}

func TestShutdownCancelsRunningTasks(t *testing.T) {
	br := blockingRetriever{started: make(chan struct{})}
	m := NewManager(Config{}, briefing.NewPlanner(nil, briefing.Options{}), br, briefing.NewSynthesizer(nil, briefing.Options{}), nil)
	if _, err := m.Create(context.Background(), "q", models.DefaultResearchOptions(0)); err != nil {
		t.Fatalf("create: %v", err)
	}
	<-br.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := m.Create(context.Background(), "late", models.DefaultResearchOptions(0)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("registry should be cleared")
	}
}

func TestSweeperStartStop(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	s, err := NewSweeper(m, "* * * * *")
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	s.Start()
	s.Stop()
	s.Stop()

	if _, err := NewSweeper(m, "not a cron"); err == nil {
		t.Fatalf("expected parse error")
	}
}

// gatedPublisher holds back the first sources_ready event until release is closed.
type gatedPublisher struct {
	recordingPublisher
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedPublisher) Publish(ctx context.Context, id string, ev models.Event) {
	if ev.Type == models.EventSourcesReady {
		p.once.Do(func() {
			close(p.reached)
			<-p.release
		})
	}
	p.recordingPublisher.Publish(ctx, id, ev)
}

func TestSynthesisEventsFollowSourcesReady(t *testing.T) {
	pub := &gatedPublisher{reached: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, Config{}, pub)
	ctx := context.Background()

	s, err := m.Create(ctx, "tidal energy", models.DefaultResearchOptions(0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-pub.reached
	if _, err := m.Approve(ctx, s.ID, []int{0}); err != nil {
		t.Fatalf("approve while sources_ready is in flight: %v", err)
	}
	close(pub.release)
	waitPhase(t, m, s.ID, models.PhaseCompleted)

	want := []models.EventType{
		models.EventStatusUpdate,
		models.EventStatusUpdate,
		models.EventSourcesReady,
		models.EventStatusUpdate,
		models.EventStatusUpdate,
		models.EventCompleted,
	}
	got := pub.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestSweepSparesSessionApprovedAfterScan(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{ApprovalTTL: time.Minute}, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s, _ := m.Create(ctx, "geothermal", models.DefaultResearchOptions(0))
	waitPhase(t, m, s.ID, models.PhaseAwaitingApproval)

	later := now.Add(time.Hour)
	ids := m.expiredIDs(later)
	if len(ids) != 1 || ids[0] != s.ID {
		t.Fatalf("expected session to be expired, got %v", ids)
	}
	if _, err := m.Approve(ctx, s.ID, []int{0}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if m.evict(s.ID, later) {
		t.Fatalf("approved session must not be evicted")
	}
	waitPhase(t, m, s.ID, models.PhaseCompleted)
}

func TestApproveAfterEvictionIsNotFound(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, Config{ApprovalTTL: time.Minute}, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s, _ := m.Create(ctx, "hydrogen", models.DefaultResearchOptions(0))
	waitPhase(t, m, s.ID, models.PhaseAwaitingApproval)
	e, err := m.lookup(s.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !m.evict(s.ID, now.Add(time.Hour)) {
		t.Fatalf("expected eviction")
	}
	e.mu.Lock()
	removed, phase := e.removed, e.state.Phase
	e.mu.Unlock()
	if !removed || phase != models.PhaseAwaitingApproval {
		t.Fatalf("evicted entry should be marked removed, got removed=%v phase=%s", removed, phase)
	}
	if _, err := m.Approve(ctx, s.ID, []int{0}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
