package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/researcher/internal/retrieval"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound       = errors.New("research session not found")
	ErrNotReady       = errors.New("briefing not ready")
	ErrStateConflict  = errors.New("research session state conflict")
	ErrInvalidRequest = errors.New("invalid research request")
	ErrClosed         = errors.New("session manager closed")
)

// Planner turns a research request into search queries. It never fails; an
// empty result means "search the request itself".
type Planner interface {
	SearchQueries(ctx context.Context, query string) []string
}

type Retriever interface {
	Retrieve(ctx context.Context, queries []string, opts retrieval.Options) []models.Source
}

type Synthesizer interface {
	Draft(ctx context.Context, query string, approved []models.Source) string
	Revise(ctx context.Context, query, draft string) string
}

// Publisher delivers progress events for a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, ev models.Event)
	Forget(sessionID string)
}

type Config struct {
	QueryCap        int
	PerProvider     int
	MaxSources      int
	DeepQueryCap    int
	DeepPerProvider int
	// ApprovalTTL evicts sessions left awaiting approval; zero disables.
	ApprovalTTL time.Duration
	// Retention evicts completed sessions; zero keeps them.
	Retention time.Duration
}

type task struct {
	done chan struct{}
	err  error
}

type entry struct {
	mu         sync.Mutex
	state      models.Session
	phaseSince time.Time
	task       *task
	// removed is set once the entry leaves the registry.
	removed bool
}

func (e *entry) snapshot() models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Manager owns the research sessions and runs their background work.
type Manager struct {
	cfg       Config
	planner   Planner
	retriever Retriever
	synth     Synthesizer
	events    Publisher

	mu       sync.RWMutex
	sessions map[string]*entry
	order    []string
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics
	tracer  trace.Tracer
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithMetrics(metrics *Metrics) Option { return func(m *Manager) { m.metrics = metrics } }

func WithLogger(l *logrus.Entry) Option { return func(m *Manager) { m.log = l } }

func NewManager(cfg Config, planner Planner, retriever Retriever, synth Synthesizer, events Publisher, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	if events == nil {
		events = nopPublisher{}
	}
	m := &Manager{
		cfg:       cfg,
		planner:   planner,
		retriever: retriever,
		synth:     synth,
		events:    events,
		sessions:  make(map[string]*entry),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		log:       logrus.WithField("component", "session"),
		tracer:    otel.Tracer("github.com/mohammad-safakhou/researcher/internal/session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new session in the planning phase and starts discovery
// in the background. The returned snapshot is taken before any work runs.
func (m *Manager) Create(ctx context.Context, query string, opts models.ResearchOptions) (models.Session, error) {
	_, span := m.tracer.Start(ctx, "session.Create")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return models.Session{}, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	switch opts.SearchDepth {
	case "":
		opts.SearchDepth = models.DepthNormal
	case models.DepthNormal, models.DepthDeep:
	default:
		return models.Session{}, fmt.Errorf("%w: search_depth must be normal or deep", ErrInvalidRequest)
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = m.cfg.MaxSources
	}

	now := m.now()
	e := &entry{
		state: models.Session{
			ID:                uuid.NewString(),
			Query:             query,
			Phase:             models.PhasePlanning,
			Progress:          models.NewProgress(),
			Options:           opts,
			Sources:           []models.Source{},
			ApprovedSourceIDs: []int{},
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		phaseSince: now,
	}
	setStep(&e.state, models.StepPlanner, models.StepRunning)
	snap := e.state.Clone()
	span.SetAttributes(attribute.String("research.id", snap.ID))

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.Session{}, ErrClosed
	}
	m.sessions[snap.ID] = e
	m.order = append(m.order, snap.ID)
	m.metrics.setSessions(len(m.sessions))
	m.mu.Unlock()
	m.metrics.observeCreated()

	m.log.WithFields(logrus.Fields{"research_id": snap.ID, "query": query}).Info("research session created")
	if err := m.spawn(e, "discovery", m.discover); err != nil {
		return models.Session{}, err
	}
	return snap, nil
}

// Approve records the approved subset of the discovered sources and starts
// synthesis. Unknown ids are ignored. The session must be awaiting approval.
func (m *Manager) Approve(ctx context.Context, id string, sourceIDs []int) (models.Session, error) {
	_, span := m.tracer.Start(ctx, "session.Approve", trace.WithAttributes(attribute.String("research.id", id)))
	defer span.End()

	e, err := m.lookup(id)
	if err != nil {
		return models.Session{}, err
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.state.Phase != models.PhaseAwaitingApproval {
		phase := e.state.Phase
		e.mu.Unlock()
		return models.Session{}, fmt.Errorf("%w: session %s is %s, not awaiting approval", ErrStateConflict, id, phase)
	}
	wanted := make(map[int]struct{}, len(sourceIDs))
	for _, sid := range sourceIDs {
		wanted[sid] = struct{}{}
	}
	approvedIDs := []int{}
	for _, src := range e.state.Sources {
		if _, ok := wanted[src.ID]; ok {
			approvedIDs = append(approvedIDs, src.ID)
		}
	}
	now := m.now()
	e.state.ApprovedSourceIDs = approvedIDs
	e.state.Phase = models.PhaseWriting
	e.state.UpdatedAt = now
	e.phaseSince = now
	setStep(&e.state, models.StepHumanApproval, models.StepCompleted)
	setStep(&e.state, models.StepWriter, models.StepRunning)
	snap := e.state.Clone()
	e.mu.Unlock()
	m.metrics.observeTransition(models.PhaseWriting)

	m.log.WithFields(logrus.Fields{
		"research_id": id,
		"approved":    len(approvedIDs),
		"requested":   len(sourceIDs),
	}).Info("sources approved")

	if err := m.spawn(e, "synthesis", m.synthesize); err != nil {
		return models.Session{}, err
	}
	return snap, nil
}

// Status returns a snapshot of the session.
func (m *Manager) Status(id string) (models.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return models.Session{}, err
	}
	return e.snapshot(), nil
}

// Briefing returns the final briefing once the session has completed.
func (m *Manager) Briefing(id string) (models.Briefing, error) {
	snap, err := m.Status(id)
	if err != nil {
		return models.Briefing{}, err
	}
	if snap.Phase != models.PhaseCompleted || snap.Briefing == nil {
		return models.Briefing{}, fmt.Errorf("%w: session %s is %s", ErrNotReady, id, snap.Phase)
	}
	return *snap.Briefing, nil
}

// List summarises every session in creation order.
func (m *Manager) List() []models.Summary {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.order))
	for _, id := range m.order {
		entries = append(entries, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]models.Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snapshot().Summary())
	}
	return out
}

// Wait blocks until the session's current background task finishes and
// returns that task's unexpected error, if any.
func (m *Manager) Wait(ctx context.Context, id string) error {
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	t := e.task
	e.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delete removes the session and its subscribers. A running task finishes
// against the detached session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.mu.Lock()
	m.removeLocked(id, e)
	e.mu.Unlock()
	m.mu.Unlock()

	m.events.Forget(id)
	m.log.WithField("research_id", id).Info("research session removed")
	return nil
}

// removeLocked drops e from the registry. m.mu and e.mu must be held.
func (m *Manager) removeLocked(id string, e *entry) {
	e.removed = true
	delete(m.sessions, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.metrics.setSessions(len(m.sessions))
}

// Shutdown cancels running tasks, waits for them and clears the registry.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for research tasks: %w", ctx.Err())
	}

	m.mu.Lock()
	m.sessions = make(map[string]*entry)
	m.order = nil
	m.metrics.setSessions(0)
	m.mu.Unlock()

	if c, ok := m.events.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// spawn runs fn as the session's tracked task once the previous task has
// finished. Panics and errors are recorded on the session; its phase is left
// as is.
func (m *Manager) spawn(e *entry, name string, fn func(ctx context.Context, e *entry) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	t := &task{done: make(chan struct{})}
	e.mu.Lock()
	prev := e.task
	e.task = t
	e.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(t.done)
		// Events of the previous task go out before any of this one.
		if prev != nil {
			<-prev.done
		}
		defer func() {
			if r := recover(); r != nil {
				t.err = fmt.Errorf("%s panicked: %v", name, r)
				m.fail(e, t.err)
			}
		}()

		ctx, span := m.tracer.Start(m.ctx, "session."+name)
		defer span.End()
		if err := fn(ctx, e); err != nil {
			t.err = fmt.Errorf("%s: %w", name, err)
			span.RecordError(t.err)
			m.fail(e, t.err)
		}
	}()
	return nil
}

func (m *Manager) fail(e *entry, err error) {
	e.mu.Lock()
	e.state.Error = err.Error()
	e.state.UpdatedAt = m.now()
	id := e.state.ID
	e.mu.Unlock()
	m.metrics.observeFailure()
	m.log.WithError(err).WithField("research_id", id).Error("research task failed")
}

// discover runs planning and retrieval, then parks the session for approval.
func (m *Manager) discover(ctx context.Context, e *entry) error {
	snap := e.snapshot()
	m.emit(ctx, models.EventStatusUpdate, snap, "Planner: analyzing the research request", nil)

	queries := m.planner.SearchQueries(ctx, snap.Query)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(queries) == 0 {
		queries = []string{snap.Query}
	}

	snap, err := m.advance(e, models.PhaseRetrieving, func(s *models.Session) {
		s.SearchQueries = queries
		setStep(s, models.StepPlanner, models.StepCompleted)
		setStep(s, models.StepRetrieval, models.StepRunning)
	})
	if err != nil {
		return err
	}
	m.emit(ctx, models.EventStatusUpdate, snap, fmt.Sprintf("Retrieval: searching with %d queries", len(queries)), nil)

	sources := m.retriever.Retrieve(ctx, queries, m.retrievalOptions(snap.Options))
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range sources {
		sources[i].ID = i
	}

	snap, err = m.advance(e, models.PhaseAwaitingApproval, func(s *models.Session) {
		s.Sources = sources
		setStep(s, models.StepRetrieval, models.StepCompleted)
		setStep(s, models.StepHumanApproval, models.StepRunning)
	})
	if err != nil {
		return err
	}
	m.emit(ctx, models.EventSourcesReady, snap, fmt.Sprintf("Found %d sources. Waiting for approval.", len(sources)), func(ev *models.Event) {
		ev.Sources = models.CloneSources(snap.Sources)
	})
	return nil
}

// synthesize drafts, revises and completes an approved session.
func (m *Manager) synthesize(ctx context.Context, e *entry) error {
	snap := e.snapshot()
	approved := snap.ApprovedSources()
	m.emit(ctx, models.EventStatusUpdate, snap, fmt.Sprintf("Writer: drafting the briefing from %d sources", len(approved)), nil)

	draft := m.synth.Draft(ctx, snap.Query, approved)
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err := m.advance(e, models.PhaseCritiquing, func(s *models.Session) {
		setStep(s, models.StepWriter, models.StepCompleted)
		setStep(s, models.StepCritic, models.StepRunning)
	})
	if err != nil {
		return err
	}
	m.emit(ctx, models.EventStatusUpdate, snap, "Critic: reviewing the draft", nil)

	final := m.synth.Revise(ctx, snap.Query, draft)
	if err := ctx.Err(); err != nil {
		return err
	}

	snap, err = m.advance(e, models.PhaseCompleted, func(s *models.Session) {
		b := models.NewBriefing(final, len(approved), s.UpdatedAt)
		s.Briefing = &b
		completed := s.UpdatedAt
		s.CompletedAt = &completed
		setStep(s, models.StepCritic, models.StepCompleted)
	})
	if err != nil {
		return err
	}
	m.emit(ctx, models.EventCompleted, snap, "Research briefing completed", func(ev *models.Event) {
		ev.Briefing = snap.Briefing
	})
	m.log.WithFields(logrus.Fields{
		"research_id": snap.ID,
		"words":       snap.Briefing.Metadata.WordCount,
	}).Info("research session completed")
	return nil
}

// advance moves e to next, which must be the immediate successor of its
// current phase, applies mutate and returns the new snapshot.
func (m *Manager) advance(e *entry, next models.Phase, mutate func(s *models.Session)) (models.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.Phase.CanAdvanceTo(next) {
		return models.Session{}, fmt.Errorf("%w: cannot move from %s to %s", ErrStateConflict, e.state.Phase, next)
	}
	now := m.now()
	e.state.Phase = next
	e.state.UpdatedAt = now
	e.phaseSince = now
	if mutate != nil {
		mutate(&e.state)
	}
	m.metrics.observeTransition(next)
	return e.state.Clone(), nil
}

func (m *Manager) emit(ctx context.Context, typ models.EventType, snap models.Session, msg string, mutate func(ev *models.Event)) {
	ev := models.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		ResearchID: snap.ID,
		Step:       snap.CurrentStep,
		Message:    msg,
		Progress:   snap,
		OccurredAt: m.now().UTC(),
	}
	if mutate != nil {
		mutate(&ev)
	}
	m.events.Publish(ctx, snap.ID, ev)
}

func (m *Manager) retrievalOptions(opts models.ResearchOptions) retrieval.Options {
	ro := retrieval.Options{
		QueryCap:    m.cfg.QueryCap,
		PerProvider: m.cfg.PerProvider,
		MaxSources:  opts.MaxSources,
		Providers:   opts.Providers(),
		Deep:        opts.Deep(),
	}
	if opts.Deep() {
		if m.cfg.DeepQueryCap > 0 {
			ro.QueryCap = m.cfg.DeepQueryCap
		}
		if m.cfg.DeepPerProvider > 0 {
			ro.PerProvider = m.cfg.DeepPerProvider
		}
	}
	return ro
}

func setStep(s *models.Session, step, status string) {
	if s.Progress == nil {
		s.Progress = models.NewProgress()
	}
	p := models.StepProgress{Status: status}
	if status == models.StepCompleted {
		p.Progress = 100
	}
	s.Progress[step] = p
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, models.Event) {}

func (nopPublisher) Forget(string) {}
