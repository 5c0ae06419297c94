package models

import (
	"strings"
	"time"
)

// Phase is the lifecycle position of a research session.
type Phase string

const (
	PhasePlanning         Phase = "planning"
	PhaseRetrieving       Phase = "retrieving"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseWriting          Phase = "writing"
	PhaseCritiquing       Phase = "critiquing"
	PhaseCompleted        Phase = "completed"
)

var phaseOrder = []Phase{
	PhasePlanning,
	PhaseRetrieving,
	PhaseAwaitingApproval,
	PhaseWriting,
	PhaseCritiquing,
	PhaseCompleted,
}

// Phases returns the lifecycle phases in order.
func Phases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Index returns the position of p in the lifecycle, or -1 when p is unknown.
func (p Phase) Index() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Next reports the phase that follows p. ok is false for completed and unknown phases.
func (p Phase) Next() (Phase, bool) {
	i := p.Index()
	if i < 0 || i+1 >= len(phaseOrder) {
		return "", false
	}
	return phaseOrder[i+1], true
}

// CanAdvanceTo reports whether next is the immediate successor of p.
// Phases never skip and never go backwards.
func (p Phase) CanAdvanceTo(next Phase) bool {
	n, ok := p.Next()
	return ok && n == next
}

// Status is the coarse status reported to API clients.
func (p Phase) Status() string {
	switch p {
	case PhaseAwaitingApproval:
		return "waiting_approval"
	case PhaseCompleted:
		return "completed"
	default:
		return "running"
	}
}

// Step names the pipeline step a phase belongs to.
func (p Phase) Step() string {
	switch p {
	case PhasePlanning:
		return StepPlanner
	case PhaseRetrieving:
		return StepRetrieval
	case PhaseAwaitingApproval:
		return StepHumanApproval
	case PhaseWriting:
		return StepWriter
	case PhaseCritiquing:
		return StepCritic
	default:
		return string(p)
	}
}

// Pipeline steps tracked in Session.Progress.
const (
	StepPlanner       = "planner"
	StepRetrieval     = "retrieval"
	StepHumanApproval = "human_approval"
	StepWriter        = "writer"
	StepCritic        = "critic"
)

var stepOrder = []string{StepPlanner, StepRetrieval, StepHumanApproval, StepWriter, StepCritic}

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
)

type StepProgress struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// NewProgress returns every step pending.
func NewProgress() map[string]StepProgress {
	out := make(map[string]StepProgress, len(stepOrder))
	for _, s := range stepOrder {
		out[s] = StepProgress{Status: StepPending}
	}
	return out
}

// ProviderTag identifies which retrieval provider produced a source.
type ProviderTag string

const (
	ProviderKnowledgeBase ProviderTag = "knowledge_base"
	ProviderWeb           ProviderTag = "web"
	ProviderWikipedia     ProviderTag = "wikipedia"
)

// ProviderPriority is the order in which provider results are concatenated
// before deduplication.
var ProviderPriority = []ProviderTag{ProviderKnowledgeBase, ProviderWeb, ProviderWikipedia}

// Priority returns the concatenation rank of t; unknown tags sort last.
func (t ProviderTag) Priority() int {
	for i, p := range ProviderPriority {
		if p == t {
			return i
		}
	}
	return len(ProviderPriority)
}

// Source is a single retrieved item. ID is assigned once the session's
// retrieval finishes and is never reused within that session.
type Source struct {
	ID      int         `json:"id"`
	Type    ProviderTag `json:"type"`
	Title   string      `json:"title"`
	Source  string      `json:"source"`
	Content string      `json:"content"`
	Score   *float64    `json:"score,omitempty"`
}

type BriefingMetadata struct {
	SourcesUsed int       `json:"sources_used"`
	Citations   int       `json:"citations"`
	WordCount   int       `json:"word_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Briefing struct {
	Content  string           `json:"content"`
	Metadata BriefingMetadata `json:"metadata"`
}

// NewBriefing builds the final briefing. Citations always equals the number of
// approved sources handed to the writer.
func NewBriefing(content string, sourcesUsed int, at time.Time) Briefing {
	return Briefing{
		Content: content,
		Metadata: BriefingMetadata{
			SourcesUsed: sourcesUsed,
			Citations:   sourcesUsed,
			WordCount:   len(strings.Fields(content)),
			GeneratedAt: at.UTC(),
		},
	}
}

// Search depths accepted by ResearchOptions.
const (
	DepthNormal = "normal"
	DepthDeep   = "deep"
)

type ResearchOptions struct {
	MaxSources          int    `json:"max_sources"`
	SearchDepth         string `json:"search_depth"`
	EnableWeb           bool   `json:"enable_web"`
	EnableWikipedia     bool   `json:"enable_wikipedia"`
	EnableKnowledgeBase bool   `json:"enable_knowledge_base"`
}

// DefaultResearchOptions enables every provider at normal depth.
func DefaultResearchOptions(maxSources int) ResearchOptions {
	return ResearchOptions{
		MaxSources:          maxSources,
		SearchDepth:         DepthNormal,
		EnableWeb:           true,
		EnableWikipedia:     true,
		EnableKnowledgeBase: true,
	}
}

// Providers lists the enabled provider tags in priority order. The result is
// never nil so that "nothing enabled" stays distinct from "no restriction".
func (o ResearchOptions) Providers() []ProviderTag {
	out := []ProviderTag{}
	if o.EnableKnowledgeBase {
		out = append(out, ProviderKnowledgeBase)
	}
	if o.EnableWeb {
		out = append(out, ProviderWeb)
	}
	if o.EnableWikipedia {
		out = append(out, ProviderWikipedia)
	}
	return out
}

func (o ResearchOptions) Deep() bool { return o.SearchDepth == DepthDeep }

// Session is the snapshot form of a research session.
type Session struct {
	ID                string                  `json:"id"`
	Query             string                  `json:"query"`
	Phase             Phase                   `json:"phase"`
	Status            string                  `json:"status"`
	CurrentStep       string                  `json:"current_step"`
	Progress          map[string]StepProgress `json:"progress"`
	Options           ResearchOptions         `json:"options"`
	SearchQueries     []string                `json:"search_queries,omitempty"`
	Sources           []Source                `json:"sources"`
	ApprovedSourceIDs []int                   `json:"approved_source_ids"`
	Briefing          *Briefing               `json:"briefing,omitempty"`
	Error             string                  `json:"error,omitempty"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	out := s
	out.Status = s.Phase.Status()
	out.CurrentStep = s.Phase.Step()
	if s.Progress != nil {
		out.Progress = make(map[string]StepProgress, len(s.Progress))
		for k, v := range s.Progress {
			out.Progress[k] = v
		}
	}
	out.SearchQueries = append([]string(nil), s.SearchQueries...)
	out.Sources = CloneSources(s.Sources)
	out.ApprovedSourceIDs = append([]int{}, s.ApprovedSourceIDs...)
	if s.Briefing != nil {
		b := *s.Briefing
		out.Briefing = &b
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// ApprovedSources returns the sources whose ids are in ApprovedSourceIDs, in
// discovery order.
func (s Session) ApprovedSources() []Source {
	approved := make(map[int]struct{}, len(s.ApprovedSourceIDs))
	for _, id := range s.ApprovedSourceIDs {
		approved[id] = struct{}{}
	}
	var out []Source
	for _, src := range s.Sources {
		if _, ok := approved[src.ID]; ok {
			out = append(out, src)
		}
	}
	return CloneSources(out)
}

func CloneSources(in []Source) []Source {
	if in == nil {
		return []Source{}
	}
	out := make([]Source, len(in))
	for i, src := range in {
		out[i] = src
		if src.Score != nil {
			v := *src.Score
			out[i].Score = &v
		}
	}
	return out
}

// Summary is the list view of a session.
type Summary struct {
	ID          string     `json:"research_id"`
	Query       string     `json:"query"`
	Phase       Phase      `json:"phase"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s Session) Summary() Summary {
	out := Summary{
		ID:        s.ID,
		Query:     s.Query,
		Phase:     s.Phase,
		Status:    s.Phase.Status(),
		StartedAt: s.CreatedAt,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// EventType is the kind of progress event pushed to subscribers.
type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventSourcesReady EventType = "sources_ready"
	EventCompleted    EventType = "completed"
)

type Event struct {
	ID         string    `json:"event_id"`
	Type       EventType `json:"type"`
	ResearchID string    `json:"research_id"`
	Step       string    `json:"step"`
	Message    string    `json:"message"`
	Progress   Session   `json:"progress"`
	Sources    []Source  `json:"sources,omitempty"`
	Briefing   *Briefing `json:"briefing,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
