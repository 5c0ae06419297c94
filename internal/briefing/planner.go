package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/sirupsen/logrus"
)

// Plan is the planner's reading of a research request.
type Plan struct {
	Topic         string   `json:"topic"`
	Scope         string   `json:"scope"`
	SearchQueries []string `json:"search_queries"`
	Structure     []string `json:"structure"`
}

// Planner turns a research request into search queries.
type Planner struct {
	llm      provider.Completer
	degraded bool
	log      *logrus.Entry
}

func NewPlanner(llm provider.Completer, opts Options) *Planner {
	return &Planner{
		llm:      llm,
		degraded: opts.Degraded || llm == nil,
		log:      logrus.WithField("component", "planner"),
	}
}

// Plan asks the completion service for a plan. Any failure yields the
// fallback plan whose only search query is the request itself.
func (p *Planner) Plan(ctx context.Context, query string) Plan {
	fallback := Plan{Topic: query, SearchQueries: []string{query}}
	if p.degraded {
		return fallback
	}
	raw, err := p.llm.Complete(ctx, fmt.Sprintf(planPrompt, query))
	if err != nil {
		p.log.WithError(err).Warn("planning failed, searching the request as-is")
		return fallback
	}
	plan, err := parsePlan(raw)
	if err != nil {
		p.log.WithError(err).Warn("unparseable plan, searching the request as-is")
		return fallback
	}
	return plan
}

// SearchQueries returns the plan's search queries.
func (p *Planner) SearchQueries(ctx context.Context, query string) []string {
	return p.Plan(ctx, query).SearchQueries
}

func parsePlan(raw string) (Plan, error) {
	raw = strings.TrimSpace(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return Plan{}, fmt.Errorf("failed to parse plan: %w", err)
	}
	queries := plan.SearchQueries[:0]
	for _, q := range plan.SearchQueries {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return Plan{}, fmt.Errorf("plan has no search queries")
	}
	plan.SearchQueries = queries
	return plan, nil
}
