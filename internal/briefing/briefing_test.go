package briefing

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researcher/models"
)

type scriptedLLM struct {
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedLLM) Complete(_ context.Context, prompt string) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", nil
}

func TestPlannerParsesFencedJSON(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"```json\n{\"topic\":\"solar\",\"search_queries\":[\"solar cost\",\" \",\"solar policy\"]}\n```"}}
	plan := NewPlanner(llm, Options{}).Plan(context.Background(), "solar energy")
	if plan.Topic != "solar" || len(plan.SearchQueries) != 2 || plan.SearchQueries[1] != "solar policy" {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if !strings.Contains(llm.prompts[0], "solar energy") {
		t.Fatalf("request missing from prompt")
	}
}

func TestPlannerFallback(t *testing.T) {
	cases := map[string]*scriptedLLM{
		"error":      {errs: []error{errors.New("timeout")}},
		"not json":   {replies: []string{"sure, here are some ideas"}},
		"no queries": {replies: []string{`{"topic":"x","search_queries":[]}`}},
	}
	for name, llm := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewPlanner(llm, Options{}).SearchQueries(context.Background(), "heat pumps")
			if len(got) != 1 || got[0] != "heat pumps" {
				t.Fatalf("expected fallback to the request, got %v", got)
			}
		})
	}
	got := NewPlanner(nil, Options{}).SearchQueries(context.Background(), "heat pumps")
	if len(got) != 1 || got[0] != "heat pumps" {
		t.Fatalf("expected degraded planner fallback, got %v", got)
	}
}

func TestDraftPromptFormat(t *testing.T) {
	p := DraftPrompt("grid storage", []models.Source{
		{ID: 4, Type: models.ProviderWeb, Title: "Batteries", Source: "https://b.example", Content: strings.Repeat("x", 600)},
		{ID: 9, Type: models.ProviderWikipedia, Title: "Pumped hydro", Source: "https://w.example", Content: "short"},
	})
	if !strings.Contains(p, "[1] WEB: Batteries\nSource: https://b.example\nContent: "+strings.Repeat("x", 500)+"...\n") {
		t.Fatalf("first source badly rendered:\n%s", p)
	}
	if !strings.Contains(p, "[2] WIKIPEDIA: Pumped hydro\nSource: https://w.example\nContent: short...\n") {
		t.Fatalf("second source badly rendered:\n%s", p)
	}
	if !strings.Contains(p, "Topic: grid storage") {
		t.Fatalf("query missing from prompt")
	}
}

func TestDraftAndRevise(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"draft text", "final text"}}
	s := NewSynthesizer(llm, Options{})
	draft := s.Draft(context.Background(), "q", nil)
	if draft != "draft text" {
		t.Fatalf("unexpected draft %q", draft)
	}
	if got := s.Revise(context.Background(), "q", draft); got != "final text" {
		t.Fatalf("unexpected revision %q", got)
	}
	if !strings.Contains(llm.prompts[1], "draft text") {
		t.Fatalf("revision prompt must carry the draft")
	}
}

func TestDraftAndReviseFailures(t *testing.T) {
	boom := errors.New("service unavailable")
	s := NewSynthesizer(&scriptedLLM{errs: []error{boom, boom}}, Options{})
	draft := s.Draft(context.Background(), "q", nil)
	if draft != "Error generating briefing: service unavailable" {
		t.Fatalf("unexpected draft %q", draft)
	}
	if got := s.Revise(context.Background(), "q", draft); got != draft {
		t.Fatalf("expected revise to keep the draft, got %q", got)
	}
}

func TestDegradedSynthesizer(t *testing.T) {
	llm := &scriptedLLM{replies: []string{"never used"}}
	s := NewSynthesizer(llm, Options{Degraded: true})
	if got := s.Draft(context.Background(), "q", nil); got != DegradedMessage {
		t.Fatalf("unexpected degraded draft %q", got)
	}
	if got := s.Revise(context.Background(), "q", "d"); got != "d" {
		t.Fatalf("unexpected degraded revision %q", got)
	}
	if len(llm.prompts) != 0 {
		t.Fatalf("degraded mode must not call the completion service")
	}
}
