package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researcher/models"
)

type stage struct {
	Name   string `json:"name"`
	Step   string `json:"step"`
	Role   string `json:"role"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Type   string `json:"type"`
}

var pipeline = []stage{
	{Name: "Planner", Step: models.StepPlanner, Role: "Analyzes the request and proposes search queries", Input: "Research query", Output: "Search queries", Type: "agent"},
	{Name: "Retrieval", Step: models.StepRetrieval, Role: "Searches the knowledge base, the web and Wikipedia, then removes duplicates", Input: "Search queries", Output: "Candidate sources", Type: "agent"},
	{Name: "Human approval", Step: models.StepHumanApproval, Role: "A reviewer selects the sources to use", Input: "Candidate sources", Output: "Approved sources", Type: "interrupt"},
	{Name: "Writer", Step: models.StepWriter, Role: "Drafts a cited briefing", Input: "Approved sources", Output: "Draft briefing", Type: "agent"},
	{Name: "Critic", Step: models.StepCritic, Role: "Reviews and revises the draft", Input: "Draft briefing", Output: "Final briefing", Type: "agent"},
}

type flowNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

type flowEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func registerArchitecture(g *echo.Group) {
	g.GET("", architecture)
	g.GET("/flow", flow)
}

func architecture(c echo.Context) error {
	phases := models.Phases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = string(p)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"overview": map[string]interface{}{
			"description":   "Sequential research pipeline with a human approval pause",
			"stages_count":  len(pipeline),
			"workflow_type": "Sequential with human-in-the-loop",
		},
		"stages": pipeline,
		"phases": names,
		"providers": []models.ProviderTag{
			models.ProviderKnowledgeBase,
			models.ProviderWeb,
			models.ProviderWikipedia,
		},
	})
}

func flow(c echo.Context) error {
	nodes := []flowNode{{ID: "start", Label: "User request", Type: "input"}}
	for _, st := range pipeline {
		nodes = append(nodes, flowNode{ID: st.Step, Label: st.Name, Type: st.Type})
	}
	nodes = append(nodes, flowNode{ID: "end", Label: "Final briefing", Type: "output"})

	edges := make([]flowEdge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, flowEdge{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"nodes": nodes, "edges": edges})
}
