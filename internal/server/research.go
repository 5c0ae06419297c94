package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/researcher/internal/events"
	"github.com/mohammad-safakhou/researcher/internal/session"
	"github.com/mohammad-safakhou/researcher/models"
)

type ResearchHandler struct {
	Manager *session.Manager
	Journal *events.Journal
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id/status", h.status)
	g.POST("/:id/approve", h.approve)
	g.GET("/:id/briefing", h.briefing)
	g.GET("/:id/events", h.history)
	g.DELETE("/:id", h.remove)
}

// RegisterAliases mounts the routes under their legacy /api/research names.
func (h *ResearchHandler) RegisterAliases(g *echo.Group) {
	g.POST("/create", h.create)
	g.GET("/list", h.list)
	g.GET("/:id/status", h.status)
	g.POST("/:id/approve-sources", h.approve)
	g.GET("/:id/briefing", h.briefing)
}

type createRequest struct {
	Query               string `json:"query"`
	MaxSources          int    `json:"max_sources"`
	SearchDepth         string `json:"search_depth"`
	EnableWeb           *bool  `json:"enable_web"`
	EnableWikipedia     *bool  `json:"enable_wikipedia"`
	EnableKnowledgeBase *bool  `json:"enable_knowledge_base"`
}

// options applies the request over the defaults; absent toggles stay enabled.
func (r createRequest) options() models.ResearchOptions {
	opts := models.DefaultResearchOptions(r.MaxSources)
	if r.SearchDepth != "" {
		opts.SearchDepth = r.SearchDepth
	}
	if r.EnableWeb != nil {
		opts.EnableWeb = *r.EnableWeb
	}
	if r.EnableWikipedia != nil {
		opts.EnableWikipedia = *r.EnableWikipedia
	}
	if r.EnableKnowledgeBase != nil {
		opts.EnableKnowledgeBase = *r.EnableKnowledgeBase
	}
	return opts
}

type createResponse struct {
	ResearchID string `json:"research_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (h *ResearchHandler) create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MaxSources < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_sources must not be negative")
	}
	s, err := h.Manager.Create(c.Request().Context(), req.Query, req.options())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, createResponse{
		ResearchID: s.ID,
		Status:     "started",
		Message:    "Research started successfully",
	})
}

func (h *ResearchHandler) list(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Manager.List())
}

func (h *ResearchHandler) status(c echo.Context) error {
	s, err := h.Manager.Status(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

type approveRequest struct {
	ResearchID        string `json:"research_id"`
	ApprovedSourceIDs []int  `json:"approved_source_ids"`
}

func (h *ResearchHandler) approve(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id := c.Param("id")
	if req.ResearchID != "" && req.ResearchID != id {
		return echo.NewHTTPError(http.StatusBadRequest, "research_id does not match the path")
	}
	if _, err := h.Manager.Approve(c.Request().Context(), id, req.ApprovedSourceIDs); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "approved",
		"message": "Sources approved, continuing research",
	})
}

func (h *ResearchHandler) briefing(c echo.Context) error {
	b, err := h.Manager.Briefing(c.Param("id"))
	if errors.Is(err, session.ErrNotReady) {
		return echo.NewHTTPError(http.StatusNotFound, "Briefing not found or not ready")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *ResearchHandler) remove(c echo.Context) error {
	if err := h.Manager.Delete(c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// history replays journaled events. It works for sessions that have since
// been evicted, so the registry is not consulted.
func (h *ResearchHandler) history(c echo.Context) error {
	if h.Journal == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "event journal disabled")
	}
	var scan int64
	if raw := c.QueryParam("scan"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "scan must be a positive integer")
		}
		scan = n
	}
	evs, err := h.Journal.History(c.Request().Context(), c.Param("id"), scan)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, evs)
}
