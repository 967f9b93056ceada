package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

func (s *Server) listProjects(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Projects())
}

type createProjectRequest struct {
	Name string     `json:"name" binding:"required"`
	Path string     `json:"path"`
	PRD  *plan.Plan `json:"prd"`
}

func (s *Server) createProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	proj, err := s.registry.CreateProject(req.Name, req.Path, req.PRD)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, proj)
}

func (s *Server) startProject(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.Start(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) stopProject(c *gin.Context) {
	s.registry.Stop(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
}

func (s *Server) initProject(c *gin.Context) {
	if err := s.registry.InitProject(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "initialized"})
}

type generatePRDRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

func (s *Server) generatePRD(c *gin.Context) {
	id := c.Param("id")
	var req generatePRDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pl, err := s.registry.GeneratePlan(c.Request.Context(), req.Prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.registry.SetPlan(id, pl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pl)
}

type updatePRDRequest struct {
	PRD plan.Plan `json:"prd" binding:"required"`
}

func (s *Server) updatePRD(c *gin.Context) {
	var req updatePRDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := plan.Validate(&req.PRD); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.registry.SetPlan(c.Param("id"), &req.PRD); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req.PRD)
}

// projectSettingKeys is the closed set of per-project keys update-settings
// accepts.
var projectSettingKeys = map[string]bool{
	"useHumanReview": true,
}

func (s *Server) updateProjectSettings(c *gin.Context) {
	var updates map[string]interface{}
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for key := range updates {
		if !projectSettingKeys[key] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting: " + key})
			return
		}
	}

	err := s.store.UpdateProject(c.Param("id"), func(p *store.Project) {
		if v, ok := updates["useHumanReview"].(bool); ok {
			p.UseHumanReview = v
		}
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// projectAnalytics aggregates the Postgres event mirror for one project.
// With no mirror configured every section is empty.
func (s *Server) projectAnalytics(c *gin.Context) {
	id := c.Param("id")
	counts, err := s.events.QueryEventCounts(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	failures, err := s.events.QueryTaskFailures(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	lastEvent, err := s.events.LastEventTimestamp(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events":    counts,
		"failures":  failures,
		"lastEvent": lastEvent,
	})
}

func (s *Server) listLessons(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Lessons())
}

func (s *Server) deleteLesson(c *gin.Context) {
	if err := s.store.DeleteLesson(c.Param("timestamp")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) getSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Settings())
}

func (s *Server) replaceSettings(c *gin.Context) {
	var settings store.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.store.UpdateSettings(settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.onSettings(settings)
	c.JSON(http.StatusOK, settings)
}
