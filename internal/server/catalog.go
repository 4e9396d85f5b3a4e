package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/vyomcloud/vyom/internal/catalog/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.catalogSvc.List(c.Request.Context(), true)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) AdminListPlans(c *gin.Context) {
	plans, err := s.catalogSvc.List(c.Request.Context(), false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req catalogdomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	plan, err := s.catalogSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": plan})
}

func (s *Server) DeactivatePlan(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.catalogSvc.Deactivate(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"is_active": false}})
}
