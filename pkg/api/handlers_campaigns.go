package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"leadforge/pkg/logger"
	"leadforge/pkg/models"
	"leadforge/pkg/storage"
	"leadforge/pkg/validation"
)

// --- Request/Response DTOs ---

// CreateCampaignRequest is the payload for creating a new campaign.
type CreateCampaignRequest struct {
	Name        string                `json:"name" binding:"required"`
	Description string                `json:"description"`
	ProjectID   string                `json:"project_id"`
	Config      models.CampaignConfig `json:"config" binding:"required"`
}

// CampaignResponse is the API representation of a campaign.
type CampaignResponse struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	ProjectID   string                `json:"project_id"`
	Status      models.CampaignStatus `json:"status"`
	Config      models.CampaignConfig `json:"config"`
	LastRunAt   *string               `json:"last_run_at,omitempty"`
	NextRunAt   *string               `json:"next_run_at,omitempty"`
	TotalRuns   int64                 `json:"total_runs"`
	TotalCost   float64               `json:"total_cost"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

func campaignToResponse(c *models.Campaign) CampaignResponse {
	resp := CampaignResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		ProjectID:   c.ProjectID,
		Status:      c.Status,
		Config:      c.Config,
		TotalRuns:   c.TotalRuns,
		TotalCost:   c.TotalCost,
		CreatedAt:   c.CreatedAt.Format(timeFormat),
		UpdatedAt:   c.UpdatedAt.Format(timeFormat),
	}
	if c.LastRunAt != nil {
		s := c.LastRunAt.Format(timeFormat)
		resp.LastRunAt = &s
	}
	if c.NextRunAt != nil {
		s := c.NextRunAt.Format(timeFormat)
		resp.NextRunAt = &s
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func fail(c *gin.Context, status int, err string) {
	c.JSON(status, gin.H{"success": false, "error": err})
}

// createCampaign handles POST /api/campaigns
func (s *Server) createCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := validation.ValidateCampaignConfig(req.Name, req.Config); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	campaign := &models.Campaign{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		Status:      models.CampaignActive,
		Config:      req.Config,
	}

	if err := s.campaigns.CreateCampaign(c.Request.Context(), campaign); err != nil {
		fail(c, http.StatusInternalServerError, "failed to create campaign: "+err.Error())
		return
	}

	if s.scheduler != nil && campaign.Config.Schedule != nil && campaign.Config.Schedule.Enabled {
		if err := s.scheduler.Schedule(*campaign); err != nil {
			fail(c, http.StatusInternalServerError, "campaign created but failed to schedule: "+err.Error())
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "campaign": campaignToResponse(campaign)})
}

// listCampaigns handles GET /api/campaigns?status=&project_id=
func (s *Server) listCampaigns(c *gin.Context) {
	filters := storage.CampaignFilters{
		Status:    models.CampaignStatus(c.Query("status")),
		ProjectID: c.Query("project_id"),
	}

	campaigns, err := s.campaigns.ListCampaigns(c.Request.Context(), filters)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to list campaigns: "+err.Error())
		return
	}

	resp := make([]CampaignResponse, len(campaigns))
	for i := range campaigns {
		resp[i] = campaignToResponse(&campaigns[i])
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "campaigns": resp, "count": len(resp)})
}

// getCampaign handles GET /api/campaigns/:id
func (s *Server) getCampaign(c *gin.Context) {
	campaign, ok := s.lookupCampaign(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "campaign": campaignToResponse(campaign)})
}

// runCampaign handles POST /api/campaigns/:id/run; it fires the run in
// the background and returns immediately.
func (s *Server) runCampaign(c *gin.Context) {
	campaign, ok := s.lookupCampaign(c)
	if !ok {
		return
	}

	go func(campaign models.Campaign) {
		if _, err := s.runner.Run(context.Background(), campaign, models.TriggerManual); err != nil {
			logger.Get().Warn("manual run ended with error", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		}
	}(*campaign)

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "run triggered"})
}

// listCampaignRuns handles GET /api/campaigns/:id/runs?limit=
func (s *Server) listCampaignRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid campaign id")
		return
	}

	limit := 50
	if q := c.Query("limit"); q != "" {
		if parsed, convErr := strconv.Atoi(q); convErr == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), id, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to list runs: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs, "count": len(runs)})
}

// pauseCampaign handles PUT /api/campaigns/:id/pause
func (s *Server) pauseCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.UpdateCampaign(c.Request.Context(), id, map[string]interface{}{"status": models.CampaignPaused})
	if err != nil {
		s.notFoundOr500(c, err, "campaign")
		return
	}

	if s.scheduler != nil {
		s.scheduler.Unschedule(id)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "campaign": campaignToResponse(campaign)})
}

// resumeCampaign handles PUT /api/campaigns/:id/resume
func (s *Server) resumeCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid campaign id")
		return
	}

	campaign, err := s.campaigns.UpdateCampaign(c.Request.Context(), id, map[string]interface{}{"status": models.CampaignActive})
	if err != nil {
		s.notFoundOr500(c, err, "campaign")
		return
	}

	if s.scheduler != nil && campaign.Config.Schedule != nil && campaign.Config.Schedule.Enabled {
		if err := s.scheduler.Reschedule(*campaign); err != nil {
			fail(c, http.StatusInternalServerError, "campaign resumed but failed to reschedule: "+err.Error())
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "campaign": campaignToResponse(campaign)})
}

// deleteCampaign handles DELETE /api/campaigns/:id
func (s *Server) deleteCampaign(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid campaign id")
		return
	}

	if _, err := s.campaigns.GetCampaign(c.Request.Context(), id); err != nil {
		s.notFoundOr500(c, err, "campaign")
		return
	}

	if s.scheduler != nil {
		s.scheduler.Unschedule(id)
	}

	if err := s.campaigns.DeleteCampaign(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, "failed to delete campaign: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "campaign deleted", "id": id})
}

func (s *Server) lookupCampaign(c *gin.Context) (*models.Campaign, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid campaign id")
		return nil, false
	}

	campaign, err := s.campaigns.GetCampaign(c.Request.Context(), id)
	if err != nil {
		s.notFoundOr500(c, err, "campaign")
		return nil, false
	}
	return campaign, true
}

func (s *Server) notFoundOr500(c *gin.Context, err error, resource string) {
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, resource+" not found")
		return
	}
	fail(c, http.StatusInternalServerError, err.Error())
}
