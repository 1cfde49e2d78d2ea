package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/mw"
	"truckcheck-backend/internal/parse"
	"truckcheck-backend/internal/store"
)

type applianceRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type checklistRequest struct {
	Items []model.ChecklistItem `json:"items"`
}

// ListAppliances handles GET /api/appliances.
func (h *Handler) ListAppliances(c *gin.Context) {
	appliances, err := h.store.ListAppliances(c.Request.Context(), mw.StationID(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve appliances"})
		return
	}
	if appliances == nil {
		appliances = []model.Appliance{}
	}
	c.JSON(http.StatusOK, appliances)
}

// PutAppliance handles POST /api/appliances, creating or renaming an appliance.
func (h *Handler) PutAppliance(c *gin.Context) {
	var req applianceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ID == "" || req.Name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id and name are required"})
		return
	}

	stationID := mw.StationID(c)
	ctx := c.Request.Context()
	if _, err := h.store.GetStation(ctx, stationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "station not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve station"})
		return
	}

	appliance := model.Appliance{StationID: stationID, ID: req.ID, Name: req.Name, Description: req.Description}
	if err := h.store.UpsertAppliances(ctx, []model.Appliance{appliance}); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to save appliance"})
		return
	}
	h.flush(stationID)
	c.JSON(http.StatusCreated, appliance)
}

// GetChecklist handles GET /api/appliances/:id/checklist.
func (h *Handler) GetChecklist(c *gin.Context) {
	tpl, err := h.store.GetTemplate(c.Request.Context(), mw.StationID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "checklist not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve checklist"})
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// PutChecklist handles PUT /api/appliances/:id/checklist.
func (h *Handler) PutChecklist(c *gin.Context) {
	var req checklistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	items, err := parse.NormalizeChecklist(req.Items)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stationID := mw.StationID(c)
	applianceID := c.Param("id")
	ctx := c.Request.Context()
	if _, err := h.store.GetAppliance(ctx, stationID, applianceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "appliance not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve appliance"})
		return
	}

	tpl := &model.ChecklistTemplate{
		ID:          uuid.NewString(),
		StationID:   stationID,
		ApplianceID: applianceID,
		Items:       items,
	}
	if err := h.store.UpsertTemplate(ctx, tpl); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to save checklist"})
		return
	}
	h.flush(stationID)

	saved, err := h.store.GetTemplate(ctx, stationID, applianceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve checklist"})
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) flush(stationID string) {
	if h.cache != nil {
		mw.FlushStation(h.cache, stationID)
	}
}
