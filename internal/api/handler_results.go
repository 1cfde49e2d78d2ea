package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/mw"
)

type createResultRequest struct {
	RunID           string             `json:"runId"`
	ItemID          string             `json:"itemId"`
	ItemName        string             `json:"itemName"`
	ItemDescription string             `json:"itemDescription"`
	Status          model.ResultStatus `json:"status"`
	Comment         string             `json:"comment"`
	PhotoURL        string             `json:"photoUrl"`
	CompletedBy     string             `json:"completedBy"`
}

type updateResultRequest struct {
	Status   model.ResultStatus `json:"status"`
	Comment  *string            `json:"comment"`
	PhotoURL *string            `json:"photoUrl"`
}

// CreateResult handles POST /api/results. A second submission for the same
// item replaces the first and answers 200.
func (h *Handler) CreateResult(c *gin.Context) {
	var req createResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, created, err := h.coord.RecordResult(c.Request.Context(), checkrun.ResultInput{
		StationID:       mw.StationID(c),
		RunID:           req.RunID,
		ItemID:          req.ItemID,
		ItemName:        req.ItemName,
		ItemDescription: req.ItemDescription,
		Status:          req.Status,
		Comment:         req.Comment,
		PhotoURL:        req.PhotoURL,
		CompletedBy:     req.CompletedBy,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// UpdateResult handles PUT /api/results/:id.
func (h *Handler) UpdateResult(c *gin.Context) {
	var req updateResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.coord.UpdateResult(c.Request.Context(), mw.StationID(c), c.Param("id"), checkrun.ResultPatch{
		Status:   req.Status,
		Comment:  req.Comment,
		PhotoURL: req.PhotoURL,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteResult handles DELETE /api/results/:id.
func (h *Handler) DeleteResult(c *gin.Context) {
	if err := h.coord.DeleteResult(c.Request.Context(), mw.StationID(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
