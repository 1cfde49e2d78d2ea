package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"truckcheck-backend/internal/checkrun"
	"truckcheck-backend/internal/model"
	"truckcheck-backend/internal/mw"
	"truckcheck-backend/internal/parse"
	"truckcheck-backend/internal/store"
)

type startRunRequest struct {
	ApplianceID     string `json:"applianceId"`
	CompletedBy     string `json:"completedBy"`
	CompletedByName string `json:"completedByName"`
}

type runResponse struct {
	*model.CheckRun
	Joined bool `json:"joined"`
}

type completeRunRequest struct {
	AdditionalComments string `json:"additionalComments"`
}

type completeRunResponse struct {
	*model.CheckRun
	AlreadyCompleted bool `json:"alreadyCompleted"`
}

// StartRun handles POST /api/runs: it joins the appliance's active run or
// starts one.
func (h *Handler) StartRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	run, joined, err := h.coord.StartOrJoin(c.Request.Context(), checkrun.StartRequest{
		StationID:     mw.StationID(c),
		ApplianceID:   req.ApplianceID,
		ContributorID: req.CompletedBy,
		DisplayName:   req.CompletedByName,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if joined {
		status = http.StatusOK
	}
	c.JSON(status, runResponse{CheckRun: run, Joined: joined})
}

// ListRuns handles GET /api/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	from, to, err := parse.DateRange(c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	withIssues, err := parse.Bool(c.Query("withIssues"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runs, err := h.coord.ListRuns(c.Request.Context(), store.RunFilter{
		StationID:   mw.StationID(c),
		ApplianceID: c.Query("applianceId"),
		Start:       from,
		End:         to,
		WithIssues:  withIssues,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	if runs == nil {
		runs = []model.CheckRun{}
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun handles GET /api/runs/:id.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.coord.GetRun(c.Request.Context(), mw.StationID(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// CompleteRun handles PUT /api/runs/:id/complete.
func (h *Handler) CompleteRun(c *gin.Context) {
	var req completeRunRequest
	// the body is optional
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	run, already, err := h.coord.Complete(c.Request.Context(), mw.StationID(c), c.Param("id"), req.AdditionalComments)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, completeRunResponse{CheckRun: run, AlreadyCompleted: already})
}
