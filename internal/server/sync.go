package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/syncrun"
)

// SyncRequest is the body of POST /api/sync. Include flags default to true
// when omitted; max_depth defaults to 1.
type SyncRequest struct {
	WorkspaceID        string `json:"workspace_id"`
	APIKey             string `json:"api_key"`
	ProductID          string `json:"product_id"`
	InitiativeID       string `json:"initiative_id"`
	IncludeFeatures    *bool  `json:"include_features"`
	IncludeComponents  *bool  `json:"include_components"`
	IncludeInitiatives *bool  `json:"include_initiatives"`
	MaxDepth           int    `json:"max_depth"`
}

// validate rejects malformed parameters before any phase starts.
func (r *SyncRequest) validate() []string {
	var errs []string
	if r.WorkspaceID == "" {
		errs = append(errs, "workspace_id is required")
	}
	if r.APIKey == "" {
		errs = append(errs, "api_key is required")
	}
	if r.MaxDepth == 0 {
		r.MaxDepth = 1
	}
	if r.MaxDepth < 1 || r.MaxDepth > 10 {
		errs = append(errs, "max_depth must be between 1 and 10")
	}
	return errs
}

func (r *SyncRequest) filters() collector.Filters {
	return collector.Filters{
		ProductID:          r.ProductID,
		InitiativeID:       r.InitiativeID,
		IncludeInitiatives: boolOr(r.IncludeInitiatives, true),
		IncludeComponents:  boolOr(r.IncludeComponents, true),
		IncludeFeatures:    boolOr(r.IncludeFeatures, true),
		MaxDepth:           r.MaxDepth,
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}
	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "validation failed",
			"details": errs,
		})
		return
	}

	api := s.newAPI(s.baseURL, req.APIKey)
	out, err := syncrun.New(s.db, s.sync).Run(c.Request.Context(), api, req.WorkspaceID, req.filters())

	if s.notifier != nil && out != nil {
		s.notifier.RunFinished(out.Run)
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"run_id":  out.Run.ID,
		"results": gin.H{
			"products":      out.Run.ProductsCount,
			"initiatives":   out.Run.InitiativesCount,
			"components":    out.Run.ComponentsCount,
			"features":      out.Run.FeaturesCount,
			"subFeatures":   out.Run.SubFeaturesCount,
			"relationships": out.Run.RelationshipsCount,
		},
		"relationshipCounts": out.Graph.CountsByRelation(),
	})
}
