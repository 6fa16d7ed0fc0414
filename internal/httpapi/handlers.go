package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ckoons/katra-sub000/internal/encoder"
	"github.com/ckoons/katra-sub000/internal/katra"
	"github.com/ckoons/katra-sub000/internal/katraerr"
	"github.com/ckoons/katra-sub000/internal/synthesis"
)

func (s *Server) health(c *gin.Context) {
	success(c, http.StatusOK, gin.H{"status": "ok"})
}

type storeMemoryRequest struct {
	CIID       string   `json:"ci_id" binding:"required"`
	Type       string   `json:"type" binding:"required"`
	Content    string   `json:"content" binding:"required"`
	Importance float64  `json:"importance"`
	Isolation  string   `json:"isolation"`
	TeamName   string   `json:"team_name"`
	SharedWith []string `json:"shared_with"`
	Tags       []string `json:"tags"`
}

func (s *Server) storeMemory(c *gin.Context) {
	var req storeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, katraerr.InvalidParams(err.Error()))
		return
	}

	rec, err := katra.Create(katra.CreateOptions{
		CIID:       req.CIID,
		Type:       katra.Type(req.Type),
		Content:    req.Content,
		Importance: req.Importance,
		Isolation:  katra.Isolation(req.Isolation),
		TeamName:   req.TeamName,
		SharedWith: req.SharedWith,
		Tags:       req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}

	if err := s.enc.Store(c.Request.Context(), rec); err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, rec)
}

func (s *Server) queryMemories(c *gin.Context) {
	ciID := c.Query("ci_id")
	if ciID == "" {
		fail(c, katraerr.InvalidParams("ci_id query parameter is required"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	crit := encoder.Criteria{
		CIID:           ciID,
		RequestingCIID: c.Query("requesting_ci_id"),
		QueryText:      c.Query("q"),
		RelationshipOf: c.Query("relationship_of"),
		Limit:          limit,
	}
	if threshold, err := strconv.ParseFloat(c.Query("similarity_threshold"), 64); err == nil {
		crit.SimilarityThreshold = threshold
	}

	recs, err := s.enc.Query(c.Request.Context(), crit)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, recs)
}

type recallRequest struct {
	CIID           string `json:"ci_id" binding:"required"`
	QueryText      string `json:"query_text"`
	RequestingCIID string `json:"requesting_ci_id"`
	Preset         string `json:"preset"`
	RelationshipOf string `json:"relationship_of"`
	MaxResults     int    `json:"max_results"`
	Hydrate        bool   `json:"hydrate"`
}

func (s *Server) recall(c *gin.Context) {
	if s.synth == nil {
		fail(c, katraerr.New(katraerr.KindNotImplemented, "E_NOT_IMPLEMENTED", "synthesis is not configured on this server"))
		return
	}

	var req recallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, katraerr.InvalidParams(err.Error()))
		return
	}

	opts := presetFor(req.Preset)
	opts.RelationshipOf = req.RelationshipOf
	if req.MaxResults > 0 {
		opts.MaxResults = req.MaxResults
	}

	matches, err := s.synth.Recall(c.Request.Context(), req.CIID, req.QueryText, opts, req.RequestingCIID)
	if err != nil {
		fail(c, err)
		return
	}

	if req.Hydrate {
		success(c, http.StatusOK, s.synth.Hydrate(req.CIID, matches))
		return
	}
	success(c, http.StatusOK, matches)
}

func presetFor(name string) synthesis.Options {
	switch name {
	case "SEMANTIC":
		return synthesis.Semantic()
	case "FAST":
		return synthesis.Fast()
	default:
		return synthesis.Comprehensive()
	}
}

func (s *Server) archiveMemory(c *gin.Context) {
	ciID := c.Param("ci_id")
	recordID := c.Param("record_id")
	if err := s.enc.Archive(ciID, recordID); err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"archived": true})
}

func (s *Server) runConsolidation(c *gin.Context) {
	if s.consol == nil {
		fail(c, katraerr.New(katraerr.KindNotImplemented, "E_NOT_IMPLEMENTED", "consolidation is not configured on this server"))
		return
	}
	ciID := c.Param("ci_id")
	decisions, err := s.consol.Run(ciID, time.Now(), s.enc.GraphFor(ciID))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, decisions)
}
