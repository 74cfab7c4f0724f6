package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/c-answer-server/internal/domain"
)

// searchRequest is the profile submission payload. Enum fields accept the
// loose form values the intake UI sends; they are parsed, not bound directly.
type searchRequest struct {
	Diagnosis    string `json:"diagnosis"`
	Metastasis   string `json:"metastasis"`
	Age          int    `json:"age"`
	Sex          string `json:"sex"`
	PostalCode   string `json:"postal_code"`
	ECOG         *int   `json:"ecog"`
	PriorLines   string `json:"prior_lines"`
	MSI          string `json:"msi"`
	KRASWildType string `json:"kras_wild_type"`
}

func (r *searchRequest) profile() *domain.PatientProfile {
	ecog := -1
	known := false
	if r.ECOG != nil {
		ecog = *r.ECOG
		known = true
	}
	return &domain.PatientProfile{
		Diagnosis:    r.Diagnosis,
		Metastasis:   r.Metastasis,
		Age:          r.Age,
		Sex:          domain.ParseSex(r.Sex),
		PostalCode:   r.PostalCode,
		ECOG:         domain.ParseECOG(ecog, known),
		PriorLines:   domain.ParsePriorLines(r.PriorLines),
		MSI:          domain.ParseMSI(r.MSI),
		KRASWildType: domain.ParseTriState(r.KRASWildType),
	}
}

type extractRequest struct {
	Text string `json:"text" binding:"required"`
}

// respondError maps workflow errors onto HTTP status codes. Everything the
// workflow degrades internally never reaches here.
func respondError(c *gin.Context, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, domain.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or expired"})
	case errors.Is(err, domain.ErrTrialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "trial not in current result set"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleCreateSession(c *gin.Context) {
	session := s.matcher.CreateSession()
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"created_at": session.CreatedAt,
	})
}

func (s *Server) handleEndSession(c *gin.Context) {
	s.matcher.EndSession(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := s.matcher.Search(c.Request.Context(), c.Param("id"), req.profile())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	result, err := s.matcher.Analyze(c.Request.Context(), c.Param("id"), c.Param("nct"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleVerdict(c *gin.Context) {
	result, err := s.matcher.Verdict(c.Param("id"), c.Param("nct"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSaveTrial(c *gin.Context) {
	entry, err := s.matcher.Save(c.Request.Context(), c.Param("id"), c.Param("nct"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) handleRemoveTrial(c *gin.Context) {
	if err := s.matcher.Remove(c.Request.Context(), c.Param("id"), c.Param("nct")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleShortlist(c *gin.Context) {
	entries, err := s.matcher.Shortlist(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleLandscape(c *gin.Context) {
	text, err := s.matcher.Landscape(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"landscape": text})
}

func (s *Server) handleCompare(c *gin.Context) {
	text, err := s.matcher.Compare(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comparison": text})
}

func (s *Server) handleReport(c *gin.Context) {
	pdf, err := s.matcher.Report(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="c-answer-report.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *Server) handleExtract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	profile, err := s.matcher.ExtractProfile(c.Request.Context(), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	if profile == nil {
		// Extraction degraded; the client falls back to manual entry.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not extract a profile from the text"})
		return
	}
	c.JSON(http.StatusOK, profile)
}
