package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/http/response"
	"github.com/yungbote/studyforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/studyforge-backend/internal/services"
)

type GenerationHandler struct {
	generations services.GenerationService
}

func NewGenerationHandler(generations services.GenerationService) *GenerationHandler {
	return &GenerationHandler{generations: generations}
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

// POST /api/generations
func (h *GenerationHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	job, err := h.generations.Submit(c.Request.Context(), ctxutil.UserID(c.Request.Context()), req.Prompt, c.ClientIP())
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"job": job})
}

// GET /api/generations
func (h *GenerationHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.generations.List(c.Request.Context(), ctxutil.UserID(c.Request.Context()), limit)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.generations.Get(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/generations/:id/cancel
func (h *GenerationHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.generations.Cancel(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/generations/:id/concepts
func (h *GenerationHandler) Concepts(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	concepts, err := h.generations.Concepts(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"concepts": concepts})
}

// GET /api/concepts/:id/phrasings
func (h *GenerationHandler) ConceptPhrasings(c *gin.Context) {
	conceptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_concept_id", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	phrasings, err := h.generations.ConceptPhrasings(c.Request.Context(), ctxutil.UserID(c.Request.Context()), conceptID, limit)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"phrasings": phrasings})
}
