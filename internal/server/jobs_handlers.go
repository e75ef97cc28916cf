package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"parcelharvest/internal/engine"
	"parcelharvest/internal/model"
	"parcelharvest/internal/queue"
)

// JobRequest represents the request for submitting a job
type JobRequest struct {
	SubjectKey   string          `json:"subject_key" binding:"required"`
	Priority     string          `json:"priority"`
	Type         string          `json:"type" binding:"required"`
	Params       json.RawMessage `json:"params"`
	ForceRefresh bool            `json:"force_refresh"`
}

// JobResponse represents the response for job operations
type JobResponse struct {
	ID          string `json:"id"`
	SubjectKey  string `json:"subject_key"`
	Priority    string `json:"priority"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func convertJobToResponse(job *model.Job) JobResponse {
	resp := JobResponse{
		ID:         job.ID.String(),
		SubjectKey: job.SubjectKey,
		Priority:   job.Priority.String(),
		Type:       string(job.Type),
		Status:     string(job.Status),
		Attempts:   job.Attempts,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339),
		Error:      job.Error,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// submitJobHandler enqueues a new collection job
func (s *Server) submitJobHandler(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, err := model.ParamsFromJSON(model.CollectionType(req.Type), req.Params)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := s.engine.SubmitJob(c.Request.Context(), engine.SubmitRequest{
		SubjectKey:   req.SubjectKey,
		Priority:     priority,
		Type:         model.CollectionType(req.Type),
		Params:       params,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		switch {
		case queue.IsDuplicateSubject(err):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, queue.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID.String()})
}

// getJobHandler returns a specific job by ID
func (s *Server) getJobHandler(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, ok := s.engine.Job(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, convertJobToResponse(job))
}

// listJobsHandler returns every job submitted during this run
func (s *Server) listJobsHandler(c *gin.Context) {
	jobs := s.engine.Jobs()
	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, convertJobToResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": responses})
}

// cancelJobHandler cancels a pending job
func (s *Server) cancelJobHandler(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	cancelled := s.engine.CancelJob(jobID)
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// progressHandler returns the current completion snapshot
func (s *Server) progressHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Progress())
}

// statisticsHandler returns engine-wide counters
func (s *Server) statisticsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Statistics())
}

// shutdownHandler runs the two-phase shutdown and returns the manifest
func (s *Server) shutdownHandler(c *gin.Context) {
	mode, ok := model.ParseShutdownMode(c.Query("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be drain or cancel_all"})
		return
	}

	report := s.engine.Shutdown(mode)
	c.JSON(http.StatusOK, report)
}

// healthHandler reports liveness
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
