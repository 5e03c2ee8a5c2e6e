package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"taskpulse/internal/analytics"
	"taskpulse/internal/apperr"
	"taskpulse/internal/service"
)

type ProcrastinationHandler struct {
	svc *service.ProcrastinationService
}

func NewProcrastinationHandler(svc *service.ProcrastinationService) *ProcrastinationHandler {
	return &ProcrastinationHandler{svc: svc}
}

// GET /api/procrastination/check
func (h *ProcrastinationHandler) Check(c *gin.Context) {
	res, err := h.svc.CheckAlerts(c.Request.Context(), userID(c))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"success": true, "alerts": res.Alerts, "count": res.Count})
}

type skipRequest struct {
	TaskID uint `json:"taskId"`
}

// POST /api/procrastination/skip
func (h *ProcrastinationHandler) Skip(c *gin.Context) {
	var req skipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperr.Validation("skip task", "invalid body: %v", err))
		return
	}
	res, err := h.svc.SkipTask(c.Request.Context(), userID(c), req.TaskID)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{
		"success":       true,
		"skipCount":     res.SkipCount,
		"alert":         res.Alert,
		"message":       res.Message,
		"needsCoaching": res.NeedsCoaching,
	})
}

// POST /api/coaching/trigger
func (h *ProcrastinationHandler) Trigger(c *gin.Context) {
	var req service.TriggerInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperr.Validation("trigger intervention", "invalid body: %v", err))
		return
	}
	in, err := h.svc.TriggerIntervention(c.Request.Context(), userID(c), req)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{
		"success":        true,
		"interventionId": in.InterventionID,
		"message":        in.Message,
		"taskId":         in.TaskID,
		"taskTitle":      in.TaskTitle,
	})
}

// POST /api/coaching/feedback
func (h *ProcrastinationHandler) Feedback(c *gin.Context) {
	var req analytics.FeedbackInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperr.Validation("submit feedback", "invalid body: %v", err))
		return
	}
	fb, err := h.svc.SubmitFeedback(c.Request.Context(), userID(c), req)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"success": true, "feedback": fb})
}

type TaskHandler struct {
	svc *service.TaskService
}

func NewTaskHandler(svc *service.TaskService) *TaskHandler {
	return &TaskHandler{svc: svc}
}

// GET /api/tasks
func (h *TaskHandler) List(c *gin.Context) {
	tasks, err := h.svc.ListOpen(c.Request.Context(), userID(c))
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"tasks": tasks})
}

// POST /api/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req service.TaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondAppError(c, apperr.Validation("create task", "invalid body: %v", err))
		return
	}
	task, err := h.svc.CreateTask(c.Request.Context(), userID(c), req)
	if err != nil {
		respondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// POST /api/tasks/:id/complete
func (h *TaskHandler) Complete(c *gin.Context) {
	id, ok := taskParam(c)
	if !ok {
		return
	}
	task, err := h.svc.CompleteTask(c.Request.Context(), userID(c), id)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"task": task})
}

// POST /api/tasks/:id/reopen
func (h *TaskHandler) Reopen(c *gin.Context) {
	id, ok := taskParam(c)
	if !ok {
		return
	}
	task, err := h.svc.ReopenTask(c.Request.Context(), userID(c), id)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"task": task})
}

// DELETE /api/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := taskParam(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(c.Request.Context(), userID(c), id); err != nil {
		respondAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/tasks/:id/events
func (h *TaskHandler) Events(c *gin.Context) {
	id, ok := taskParam(c)
	if !ok {
		return
	}
	events, err := h.svc.TaskEvents(c.Request.Context(), userID(c), id)
	if err != nil {
		respondAppError(c, err)
		return
	}
	respondOK(c, gin.H{"events": events})
}

func taskParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondAppError(c, apperr.Validation("task id", "invalid task id %q", c.Param("id")))
		return 0, false
	}
	return uint(id), true
}
