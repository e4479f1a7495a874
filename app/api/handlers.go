package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/autopress/app/campaign"
	"github.com/lysyi3m/autopress/app/database"
	"github.com/lysyi3m/autopress/app/engine"
	"github.com/lysyi3m/autopress/app/errs"
	"github.com/lysyi3m/autopress/app/jobs"
)

const defaultHistoryLimit = 100

func NewHandler(orchestrator Orchestrator, ingestor FeedIngestor, campaignRepo database.CampaignRepository,
	taskRepo database.TaskRepository, historyRepo database.HistoryRepository,
	configCache *campaign.ConfigCache, scheduler jobs.JobSchedulerInterface) *Handler {
	return &Handler{
		engine:       orchestrator,
		ingestor:     ingestor,
		campaignRepo: campaignRepo,
		taskRepo:     taskRepo,
		historyRepo:  historyRepo,
		configCache:  configCache,
		scheduler:    scheduler,
	}
}

// respondError maps the error taxonomy onto HTTP status codes.
func respondError(c *gin.Context, operation string, err error) {
	var publicationErr *errs.PublicationError
	var validationErr *errs.ValidationError
	var dispatchErr *errs.DispatchError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &publicationErr):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &dispatchErr):
		status = http.StatusBadGateway
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "operation", operation, "error", err)
	} else {
		slog.Debug("Request rejected", "operation", operation, "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func taskID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid task id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if campaignCount, err := h.campaignRepo.GetCampaignCount(c.Request.Context()); err == nil {
		health["campaigns"] = campaignCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.taskRepo.GetTaskStats(c.Request.Context(), "")
	if err != nil {
		respondError(c, "get_stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":                 stats,
		"loaded_configurations": h.configCache.GetConfigCount(),
	})
}

func (h *Handler) PostCallback(c *gin.Context) {
	var cb engine.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callback body", "details": err.Error()})
		return
	}

	err := h.engine.HandleCallback(c.Request.Context(), c.GetHeader("X-Callback-Token"), cb)
	if err != nil {
		respondError(c, "callback", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ListCampaigns(c *gin.Context) {
	ctx := c.Request.Context()

	stored, err := h.campaignRepo.ListCampaigns(ctx)
	if err != nil {
		respondError(c, "list_campaigns", err)
		return
	}

	campaigns := make([]map[string]interface{}, 0, len(stored))
	for _, cmp := range stored {
		info := campaignInfo(cmp)
		if stats, err := h.taskRepo.GetTaskStats(ctx, cmp.ID); err == nil {
			info["tasks"] = stats
		}
		campaigns = append(campaigns, info)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

func campaignInfo(cmp database.Campaign) map[string]interface{} {
	return map[string]interface{}{
		"id":               cmp.ID,
		"name":             cmp.Name,
		"status":           string(cmp.Status),
		"endpoint_id":      cmp.EndpointID,
		"publication_mode": cmp.Publication.Mode,
		"feed_enabled":     cmp.Feed.Enabled,
		"created_at":       cmp.CreatedAt,
		"updated_at":       cmp.UpdatedAt,
	}
}

func (h *Handler) GetCampaign(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	cmp, err := h.campaignRepo.GetCampaign(ctx, id)
	if err != nil {
		respondError(c, "get_campaign", err)
		return
	}
	if cmp == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
		return
	}

	details := campaignInfo(*cmp)
	details["generation"] = cmp.Generation
	details["publication"] = map[string]interface{}{
		"mode":           cmp.Publication.Mode,
		"interval_value": cmp.Publication.IntervalValue,
		"interval_unit":  cmp.Publication.IntervalUnit,
		"rolling_days":   cmp.Publication.RollingDays,
		"publish_hour":   cmp.Publication.PublishHour,
	}
	details["feed"] = map[string]interface{}{
		"enabled":    cmp.Feed.Enabled,
		"interval":   cmp.Feed.GetInterval().String(),
		"fetch_mode": cmp.Feed.FetchMode,
		"sources":    cmp.Feed.Sources,
	}

	if stats, err := h.taskRepo.GetTaskStats(ctx, id); err == nil {
		details["tasks"] = stats
	}
	if _, err := h.configCache.GetConfig(id); err == nil {
		details["config_loaded"] = true
	}

	c.JSON(http.StatusOK, details)
}

func (h *Handler) DeleteCampaign(c *gin.Context) {
	id := c.Param("id")
	if err := h.engine.DeleteCampaign(c.Request.Context(), id); err != nil {
		respondError(c, "delete_campaign", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) SetCampaignStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.engine.SetCampaignStatus(c.Request.Context(), id, database.CampaignStatus(req.Status)); err != nil {
		respondError(c, "set_campaign_status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": req.Status})
}

func (h *Handler) RunCampaign(c *gin.Context) {
	if err := h.engine.RunCampaign(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "run_campaign", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) StopRun(c *gin.Context) {
	reset, err := h.engine.StopRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "stop_run", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reset": reset})
}

func (h *Handler) RetryAllFailed(c *gin.Context) {
	retried, err := h.engine.RetryAllFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "retry_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "retried": retried})
}

func (h *Handler) IngestCampaign(c *gin.Context) {
	result, err := h.ingestor.ForceRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		var ingestErr *errs.IngestError
		if errors.As(err, &ingestErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		respondError(c, "ingest", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ReloadCampaigns(c *gin.Context) {
	count, err := h.scheduler.ReloadCampaigns()
	if err != nil {
		slog.Error("Error reloading campaign configurations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to reload configurations",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Configurations reloaded and sync jobs enqueued",
		"campaigns": count,
	})
}

func (h *Handler) ListHistory(c *gin.Context) {
	id := c.Param("id")
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.historyRepo.ListEntries(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, "list_history", err)
		return
	}

	history := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		if e.ArticleURL == database.HistoryRunMarker {
			continue
		}
		history = append(history, historyResponse{
			SourceID:        e.SourceID,
			URL:             e.ArticleURL,
			Title:           e.Title,
			PublicationDate: e.PublicationDate,
			RunID:           e.RunID,
		})
	}

	c.JSON(http.StatusOK, gin.H{"history": history, "total": len(history)})
}

func (h *Handler) ListTasks(c *gin.Context) {
	filter := database.TaskFilter{
		CampaignID: c.Param("id"),
		Status:     database.TaskStatus(c.Query("status")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
			return
		}
		*dst = n
	}

	stored, err := h.taskRepo.ListTasks(c.Request.Context(), filter)
	if err != nil {
		respondError(c, "list_tasks", err)
		return
	}

	tasks := make([]taskResponse, 0, len(stored))
	for _, t := range stored {
		tasks = append(tasks, newTaskResponse(t))
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	task := req.task(c.Param("id"))
	if err := h.engine.CreateTask(c.Request.Context(), task); err != nil {
		respondError(c, "create_task", err)
		return
	}

	c.JSON(http.StatusCreated, newTaskResponse(*task))
}

func (h *Handler) GetTask(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	task, err := h.taskRepo.GetTask(c.Request.Context(), id)
	if err != nil {
		respondError(c, "get_task", err)
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
		return
	}

	c.JSON(http.StatusOK, newTaskResponse(*task))
}

func (h *Handler) taskAction(c *gin.Context, operation string, action func(id int64) error) {
	id, ok := taskID(c)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		respondError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (h *Handler) DeleteTask(c *gin.Context) {
	h.taskAction(c, "delete_task", func(id int64) error {
		return h.engine.DeleteTask(c.Request.Context(), id)
	})
}

func (h *Handler) RetryTask(c *gin.Context) {
	h.taskAction(c, "retry_task", func(id int64) error {
		return h.engine.RetryTask(c.Request.Context(), id)
	})
}

func (h *Handler) CancelRun(c *gin.Context) {
	h.taskAction(c, "cancel_run", func(id int64) error {
		return h.engine.CancelRun(c.Request.Context(), id)
	})
}

func (h *Handler) CancelTask(c *gin.Context) {
	h.taskAction(c, "cancel_task", func(id int64) error {
		return h.engine.CancelTask(c.Request.Context(), id)
	})
}

func (h *Handler) Republish(c *gin.Context) {
	id, ok := taskID(c)
	if !ok {
		return
	}

	contentID, err := h.engine.Republish(c.Request.Context(), id)
	if err != nil {
		respondError(c, "republish", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "content_id": contentID})
}
