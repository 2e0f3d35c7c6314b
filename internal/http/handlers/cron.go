package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/wwfm-backend/internal/http/response"
	"github.com/yungbote/wwfm-backend/internal/jobs/queue"
	"github.com/yungbote/wwfm-backend/internal/platform/logger"
)

type AggregationQueue interface {
	RunCycle(ctx context.Context) (queue.CycleReport, error)
	GetQueueMetrics(ctx context.Context) (queue.Metrics, error)
}

type CronHandler struct {
	log   *logger.Logger
	queue AggregationQueue
}

func NewCronHandler(log *logger.Logger, q AggregationQueue) *CronHandler {
	return &CronHandler{log: log.With("handler", "CronHandler"), queue: q}
}

type cronResult struct {
	Processed        int `json:"processed"`
	Failed           int `json:"failed"`
	Skipped          int `json:"skipped"`
	DeadLettered     int `json:"deadLettered"`
	ClearedStuckJobs int `json:"clearedStuckJobs"`
	Reconciled       int `json:"reconciled"`
}

type processQueueResponse struct {
	Success      bool               `json:"success"`
	Result       cronResult         `json:"result"`
	QueueMetrics queue.Metrics      `json:"queueMetrics"`
	Errors       []queue.EntryError `json:"errors"`
}

type queueMetricsResponse struct {
	Success      bool          `json:"success"`
	QueueMetrics queue.Metrics `json:"queueMetrics"`
}

// POST /cron/process-aggregation-queue
func (h *CronHandler) ProcessAggregationQueue(c *gin.Context) {
	ctx := c.Request.Context()
	rep, err := h.queue.RunCycle(ctx)
	if err != nil {
		h.log.WithContext(ctx).Error("aggregation cycle failed", "error", err)
		response.RespondAPIError(c, err)
		return
	}
	errs := rep.Result.Errors
	if errs == nil {
		errs = []queue.EntryError{}
	}
	response.RespondOK(c, processQueueResponse{
		Success: true,
		Result: cronResult{
			Processed:        rep.Result.Processed,
			Failed:           rep.Result.Failed,
			Skipped:          rep.Result.Skipped,
			DeadLettered:     rep.Result.DeadLettered,
			ClearedStuckJobs: rep.ClearedStuckJobs,
			Reconciled:       rep.Reconciled,
		},
		QueueMetrics: rep.QueueMetrics,
		Errors:       errs,
	})
}

// GET /cron/process-aggregation-queue
func (h *CronHandler) QueueMetrics(c *gin.Context) {
	m, err := h.queue.GetQueueMetrics(c.Request.Context())
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, queueMetricsResponse{Success: true, QueueMetrics: m})
}
