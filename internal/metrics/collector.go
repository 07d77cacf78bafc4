// Package metrics publishes repository-wide gauges for the ops endpoint.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"designer-dispatch/internal/models"
)

const (
	defaultInterval = 5 * time.Second
	queryTimeout    = 2 * time.Second
)

var (
	tasksByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_tasks",
		Help: "Tasks by status.",
	}, []string{"status"})
	assignmentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dispatch_assignments",
		Help: "Offers by status.",
	}, []string{"status"})
	openOffersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_open_offers",
		Help: "Offers awaiting a designer's answer.",
	})
	awaitingFundingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_tasks_awaiting_payment",
		Help: "Tasks that cannot be scheduled until funded.",
	})
)

var (
	taskStatuses = []models.TaskStatus{
		models.TaskAwaitingPayment, models.TaskPending, models.TaskAssigned, models.TaskInProgress,
		models.TaskQAPending, models.TaskCompleted, models.TaskComplaint, models.TaskCancelled,
	}
	assignmentStatuses = []models.AssignmentStatus{
		models.AssignmentPending, models.AssignmentConfirmed, models.AssignmentRejected, models.AssignmentExpired,
	}
)

type StatusCounter interface {
	CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
	CountAssignmentsByStatus(ctx context.Context) (map[models.AssignmentStatus]int64, error)
}

// StartCollector polls counts until ctx is cancelled.
func StartCollector(ctx context.Context, counter StatusCounter, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := Collect(ctx, counter); err != nil {
				logWarn(logger, "Status metrics collection failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Collect refreshes every gauge once. Statuses missing from the counts are
// reset to zero so drained states do not report stale values.
func Collect(ctx context.Context, counter StatusCounter) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tasks, err := counter.CountTasksByStatus(queryCtx)
	if err != nil {
		return err
	}
	for _, s := range taskStatuses {
		tasksByStatus.WithLabelValues(string(s)).Set(float64(tasks[s]))
	}
	awaitingFundingGauge.Set(float64(tasks[models.TaskAwaitingPayment]))

	offers, err := counter.CountAssignmentsByStatus(queryCtx)
	if err != nil {
		return err
	}
	for _, s := range assignmentStatuses {
		assignmentsByStatus.WithLabelValues(string(s)).Set(float64(offers[s]))
	}
	openOffersGauge.Set(float64(offers[models.AssignmentPending]))
	return nil
}

func logWarn(logger *slog.Logger, message string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn(message, "error", err)
}
