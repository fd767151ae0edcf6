package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/jobs"
	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/medicines"
)

// AlertSource computes the current stock alert classification.
type AlertSource interface {
	Alerts(ctx context.Context) (medicines.Alerts, error)
}

// StockAlertJob logs and exports the expired, out-of-stock and low-stock sets.
type StockAlertJob struct {
	Source  AlertSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStockAlertJob initialises the stock alert handler.
func NewStockAlertJob(source AlertSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAlertJob {
	return &StockAlertJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *StockAlertJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Source == nil {
		return errors.New("stock alerts: handler not configured")
	}
	var payload StockAlertPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.clock()
	tracker := j.Metrics.Track(TaskStockAlertScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger()
	alerts, err := j.Source.Alerts(ctx)
	if err != nil {
		logger.Error("stock alert scan failed", slog.Any("error", err))
		return err
	}

	j.Metrics.SetStockAlerts("expired", len(alerts.Expired))
	j.Metrics.SetStockAlerts("out_of_stock", len(alerts.OutOfStock))
	j.Metrics.SetStockAlerts("low_stock", len(alerts.LowStock))
	for _, m := range alerts.OutOfStock {
		logger.Warn("medicine out of stock", slog.Int64("medicine_id", m.ID), slog.String("name", m.Name))
	}
	for _, m := range alerts.Expired {
		logger.Warn("medicine expired", slog.Int64("medicine_id", m.ID), slog.String("name", m.Name), slog.Int64("quantity", m.Quantity))
	}
	logger.Info("completed stock alert scan",
		slog.Int("expired", len(alerts.Expired)),
		slog.Int("out_of_stock", len(alerts.OutOfStock)),
		slog.Int("low_stock", len(alerts.LowStock)),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return nil
}

func (j *StockAlertJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
