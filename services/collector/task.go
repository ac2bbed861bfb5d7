package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"promopay-engine/pkg/errutil"
	"promopay-engine/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var TaskModule = fx.Module("task.collector",
	fx.Invoke(RegisterHandlers),
)

func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.MetricsCollect, svc.HandleMetricsCollect)
}

// HandleMetricsCollect processes one queued collection attempt. Returning an
// error hands the job back to the queue for retry; once retries are
// exhausted, or the failure cannot be cured by retrying, the job is marked
// failed and consumed.
func (s *Service) HandleMetricsCollect(ctx context.Context, t *asynq.Task) error {
	var payload CollectPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("job_id", payload.JobID),
		zap.String("user_id", payload.UserID),
		zap.String("platform", payload.Platform),
		zap.String("post_id", payload.PostID),
	)

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	if job, err := s.GetJob(ctx, payload.JobID); err == nil && job != nil && terminal(job.Status) {
		zapLog.Debug("job already terminal, skipping duplicate delivery", zap.String("status", job.Status))
		return nil
	}

	s.transitionJob(ctx, payload.JobID, JobStatusProcessing, "", retried)

	record, err := s.collect(ctx, payload)
	if err != nil {
		exhausted := retried >= maxRetry
		if !errutil.IsRetryable(err) || exhausted {
			s.transitionJob(ctx, payload.JobID, JobStatusFailed, err.Error(), retried)
			collectionOutcomes.WithLabelValues("failed").Inc()
			zapLog.Error("collection job failed permanently",
				zap.Int("retried", retried), zap.Error(err))
			if !errutil.IsRetryable(err) {
				// no point handing a credential or validation failure back
				// to the retry loop
				return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
			}
			return err
		}

		s.transitionJob(ctx, payload.JobID, JobStatusPending, err.Error(), retried+1)
		collectionOutcomes.WithLabelValues("retried").Inc()
		zapLog.Warn("collection attempt failed, will retry",
			zap.Int("retried", retried), zap.Int("max_retry", maxRetry), zap.Error(err))
		return err
	}

	s.transitionJob(ctx, payload.JobID, JobStatusCompleted, "", retried)
	collectionOutcomes.WithLabelValues("completed").Inc()
	zapLog.Info("collection job completed",
		zap.String("record_id", record.ID),
		zap.Int64("views", record.ViewCount),
		zap.Bool("legitimate", record.IsLegitimate),
	)
	return nil
}
