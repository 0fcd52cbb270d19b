package metrics

import (
	"context"

	"github.com/hibiken/asynq"
)

// AsynqMiddleware records queue task metrics.
func (m *Metrics) AsynqMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			if m == nil {
				return next.ProcessTask(ctx, task)
			}

			taskType := task.Type()
			m.taskInProgress.WithLabelValues(taskType).Inc()
			defer m.taskInProgress.WithLabelValues(taskType).Dec()

			err := next.ProcessTask(ctx, task)
			if err != nil {
				m.taskFailed.WithLabelValues(taskType).Inc()
			}

			m.taskProcessed.WithLabelValues(taskType).Inc()

			return err
		})
	}
}
