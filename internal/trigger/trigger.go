// Package trigger queues manual cycles through asynq and runs them on the worker side.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spigell/hh-autopilot/internal/logger"
	"github.com/spigell/hh-autopilot/internal/metrics"
	"github.com/spigell/hh-autopilot/internal/scheduler"
)

const (
	TypeCycleRun = "cycle:run"

	// uniqueFor collapses repeated requests for the same user into one queued task.
	uniqueFor = time.Minute
	maxRetry  = 3
)

// ErrAlreadyQueued is returned when a cycle for the user is already waiting in the queue.
var ErrAlreadyQueued = errors.New("cycle already queued")

type CyclePayload struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewCycleTask(userID string, now time.Time) (*asynq.Task, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	payload, err := json.Marshal(CyclePayload{UserID: userID, RequestedAt: now})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCycleRun, payload), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is the producer side.
type Queue struct {
	client enqueuer
	logger *zap.Logger
	now    func() time.Time
}

func NewQueue(client enqueuer, log *zap.Logger) *Queue {
	return &Queue{client: client, logger: logger.WithFields(log), now: time.Now}
}

// Enqueue asks a worker to run a cycle for the user and returns the task id.
func (q *Queue) Enqueue(ctx context.Context, userID string) (string, error) {
	task, err := NewCycleTask(userID, q.now())
	if err != nil {
		return "", err
	}

	info, err := q.client.EnqueueContext(ctx, task, asynq.Unique(uniqueFor), asynq.MaxRetry(maxRetry))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", fmt.Errorf("%w for user %s", ErrAlreadyQueued, userID)
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TypeCycleRun, err)
	}

	q.logger.Info("cycle queued",
		zap.String(logger.FieldUser, userID),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return info.ID, nil
}

// Runner runs one out-of-band cycle.
type Runner interface {
	Trigger(ctx context.Context, userID string) (*scheduler.Report, error)
}

// Handler consumes cycle:run tasks.
type Handler struct {
	runner Runner
	logger *zap.Logger
}

var _ asynq.Handler = (*Handler)(nil)

func NewHandler(runner Runner, log *zap.Logger) *Handler {
	return &Handler{runner: runner, logger: logger.WithFields(log)}
}

func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload CyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TypeCycleRun, err, asynq.SkipRetry)
	}
	if payload.UserID == "" {
		return fmt.Errorf("%s payload without user: %w", TypeCycleRun, asynq.SkipRetry)
	}

	log := h.logger.With(zap.String(logger.FieldUser, payload.UserID))
	if !payload.RequestedAt.IsZero() {
		log = log.With(zap.Duration("queued_for", time.Since(payload.RequestedAt)))
	}

	report, err := h.runner.Trigger(ctx, payload.UserID)
	if errors.Is(err, scheduler.ErrHalted) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	log.Info("manual cycle done",
		zap.String(logger.FieldCycle, report.CycleID),
		zap.String("state", string(report.State())),
		zap.String("reason", report.Reason),
		zap.Int("submitted", report.Submitted),
	)
	return nil
}

// NewServer builds the worker that processes manual cycles.
func NewServer(redis asynq.RedisConnOpt, concurrency int, log *zap.Logger) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Logger:      newAsynqLogger(logger.WithFields(log)),
		LogLevel:    asynq.InfoLevel,
	})
}

// NewMux routes cycle:run tasks through the metrics middleware.
func NewMux(h *Handler, m *metrics.Metrics) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(m.AsynqMiddleware())
	mux.Handle(TypeCycleRun, h)
	return mux
}
