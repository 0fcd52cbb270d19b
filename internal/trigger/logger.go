package trigger

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// asynqLogger routes asynq server messages to zap.
type asynqLogger struct {
	logger *zap.SugaredLogger
}

var _ asynq.Logger = asynqLogger{}

func newAsynqLogger(log *zap.Logger) asynqLogger {
	return asynqLogger{logger: log.Named("asynq").Sugar()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug(args...) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info(args...) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn(args...) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error(args...) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal(args...) }
