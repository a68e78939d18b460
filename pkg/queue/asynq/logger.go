package asynq

import (
	"gpuindex/pkg/logger"

	"go.uber.org/zap"
)

// asynqLogger routes asynq's internal logging through zap
type asynqLogger struct {
	sugar *zap.SugaredLogger
}

func newAsynqLogger() *asynqLogger {
	return &asynqLogger{sugar: logger.Log.Named("asynq").Sugar()}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.sugar.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.sugar.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.sugar.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.sugar.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.sugar.Fatal(args...) }
