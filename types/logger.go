package types

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger interface {
	Error(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Log(lvl zapcore.Level, msg string, fields ...zap.Field)
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
}

// AccessLogger persists one JSON record per gateway decision.
type AccessLogger interface {
	Record(view string, hit bool, elapsed time.Duration, key string, req RequestDescriptor)
	Tail(lines int) ([]map[string]interface{}, error)
}
