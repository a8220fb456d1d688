package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrPathNotFound         = errors.New("path not found")

	ErrRouteFinalizationFailed = errors.New("route finalization failed")
	ErrRouteInvalid            = errors.New("route invalid")
)

var (
	ErrMiddlewareInvalidType = errors.New("middleware invalid type")
	ErrMiddlewareDuplicate   = errors.New("middleware weight duplicated")
	ErrAuthTokenInvalid      = errors.New("auth token invalid")
)

var (
	ErrCacheKeyEmpty      = errors.New("cache key empty")
	ErrCacheIsDisabled    = errors.New("cache is disabled")
	ErrStoreTypeUnknown   = errors.New("store type unknown")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrEntryEncodeFailed  = errors.New("cache entry encode failed")
	ErrEntryDecodeFailed  = errors.New("cache entry decode failed")
	ErrModelNameEmpty     = errors.New("model name empty")
	ErrInvalidationFailed = errors.New("invalidation failed")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobTimeout        = errors.New("cron job timeout")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
	ErrAccessLogNotFound  = errors.New("access log not found")
)

var (
	ErrHealthIsNotRunning = errors.New("health manager is not running")
)

var (
	ErrCatalogIsDisabled   = errors.New("catalog is disabled")
	ErrCollectionExists    = errors.New("catalog collection exists")
	ErrProductNotFound     = errors.New("product not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrImageNotFound       = errors.New("image not found")
	ErrProductInUse        = errors.New("product is referenced by a package")
	ErrNotOwner            = errors.New("caller does not own the resource")
	ErrInsufficientUnits   = errors.New("not enough units available")
	ErrCatalogInputInvalid = errors.New("catalog input invalid")
)

var (
	ErrServiceIsNotRunning = errors.New("service is not running")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrInvalidParameter    = errors.New("invalid parameter")
)

func NewError(message string) error {
	return errors.New(message)
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return errors.Wrap(baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, message)
}

func NewErrorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
