package engine

import "github.com/pkg/errors"

// ErrorKind 结构化错误码
type ErrorKind string

const (
	KindTransport         ErrorKind = "TransportError"
	KindValidation        ErrorKind = "ValidationError"
	KindRateLimited       ErrorKind = "RateLimited"
	KindMarketNotFound    ErrorKind = "MarketNotFound"
	KindInvalidResponse   ErrorKind = "InvalidResponse"
	KindExecutionFailed   ErrorKind = "ExecutionFailed"
	KindResolutionPending ErrorKind = "ResolutionPending"
	KindFatal             ErrorKind = "Fatal"
)

// CoreError 带错误码和可重试提示的错误
type CoreError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError 构造 CoreError
func NewError(kind ErrorKind, retryable bool, err error) *CoreError {
	return &CoreError{Kind: kind, Retryable: retryable, Err: err}
}

// Validationf 校验错误（不可重试）
func Validationf(format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: KindValidation, Retryable: false, Err: errors.Errorf(format, args...)}
}

// ExecutionFailedf 执行失败（可重试，阶段不变）
func ExecutionFailedf(format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: KindExecutionFailed, Retryable: true, Err: errors.Errorf(format, args...)}
}

// errorsFromPanic 把 recover 到的值转成 error
func errorsFromPanic(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("panic: %v", r)
}

// KindOf 提取错误码；非 CoreError 归为 Fatal
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsRetryable 提取可重试提示
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
