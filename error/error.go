package error

import (
	"errors"
	"fmt"
)

var (
	ErrNotPaused            = errors.New("program is not paused")
	ErrAlreadyPaused        = errors.New("program is already paused")
	ErrSessionActive        = errors.New("a debug session is already active")
	ErrNoActiveSession      = errors.New("no active debug session")
	ErrBreakpointNotFound   = errors.New("breakpoint not found")
	ErrAdapterNotSupported  = errors.New("debug adapter type is not supported")
	ErrCouldNotDetectType   = errors.New("could not detect type")
	ErrFileNotFound         = errors.New("file not found")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrDebuggerIsClosed     = errors.New("debug adapter connection is closed")
	ErrNoStackFrames        = errors.New("no stack frames available")
	ErrUnexpectedResponse   = errors.New("unexpected response from debug adapter")
	ErrAdapterRequestFailed = errors.New("debug adapter request failed")
	ErrInitializeTimeout    = errors.New("timed out waiting for the debug adapter to initialize")
)

// Kind 错误分类，供调用方判断如何自我修正
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
	KindInvalid      Kind = "invalid_argument"
	KindAdapter      Kind = "adapter"
)

// HintError 携带修正提示的错误
// IsPaused 为 nil 时表示该错误与暂停状态无关
type HintError struct {
	Kind     Kind
	Err      error
	Hint     string
	IsPaused *bool
}

func (h *HintError) Error() string {
	return h.Err.Error()
}

func (h *HintError) Unwrap() error {
	return h.Err
}

// NewPreconditionError 前置条件不满足
func NewPreconditionError(err error, hint string, isPaused bool) *HintError {
	return &HintError{Kind: KindPrecondition, Err: err, Hint: hint, IsPaused: &isPaused}
}

// NewNotFoundError 目标不存在
func NewNotFoundError(err error, hint string, format string, args ...interface{}) *HintError {
	return &HintError{Kind: KindNotFound, Err: fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...)), Hint: hint}
}

// NewInvalidError 参数错误
func NewInvalidError(err error, hint string) *HintError {
	return &HintError{Kind: KindInvalid, Err: err, Hint: hint}
}
