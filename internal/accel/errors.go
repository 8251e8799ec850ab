package accel

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Error kinds returned by the pipeline stages. Match them with errors.Is.
var (
	ErrDeviceNotFound       = errors.New("accel: device not found")
	ErrProgramLoad          = errors.New("accel: program image could not be loaded")
	ErrProgramBuild         = errors.New("accel: program rejected by device")
	ErrRoutineNotFound      = errors.New("accel: routine not found")
	ErrBufferAlloc          = errors.New("accel: buffer allocation failed")
	ErrDispatch             = errors.New("accel: dispatch failed")
	ErrProfilingUnavailable = errors.New("accel: profiling information unavailable")
)

// Kinds lists every error kind in pipeline order.
var Kinds = []error{
	ErrDeviceNotFound,
	ErrProgramLoad,
	ErrProgramBuild,
	ErrRoutineNotFound,
	ErrBufferAlloc,
	ErrDispatch,
	ErrProfilingUnavailable,
}

// Error is a stage failure. It records where it was raised, the runtime
// operation that failed and the status code the runtime reported.
type Error struct {
	Kind   error
	Op     string
	Status Status
	Source string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error calling %s", e.Source, e.Op)
	if e.Status != StatusSuccess {
		msg += fmt.Sprintf(", error code is: %d (%s)", int32(e.Status), e.Status.String())
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil && e.Err != error(e.Status) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// newError wraps err as a failure of op with the given kind. The status is
// taken from err when the runtime reported one.
func newError(kind error, op string, err error) *Error {
	status, _ := StatusOf(err)
	return &Error{
		Kind:   kind,
		Op:     op,
		Status: status,
		Source: caller(2),
		Err:    err,
	}
}

// StatusOf extracts the runtime status carried by err.
func StatusOf(err error) (Status, bool) {
	var s Status
	if errors.As(err, &s) {
		return s, true
	}
	return StatusSuccess, false
}

// KindOf returns the pipeline error kind of err, or nil.
func KindOf(err error) error {
	for _, kind := range Kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindName returns a short label for a kind, used for metrics and logs.
func KindName(kind error) string {
	switch kind {
	case ErrDeviceNotFound:
		return "device_not_found"
	case ErrProgramLoad:
		return "program_load"
	case ErrProgramBuild:
		return "program_build"
	case ErrRoutineNotFound:
		return "routine_not_found"
	case ErrBufferAlloc:
		return "buffer_alloc"
	case ErrDispatch:
		return "dispatch"
	case ErrProfilingUnavailable:
		return "profiling_unavailable"
	default:
		return "unknown"
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
