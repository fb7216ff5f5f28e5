package domain

import (
	"errors"
)

var (
	ErrDecode           = errors.New("decode arguments")
	ErrResolutionFailed = errors.New("controller resolution failed")
	ErrAttachFailed     = errors.New("attach failed")
	ErrLoadFailed       = errors.New("agent load failed")
	ErrDetachFailed     = errors.New("detach failed")
)

var (
	ErrControllerNotFound  = errors.New("controller not registered")
	ErrSessionDetached     = errors.New("session already detached")
	ErrUnsupportedPlatform = errors.New("attach not supported on this platform")
	ErrAgentInit           = errors.New("agent initialization failed")
	ErrInvalidProcessID    = errors.New("invalid process id")
	ErrNotAttachable       = errors.New("process is not an attachable VM")
)

type FailureKind string

const (
	FailureNone       FailureKind = "none"
	FailureDecode     FailureKind = "decode"
	FailureResolution FailureKind = "resolution"
	FailureAttach     FailureKind = "attach"
	FailureLoad       FailureKind = "load"
	FailureDetach     FailureKind = "detach"
	FailureFault      FailureKind = "fault"
)

// Classify maps a run error onto the stage that produced it.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrDecode):
		return FailureDecode
	case errors.Is(err, ErrResolutionFailed):
		return FailureResolution
	case errors.Is(err, ErrAttachFailed):
		return FailureAttach
	case errors.Is(err, ErrLoadFailed):
		return FailureLoad
	case errors.Is(err, ErrDetachFailed):
		return FailureDetach
	default:
		return FailureFault
	}
}
