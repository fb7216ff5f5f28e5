package domain

import (
	"fmt"
	"time"
)

type SessionState string

const (
	StateUnattached    SessionState = "unattached"
	StateAttached      SessionState = "attached"
	StateLoadAttempted SessionState = "load_attempted"
	StateDetached      SessionState = "detached"
)

// Advance moves the state machine forward. Detached is terminal and is
// reachable from every attached state.
func (s SessionState) Advance(next SessionState) (SessionState, error) {
	valid := false
	switch s {
	case StateUnattached:
		valid = next == StateAttached
	case StateAttached:
		valid = next == StateLoadAttempted || next == StateDetached
	case StateLoadAttempted:
		valid = next == StateDetached
	}
	if !valid {
		return s, fmt.Errorf("invalid session transition: %s -> %s", s, next)
	}
	return next, nil
}

// LoadMode is the loading operation selected by AttachRequest.Native.
type LoadMode string

const (
	LoadManaged LoadMode = "managed"
	LoadNative  LoadMode = "native"
)

func (r AttachRequest) Mode() LoadMode {
	if r.Native {
		return LoadNative
	}
	return LoadManaged
}

type RunRecord struct {
	ID             string
	ControllerType string
	ProcessID      string
	ExtensionPath  string
	Mode           LoadMode
	HasArgument    bool
	State          SessionState
	Failure        FailureKind
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (r RunRecord) Succeeded() bool {
	return r.Failure == FailureNone
}
