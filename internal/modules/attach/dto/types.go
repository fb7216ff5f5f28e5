package dto

import "time"

type ControllerInfo struct {
	Name   string
	Source string
	Detail string
}

type DoctorResult struct {
	Name            string
	ChecksumValid   bool
	BinaryReachable bool
	LifecycleOK     bool
	Capabilities    []string
	Error           string
}

type DecodedRequest struct {
	ControllerType string
	ProcessID      string
	ExtensionPath  string
	Native         bool
	HasArgument    bool
	Argument       string
}

type RunInfo struct {
	ID             string
	ControllerType string
	ProcessID      string
	ExtensionPath  string
	Mode           string
	HasArgument    bool
	State          string
	Failure        string
	Error          string
	StartedAt      time.Time
	FinishedAt     time.Time
}
