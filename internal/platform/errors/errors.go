// Package apperrors holds the sentinels platform packages wrap their
// failures with, so callers can branch on errors.Is.
package apperrors

import "errors"

var (
	// ErrInvalidConfig marks a config.yaml that exists but cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoHome means neither ATTACHER_HOME nor a user config dir is set.
	ErrNoHome = errors.New("no attacher home")
)
