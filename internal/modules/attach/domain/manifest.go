package domain

import (
	"errors"
	"fmt"
	"regexp"
)

type Capability string

const (
	CapabilityAttach      Capability = "attach"
	CapabilityLoadManaged Capability = "load_managed"
	CapabilityLoadNative  Capability = "load_native"
)

var (
	ErrPluginDisabled    = errors.New("controller plugin is disabled")
	ErrChecksumMismatch  = errors.New("controller plugin checksum mismatch")
	ErrCapabilityMissing = errors.New("controller plugin capability missing")
)

var (
	sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._$-]*$`)
)

// Manifest describes an out-of-process controller served through go-plugin.
type Manifest struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Binary       string       `json:"binary"`
	SHA256       string       `json:"sha256"`
	Enabled      bool         `json:"enabled"`
	Capabilities []Capability `json:"capabilities"`
}

func (m Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("controller name is required")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("controller name %q contains invalid characters", m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("controller version is required")
	}
	if m.Binary == "" {
		return fmt.Errorf("controller binary path is required")
	}
	if !sha256Pattern.MatchString(m.SHA256) {
		return fmt.Errorf("controller sha256 must be lowercase 64-char hex")
	}
	if len(m.Capabilities) == 0 {
		return fmt.Errorf("controller capabilities are required")
	}
	seen := map[Capability]struct{}{}
	for _, capability := range m.Capabilities {
		if err := capability.Validate(); err != nil {
			return err
		}
		if _, ok := seen[capability]; ok {
			return fmt.Errorf("duplicate capability: %s", capability)
		}
		seen[capability] = struct{}{}
	}
	return nil
}

func (c Capability) Validate() error {
	switch c {
	case CapabilityAttach, CapabilityLoadManaged, CapabilityLoadNative:
		return nil
	default:
		return fmt.Errorf("unknown capability: %s", c)
	}
}

func (m Manifest) HasCapability(capability Capability) bool {
	for _, c := range m.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// CapabilityFor returns the capability a load in the given mode requires.
func CapabilityFor(mode LoadMode) Capability {
	if mode == LoadNative {
		return CapabilityLoadNative
	}
	return CapabilityLoadManaged
}

type Metadata struct {
	Name         string
	Version      string
	Capabilities []Capability
}

type ControllerSource string

const (
	SourceBuiltin ControllerSource = "builtin"
	SourcePlugin  ControllerSource = "plugin"
)

type ControllerInfo struct {
	Name   string
	Source ControllerSource
	Detail string
}
