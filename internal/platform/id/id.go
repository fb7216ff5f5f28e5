package id

import (
	"crypto/rand"
	"encoding/hex"
)

// Generator names runs in the journal.
type Generator interface {
	New() string
}

// RunID yields 32 hex characters of crypto/rand output. rand.Read does not
// fail on supported platforms.
type RunID struct{}

func (RunID) New() string {
	var raw [16]byte
	_, _ = rand.Read(raw[:])
	return hex.EncodeToString(raw[:])
}
