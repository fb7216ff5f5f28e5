package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	argControllerType = iota
	argProcessID
	argExtensionPath
	argNative
	argArgument
)

// ArgumentMarker prefixes a present argument in the flattened form.
const ArgumentMarker = "="

// AttachRequest is the decoded input of a single attach run.
type AttachRequest struct {
	ControllerType string
	ProcessID      string
	ExtensionPath  string
	Native         bool
	// Argument is nil when no argument is forwarded, which differs from an empty one.
	Argument *string
}

// HasArgument reports whether an argument, possibly empty, is present.
func (r AttachRequest) HasArgument() bool {
	return r.Argument != nil
}

// ArgumentValue returns the argument or "" when absent.
func (r AttachRequest) ArgumentValue() string {
	if r.Argument == nil {
		return ""
	}
	return *r.Argument
}

// DecodeArgs maps the positional argument list onto an AttachRequest.
//
// Decoding never rejects short input. Missing positions decode to their zero
// value and are left for controller resolution and attach to refuse. The
// fifth position carries a one character marker followed by the first
// argument fragment; every later position is appended after a single space.
func DecodeArgs(args []string) (AttachRequest, error) {
	req := AttachRequest{
		ControllerType: at(args, argControllerType),
		ProcessID:      at(args, argProcessID),
		ExtensionPath:  at(args, argExtensionPath),
		Native:         at(args, argNative) == "true",
	}
	if len(args) <= argArgument || args[argArgument] == "" {
		return req, nil
	}
	first := args[argArgument]
	_, size := utf8.DecodeRuneInString(first)

	var b strings.Builder
	b.WriteString(first[size:])
	for _, fragment := range args[argArgument+1:] {
		b.WriteByte(' ')
		b.WriteString(fragment)
	}
	argument := b.String()
	req.Argument = &argument
	return req, nil
}

// EncodeArgs is the inverse of DecodeArgs.
func EncodeArgs(req AttachRequest) []string {
	args := []string{
		req.ControllerType,
		req.ProcessID,
		req.ExtensionPath,
		strconv.FormatBool(req.Native),
	}
	if req.Argument == nil {
		return append(args, "")
	}
	return append(args, ArgumentMarker+*req.Argument)
}

func at(args []string, index int) string {
	if index < len(args) {
		return args[index]
	}
	return ""
}
