package config

import (
	"fmt"
	"regexp"
	"strconv"
)

// MalformedConfigError reports a project descriptor that could not be parsed
// or failed validation. It identifies the file and, when the parser provides
// one, the offending line.
type MalformedConfigError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedConfigError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed configuration in %s (line %d): %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed configuration in %s: %v", e.Path, e.Err)
}

func (e *MalformedConfigError) Unwrap() error { return e.Err }

// yaml.v3 embeds the line number in its error text; there is no structured
// accessor for it.
var yamlLineRe = regexp.MustCompile(`line (\d+):`)

func newMalformedConfigError(path string, err error) *MalformedConfigError {
	line := 0
	if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return &MalformedConfigError{Path: path, Line: line, Err: err}
}
