package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Cause() error {
	return e.error
}

// ExitCodeOf walks the pkg/errors cause chain looking for an ExitCodeError.
// A nil error maps to 0, an error without an attached code to SoftwareExitCode.
func ExitCodeOf(err error) ExitCode {
	for err != nil {
		if e, ok := err.(*ExitCodeError); ok {
			return e.code
		}
		if _, ok := err.(*ConfigError); ok {
			return UsageExitCode
		}
		if _, ok := err.(*ProtocolError); ok {
			return ProtocolExitCode
		}
		c, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = c.Cause()
	}
	if err == nil {
		return 0
	}
	return SoftwareExitCode
}

// ConfigError is returned for invalid launch parameters, before any allocator interaction.
type ConfigError struct {
	Msg string
}

func NewConfigError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Msg
}

// ProtocolError is returned when the launcher subprocess output doesn't match
// the expected protocol. Line holds the offending output line, if any.
type ProtocolError struct {
	Msg  string
	Line string
}

func NewProtocolError(line string, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Line: line}
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "launcher protocol violation: " + e.Msg
	}
	return fmt.Sprintf("launcher protocol violation: %s, line: %q", e.Msg, e.Line)
}

// IsProtocolError reports whether err, or any error it wraps, is a *ProtocolError.
func IsProtocolError(err error) bool {
	_, ok := errors.Cause(err).(*ProtocolError)
	return ok
}

// IsConfigError reports whether err, or any error it wraps, is a *ConfigError.
func IsConfigError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigError)
	return ok
}
