package commands

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	codeValidationFailed = "COMMAND_VALIDATION_FAILED"
	codeContextCanceled  = "COMMAND_CONTEXT_CANCELED"
	codeContextTimeout   = "COMMAND_CONTEXT_TIMEOUT"
	codeContextError     = "COMMAND_CONTEXT_ERROR"
	codeExecutionFailed  = "COMMAND_EXECUTION_FAILED"
)

// wrapValidationError tags message validation failures so dispatchers can
// route them separately from execution failures. Already-wrapped errors pass
// through untouched.
func wrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	if goerrors.IsWrapped(err) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, "command validation failed").
		WithTextCode(codeValidationFailed)
}

func wrapContextError(err error) error {
	if err == nil {
		return nil
	}
	if goerrors.IsWrapped(err) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return goerrors.Wrap(err, goerrors.CategoryCommand, "command execution cancelled").
			WithTextCode(codeContextCanceled)
	case errors.Is(err, context.DeadlineExceeded):
		return goerrors.Wrap(err, goerrors.CategoryCommand, "command execution deadline exceeded").
			WithTextCode(codeContextTimeout)
	default:
		return goerrors.Wrap(err, goerrors.CategoryCommand, "command context error").
			WithTextCode(codeContextError)
	}
}

func wrapExecuteError(err error) error {
	if err == nil {
		return nil
	}
	if goerrors.IsWrapped(err) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryCommand, "command execution failed").
		WithTextCode(codeExecutionFailed)
}
