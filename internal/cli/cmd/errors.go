package cmd

import (
	"errors"
	"fmt"

	"garrison/pkg/sdk"
)

const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
	exitUnmet      = 5
)

// ExitCode maps daemon error kinds to process exit codes.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) {
		return exitFailure
	}
	switch apiErr.Kind {
	case "validation":
		return exitValidation
	case "not_found":
		return exitNotFound
	case "conflict", "invalid_state":
		return exitConflict
	case "disabled", "not_running", "timeout", "resource_exhausted":
		return exitUnmet
	}
	return exitFailure
}

// usageError marks bad flags or arguments detected before any request.
func usageError(format string, args ...any) error {
	return &sdk.APIError{Kind: "validation", Message: fmt.Sprintf(format, args...)}
}
