package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/polykit/polykit/internal/core/domain"
)

// errTasksFailed signals that at least one vertex failed; the details were
// already reported by the run summary.
var errTasksFailed = errors.New("one or more tasks failed")

// ExitCode maps an error to the process exit code: 2 for configuration and
// graph errors, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var (
		cycleErr    *domain.CycleError
		notFoundErr *domain.NotFoundError
		configErr   *domain.ConfigError
	)
	if errors.As(err, &cycleErr) || errors.As(err, &notFoundErr) || errors.As(err, &configErr) {
		return 2
	}
	return 1
}

// errorKind names the error for JSON output.
func errorKind(err error) string {
	var (
		cycleErr    *domain.CycleError
		notFoundErr *domain.NotFoundError
		configErr   *domain.ConfigError
		taskErr     *domain.TaskFailedError
		versionErr  *domain.VersionError
	)
	switch {
	case errors.As(err, &cycleErr):
		return "CycleDetected"
	case errors.As(err, &notFoundErr):
		return "UnknownPackage"
	case errors.As(err, &configErr):
		return "ConfigError"
	case errors.As(err, &taskErr), errors.Is(err, errTasksFailed):
		return "TaskFailed"
	case errors.As(err, &versionErr):
		return "VersionError"
	default:
		return "IoError"
	}
}

// errorContext extracts structured detail for JSON output.
func errorContext(err error) map[string]any {
	ctx := map[string]any{}
	var cycleErr *domain.CycleError
	if errors.As(err, &cycleErr) {
		ctx["cycle"] = cycleErr.Path
	}
	var notFoundErr *domain.NotFoundError
	if errors.As(err, &notFoundErr) {
		ctx["package"] = notFoundErr.Name
		ctx["available"] = notFoundErr.Available
	}
	var taskErr *domain.TaskFailedError
	if errors.As(err, &taskErr) {
		ctx["package"] = taskErr.Package
		ctx["task"] = taskErr.TaskName
		ctx["exit_code"] = taskErr.ExitCode
	}
	return ctx
}

// RenderError prints the error in the selected format. No stack traces in
// normal output.
func RenderError(err error, jsonOut bool) {
	if jsonOut {
		payload := map[string]any{
			"error": map[string]any{
				"kind":    errorKind(err),
				"message": err.Error(),
				"context": errorContext(err),
			},
		}
		data, marshalErr := json.MarshalIndent(payload, "", "  ")
		if marshalErr == nil {
			fmt.Fprintln(os.Stderr, string(data))
			return
		}
	}
	fmt.Fprintln(os.Stderr, err.Error())
}
