package engine

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyRunning = errors.New("job already running")
	ErrStartFailed    = errors.New("job start failed")
	ErrInvalid        = errors.New("invalid run request")
)

// Summary prefixes written to history for non-successful executions.
const (
	PrefixStartFailed = "JobStartFailed: "
	PrefixFailed      = "JobFailed: "
	PrefixCancelled   = "JobCancelled: "
)

func errText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
