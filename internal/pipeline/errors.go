package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"ratingcast/internal/config"
)

// ConfigurationError is a missing or invalid configuration key. It ends
// processing of the current table only.
type ConfigurationError = config.Error

// ErrTargetColumnNotFound is wrapped by TargetColumnError.
var ErrTargetColumnNotFound = errors.New("target column not found")

// TargetColumnError reports that none of the candidate target columns is
// present in a table.
type TargetColumnError struct {
	Candidates []string
	Columns    []string
}

func (e *TargetColumnError) Error() string {
	return fmt.Sprintf("%v: none of [%s] in columns [%s]",
		ErrTargetColumnNotFound, strings.Join(e.Candidates, " "), strings.Join(e.Columns, " "))
}

func (e *TargetColumnError) Unwrap() error { return ErrTargetColumnNotFound }

// RemoteFetchError is a failed call to the remote source.
type RemoteFetchError struct {
	Table string
	Err   error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Table, e.Err)
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// RemoteWriteError is a failed call to the remote sink. The orchestrator
// logs it and carries on.
type RemoteWriteError struct {
	Table string
	Err   error
}

func (e *RemoteWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Table, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// tableScoped reports whether err ends only the current table rather than
// the whole run.
func tableScoped(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce) || errors.Is(err, ErrTargetColumnNotFound)
}
