package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrUserExists      = errors.New("workflow: user already exists")
	ErrNoSource        = errors.New("workflow: either a descriptor file or a folder is required")
	ErrConflictingArgs = errors.New("workflow: descriptor file and folder are mutually exclusive")
)

// StepError names the workflow step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// FailedStep returns the step name carried by err, or "".
func FailedStep(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}
