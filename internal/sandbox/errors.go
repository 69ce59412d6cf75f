package sandbox

import "fmt"

// TimeoutError indicates a command did not finish within its wall-clock
// budget. A timeout is always an error, never a zero exit code.
type TimeoutError struct {
	Command string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out: %s", e.Command)
}

func errTimeout(command string) error {
	return &TimeoutError{Command: command}
}
