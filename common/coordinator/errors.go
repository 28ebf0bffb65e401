package coordinator

import "errors"

var (
	ErrNotRegistered     = errors.New("the task has not been registered")
	ErrAlreadyRegistered = errors.New("the task has already been registered")
	ErrTaskNotFound      = errors.New("task not found in any queue")
	ErrInvalidTransition = errors.New("unsupported state transition")
)
