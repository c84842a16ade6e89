package session

import "fmt"

// NotFoundError is returned when an operation targets an unknown session id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("investigation not found: %s", e.ID)
}

// InvalidStateError is returned when a status transition is not allowed.
type InvalidStateError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state transition for %s: %s → %s", e.ID, e.From, e.To)
}
